package analyzer

import (
	"context"
	"sync"

	"seolens/internal/fetcher"
)

// fetchFunc retrieves and extracts a single URL.
type fetchFunc func(ctx context.Context, rawURL string) fetcher.Result

// fanOutFetch fetches every URL with bounded concurrency and returns the
// results in completion order. A cancelled context stops feeding the workers;
// URLs already in flight still report their results.
func fanOutFetch(ctx context.Context, urls []string, concurrency int, fn fetchFunc) []fetcher.Result {
	if len(urls) == 0 {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > len(urls) {
		concurrency = len(urls)
	}

	jobs := make(chan string)
	results := make(chan fetcher.Result, len(urls))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rawURL := range jobs {
				results <- fn(ctx, rawURL)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, rawURL := range urls {
			select {
			case <-ctx.Done():
				return
			case jobs <- rawURL:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	collected := make([]fetcher.Result, 0, len(urls))
	for result := range results {
		collected = append(collected, result)
	}
	return collected
}
