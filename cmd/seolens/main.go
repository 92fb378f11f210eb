package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"seolens/internal/analyzer"
	"seolens/internal/config"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to analyzer configuration file")
	topic := flag.String("topic", "", "Topic to analyze")
	keywords := flag.String("keywords", "", "Comma-separated keywords; the first is the primary keyword")
	forceRefresh := flag.Bool("force-refresh", false, "Bypass the result cache")
	cleanCache := flag.Bool("clean-cache", false, "Remove expired cache entries and exit")
	invalidate := flag.String("invalidate", "", "Invalidate the cache entry for a query (\"all\" for everything) and exit")
	asJSON := flag.Bool("json", false, "Print insights as JSON instead of a report")
	flag.Parse()

	// Missing .env is fine; environment variables may come from elsewhere.
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	engine, err := analyzer.NewEngine(*cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case *cleanCache:
		cleaned, err := engine.CleanCache(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cache cleanup failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("removed %d expired cache entries\n", cleaned)
		return
	case *invalidate != "":
		query := *invalidate
		if query == "all" {
			query = ""
		}
		if err := engine.InvalidateCache(ctx, query); err != nil {
			fmt.Fprintf(os.Stderr, "cache invalidation failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *keywords == "" {
		fmt.Fprintln(os.Stderr, "-keywords is required")
		flag.Usage()
		os.Exit(2)
	}

	insights, err := engine.Analyze(ctx, *topic, *keywords, *forceRefresh)
	if err != nil {
		fmt.Fprintf(os.Stderr, "analysis stopped with error: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		encoded, err := json.MarshalIndent(insights, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode insights: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(encoded))
		return
	}
	fmt.Print(insights.Report())
}
