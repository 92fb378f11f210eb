package extractor

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"seolens/pkg/types"
)

// Extractor isolates the main textual content of a page and its SEO signals.
type Extractor struct{}

// New constructs an Extractor.
func New() *Extractor { return &Extractor{} }

const strippedElements = "nav, header, footer, script, style"

// Extract parses the HTML body and returns the main text plus the page's SEO
// elements. The body is decoded to UTF-8 first using the response content type
// as a hint.
func (e *Extractor) Extract(body []byte, contentType, pageURL string) (string, *types.SeoElements, error) {
	utf8Body, err := decodeUTF8(body, contentType)
	if err != nil {
		return "", nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(utf8Body))
	if err != nil {
		return "", nil, fmt.Errorf("parse html: %w", err)
	}

	// Schema markup may live in a script tag, so probe before stripping.
	hasSchema := doc.Find(`script[type="application/ld+json"]`).Length() > 0

	doc.Find(strippedElements).Remove()

	content := mainContent(doc)

	seo := types.NewSeoElements(pageURL)
	seo.HasSchemaMarkup = hasSchema
	seo.Title = strings.TrimSpace(doc.Find("title").First().Text())
	seo.MetaDescription = strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", ""))

	for _, level := range types.HeadingLevels {
		doc.Find(level).Each(func(_ int, s *goquery.Selection) {
			seo.Headings[level] = append(seo.Headings[level], strings.TrimSpace(s.Text()))
		})
	}

	seo.ImageCount = doc.Find("img").Length()
	seo.InternalLinks, seo.ExternalLinks = countLinks(doc, pageURL)
	seo.WordCount = len(strings.Fields(content))

	return content, seo, nil
}

// mainContent picks the most specific content container available and joins
// its paragraph text with single spaces.
func mainContent(doc *goquery.Document) string {
	container := doc.Find("article").First()
	if container.Length() == 0 {
		container = doc.Find("main").First()
	}
	if container.Length() == 0 {
		container = doc.Find(`div[class*="content"], div[class*="main"], div[class*="article"]`).First()
	}

	paragraphs := doc.Find("p")
	if container.Length() > 0 {
		paragraphs = container.Find("p")
	}

	parts := make([]string, 0, paragraphs.Length())
	paragraphs.Each(func(_ int, s *goquery.Selection) {
		parts = append(parts, strings.TrimSpace(s.Text()))
	})
	return strings.Join(parts, " ")
}

// countLinks classifies anchors as internal or external. Absolute links are
// internal when they contain the source domain; relative links are always
// internal.
func countLinks(doc *goquery.Document, pageURL string) (internal, external int) {
	baseDomain := domainOf(pageURL)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
			if baseDomain != "" && strings.Contains(href, baseDomain) {
				internal++
			} else {
				external++
			}
			return
		}
		internal++
	})
	return internal, external
}

func domainOf(pageURL string) string {
	if !strings.HasPrefix(pageURL, "http://") && !strings.HasPrefix(pageURL, "https://") {
		return ""
	}
	parts := strings.Split(pageURL, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

func decodeUTF8(body []byte, contentType string) ([]byte, error) {
	enc, _, _ := charset.DetermineEncoding(body, contentType)
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		if utf8.Valid(body) {
			return body, nil
		}
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return decoded, nil
}
