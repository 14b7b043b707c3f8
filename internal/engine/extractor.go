package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	nurl "net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v5"
	"github.com/go-shiori/go-readability"
)

const (
	// DefaultMaxTextLength caps the primary-source text handed to stages.
	DefaultMaxTextLength = 15000
	// minTextLength is the minimum content length to accept as a valid extraction.
	// Pages returning less than this are likely login walls, cookie walls, or empty pages.
	minTextLength = 100
	// extractAttempts is the number of fetch attempts before giving up.
	extractAttempts = 3
	// maxBodySize is the maximum HTTP response body size (5MB).
	maxBodySize = 5 * 1024 * 1024
)

// ErrContentTooShort is returned when a page yields too little readable text.
var ErrContentTooShort = errors.New("extracted content too short")

// HTTPExtractor fetches a product page, extracts the readable text with
// go-readability and reads page metadata with goquery.
type HTTPExtractor struct {
	client        *http.Client
	maxTextLength int
	retryDelay    time.Duration
}

// ExtractorOption configures an HTTPExtractor.
type ExtractorOption func(*HTTPExtractor)

// WithExtractorHTTPClient sets the client used for page fetches.
func WithExtractorHTTPClient(c *http.Client) ExtractorOption {
	return func(e *HTTPExtractor) { e.client = c }
}

// WithMaxTextLength caps the extracted text, in runes.
func WithMaxTextLength(n int) ExtractorOption {
	return func(e *HTTPExtractor) {
		if n > 0 {
			e.maxTextLength = n
		}
	}
}

// WithExtractRetryDelay sets the initial delay between fetch attempts.
func WithExtractRetryDelay(d time.Duration) ExtractorOption {
	return func(e *HTTPExtractor) { e.retryDelay = d }
}

// NewHTTPExtractor creates a new HTTP-based content extractor.
func NewHTTPExtractor(opts ...ExtractorOption) *HTTPExtractor {
	e := &HTTPExtractor{
		client:        &http.Client{Timeout: 30 * time.Second},
		maxTextLength: DefaultMaxTextLength,
		retryDelay:    2 * time.Second,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract fetches the URL and extracts the main content. Network failures
// and 5xx/429 answers are retried; anything else fails at once.
func (e *HTTPExtractor) Extract(ctx context.Context, url string) (*ExtractedContent, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryDelay
	content, err := backoff.Retry(ctx, func() (*ExtractedContent, error) {
		c, err := e.doExtract(ctx, url)
		if err != nil && (ctx.Err() != nil || !IsTransient(err)) {
			return nil, backoff.Permanent(err)
		}
		return c, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(extractAttempts))
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", url, err)
	}
	return content, nil
}

// doExtract performs a single extraction attempt.
func (e *HTTPExtractor) doExtract(ctx context.Context, url string) (*ExtractedContent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	// Use a realistic browser User-Agent to avoid being blocked by sites.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: "fetch", Transient: IsTransient(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError("fetch", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	parsedURL, _ := nurl.Parse(url)
	article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
	if err != nil {
		return nil, fmt.Errorf("readability: %w", err)
	}

	text := normalizeText(article.TextContent)
	if n := utf8.RuneCountInString(text); n < minTextLength {
		return nil, fmt.Errorf("%w (%d chars), possibly blocked or empty page", ErrContentTooShort, n)
	}
	text = truncateRunes(text, e.maxTextLength)

	var publishDate string
	if article.PublishedTime != nil && !article.PublishedTime.IsZero() {
		publishDate = article.PublishedTime.Format(time.RFC3339)
	}

	out := &ExtractedContent{
		URL:            url,
		NormalizedText: text,
		Meta: ContentMeta{
			Author:      article.Byline,
			PublishDate: publishDate,
			WordCount:   len(strings.Fields(text)),
		},
	}
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		readPageMeta(doc, out)
	}
	return out, nil
}

// readPageMeta fills title and metadata from the page head. OpenGraph values
// win over plain meta tags.
func readPageMeta(doc *goquery.Document, out *ExtractedContent) {
	out.Title = firstNonEmpty(
		metaContent(doc, `meta[property="og:title"]`),
		strings.TrimSpace(doc.Find("title").First().Text()),
		strings.TrimSpace(doc.Find("h1").First().Text()),
	)
	out.Meta.SiteName = metaContent(doc, `meta[property="og:site_name"]`)
	out.Meta.Description = firstNonEmpty(
		metaContent(doc, `meta[property="og:description"]`),
		metaContent(doc, `meta[name="description"]`),
	)
	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		out.Meta.Canonical = strings.TrimSpace(href)
	}
	if out.Meta.Author == "" {
		out.Meta.Author = metaContent(doc, `meta[name="author"]`)
	}
	for _, k := range strings.Split(metaContent(doc, `meta[name="keywords"]`), ",") {
		if k = strings.TrimSpace(k); k != "" {
			out.Meta.Keywords = append(out.Meta.Keywords, k)
		}
	}
}

func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(v)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

var multiSpace = regexp.MustCompile(`[ \t]+`)
var multiNewline = regexp.MustCompile(`\n{3,}`)

func normalizeText(s string) string {
	s = strings.TrimSpace(s)
	s = multiSpace.ReplaceAllString(s, " ")
	s = multiNewline.ReplaceAllString(s, "\n\n")
	return s
}
