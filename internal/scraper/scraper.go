package scraper

import "context"

// Scraper fetches page metadata for a URL.
type Scraper interface {
	// FetchTitle returns the page's <title>, trimmed. A page without a
	// title yields an empty string and no error.
	FetchTitle(ctx context.Context, url string) (string, error)

	// Close releases the browser, if one was started.
	Close() error
}
