// Package bookmarks reads browser bookmark exports in the Netscape HTML
// format that every major browser writes.
package bookmarks

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
)

// Bookmark is one link from an export.
type Bookmark struct {
	URL     string
	Title   string
	AddedAt time.Time
}

// skippedSchemes are browser-internal pages that are never worth saving.
var skippedSchemes = map[string]bool{
	"chrome":     true,
	"edge":       true,
	"about":      true,
	"javascript": true,
	"place":      true,
}

// Parse extracts every saveable link from an HTML bookmark export, in
// document order.
func Parse(r io.Reader) ([]Bookmark, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bookmark html: %w", err)
	}
	var out []Bookmark
	walk(doc, &out)
	return out, nil
}

func walk(n *html.Node, out *[]Bookmark) {
	if n.Type == html.ElementNode && n.Data == "a" {
		href := strings.TrimSpace(attr(n, "href"))
		if Saveable(href) {
			*out = append(*out, Bookmark{
				URL:     href,
				Title:   strings.Join(strings.Fields(text(n)), " "),
				AddedAt: unixAttr(n, "add_date"),
			})
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, out)
	}
}

// Saveable reports whether raw is an absolute link to a real page.
func Saveable(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	return !skippedSchemes[strings.ToLower(u.Scheme)]
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func unixAttr(n *html.Node, key string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(attr(n, key)), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

func text(n *html.Node) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			collect(cc)
		}
	}
	collect(n)
	return sb.String()
}

// TitleFetcher looks up a page title.
type TitleFetcher interface {
	FetchTitle(ctx context.Context, url string) (string, error)
}

// Enrich fills missing titles using fetcher. Lookup failures leave the title
// empty.
func Enrich(ctx context.Context, marks []Bookmark, fetcher TitleFetcher, logger logrus.FieldLogger) []Bookmark {
	log := logger.WithField("component", "bookmarks")
	out := make([]Bookmark, len(marks))
	copy(out, marks)
	for i := range out {
		if out[i].Title != "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		title, err := fetcher.FetchTitle(ctx, out[i].URL)
		if err != nil {
			log.WithError(err).WithField("url", out[i].URL).Warn("Title lookup failed")
			continue
		}
		out[i].Title = title
	}
	return out
}
