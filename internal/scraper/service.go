package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// DefaultPageTimeout bounds a single page load.
const DefaultPageTimeout = 20 * time.Second

// RodScraper implements Scraper with a headless browser driven by rod. The
// browser is launched on first use and shared across lookups.
type RodScraper struct {
	log         logrus.FieldLogger
	pageTimeout time.Duration

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// NewRodScraper creates a new scraper service instance.
func NewRodScraper(logger logrus.FieldLogger) *RodScraper {
	return &RodScraper{
		log:         logger.WithField("component", "scraper"),
		pageTimeout: DefaultPageTimeout,
	}
}

func (s *RodScraper) connect() (*rod.Browser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser != nil {
		return s.browser, nil
	}

	path, exists := launcher.LookPath()
	if !exists {
		return nil, errors.New("rod browser dependency not found")
	}
	l := launcher.New().Bin(path).Headless(true)
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	s.log.Debug("Rod browser started")
	s.browser = browser
	s.launcher = l
	return browser, nil
}

// FetchTitle loads url and reads its <title>.
func (s *RodScraper) FetchTitle(ctx context.Context, url string) (title string, err error) {
	log := s.log.WithField("url", url)

	browser, err := s.connect()
	if err != nil {
		log.WithError(err).Error("Browser unavailable")
		return "", err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return "", fmt.Errorf("failed to create page: %w", err)
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("Error closing rod page")
		}
	}()

	pageCtx, cancel := context.WithTimeout(ctx, s.pageTimeout)
	defer cancel()
	page = page.Context(pageCtx)

	if err := page.WaitLoad(); err != nil {
		if errors.Is(pageCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("page load timed out for %s: %w", url, pageCtx.Err())
		}
		return "", fmt.Errorf("failed waiting for page load: %w", err)
	}

	has, el, err := page.Has("title")
	if err != nil {
		return "", fmt.Errorf("failed to look up title: %w", err)
	}
	if !has {
		log.Debug("Page has no title element")
		return "", nil
	}
	title, err = el.Text()
	if err != nil {
		return "", fmt.Errorf("failed to read title: %w", err)
	}
	title = strings.TrimSpace(title)
	log.WithField("title", title).Debug("Fetched title")
	return title, nil
}

// Close shuts down the shared browser.
func (s *RodScraper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser == nil {
		return nil
	}
	err := s.browser.Close()
	s.launcher.Kill()
	s.browser, s.launcher = nil, nil
	return err
}

var _ Scraper = (*RodScraper)(nil)
