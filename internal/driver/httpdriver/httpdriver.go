// Package httpdriver implements driver sessions over plain HTTP using
// Colly, for sites that render without JavaScript. It is a lighter
// alternative to the Chrome-backed driver; screenshots are unsupported.
package httpdriver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/autorunner/internal/automation"
)

// ErrNoScreenshot is returned by Screenshot; an HTTP session has no
// rendering surface to capture.
var ErrNoScreenshot = errors.New("http driver cannot capture screenshots")

// errNoPage is returned by page accessors before the first navigation.
var errNoPage = errors.New("no page loaded")

// Config controls collector behavior shared by all sessions.
type Config struct {
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Factory builds HTTP sessions off one shared base collector.
type Factory struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewFactory constructs a Factory.
func NewFactory(cfg Config, logger *zap.Logger) *Factory {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Factory{cfg: cfg, baseCollector: c, logger: logger}
}

// NewSession returns a driver bound to a cloned collector.
func (f *Factory) NewSession(_ context.Context, cfg automation.BrowserConfig) (automation.Driver, error) {
	collector := f.baseCollector.Clone()
	ua := cfg.UserAgent
	if ua == "" {
		ua = f.cfg.UserAgent
	}
	if ua != "" {
		collector.UserAgent = ua
	}
	return &Session{collector: collector, defaultTimeout: f.cfg.Timeout}, nil
}

// Session fetches pages over HTTP and answers page queries from the
// parsed document of the most recent navigation.
type Session struct {
	collector      *colly.Collector
	defaultTimeout time.Duration
	html           string
	doc            *goquery.Document
}

// Navigate performs a GET and parses the body. Network and HTTP errors
// are transient: the crawl loop counts them and moves on.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) (automation.PageInfo, error) {
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	collector := s.collector.Clone()
	collector.SetRequestTimeout(timeout)

	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return automation.PageInfo{}, ctx.Err()
	case err := <-done:
		if err == nil {
			err = fetchErr
		}
		if err != nil {
			return automation.PageInfo{}, &automation.TransientFetchError{URL: url, Err: err}
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return automation.PageInfo{}, &automation.TransientFetchError{URL: url, Err: fmt.Errorf("parse body: %w", err)}
	}
	s.html = string(body)
	s.doc = doc
	return automation.PageInfo{StatusCode: status, LoadTime: time.Since(start)}, nil
}

// HTML returns the raw body of the current page.
func (s *Session) HTML(context.Context) (string, error) {
	if s.doc == nil {
		return "", errNoPage
	}
	return s.html, nil
}

// Title returns the document title of the current page.
func (s *Session) Title(context.Context) (string, error) {
	if s.doc == nil {
		return "", errNoPage
	}
	return strings.TrimSpace(s.doc.Find("title").First().Text()), nil
}

// BodyText returns the text content of the current page's body.
func (s *Session) BodyText(context.Context) (string, error) {
	if s.doc == nil {
		return "", errNoPage
	}
	return s.doc.Find("body").Text(), nil
}

// MatchCount counts elements matching a CSS selector. Selectors goquery
// cannot parse report an error and are skipped by the signal collector.
func (s *Session) MatchCount(_ context.Context, selector string) (count int, err error) {
	if s.doc == nil {
		return 0, errNoPage
	}
	// goquery panics on selectors cascadia cannot parse.
	defer func() {
		if r := recover(); r != nil {
			count = 0
			err = fmt.Errorf("selector %q: %v", selector, r)
		}
	}()
	return s.doc.Find(selector).Length(), nil
}

// FrameSources lists the src of every iframe in the current document.
func (s *Session) FrameSources(context.Context) ([]string, error) {
	if s.doc == nil {
		return nil, errNoPage
	}
	var srcs []string
	s.doc.Find("iframe[src]").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok && src != "" {
			srcs = append(srcs, src)
		}
	})
	return srcs, nil
}

// Screenshot always fails; callers treat it as best-effort.
func (s *Session) Screenshot(context.Context) ([]byte, error) {
	return nil, ErrNoScreenshot
}

// Close releases the page state.
func (s *Session) Close(context.Context) error {
	s.doc = nil
	s.html = ""
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
