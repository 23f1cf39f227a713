// Package chromedriver implements browser automation sessions on headless
// Chrome via chromedp.
package chromedriver

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/autorunner/internal/automation"
)

// Config controls session defaults applied when a task's browser config
// leaves a field empty.
type Config struct {
	UserAgent         string        `mapstructure:"user_agent"`
	WindowSize        string        `mapstructure:"window_size"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
}

// Factory launches one Chrome process per session. A session is owned by
// exactly one task run and must not be shared.
type Factory struct {
	cfg    Config
	logger *zap.Logger
}

// NewFactory constructs a Factory.
func NewFactory(cfg Config, logger *zap.Logger) *Factory {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{cfg: cfg, logger: logger}
}

// NewSession starts a browser configured per the task and returns a live
// driver bound to it.
func (f *Factory) NewSession(ctx context.Context, cfg automation.BrowserConfig) (automation.Driver, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	sessCtx, sessCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		ctx:        sessCtx,
		cancelAll:  func() { sessCancel(); allocCancel() },
		userAgent:  firstNonEmpty(cfg.UserAgent, f.cfg.UserAgent),
		windowSize: firstNonEmpty(cfg.WindowSize, f.cfg.WindowSize),
		meta:       newResponseMeta(),
		logger:     f.logger,
	}
	chromedp.ListenTarget(sessCtx, s.meta.captureEvent)

	if err := s.setup(ctx); err != nil {
		s.cancelAll()
		return nil, fmt.Errorf("session setup: %w", err)
	}
	return s, nil
}

// Session is one live Chrome tab. Methods must be called from a single
// goroutine.
type Session struct {
	ctx        context.Context
	cancelAll  func()
	userAgent  string
	windowSize string
	meta       *responseMeta
	logger     *zap.Logger
}

func (s *Session) setup(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.cancelAll)
	defer stop()

	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := network.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable network domain: %w", err)
			}
			if s.userAgent != "" {
				if err := emulation.SetUserAgentOverride(s.userAgent).Do(ctx); err != nil {
					return fmt.Errorf("set user-agent: %w", err)
				}
			}
			if s.windowSize != "" {
				w, h, err := parseWindowSize(s.windowSize)
				if err != nil {
					return err
				}
				if err := emulation.SetDeviceMetricsOverride(w, h, 1, false).Do(ctx); err != nil {
					return fmt.Errorf("set window size: %w", err)
				}
			}
			return nil
		}),
	}
	return chromedp.Run(s.ctx, actions...)
}

// Navigate loads the page, waits for the body and reports the document
// response status plus wall-clock load time.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) (automation.PageInfo, error) {
	navCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	s.meta.reset()
	start := time.Now()
	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
	)
	if err != nil {
		if cause := ctx.Err(); cause != nil {
			return automation.PageInfo{}, cause
		}
		return automation.PageInfo{}, &automation.TransientFetchError{URL: url, Err: err}
	}
	status := s.meta.status()
	if status == 0 {
		status = http.StatusOK
	}
	return automation.PageInfo{StatusCode: status, LoadTime: time.Since(start)}, nil
}

// HTML returns the rendered DOM of the current page.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

// Title returns the current document title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	err := s.run(ctx, chromedp.Title(&title))
	return title, err
}

// BodyText returns the visible text of the current page.
func (s *Session) BodyText(ctx context.Context) (string, error) {
	var text string
	err := s.run(ctx, chromedp.Text("body", &text, chromedp.ByQuery))
	return text, err
}

// MatchCount counts elements matching a CSS selector on the current page.
func (s *Session) MatchCount(ctx context.Context, selector string) (int, error) {
	var count int
	expr := fmt.Sprintf("document.querySelectorAll(%s).length", strconv.Quote(selector))
	if err := s.run(ctx, chromedp.Evaluate(expr, &count)); err != nil {
		return 0, err
	}
	return count, nil
}

// FrameSources lists the src of every iframe on the current page.
func (s *Session) FrameSources(ctx context.Context) ([]string, error) {
	var srcs []string
	expr := `Array.from(document.querySelectorAll("iframe")).map(f => f.src || "")`
	if err := s.run(ctx, chromedp.Evaluate(expr, &srcs)); err != nil {
		return nil, err
	}
	out := srcs[:0]
	for _, src := range srcs {
		if src != "" {
			out = append(out, src)
		}
	}
	return out, nil
}

// Screenshot captures the current viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close shuts the tab and its browser process down.
func (s *Session) Close(context.Context) error {
	s.cancelAll()
	return nil
}

func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if cause := ctx.Err(); cause != nil {
			return cause
		}
		return err
	}
	return nil
}

func parseWindowSize(raw string) (int64, int64, error) {
	sep := ","
	if strings.Contains(raw, "x") {
		sep = "x"
	}
	parts := strings.SplitN(raw, sep, 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("window size %q: want WIDTH,HEIGHT", raw)
	}
	w, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("window size %q: %w", raw, err)
	}
	h, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("window size %q: %w", raw, err)
	}
	return w, h, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// responseMeta captures the document response status from CDP network
// events during a navigation.
type responseMeta struct {
	mu         sync.RWMutex
	statusCode int
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.statusCode = int(resp.Response.Status)
	m.mu.Unlock()
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.statusCode = 0
	m.mu.Unlock()
}

func (m *responseMeta) status() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusCode
}
