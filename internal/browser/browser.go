// Package browser runs the shared headless Chrome used by the scrape orchestrator.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PriceWatch/internal/logger"
	"PriceWatch/internal/scraper"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Config selects how Chrome is launched.
type Config struct {
	Headless bool   `yaml:"headless" env:"BROWSER_HEADLESS" env-default:"true"`
	Bin      string `yaml:"bin" env:"BROWSER_BIN"`
	// ControlURL connects to an already running browser instead of launching one.
	ControlURL string `yaml:"control_url" env:"BROWSER_CONTROL_URL"`
}

var resourceTypes = map[scraper.ResourceType]proto.NetworkResourceType{
	scraper.ResourceImage:      proto.NetworkResourceTypeImage,
	scraper.ResourceStylesheet: proto.NetworkResourceTypeStylesheet,
	scraper.ResourceFont:       proto.NetworkResourceTypeFont,
	scraper.ResourceMedia:      proto.NetworkResourceTypeMedia,
}

var (
	_ scraper.Browser = (*Browser)(nil)
	_ scraper.Page    = (*Page)(nil)
)

// Browser is a process-wide rod browser. It is safe for concurrent use.
type Browser struct {
	rod      *rod.Browser
	launcher *launcher.Launcher
	log      logger.Logger
	once     sync.Once
}

// Launch starts (or connects to) Chrome. Call Close at shutdown.
func Launch(cfg Config, log logger.Logger) (*Browser, error) {
	b := &Browser{log: log}

	controlURL := cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		b.launcher = l
		controlURL = u
	}

	b.rod = rod.New().ControlURL(controlURL)
	if err := b.rod.Connect(); err != nil {
		if b.launcher != nil {
			b.launcher.Kill()
		}
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	log.Info("Browser ready", logger.Bool("headless", cfg.Headless), logger.Bool("remote", cfg.ControlURL != ""))
	return b, nil
}

// closeTimeout bounds closing a tab once the scrape context is gone.
const closeTimeout = 10 * time.Second

// NewPage opens a stealth page whose operations are bound to ctx. Closing
// the page does not depend on ctx.
func (b *Browser) NewPage(ctx context.Context) (scraper.Page, error) {
	p, err := stealth.Page(b.rod)
	if err != nil {
		return nil, fmt.Errorf("open stealth page: %w", err)
	}
	return &Page{
		page:      p.Context(ctx),
		log:       b.log,
		closePage: func(ctx context.Context) error {
			return p.Context(ctx).Close()
		},
	}, nil
}

// Close shuts the browser down and removes the launcher's profile directory.
func (b *Browser) Close() error {
	var err error
	b.once.Do(func() {
		err = b.rod.Close()
		if b.launcher != nil {
			b.launcher.Cleanup()
		}
	})
	return err
}

// Page adapts a rod page to scraper.Page.
type Page struct {
	page   *rod.Page
	router *rod.HijackRouter
	log    logger.Logger

	closePage func(ctx context.Context) error
}

// SetUserAgent overrides the navigator user agent for this page.
func (p *Page) SetUserAgent(ua string) error {
	return p.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua})
}

// BlockResources fails requests of the given types before they hit the network.
func (p *Page) BlockResources(types ...scraper.ResourceType) error {
	if len(types) == 0 {
		return nil
	}
	router := p.page.HijackRequests()
	for _, t := range types {
		rt, ok := resourceTypes[t]
		if !ok {
			return fmt.Errorf("unsupported resource type %q", t)
		}
		if err := router.Add("*", rt, func(h *rod.Hijack) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		}); err != nil {
			return fmt.Errorf("hijack %s: %w", t, err)
		}
	}
	go router.Run()
	p.router = router
	return nil
}

// Navigate loads url and returns once DOMContentLoaded fired or timeout passed.
func (p *Page) Navigate(url string, timeout time.Duration) error {
	page := p.page.Timeout(timeout)
	defer page.CancelTimeout()

	wait := page.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := page.Navigate(url); err != nil {
		return err
	}
	wait()
	return page.GetContext().Err()
}

// HTML returns the current document markup.
func (p *Page) HTML() (string, error) {
	return p.page.HTML()
}

// Screenshot captures the full page as PNG.
func (p *Page) Screenshot() ([]byte, error) {
	return p.page.Screenshot(true, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
}

// Close stops request interception and closes the page.
func (p *Page) Close() error {
	if p.router != nil {
		if err := p.router.Stop(); err != nil {
			p.log.Debug("Hijack router stop failed", logger.Error(err))
		}
		p.router = nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return p.closePage(ctx)
}
