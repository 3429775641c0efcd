package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
)

// BrowserPool manages a fixed set of Chrome instances with round-robin
// allocation. Each crawl node opens its own tab inside one of the pooled
// browsers, so the pool size caps Chrome memory, not crawl concurrency.
type BrowserPool struct {
	config           *common.BrowserConfig
	browsers         []context.Context
	browserCancels   []context.CancelFunc
	allocatorCancels []context.CancelFunc
	mu               sync.Mutex
	currentIndex     int
	initialized      bool
	logger           arbor.ILogger
}

// NewBrowserPool creates an uninitialized pool
func NewBrowserPool(config *common.BrowserConfig, logger arbor.ILogger) *BrowserPool {
	return &BrowserPool{
		config: config,
		logger: logger,
	}
}

// Init starts the pool's browser instances. Partial startup is tolerated as
// long as at least one instance comes up.
func (p *BrowserPool) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return fmt.Errorf("browser pool already initialized")
	}
	size := p.config.PoolSize
	if size <= 0 {
		size = 1
	}

	p.logger.Info().
		Int("pool_size", size).
		Bool("headless", p.config.Headless).
		Msg("Initializing browser pool")

	var lastErr error
	for i := 0; i < size; i++ {
		if err := p.createInstance(i); err != nil {
			lastErr = err
			p.logger.Warn().
				Err(err).
				Int("browser_index", i).
				Msg("Failed to create browser instance")
		}
	}

	if len(p.browsers) == 0 {
		return fmt.Errorf("failed to create any browser instances: %w", lastErr)
	}
	if len(p.browsers) < size {
		p.logger.Warn().
			Int("requested", size).
			Int("created", len(p.browsers)).
			Msg("Created fewer browser instances than requested")
	}

	p.initialized = true
	return nil
}

func (p *BrowserPool) createInstance(index int) error {
	startTime := time.Now()

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-timer-throttling", false),
		chromedp.Flag("disable-backgrounding-occluded-windows", false),
		chromedp.Flag("disable-renderer-backgrounding", false),
		chromedp.UserAgent(p.config.UserAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	// Startup test so a broken Chrome install fails here, not mid-crawl
	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return fmt.Errorf("browser instance failed startup test: %w", err)
	}

	p.browsers = append(p.browsers, browserCtx)
	p.browserCancels = append(p.browserCancels, browserCancel)
	p.allocatorCancels = append(p.allocatorCancels, allocatorCancel)

	p.logger.Debug().
		Int("browser_index", index).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser instance created")
	return nil
}

// Get returns a pooled browser context using round-robin allocation
func (p *BrowserPool) Get() (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil, fmt.Errorf("browser pool not initialized")
	}
	index := p.currentIndex % len(p.browsers)
	p.currentIndex = (p.currentIndex + 1) % len(p.browsers)
	return p.browsers[index], nil
}

// Shutdown tears down every browser instance
func (p *BrowserPool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return
	}
	p.logger.Info().
		Int("browser_count", len(p.browsers)).
		Msg("Shutting down browser pool")

	for _, cancel := range p.browserCancels {
		cancel()
	}
	for _, cancel := range p.allocatorCancels {
		cancel()
	}
	p.browsers = nil
	p.browserCancels = nil
	p.allocatorCancels = nil
	p.initialized = false
}
