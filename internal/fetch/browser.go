package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/tidwall/gjson"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/crawl"
	"github.com/ternarybob/colligo/internal/models"
)

// scrollScript walks the listing to its bottom so the page fires the next
// pagination request. scrollIntoView on the last rendered item is what the
// site's infinite scroll reacts to; a plain scrollTo is not always enough.
const scrollScript = `
(function() {
	const items = document.querySelectorAll('[data-testid="default_container_ux4"], [class*="novCB"]');
	if (items.length > 0) {
		items[items.length - 1].scrollIntoView({ behavior: 'smooth', block: 'end' });
	}
	window.scrollTo(0, document.body.scrollHeight);
	return items.length;
})()`

// session is one node's open tab plus its network capture
type session struct {
	tabCtx  context.Context
	cancel  context.CancelFunc
	capture *networkCapture
}

// BrowserFetcher renders listing pages in pooled Chrome tabs. Page 0 is a
// fresh navigation that yields markup and the initial-state snapshot; later
// pages are scroll-triggered against the node's live tab, with the
// pagination API calls intercepted off the wire.
type BrowserFetcher struct {
	pool     *BrowserPool
	config   *common.Config
	logger   arbor.ILogger
	mu       sync.Mutex
	sessions map[string]*session
}

// NewBrowserFetcher creates a fetcher backed by the given pool
func NewBrowserFetcher(pool *BrowserPool, config *common.Config, logger arbor.ILogger) *BrowserFetcher {
	return &BrowserFetcher{
		pool:     pool,
		config:   config,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

func sessionKey(node models.Node) string {
	return node.Parent + "/" + node.Name
}

// Fetch loads one page of the node. Page 0 opens a new tab; later pages
// require the tab opened by page 0.
func (f *BrowserFetcher) Fetch(ctx context.Context, node models.Node, pageIndex int) (*models.PageResult, error) {
	if pageIndex == 0 {
		return f.openPage(ctx, node)
	}
	return f.scrollPage(ctx, node, pageIndex)
}

// Release closes the node's tab, if one is open
func (f *BrowserFetcher) Release(node models.Node) {
	f.mu.Lock()
	s, ok := f.sessions[sessionKey(node)]
	if ok {
		delete(f.sessions, sessionKey(node))
	}
	f.mu.Unlock()

	if ok {
		s.cancel()
		f.logger.Debug().Str("node", node.Name).Msg("Browser tab released")
	}
}

// Close releases every open session
func (f *BrowserFetcher) Close() {
	f.mu.Lock()
	sessions := f.sessions
	f.sessions = make(map[string]*session)
	f.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
	}
}

func (f *BrowserFetcher) openPage(ctx context.Context, node models.Node) (*models.PageResult, error) {
	target, err := f.resolveURL(node)
	if err != nil {
		return nil, err
	}

	// A retried node may still hold the tab from its failed attempt
	f.Release(node)

	browserCtx, err := f.pool.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to get browser from pool: %w", err)
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx)
	capture := newNetworkCapture(f.config.Store.FilterAPIPath)
	capture.Attach(tabCtx)

	s := &session{tabCtx: tabCtx, cancel: cancel, capture: capture}
	f.mu.Lock()
	f.sessions[sessionKey(node)] = s
	f.mu.Unlock()

	browser := f.config.Browser
	merged, stop := mergeCtx(ctx, tabCtx)
	defer stop()
	runCtx, runCancel := context.WithTimeout(merged, browser.PageLoadTimeout.Std())
	defer runCancel()

	var markup, stateJSON string
	var ready bool
	err = chromedp.Run(runCtx,
		network.Enable(),
		chromedp.EmulateViewport(int64(browser.ViewportWidth), int64(browser.ViewportHeight), chromedp.EmulateScale(2)),
		chromedp.Navigate(target),
		chromedp.Poll("window.___INITIAL_STATE___ !== undefined", &ready,
			chromedp.WithPollingTimeout(browser.InitialStateTimeout.Std())),
		chromedp.OuterHTML("html", &markup),
		chromedp.Evaluate("JSON.stringify(window.___INITIAL_STATE___ || null)", &stateJSON),
	)
	if err != nil {
		return nil, crawl.Retryable("page load failed", err)
	}

	state := json.RawMessage(stateJSON)
	if stateJSON == "" || stateJSON == "null" {
		// Fall back to the inline script tag when the live object is gone
		if fromMarkup, mErr := ExtractInitialState(markup); mErr == nil {
			state = fromMarkup
		} else {
			return nil, crawl.Retryable("initial state not available", mErr)
		}
	}

	categoryData, ok := CategoryData(state)
	if !ok {
		// The page rendered but carries no listing at all
		f.logger.Info().Str("node", node.Name).Msg("Page has no listing payload")
		return &models.PageResult{Markup: markup}, nil
	}
	if !ValidListing(categoryData) {
		return nil, crawl.Retryable("rate limited, listing payload is empty", nil)
	}

	payload := make(json.RawMessage, 0, len(categoryData)+16)
	payload = append(payload, `{"data":`...)
	payload = append(payload, categoryData...)
	payload = append(payload, '}')

	return &models.PageResult{
		Markup:       markup,
		InitialState: state,
		Payload:      payload,
		Calls:        capture.Drain(),
		HasMore:      gjson.GetBytes(categoryData, "hasMore").Bool(),
	}, nil
}

func (f *BrowserFetcher) scrollPage(ctx context.Context, node models.Node, pageIndex int) (*models.PageResult, error) {
	f.mu.Lock()
	s, ok := f.sessions[sessionKey(node)]
	f.mu.Unlock()
	if !ok {
		return nil, crawl.Terminal("no open tab for node", nil)
	}

	scraping := f.config.Scraping
	merged, stop := mergeCtx(ctx, s.tabCtx)
	defer stop()
	runCtx, runCancel := context.WithTimeout(merged, f.config.Browser.PageLoadTimeout.Std())
	defer runCancel()

	var itemCount int
	err := chromedp.Run(runCtx,
		chromedp.Evaluate(scrollScript, &itemCount),
		chromedp.Sleep(scraping.APIWait.Std()),
	)
	if err != nil {
		return nil, crawl.Retryable("scroll failed", err)
	}

	calls := s.capture.Drain()
	if len(calls) == 0 && scraping.FinalWait > 0 {
		// Slow responses sometimes land after the settle window
		if err := chromedp.Run(runCtx, chromedp.Sleep(scraping.FinalWait.Std())); err == nil {
			calls = s.capture.Drain()
		}
	}
	if len(calls) == 0 {
		f.logger.Debug().
			Str("node", node.Name).
			Int("page", pageIndex).
			Msg("No pagination calls captured after scroll")
		return &models.PageResult{}, nil
	}

	for _, call := range calls {
		if APIErrorPayload(call.Response.Data) {
			return nil, crawl.Retryable("api session corrupted", fmt.Errorf("error response from %s", call.Response.URL))
		}
	}

	latest := calls[len(calls)-1]
	return &models.PageResult{
		Payload: latest.Response.Data,
		Calls:   calls,
		HasMore: gjson.GetBytes(latest.Response.Data, "data.hasMore").Bool(),
	}, nil
}

// resolveURL turns the node's deeplink into a navigable web URL
func (f *BrowserFetcher) resolveURL(node models.Node) (string, error) {
	link := node.Deeplink
	if strings.HasPrefix(link, "swiggy://") {
		link = common.ConvertDeeplinkToWebURL(f.config.Store.BaseURL, f.config.Store.ListingPath, link)
	}
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", crawl.Terminal(fmt.Sprintf("invalid deeplink %q", node.Deeplink), err)
	}
	return link, nil
}

// mergeCtx derives the tab context but honors the crawl context's
// cancellation, so a cancelled run interrupts in-flight browser work. The
// returned stop func detaches the crawl-side watcher; callers defer it so
// nothing outlives the fetch.
func mergeCtx(crawlCtx, tabCtx context.Context) (context.Context, func()) {
	merged, cancel := context.WithCancel(tabCtx)
	unhook := context.AfterFunc(crawlCtx, cancel)
	return merged, func() {
		unhook()
		cancel()
	}
}
