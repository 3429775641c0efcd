package fetch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/colligo/internal/models"
)

// networkCapture records the catalog's paginated listing calls made by a
// tab. Only POST requests hitting the filter API path are kept; everything
// else the page loads is ignored.
type networkCapture struct {
	apiPath   string
	fetchBody func(tabCtx context.Context, id network.RequestID) ([]byte, error)

	mu       sync.Mutex
	cond     *sync.Cond
	pending  map[network.RequestID]*models.APICall
	calls    []*models.APICall // completion order, bodies may still be in flight
	inflight int
}

func newNetworkCapture(apiPath string) *networkCapture {
	c := &networkCapture{
		apiPath:   apiPath,
		fetchBody: fetchResponseBody,
		pending:   make(map[network.RequestID]*models.APICall),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// fetchResponseBody pulls a finished request's body over CDP. Body retrieval
// is its own protocol call, so it cannot run on the event goroutine.
func fetchResponseBody(tabCtx context.Context, id network.RequestID) ([]byte, error) {
	chromeCtx := chromedp.FromContext(tabCtx)
	executor := cdp.WithExecutor(tabCtx, chromeCtx.Target)
	return network.GetResponseBody(id).Do(executor)
}

// Attach subscribes the capture to the tab's network events. The caller must
// also run network.Enable() on the tab.
func (c *networkCapture) Attach(tabCtx context.Context) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			c.onRequest(e)
		case *network.EventResponseReceived:
			c.onResponse(e)
		case *network.EventLoadingFinished:
			c.onFinished(tabCtx, e)
		case *network.EventLoadingFailed:
			c.onFailed(e)
		}
	})
}

func (c *networkCapture) onRequest(e *network.EventRequestWillBeSent) {
	if e.Request.Method != "POST" || !strings.Contains(e.Request.URL, c.apiPath) {
		return
	}

	headers := make(map[string]string, len(e.Request.Headers))
	for k, v := range e.Request.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}

	var postData strings.Builder
	for _, entry := range e.Request.PostDataEntries {
		if decoded, err := base64.StdEncoding.DecodeString(entry.Bytes); err == nil {
			postData.Write(decoded)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[e.RequestID] = &models.APICall{
		Request: models.APIRequest{
			Method:   e.Request.Method,
			URL:      e.Request.URL,
			Headers:  headers,
			PostData: postData.String(),
		},
	}
}

func (c *networkCapture) onResponse(e *network.EventResponseReceived) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if call, ok := c.pending[e.RequestID]; ok {
		call.Response.URL = e.Response.URL
		call.Response.Method = call.Request.Method
		call.Response.Status = int(e.Response.Status)
	}
}

// onFinished claims the call's slot in completion order while holding the
// lock, then fetches the body asynchronously. Anchoring the slot at event
// time keeps Drain's ordering independent of how long the bodies take.
func (c *networkCapture) onFinished(tabCtx context.Context, e *network.EventLoadingFinished) {
	c.mu.Lock()
	call, ok := c.pending[e.RequestID]
	if ok {
		delete(c.pending, e.RequestID)
		c.calls = append(c.calls, call)
		c.inflight++
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	go func() {
		body, err := c.fetchBody(tabCtx, e.RequestID)

		c.mu.Lock()
		if err == nil && json.Valid(body) {
			call.Response.Data = body
		}
		c.inflight--
		c.cond.Broadcast()
		c.mu.Unlock()
	}()
}

func (c *networkCapture) onFailed(e *network.EventLoadingFailed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, e.RequestID)
}

// Drain returns the calls completed since the last drain, oldest first. It
// waits for outstanding body fetches so a slow body cannot leak into the
// next page's drain.
func (c *networkCapture) Drain() []models.APICall {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.inflight > 0 {
		c.cond.Wait()
	}

	calls := make([]models.APICall, len(c.calls))
	for i, call := range c.calls {
		calls[i] = *call
	}
	c.calls = nil
	return calls
}
