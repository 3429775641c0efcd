package fetch

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/colligo/internal/models"
)

const filterAPIPath = "/api/instamart/category-listing/filter"

func listingRequest(id network.RequestID, body string) *network.EventRequestWillBeSent {
	return &network.EventRequestWillBeSent{
		RequestID: id,
		Request: &network.Request{
			Method:  "POST",
			URL:     "https://www.swiggy.com" + filterAPIPath + "?pageNo=1",
			Headers: network.Headers{"content-type": "application/json"},
			PostDataEntries: []*network.PostDataEntry{
				{Bytes: base64.StdEncoding.EncodeToString([]byte(body))},
			},
		},
	}
}

func listingResponse(id network.RequestID) *network.EventResponseReceived {
	return &network.EventResponseReceived{
		RequestID: id,
		Response: &network.Response{
			URL:    "https://www.swiggy.com" + filterAPIPath,
			Status: 200,
		},
	}
}

func finish(c *networkCapture, id network.RequestID) {
	c.onFinished(context.Background(), &network.EventLoadingFinished{RequestID: id})
}

func TestNetworkCapture_IgnoresUnrelatedTraffic(t *testing.T) {
	c := newNetworkCapture(filterAPIPath)

	c.onRequest(&network.EventRequestWillBeSent{
		RequestID: "other",
		Request:   &network.Request{Method: "GET", URL: "https://www.swiggy.com/static/app.js"},
	})
	finish(c, "other")

	assert.Empty(t, c.Drain())
}

func TestNetworkCapture_DrainKeepsCompletionOrder(t *testing.T) {
	// The first request's body is slow to arrive; its slot in the drain must
	// still come before the second request's, because that request finished
	// first on the wire.
	c := newNetworkCapture(filterAPIPath)
	c.fetchBody = func(_ context.Context, id network.RequestID) ([]byte, error) {
		if id == "req-1" {
			time.Sleep(50 * time.Millisecond)
			return []byte(`{"data":{"pageNo":1}}`), nil
		}
		return []byte(`{"data":{"pageNo":2}}`), nil
	}

	for _, id := range []network.RequestID{"req-1", "req-2"} {
		c.onRequest(listingRequest(id, `{"filterId":"f1"}`))
		c.onResponse(listingResponse(id))
	}
	finish(c, "req-1")
	finish(c, "req-2")

	calls := c.Drain()
	require.Len(t, calls, 2)
	assert.Equal(t, `{"data":{"pageNo":1}}`, string(calls[0].Response.Data))
	assert.Equal(t, `{"data":{"pageNo":2}}`, string(calls[1].Response.Data))
	assert.Equal(t, 200, calls[0].Response.Status)
	assert.Equal(t, `{"filterId":"f1"}`, calls[0].Request.PostData)
}

func TestNetworkCapture_DrainWaitsForInFlightBody(t *testing.T) {
	// A body still in flight when the drain starts belongs to this drain,
	// not the next one.
	c := newNetworkCapture(filterAPIPath)
	release := make(chan struct{})
	c.fetchBody = func(_ context.Context, _ network.RequestID) ([]byte, error) {
		<-release
		return []byte(`{"data":{"hasMore":true}}`), nil
	}

	c.onRequest(listingRequest("req-1", ""))
	c.onResponse(listingResponse("req-1"))
	finish(c, "req-1")

	done := make(chan []models.APICall, 1)
	go func() { done <- c.Drain() }()

	select {
	case <-done:
		require.Fail(t, "drain returned before the body arrived")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case drained := <-done:
		require.Len(t, drained, 1)
		assert.Equal(t, `{"data":{"hasMore":true}}`, string(drained[0].Response.Data))
	case <-time.After(2 * time.Second):
		require.Fail(t, "drain did not return after the body arrived")
	}

	assert.Empty(t, c.Drain(), "a drained call must not reappear")
}

func TestNetworkCapture_InvalidBodyDropped(t *testing.T) {
	c := newNetworkCapture(filterAPIPath)
	c.fetchBody = func(_ context.Context, _ network.RequestID) ([]byte, error) {
		return []byte("<html>not json</html>"), nil
	}

	c.onRequest(listingRequest("req-1", ""))
	c.onResponse(listingResponse("req-1"))
	finish(c, "req-1")

	calls := c.Drain()
	require.Len(t, calls, 1)
	assert.Nil(t, calls[0].Response.Data)
}

func TestNetworkCapture_FailedRequestDropped(t *testing.T) {
	c := newNetworkCapture(filterAPIPath)
	c.onRequest(listingRequest("req-1", ""))
	c.onFailed(&network.EventLoadingFailed{RequestID: "req-1"})
	finish(c, "req-1")

	assert.Empty(t, c.Drain())
}
