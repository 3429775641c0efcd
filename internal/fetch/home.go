package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"golang.org/x/time/rate"
)

// HomeClient fetches the store's home layout from the catalog API. The home
// payload is where categories are enumerated; everything deeper goes through
// the browser.
type HomeClient struct {
	config  *common.StoreConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  arbor.ILogger
}

// NewHomeClient creates a client rate limited to the store's configured
// request spacing
func NewHomeClient(config *common.StoreConfig, logger arbor.ILogger) *HomeClient {
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Every(config.RateLimit.Std())
	}
	return &HomeClient{
		config:  config,
		client:  &http.Client{Timeout: config.RequestTimeout.Std()},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// FetchHome requests the home layout and returns the raw response body
func (c *HomeClient) FetchHome(ctx context.Context) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := c.config.BaseURL + c.config.HomeEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build home request: %w", err)
	}

	params := url.Values{}
	params.Set("offset", "1")
	params.Set("layoutId", c.config.LayoutID)
	params.Set("storeId", c.config.StoreID)
	params.Set("primaryStoreId", c.config.PrimaryStoreID)
	params.Set("secondaryStoreId", c.config.SecondaryStoreID)
	params.Set("clientId", c.config.ClientID)
	req.URL.RawQuery = params.Encode()

	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range c.config.Cookies {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}

	c.logger.Info().
		Str("url", endpoint).
		Str("store_id", c.config.StoreID).
		Msg("Fetching home layout")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("home request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read home response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("home request returned status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("home response is not valid JSON")
	}
	if APIErrorPayload(body) {
		return nil, fmt.Errorf("home response carries an API error payload")
	}

	c.logger.Info().
		Int("bytes", len(body)).
		Msg("Home layout fetched")
	return body, nil
}
