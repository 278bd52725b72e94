package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/robbob/launcher/internal/domain"
)

// DefaultSubscriptionTimeout bounds each subscription service call.
const DefaultSubscriptionTimeout = 10 * time.Second

const (
	verifyPath = "/api/verify"
	checkPath  = "/api/check-subscription"
)

// HTTPSubscriptionClient talks to the subscription service over JSON POSTs.
type HTTPSubscriptionClient struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
	opts    HTTPOptions
	logger  *zap.Logger
}

// NewSubscriptionClient creates a client for the service at baseURL.
func NewSubscriptionClient(baseURL string, timeout time.Duration, opts HTTPOptions, logger *zap.Logger) *HTTPSubscriptionClient {
	opts = opts.withDefaults()
	if timeout <= 0 {
		timeout = DefaultSubscriptionTimeout
	}
	return &HTTPSubscriptionClient{
		client:  newHTTPClient(opts.MaxRedirects),
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		opts:    opts,
		logger:  logger,
	}
}

// Verify exchanges a one-time code for the user's subscription status.
func (c *HTTPSubscriptionClient) Verify(ctx context.Context, code string) (*domain.VerifyResponse, error) {
	var resp domain.VerifyResponse
	if err := c.post(ctx, verifyPath, map[string]string{"code": code}, "success", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Check asks whether userID is still subscribed.
func (c *HTTPSubscriptionClient) Check(ctx context.Context, userID int64) (*domain.CheckResponse, error) {
	var resp domain.CheckResponse
	if err := c.post(ctx, checkPath, map[string]int64{"userId": userID}, "subscribed", &resp); err != nil {
		return nil, err
	}
	if resp.Subscribed == nil {
		return nil, fmt.Errorf("%w: %s reply has no subscribed field", domain.ErrParse, checkPath)
	}
	return &resp, nil
}

// post sends body as JSON and decodes the reply into out. The service
// answers rejected codes with a JSON body on non-2xx statuses, so such a
// body is decoded when it carries the verdict field. Any other non-2xx
// reply is a network error, and a 2xx reply without the field is a parse
// error.
func (c *HTTPSubscriptionClient) post(ctx context.Context, path string, body any, field string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrParse, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONBody))
	if err != nil {
		return classifyTransportError(err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		if !ok {
			return fmt.Errorf("%w: %s returned status %d", domain.ErrNetwork, path, resp.StatusCode)
		}
		return fmt.Errorf("%w: invalid response from server: %v", domain.ErrParse, err)
	}
	if _, found := fields[field]; !found {
		if !ok {
			return fmt.Errorf("%w: %s returned status %d", domain.ErrNetwork, path, resp.StatusCode)
		}
		return fmt.Errorf("%w: %s reply has no %s field", domain.ErrParse, path, field)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: invalid response from server: %v", domain.ErrParse, err)
	}

	if c.logger != nil {
		c.logger.Debug("subscription service call",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
	}
	return nil
}

// Ensure HTTPSubscriptionClient implements domain.SubscriptionClient.
var _ domain.SubscriptionClient = (*HTTPSubscriptionClient)(nil)
