package infra

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/robbob/launcher/internal/domain"
)

// DefaultIPInfoURL is the public IP info endpoint.
const DefaultIPInfoURL = "https://ipinfo.io/json"

// IPInfoClient looks up the current connection's ISP via ipinfo.io.
type IPInfoClient struct {
	client *http.Client
	url    string
	opts   HTTPOptions
	logger *zap.Logger
}

// NewIPInfoClient creates a client. A zero timeout uses the default request timeout.
func NewIPInfoClient(url string, timeout time.Duration, opts HTTPOptions, logger *zap.Logger) *IPInfoClient {
	if url == "" {
		url = DefaultIPInfoURL
	}
	if timeout > 0 {
		opts.Timeout = timeout
	}
	opts = opts.withDefaults()
	return &IPInfoClient{
		client: newHTTPClient(opts.MaxRedirects),
		url:    url,
		opts:   opts,
		logger: logger,
	}
}

// Lookup returns the network identity of the current connection.
func (c *IPInfoClient) Lookup(ctx context.Context) (*domain.NetworkIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)

	var id domain.NetworkIdentity
	if err := doJSON(c.client, req, &id); err != nil {
		return nil, err
	}

	if c.logger != nil {
		c.logger.Info("detected network identity",
			zap.String("org", id.Org),
			zap.String("country", id.Country))
	}
	return &id, nil
}

// Ensure IPInfoClient implements domain.IPInfoSource.
var _ domain.IPInfoSource = (*IPInfoClient)(nil)
