package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/robbob/launcher/internal/domain"
)

const (
	// DefaultRequestTimeout bounds metadata requests (manifests, release listings).
	DefaultRequestTimeout = 15 * time.Second
	// DefaultDownloadTimeout bounds artifact downloads.
	DefaultDownloadTimeout = 5 * time.Minute
	// DefaultMaxRedirects caps redirect chains.
	DefaultMaxRedirects = 5

	defaultUserAgent = "RobBob-Launcher"
	maxJSONBody      = 1 << 20
)

// HTTPOptions configures outbound HTTP clients.
type HTTPOptions struct {
	Timeout      time.Duration
	MaxRedirects int
	UserAgent    string
}

func (o HTTPOptions) withDefaults() HTTPOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultRequestTimeout
	}
	if o.MaxRedirects <= 0 {
		o.MaxRedirects = DefaultMaxRedirects
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	return o
}

// newHTTPClient returns a client with no overall timeout; deadlines come from
// request contexts. Redirects stop after maxRedirects hops.
func newHTTPClient(maxRedirects int) *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("%w: stopped after %d", domain.ErrTooManyRedirects, maxRedirects)
			}
			return nil
		},
	}
}

// classifyTransportError maps client errors onto the domain taxonomy.
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
}

// doJSON sends req and decodes a 2xx JSON body into out.
func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned status %d", domain.ErrNetwork, req.URL.Redacted(), resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONBody))
	if err != nil {
		return classifyTransportError(err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrParse, err)
	}
	return nil
}
