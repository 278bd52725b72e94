package infra

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	goversion "github.com/hashicorp/go-version"
	"go.uber.org/zap"

	"github.com/robbob/launcher/internal/domain"
)

// HTTPVersionResolver fetches JSON version manifests.
type HTTPVersionResolver struct {
	client *http.Client
	opts   HTTPOptions
	logger *zap.Logger
}

// NewVersionResolver creates a resolver.
func NewVersionResolver(opts HTTPOptions, logger *zap.Logger) *HTTPVersionResolver {
	opts = opts.withDefaults()
	return &HTTPVersionResolver{
		client: newHTTPClient(opts.MaxRedirects),
		opts:   opts,
		logger: logger,
	}
}

// FetchVersion downloads and parses the manifest at url.
func (r *HTTPVersionResolver) FetchVersion(ctx context.Context, url string) (*domain.VersionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", r.opts.UserAgent)
	req.Header.Set("Cache-Control", "no-cache")

	var rec domain.VersionRecord
	if err := doJSON(r.client, req, &rec); err != nil {
		return nil, err
	}
	rec.Version = strings.TrimSpace(rec.Version)
	if rec.Version == "" {
		return nil, fmt.Errorf("%w: manifest has no version", domain.ErrParse)
	}

	if r.logger != nil {
		r.logger.Debug("fetched version manifest",
			zap.String("url", url),
			zap.String("version", rec.Version))
	}
	return &rec, nil
}

// CompareVersions implements domain.VersionResolver.
func (r *HTTPVersionResolver) CompareVersions(a, b string) (int, error) {
	return CompareVersions(a, b)
}

// CompareVersions compares dot-separated numeric versions with an optional
// leading "v". Missing trailing components count as 0. Anything else,
// including pre-release suffixes, is a parse error.
func CompareVersions(a, b string) (int, error) {
	va, err := parseVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := parseVersion(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

func parseVersion(s string) (*goversion.Version, error) {
	v, err := goversion.NewVersion(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: version %q: %v", domain.ErrParse, s, err)
	}
	if v.Prerelease() != "" || v.Metadata() != "" {
		return nil, fmt.Errorf("%w: version %q has non-numeric components", domain.ErrParse, s)
	}
	return v, nil
}

// Ensure HTTPVersionResolver implements domain.VersionResolver.
var _ domain.VersionResolver = (*HTTPVersionResolver)(nil)
