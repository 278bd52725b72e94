package infra

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/robbob/launcher/internal/domain"
)

// GitHubReleaseSource reads the latest release from a GitHub-style
// releases endpoint.
type GitHubReleaseSource struct {
	client *http.Client
	url    string
	opts   HTTPOptions
	logger *zap.Logger
}

// NewReleaseSource creates a release source for the given "latest release" URL.
func NewReleaseSource(url string, opts HTTPOptions, logger *zap.Logger) *GitHubReleaseSource {
	opts = opts.withDefaults()
	return &GitHubReleaseSource{
		client: newHTTPClient(opts.MaxRedirects),
		url:    url,
		opts:   opts,
		logger: logger,
	}
}

// LatestRelease fetches the latest release descriptor.
func (s *GitHubReleaseSource) LatestRelease(ctx context.Context) (*domain.Release, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", s.opts.UserAgent)

	var release domain.Release
	if err := doJSON(s.client, req, &release); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Debug("fetched latest release",
			zap.String("tag", release.TagName),
			zap.Int("assets", len(release.Assets)))
	}
	return &release, nil
}

// FindAsset returns the asset whose name equals name exactly.
func (s *GitHubReleaseSource) FindAsset(release *domain.Release, name string) (*domain.ReleaseAsset, error) {
	if release == nil {
		return nil, fmt.Errorf("%w: no release", domain.ErrParse)
	}
	for i := range release.Assets {
		if release.Assets[i].Name == name {
			return &release.Assets[i], nil
		}
	}
	return nil, fmt.Errorf("%w: release %s has no asset %q", domain.ErrParse, release.TagName, name)
}

// ReleaseVersion returns the tag without its leading "v".
func ReleaseVersion(release *domain.Release) string {
	return strings.TrimPrefix(strings.TrimSpace(release.TagName), "v")
}

// Ensure GitHubReleaseSource implements domain.ReleaseSource.
var _ domain.ReleaseSource = (*GitHubReleaseSource)(nil)
