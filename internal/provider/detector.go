package provider

import (
	"context"

	"go.uber.org/zap"

	"github.com/robbob/launcher/internal/domain"
)

// Detector recommends a helper mode from the current network identity.
type Detector struct {
	source   domain.IPInfoSource
	registry *Registry
	logger   *zap.Logger
}

// NewDetector creates a detector.
func NewDetector(source domain.IPInfoSource, registry *Registry, logger *zap.Logger) *Detector {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Detector{source: source, registry: registry, logger: logger}
}

// Recommend looks up the network identity and maps it to a mode.
// On lookup failure it returns the default recommendation together with
// the error, so callers can use the result and still decide about caching.
func (d *Detector) Recommend(ctx context.Context) (domain.ProviderRecommendation, error) {
	id, err := d.source.Lookup(ctx)
	if err != nil {
		d.logger.Warn("provider lookup failed", zap.Error(err))
		return d.recommendation(DefaultID), err
	}

	providerID := d.registry.Identify(id.Org)
	rec := d.recommendation(providerID)
	d.logger.Info("provider detected",
		zap.String("org", id.Org),
		zap.String("country", id.Country),
		zap.String("provider", rec.ProviderID),
		zap.String("mode", rec.Mode))
	return rec, nil
}

func (d *Detector) recommendation(providerID string) domain.ProviderRecommendation {
	return domain.ProviderRecommendation{
		ProviderID:   providerID,
		Mode:         d.registry.ModeFor(providerID),
		AutoDetected: providerID != DefaultID,
	}
}

// Ensure Detector implements domain.ProviderDetector.
var _ domain.ProviderDetector = (*Detector)(nil)
