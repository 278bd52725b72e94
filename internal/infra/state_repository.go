package infra

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/robbob/launcher/internal/domain"
)

// Persisted keys.
const (
	KeySubscription     = "subscription"
	KeyHelperEnabled    = "helper.enabled"
	KeyHelperMode       = "helper.mode"
	KeyProviderDetected = "provider.detected"
	KeyProviderID       = "provider.id"
	KeyProviderMode     = "provider.mode"
	KeyProviderAuto     = "provider.auto"
	KeyTutorialShown    = "tutorial.shown"
)

// StateRepository maps typed launcher state onto key-value stores.
// The subscription record may live in a separate (encrypted) store.
type StateRepository struct {
	settings     domain.StateStore
	subscription domain.StateStore
	defaultMode  string
}

// NewStateRepository creates a repository. subscription may be nil, in
// which case the record is kept in the settings store.
func NewStateRepository(settings, subscription domain.StateStore, defaultMode string) *StateRepository {
	if subscription == nil {
		subscription = settings
	}
	return &StateRepository{
		settings:     settings,
		subscription: subscription,
		defaultMode:  defaultMode,
	}
}

// LoadSubscription returns the stored record, or the zero record.
// A record violating Verified => UserID is treated as unverified.
func (r *StateRepository) LoadSubscription() (domain.SubscriptionRecord, error) {
	var rec domain.SubscriptionRecord
	raw, ok, err := r.subscription.Get(KeySubscription)
	if err != nil || !ok {
		return rec, err
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return domain.SubscriptionRecord{}, fmt.Errorf("%w: subscription record: %v", domain.ErrParse, err)
	}
	if !rec.Valid() {
		rec.Verified = false
	}
	return rec, nil
}

// SaveSubscription persists rec.
func (r *StateRepository) SaveSubscription(rec domain.SubscriptionRecord) error {
	if !rec.Valid() {
		return fmt.Errorf("subscription record: verified without user id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrParse, err)
	}
	return r.subscription.Set(KeySubscription, string(data))
}

// ClearSubscription removes the record.
func (r *StateRepository) ClearSubscription() error {
	return r.subscription.Delete(KeySubscription)
}

// LoadSettings returns the user settings with defaults for missing keys.
func (r *StateRepository) LoadSettings() (domain.Settings, error) {
	s := domain.Settings{Enabled: true, Mode: r.defaultMode}

	if v, ok, err := r.settings.Get(KeyHelperEnabled); err != nil {
		return s, err
	} else if ok {
		if b, err := strconv.ParseBool(v); err == nil {
			s.Enabled = b
		}
	}
	if v, ok, err := r.settings.Get(KeyHelperMode); err != nil {
		return s, err
	} else if ok && v != "" {
		s.Mode = v
	}
	return s, nil
}

// SaveSettings persists s.
func (r *StateRepository) SaveSettings(s domain.Settings) error {
	if err := r.settings.Set(KeyHelperEnabled, strconv.FormatBool(s.Enabled)); err != nil {
		return err
	}
	return r.settings.Set(KeyHelperMode, s.Mode)
}

// ProviderCache returns the cached recommendation and whether detection already ran.
func (r *StateRepository) ProviderCache() (domain.ProviderRecommendation, bool, error) {
	var rec domain.ProviderRecommendation
	v, ok, err := r.settings.Get(KeyProviderDetected)
	if err != nil || !ok {
		return rec, false, err
	}
	detected, _ := strconv.ParseBool(v)
	if !detected {
		return rec, false, nil
	}

	all, err := r.settings.All()
	if err != nil {
		return rec, false, err
	}
	rec.ProviderID = all[KeyProviderID]
	rec.Mode = all[KeyProviderMode]
	rec.AutoDetected, _ = strconv.ParseBool(all[KeyProviderAuto])
	return rec, true, nil
}

// SaveProviderCache records a detection result.
func (r *StateRepository) SaveProviderCache(rec domain.ProviderRecommendation) error {
	for _, kv := range [][2]string{
		{KeyProviderID, rec.ProviderID},
		{KeyProviderMode, rec.Mode},
		{KeyProviderAuto, strconv.FormatBool(rec.AutoDetected)},
		{KeyProviderDetected, "true"},
	} {
		if err := r.settings.Set(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

// ClearProviderCache forgets the detection result so the next startup detects again.
func (r *StateRepository) ClearProviderCache() error {
	return r.settings.Delete(KeyProviderDetected, KeyProviderID, KeyProviderMode, KeyProviderAuto)
}

// TutorialShown reports whether the one-time tutorial has been shown.
func (r *StateRepository) TutorialShown() bool {
	v, ok, err := r.settings.Get(KeyTutorialShown)
	if err != nil || !ok {
		return false
	}
	b, _ := strconv.ParseBool(v)
	return b
}

// MarkTutorialShown records that the tutorial has been shown.
func (r *StateRepository) MarkTutorialShown() error {
	return r.settings.Set(KeyTutorialShown, "true")
}

// Ensure StateRepository implements the repository interfaces.
var (
	_ domain.SubscriptionStore = (*StateRepository)(nil)
	_ domain.SettingsStore     = (*StateRepository)(nil)
)
