// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"path/filepath"
	"time"
)

// VersionRecord is a remote version manifest.
type VersionRecord struct {
	Version      string `json:"version"`
	DownloadURL  string `json:"downloadUrl,omitempty"`
	ReleaseNotes string `json:"releaseNotes,omitempty"`
}

// InstallationState describes the helper files on disk.
// InstalledVersion is empty when nothing has been installed yet.
type InstallationState struct {
	InstalledVersion string
	InstallPath      string
}

// Installed reports whether a version has been recorded for this installation.
func (s InstallationState) Installed() bool {
	return s.InstalledVersion != ""
}

// SubscriptionRecord is the persisted result of the subscription check.
// Verified implies UserID != nil.
type SubscriptionRecord struct {
	Verified      bool      `json:"verified"`
	UserID        *int64    `json:"user_id,omitempty"`
	LastCheckedAt time.Time `json:"last_checked_at"`
}

// Valid reports whether the record satisfies its invariant.
func (r SubscriptionRecord) Valid() bool {
	return !r.Verified || r.UserID != nil
}

// VerifyResult is returned to the user after a code verification attempt.
type VerifyResult struct {
	Success bool
	UserID  int64
	Error   string
	Err     error
}

// GateStatus is a snapshot of the access gate.
type GateStatus struct {
	Verified      bool
	UserID        *int64
	LastCheckedAt time.Time
	Checking      bool // background re-check loop active
}

// HelperState is the lifecycle state of the supervised helper process.
type HelperState string

const (
	HelperNotStarted        HelperState = "not_started"
	HelperStarting          HelperState = "starting"
	HelperRunningUnverified HelperState = "running_unverified"
	HelperRunningVerified   HelperState = "running_verified"
	HelperStopped           HelperState = "stopped"
	HelperFailed            HelperState = "failed"
)

// Running reports whether the state describes a live (or presumed live) helper.
func (s HelperState) Running() bool {
	return s == HelperRunningUnverified || s == HelperRunningVerified
}

// HelperStatus is reported to callers after every helper transition.
// A RunningUnverified status is provisional; a later RunningVerified or
// Failed status with the same Generation replaces it.
type HelperStatus struct {
	State             HelperState
	Mode              string
	PID               int
	Generation        uint64
	NeedsVerification bool
	Missing           []string
	Error             string
	At                time.Time
}

// Progress is a download progress sample.
// Percent is -1 and Known is false when the total size is unknown.
type Progress struct {
	Downloaded int64
	Total      int64
	Percent    float64
	Known      bool
}

// ProgressFunc receives download progress samples.
type ProgressFunc func(Progress)

// ProviderRecommendation is the helper mode suggested for the user's network provider.
type ProviderRecommendation struct {
	ProviderID   string
	Mode         string
	AutoDetected bool
}

// NetworkIdentity is what the IP info service reports about the current connection.
type NetworkIdentity struct {
	IP      string `json:"ip"`
	Org     string `json:"org"`
	Country string `json:"country"`
}

// UpdateCheck is the outcome of a launcher update check.
type UpdateCheck struct {
	CurrentVersion string
	LatestVersion  string
	Available      bool
	DownloadURL    string
	ReleaseNotes   string
}

// Release is a release descriptor from the release listing endpoint.
type Release struct {
	TagName string         `json:"tag_name"`
	Assets  []ReleaseAsset `json:"assets"`
}

// ReleaseAsset is a downloadable file attached to a release.
type ReleaseAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

// Settings are the user-controlled launcher settings.
type Settings struct {
	Enabled bool
	Mode    string
}

// HelperLayout describes where the helper's files live inside its install dir.
type HelperLayout struct {
	BinDir       string   // relative to install dir, e.g. "bin"
	ListsDir     string   // relative to install dir, e.g. "lists"
	Executable   string   // file name inside BinDir
	SupportFiles []string // file names inside BinDir
	RuleFiles    []string // file names inside ListsDir
}

// ProcessName is the OS process name of the helper executable.
func (l HelperLayout) ProcessName() string {
	return l.Executable
}

// RequiredFiles returns the absolute paths that must exist before the
// helper can be activated, executable first.
func (l HelperLayout) RequiredFiles(installDir string) []string {
	binDir := filepath.Join(installDir, l.BinDir)
	listsDir := filepath.Join(installDir, l.ListsDir)

	files := []string{filepath.Join(binDir, l.Executable)}
	for _, f := range l.SupportFiles {
		files = append(files, filepath.Join(binDir, f))
	}
	for _, f := range l.RuleFiles {
		files = append(files, filepath.Join(listsDir, f))
	}
	return files
}

// DefaultHelperLayout is the layout of the bypass package.
func DefaultHelperLayout() HelperLayout {
	return HelperLayout{
		BinDir:       "bin",
		ListsDir:     "lists",
		Executable:   "winws.exe",
		SupportFiles: []string{"WinDivert.dll", "WinDivert64.sys"},
		RuleFiles:    []string{"list-general.txt"},
	}
}
