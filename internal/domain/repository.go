package domain

import (
	"context"
	"time"
)

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes whose name equals name (case-insensitive).
	FindByName(name string) ([]int, error)

	// Kill force-terminates a process by PID.
	Kill(pid int) error

	// KillByName force-terminates every process named name and returns the killed PIDs.
	KillByName(name string) ([]int, error)

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool
}

// FileSystemManager handles filesystem operations.
type FileSystemManager interface {
	// Exists checks if a path exists.
	Exists(path string) bool

	// Delete removes a file or directory recursively.
	Delete(path string) error

	// ExpandHome expands ~ to the user's home directory.
	ExpandHome(path string) string

	// MissingFiles returns the base names of paths that do not exist, in input order.
	MissingFiles(paths []string) []string
}

// SpawnSpec describes a helper process to start.
type SpawnSpec struct {
	Path string
	Args []string
	Dir  string
}

// ProcessHandle is a live child process owned by the caller.
type ProcessHandle interface {
	PID() int
	// Kill force-terminates the process. Safe to call after exit.
	Kill() error
	// Wait blocks until the process exits.
	Wait() error
}

// Spawner starts helper processes bound to the current process lifetime,
// with no window and no inherited standard streams.
type Spawner interface {
	Spawn(spec SpawnSpec) (ProcessHandle, error)
}

// AccessChecker answers whether privileged activation is allowed right now.
type AccessChecker interface {
	CanActivate() bool
}

// VersionResolver fetches version manifests and compares versions.
type VersionResolver interface {
	FetchVersion(ctx context.Context, url string) (*VersionRecord, error)
	CompareVersions(a, b string) (int, error)
}

// ArtifactFetcher downloads and unpacks release artifacts.
type ArtifactFetcher interface {
	Download(ctx context.Context, url, destPath string, onProgress ProgressFunc) error
	Extract(archivePath, destDir string) error
}

// ReleaseSource lists releases and their assets.
type ReleaseSource interface {
	LatestRelease(ctx context.Context) (*Release, error)
	FindAsset(release *Release, name string) (*ReleaseAsset, error)
}

// VerifyResponse is the verification endpoint's reply.
type VerifyResponse struct {
	Success    bool   `json:"success"`
	Subscribed *bool  `json:"subscribed,omitempty"`
	UserID     *int64 `json:"userId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CheckResponse is the subscription check endpoint's reply.
type CheckResponse struct {
	Subscribed *bool  `json:"subscribed"`
	Error      string `json:"error,omitempty"`
}

// SubscriptionClient talks to the subscription service.
type SubscriptionClient interface {
	Verify(ctx context.Context, code string) (*VerifyResponse, error)
	Check(ctx context.Context, userID int64) (*CheckResponse, error)
}

// StateStore is a persistent string key-value store.
type StateStore interface {
	// Get returns the value and whether the key exists.
	Get(key string) (string, bool, error)

	// Set stores a value.
	Set(key, value string) error

	// Delete removes keys. Missing keys are ignored.
	Delete(keys ...string) error

	// All returns every stored pair.
	All() (map[string]string, error)

	// Close releases resources (e.g., database connection).
	Close() error
}

// SubscriptionStore persists the SubscriptionRecord.
type SubscriptionStore interface {
	LoadSubscription() (SubscriptionRecord, error)
	SaveSubscription(rec SubscriptionRecord) error
	ClearSubscription() error
}

// SettingsStore persists user settings and the provider detection cache.
type SettingsStore interface {
	LoadSettings() (Settings, error)
	SaveSettings(s Settings) error

	// ProviderCache returns the cached recommendation and whether detection already ran.
	ProviderCache() (ProviderRecommendation, bool, error)
	SaveProviderCache(rec ProviderRecommendation) error
	ClearProviderCache() error
}

// InstallationStore persists the installed helper version.
type InstallationStore interface {
	Load() (InstallationState, error)
	Save(version string) error
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// HandoffScript is the input of the self-update install script.
type HandoffScript struct {
	PackagePath string
	InstallDir  string
	Executable  string
	Args        []string // relaunch arguments
	Delay       time.Duration
}

// HandoffLauncher writes the install script and starts it detached.
type HandoffLauncher interface {
	// Stage renders the script into dir and returns its path.
	Stage(dir string, script HandoffScript) (string, error)

	// Launch runs the script detached from the current process.
	Launch(scriptPath string) error
}

// IPInfoSource looks up the network identity of the current connection.
type IPInfoSource interface {
	Lookup(ctx context.Context) (*NetworkIdentity, error)
}

// ProviderDetector recommends a helper mode for the current network provider.
type ProviderDetector interface {
	Recommend(ctx context.Context) (ProviderRecommendation, error)
}

// ModeResolver turns a mode name into helper arguments.
type ModeResolver interface {
	Has(mode string) bool
	Args(mode, binDir, listsDir string) ([]string, error)
	Default() string
}
