package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/robbob/launcher/internal/domain"
)

const launcherManifest = "https://updates.example.com/launcher/version.json"

type updateFixture struct {
	updater  *SelfUpdateCoordinator
	resolver *mockResolver
	fetcher  *mockFetcher
	handoff  *mockHandoff
	exited   chan int
	staging  string
}

func newUpdateFixture(t *testing.T, current string, remote *domain.VersionRecord) *updateFixture {
	t.Helper()
	f := &updateFixture{
		resolver: &mockResolver{records: map[string]*domain.VersionRecord{}},
		fetcher:  &mockFetcher{},
		handoff:  &mockHandoff{},
		exited:   make(chan int, 1),
		staging:  t.TempDir(),
	}
	if remote != nil {
		f.resolver.records[launcherManifest] = remote
	}
	f.updater = NewSelfUpdateCoordinator(f.resolver, f.fetcher, f.handoff, SelfUpdateConfig{
		ManifestURL:        launcherManifest,
		FallbackPackageURL: "https://updates.example.com/launcher/latest.zip",
		CurrentVersion:     current,
		Executable:         "/opt/robbob/robbob",
		Args:               []string{"run"},
		StagingDir:         f.staging,
		ExitDelay:          10 * time.Millisecond,
	}, func(code int) { f.exited <- code }, zap.NewNop())
	return f
}

func TestSelfUpdate_DevelopmentBuildSkips(t *testing.T) {
	f := newUpdateFixture(t, "dev", &domain.VersionRecord{Version: "9.9.9"})

	check, err := f.updater.Check(context.Background())
	require.NoError(t, err)

	assert.False(t, check.Available)
	assert.Zero(t, f.resolver.fetches)
}

func TestSelfUpdate_Check(t *testing.T) {
	tests := []struct {
		current, remote string
		available       bool
	}{
		{"1.0.0", "1.0.1", true},
		{"v1.0.0", "1.1", true},
		{"1.0.0", "1.0.0", false},
		{"1.2.0", "1.1.9", false},
	}
	for _, tt := range tests {
		t.Run(tt.current+"->"+tt.remote, func(t *testing.T) {
			f := newUpdateFixture(t, tt.current, &domain.VersionRecord{Version: tt.remote, ReleaseNotes: "notes"})

			check, err := f.updater.Check(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.available, check.Available)
			assert.Equal(t, tt.current, check.CurrentVersion)
			assert.Equal(t, tt.remote, check.LatestVersion)
			assert.Equal(t, "notes", check.ReleaseNotes)
		})
	}
}

func TestSelfUpdate_CheckURLFallback(t *testing.T) {
	f := newUpdateFixture(t, "1.0.0", &domain.VersionRecord{Version: "1.1.0"})
	check, err := f.updater.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://updates.example.com/launcher/latest.zip", check.DownloadURL)

	f = newUpdateFixture(t, "1.0.0", &domain.VersionRecord{Version: "1.1.0", DownloadURL: "https://cdn.example.com/l.tar.gz"})
	check, err = f.updater.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/l.tar.gz", check.DownloadURL)
}

func TestSelfUpdate_CheckErrors(t *testing.T) {
	f := newUpdateFixture(t, "1.0.0", nil)
	_, err := f.updater.Check(context.Background())
	assert.True(t, errors.Is(err, domain.ErrNetwork))

	f = newUpdateFixture(t, "1.0.0", &domain.VersionRecord{Version: "1.0-beta"})
	_, err = f.updater.Check(context.Background())
	assert.True(t, errors.Is(err, domain.ErrParse))
}

func TestSelfUpdate_ApplyHandsOffAndExits(t *testing.T) {
	f := newUpdateFixture(t, "1.0.0", nil)
	check := &domain.UpdateCheck{
		CurrentVersion: "1.0.0",
		LatestVersion:  "1.1.0",
		Available:      true,
		DownloadURL:    "https://cdn.example.com/robbob-1.1.0.tar.gz?sig=abc",
	}

	require.NoError(t, f.updater.Apply(context.Background(), check, nil))

	require.Len(t, f.fetcher.downloads, 1)
	require.Len(t, f.handoff.scripts, 1)
	script := f.handoff.scripts[0]
	assert.Equal(t, "robbob-1.1.0.tar.gz", filepath.Base(script.PackagePath))
	assert.True(t, strings.HasPrefix(script.PackagePath, f.staging))
	assert.Equal(t, filepath.Dir("/opt/robbob/robbob"), script.InstallDir)
	assert.Equal(t, "/opt/robbob/robbob", script.Executable)
	assert.Equal(t, []string{"run"}, script.Args)
	assert.Equal(t, 2*time.Second, script.Delay)
	assert.Len(t, f.handoff.launched, 1)

	select {
	case code := <-f.exited:
		assert.Equal(t, 0, code)
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit after handoff")
	}

	err := f.updater.Apply(context.Background(), check, nil)
	assert.True(t, errors.Is(err, domain.ErrUpdateInProgress))
}

func TestSelfUpdate_ApplyNothingAvailable(t *testing.T) {
	f := newUpdateFixture(t, "1.0.0", nil)
	require.NoError(t, f.updater.Apply(context.Background(), &domain.UpdateCheck{Available: false}, nil))
	require.NoError(t, f.updater.Apply(context.Background(), nil, nil))
	assert.Empty(t, f.fetcher.downloads)
}

func TestSelfUpdate_ApplyFailuresAreRetryable(t *testing.T) {
	check := &domain.UpdateCheck{Available: true, LatestVersion: "2.0.0", DownloadURL: "https://cdn.example.com/u.zip"}

	tests := []struct {
		name  string
		setup func(f *updateFixture)
		cause error
	}{
		{"download", func(f *updateFixture) { f.fetcher.downloadErr = domain.ErrTimeout }, domain.ErrTimeout},
		{"stage", func(f *updateFixture) { f.handoff.stageErr = domain.ErrFilesystem }, domain.ErrFilesystem},
		{"launch", func(f *updateFixture) { f.handoff.launchErr = domain.ErrSpawn }, domain.ErrSpawn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newUpdateFixture(t, "1.0.0", nil)
			tt.setup(f)

			err := f.updater.Apply(context.Background(), check, nil)
			assert.True(t, errors.Is(err, domain.ErrUpdateFailed))
			assert.True(t, errors.Is(err, tt.cause))
			assert.Equal(t, "Update failed. Retry to continue.", domain.UserMessage(err))

			// a retry is allowed and fails the same way rather than reporting in-progress
			err = f.updater.Apply(context.Background(), check, nil)
			assert.False(t, errors.Is(err, domain.ErrUpdateInProgress))

			select {
			case <-f.exited:
				t.Fatal("exited after a failed update")
			case <-time.After(30 * time.Millisecond):
			}
		})
	}
}

func TestSelfUpdate_ApplyWithoutURL(t *testing.T) {
	f := newUpdateFixture(t, "1.0.0", nil)
	err := f.updater.Apply(context.Background(), &domain.UpdateCheck{Available: true, LatestVersion: "2.0.0"}, nil)
	assert.True(t, errors.Is(err, domain.ErrUpdateFailed))
}

func TestSelfUpdate_Run(t *testing.T) {
	t.Run("server unreachable continues", func(t *testing.T) {
		f := newUpdateFixture(t, "1.0.0", nil)
		handedOff, err := f.updater.Run(context.Background(), nil)
		require.NoError(t, err)
		assert.False(t, handedOff)
	})

	t.Run("up to date", func(t *testing.T) {
		f := newUpdateFixture(t, "1.0.0", &domain.VersionRecord{Version: "1.0.0"})
		handedOff, err := f.updater.Run(context.Background(), nil)
		require.NoError(t, err)
		assert.False(t, handedOff)
	})

	t.Run("update applied", func(t *testing.T) {
		f := newUpdateFixture(t, "1.0.0", &domain.VersionRecord{Version: "1.0.1"})
		handedOff, err := f.updater.Run(context.Background(), nil)
		require.NoError(t, err)
		assert.True(t, handedOff)
		assert.Equal(t, []string{"https://updates.example.com/launcher/latest.zip"}, f.fetcher.downloads)
	})

	t.Run("update failure surfaces", func(t *testing.T) {
		f := newUpdateFixture(t, "1.0.0", &domain.VersionRecord{Version: "1.0.1"})
		f.fetcher.downloadErr = domain.ErrNetwork
		handedOff, err := f.updater.Run(context.Background(), nil)
		assert.True(t, errors.Is(err, domain.ErrUpdateFailed))
		assert.False(t, handedOff)
	})
}

func TestPackageName(t *testing.T) {
	assert.Equal(t, "robbob.zip", packageName("https://x.example.com/dl/robbob.zip"))
	assert.Equal(t, "robbob-linux.tar.gz", packageName("https://x.example.com/robbob-linux.tar.gz?token=1"))
	assert.Equal(t, "update.zip", packageName("https://x.example.com/download?id=5"))
	assert.Equal(t, "update.zip", packageName("::not a url"))
}
