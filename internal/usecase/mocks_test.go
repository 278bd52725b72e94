package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/robbob/launcher/internal/domain"
	"github.com/robbob/launcher/internal/infra"
)

// mockSubscriptionClient implements domain.SubscriptionClient for testing
type mockSubscriptionClient struct {
	mu         sync.Mutex
	verifyResp *domain.VerifyResponse
	verifyErr  error
	checkResp  *domain.CheckResponse
	checkErr   error
	checks     int
	checked    chan int64
}

func (m *mockSubscriptionClient) Verify(ctx context.Context, code string) (*domain.VerifyResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	return m.verifyResp, nil
}

func (m *mockSubscriptionClient) Check(ctx context.Context, userID int64) (*domain.CheckResponse, error) {
	m.mu.Lock()
	m.checks++
	resp, err := m.checkResp, m.checkErr
	m.mu.Unlock()

	if m.checked != nil {
		select {
		case m.checked <- userID:
		default:
		}
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (m *mockSubscriptionClient) setCheck(resp *domain.CheckResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkResp, m.checkErr = resp, err
}

func (m *mockSubscriptionClient) checkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checks
}

// mockSubscriptionStore implements domain.SubscriptionStore for testing
type mockSubscriptionStore struct {
	mu      sync.Mutex
	rec     domain.SubscriptionRecord
	loadErr error
	saveErr error
	saves   int
}

func (m *mockSubscriptionStore) LoadSubscription() (domain.SubscriptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec, m.loadErr
}

func (m *mockSubscriptionStore) SaveSubscription(rec domain.SubscriptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.rec = rec
	m.saves++
	return nil
}

func (m *mockSubscriptionStore) ClearSubscription() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = domain.SubscriptionRecord{}
	return nil
}

func (m *mockSubscriptionStore) get() domain.SubscriptionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec
}

// mockAccess implements domain.AccessChecker for testing
type mockAccess struct {
	mu      sync.Mutex
	allowed bool
}

func (m *mockAccess) CanActivate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowed
}

// mockProcessManager implements domain.ProcessManager for testing.
// Processes are tracked by name; killing removes them.
type mockProcessManager struct {
	mu        sync.Mutex
	byName    map[string][]int
	alive     map[int]bool
	findErr   error
	killErr   error
	killCalls int
	stubborn  bool // KillByName reports success but processes stay
	onFind    func()
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{byName: map[string][]int{}, alive: map[int]bool{}}
}

func (m *mockProcessManager) add(name string, pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byName[name] = append(m.byName[name], pid)
	m.alive[pid] = true
}

func (m *mockProcessManager) exit(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(pid)
}

func (m *mockProcessManager) removeLocked(pid int) {
	delete(m.alive, pid)
	for name, pids := range m.byName {
		kept := pids[:0]
		for _, p := range pids {
			if p != pid {
				kept = append(kept, p)
			}
		}
		m.byName[name] = kept
	}
}

func (m *mockProcessManager) FindByName(name string) ([]int, error) {
	m.mu.Lock()
	hook := m.onFind
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	return append([]int(nil), m.byName[name]...), nil
}

func (m *mockProcessManager) Kill(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.killErr != nil {
		return m.killErr
	}
	m.removeLocked(pid)
	return nil
}

func (m *mockProcessManager) KillByName(name string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killCalls++
	if m.killErr != nil {
		return nil, m.killErr
	}
	pids := append([]int(nil), m.byName[name]...)
	if !m.stubborn {
		for _, pid := range pids {
			m.removeLocked(pid)
		}
	}
	return pids, nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive[pid]
}

// mockFileSystemManager implements domain.FileSystemManager for testing
type mockFileSystemManager struct {
	mu            sync.Mutex
	existingPaths map[string]bool
}

func (m *mockFileSystemManager) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.existingPaths[path]
}

func (m *mockFileSystemManager) Delete(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.existingPaths, path)
	return nil
}

func (m *mockFileSystemManager) ExpandHome(path string) string {
	return path // No expansion in tests
}

func (m *mockFileSystemManager) MissingFiles(paths []string) []string {
	var missing []string
	for _, p := range paths {
		if !m.Exists(p) {
			missing = append(missing, filepath.Base(p))
		}
	}
	return missing
}

func (m *mockFileSystemManager) setAll(paths []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existingPaths == nil {
		m.existingPaths = map[string]bool{}
	}
	for _, p := range paths {
		m.existingPaths[p] = true
	}
}

// mockHandle implements domain.ProcessHandle backed by mockProcessManager
type mockHandle struct {
	pid  int
	pm   *mockProcessManager
	done chan struct{}
	once sync.Once
}

func (h *mockHandle) PID() int { return h.pid }

func (h *mockHandle) Kill() error {
	h.pm.exit(h.pid)
	h.finish()
	return nil
}

func (h *mockHandle) Wait() error {
	<-h.done
	return nil
}

// crash simulates the process exiting on its own.
func (h *mockHandle) crash() {
	h.pm.exit(h.pid)
	h.finish()
}

func (h *mockHandle) finish() {
	h.once.Do(func() { close(h.done) })
}

// mockSpawner implements domain.Spawner for testing
type mockSpawner struct {
	mu       sync.Mutex
	pm       *mockProcessManager
	name     string
	nextPID  int
	spawnErr error
	specs    []domain.SpawnSpec
	handles  []*mockHandle
	dieFast  bool // spawned processes vanish from the process list at once
}

func (m *mockSpawner) Spawn(spec domain.SpawnSpec) (domain.ProcessHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.spawnErr != nil {
		return nil, m.spawnErr
	}
	m.nextPID++
	pid := 1000 + m.nextPID
	m.specs = append(m.specs, spec)
	if !m.dieFast {
		m.pm.add(m.name, pid)
	}
	h := &mockHandle{pid: pid, pm: m.pm, done: make(chan struct{})}
	m.handles = append(m.handles, h)
	return h, nil
}

func (m *mockSpawner) spawned() []domain.SpawnSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SpawnSpec(nil), m.specs...)
}

func (m *mockSpawner) lastHandle() *mockHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.handles) == 0 {
		return nil
	}
	return m.handles[len(m.handles)-1]
}

// mockResolver implements domain.VersionResolver for testing
type mockResolver struct {
	records map[string]*domain.VersionRecord
	err     error
	fetches int
}

func (m *mockResolver) FetchVersion(ctx context.Context, url string) (*domain.VersionRecord, error) {
	m.fetches++
	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.records[url]
	if !ok {
		return nil, errors.Join(domain.ErrNetwork, errors.New("no manifest at "+url))
	}
	return rec, nil
}

func (m *mockResolver) CompareVersions(a, b string) (int, error) {
	return infra.CompareVersions(a, b)
}

// mockFetcher implements domain.ArtifactFetcher for testing. Extract writes
// the configured files into the destination.
type mockFetcher struct {
	downloadErr error
	extractErr  error
	files       []string // relative paths created by Extract
	downloads   []string
	extracted   []string
}

func (m *mockFetcher) Download(ctx context.Context, url, destPath string, onProgress domain.ProgressFunc) error {
	m.downloads = append(m.downloads, url)
	if m.downloadErr != nil {
		return m.downloadErr
	}
	if onProgress != nil {
		onProgress(domain.Progress{Downloaded: 10, Total: 10, Percent: 100, Known: true})
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte("archive"), 0644)
}

func (m *mockFetcher) Extract(archivePath, destDir string) error {
	defer os.Remove(archivePath)
	m.extracted = append(m.extracted, destDir)
	if m.extractErr != nil {
		return m.extractErr
	}
	for _, f := range m.files {
		p := filepath.Join(destDir, f)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			return err
		}
	}
	return nil
}

// mockReleaseSource implements domain.ReleaseSource for testing
type mockReleaseSource struct {
	release *domain.Release
	err     error
}

func (m *mockReleaseSource) LatestRelease(ctx context.Context) (*domain.Release, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.release, nil
}

func (m *mockReleaseSource) FindAsset(release *domain.Release, name string) (*domain.ReleaseAsset, error) {
	for i := range release.Assets {
		if release.Assets[i].Name == name {
			return &release.Assets[i], nil
		}
	}
	return nil, domain.ErrParse
}

// mockHandoff implements domain.HandoffLauncher for testing
type mockHandoff struct {
	stageErr  error
	launchErr error
	scripts   []domain.HandoffScript
	launched  []string
}

func (m *mockHandoff) Stage(dir string, script domain.HandoffScript) (string, error) {
	if m.stageErr != nil {
		return "", m.stageErr
	}
	m.scripts = append(m.scripts, script)
	return filepath.Join(dir, "update.sh"), nil
}

func (m *mockHandoff) Launch(scriptPath string) error {
	if m.launchErr != nil {
		return m.launchErr
	}
	m.launched = append(m.launched, scriptPath)
	return nil
}
