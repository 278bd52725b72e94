//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/robbob/launcher/internal/domain"
	"github.com/robbob/launcher/internal/infra"
	"github.com/robbob/launcher/internal/launcher"
	"github.com/robbob/launcher/internal/mode"
	"github.com/robbob/launcher/internal/provider"
	"github.com/robbob/launcher/internal/usecase"
)

// stack is a launcher wired from real components against a backend.
type stack struct {
	dataDir    string
	installDir string
	settings   *infra.FileStore
	secure     *infra.EncryptedStore
	state      *infra.StateRepository
	gate       *usecase.AccessGate
	supervisor *usecase.ProcessSupervisor
	launcher   *launcher.Launcher
	pm         domain.ProcessManager
	revoked    chan struct{}
}

func newStack(srv *backend, root, helperName string) *stack {
	logger := zap.NewNop()
	s := &stack{
		dataDir:    filepath.Join(root, "data"),
		installDir: filepath.Join(root, "bypass"),
		pm:         infra.NewProcessManager(),
		revoked:    make(chan struct{}, 1),
	}

	var err error
	s.settings, err = infra.NewFileStore(filepath.Join(s.dataDir, infra.StateFileName))
	Expect(err).NotTo(HaveOccurred())
	s.secure, err = infra.OpenSubscriptionBackend(s.dataDir)
	Expect(err).NotTo(HaveOccurred())
	s.state = infra.NewStateRepository(s.settings, s.secure, "ALT7")

	httpOpts := infra.HTTPOptions{Timeout: 5 * time.Second, MaxRedirects: 5, UserAgent: "robbob-integration"}
	resolver := infra.NewVersionResolver(httpOpts, logger)
	fetcher := infra.NewFetcher(httpOpts, time.Minute, logger)
	fs := infra.NewFileSystemManager()
	modes := mode.NewRegistry()

	layout := domain.DefaultHelperLayout()
	layout.Executable = helperName

	s.gate = usecase.NewAccessGate(
		infra.NewSubscriptionClient(srv.URL, 5*time.Second, httpOpts, logger),
		s.state,
		usecase.GateConfig{FirstCheckDelay: 100 * time.Millisecond, CheckInterval: 100 * time.Millisecond},
		logger,
	)
	s.supervisor = usecase.NewProcessSupervisor(s.gate, modes, s.pm, fs, infra.NewExecSpawner(logger),
		usecase.SupervisorConfig{
			InstallDir:       s.installDir,
			Layout:           layout,
			SettleDelay:      300 * time.Millisecond,
			StopTimeout:      3 * time.Second,
			StopPollInterval: 50 * time.Millisecond,
		}, logger)
	installer := usecase.NewHelperInstaller(resolver, fetcher, nil, infra.NewVersionFile(s.installDir), fs,
		usecase.InstallerConfig{
			InstallDir:  s.installDir,
			Layout:      layout,
			ManifestURL: srv.URL + "/bypass/version.json",
			StagingDir:  root,
		}, logger)
	updater := usecase.NewSelfUpdateCoordinator(resolver, fetcher, infra.NewScriptHandoff(logger),
		usecase.SelfUpdateConfig{
			ManifestURL:    srv.URL + "/launcher/version.json",
			CurrentVersion: "1.0.0",
			Executable:     filepath.Join(root, "robbob"),
			StagingDir:     root,
		},
		func(int) {},
		logger)
	detector := provider.NewDetector(
		infra.NewIPInfoClient(srv.URL+"/ipinfo", 5*time.Second, httpOpts, logger),
		provider.NewRegistry(),
		logger,
	)

	s.launcher = launcher.New(s.gate, s.supervisor, installer, updater, detector, s.state, modes,
		launcher.Config{RestartDelay: 50 * time.Millisecond},
		launcher.Hooks{Revoked: func() { s.revoked <- struct{}{} }},
		logger)
	return s
}

func (s *stack) close() {
	s.gate.Close()
	Expect(s.secure.Close()).To(Succeed())
	Expect(s.settings.Close()).To(Succeed())
}

func (s *stack) helperPIDs(name string) []int {
	pids, err := s.pm.FindByName(name)
	Expect(err).NotTo(HaveOccurred())
	return pids
}

var _ = Describe("Launcher", func() {
	var (
		root       string
		helperName string
		srv        *backend
		s          *stack
		cancel     context.CancelFunc
		done       chan error
	)

	BeforeEach(func() {
		helperName = fmt.Sprintf("rbit%d", os.Getpid()%100000)
		if runtime.GOOS == "windows" {
			helperName += ".exe"
		}
		Expect(os.Setenv(helperEnv, "1m")).To(Succeed())
		DeferCleanup(os.Unsetenv, helperEnv)

		root = GinkgoT().TempDir()
		var err error
		srv, err = newBackend(helperName)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(srv.Close)

		s = newStack(srv, root, helperName)
	})

	run := func() {
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		events, err := infra.WatchDir(ctx, s.dataDir, []string{infra.StateFileName, filepath.Base(s.secure.Path())}, 50*time.Millisecond, nil)
		Expect(err).NotTo(HaveOccurred())

		done = make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			done <- s.launcher.Run(ctx, events)
		}()
	}

	AfterEach(func() {
		if cancel != nil {
			cancel()
			Eventually(done, 10*time.Second).Should(Receive(BeNil()))
			cancel = nil
		}
		Eventually(func() []int { return s.helperPIDs(helperName) }, 5*time.Second).Should(BeEmpty())
		s.close()
	})

	Describe("first run", func() {
		It("installs the helper and waits for verification", func() {
			run()

			Eventually(func() string {
				data, _ := os.ReadFile(filepath.Join(s.installDir, "version.txt"))
				return string(data)
			}, 10*time.Second).Should(Equal("1.0.0"))
			Expect(filepath.Join(s.installDir, "bin", helperName)).To(BeAnExistingFile())

			Consistently(func() []int { return s.helperPIDs(helperName) }, 500*time.Millisecond).Should(BeEmpty())
			_, detected, err := s.state.ProviderCache()
			Expect(err).NotTo(HaveOccurred())
			Expect(detected).To(BeFalse(), "provider is detected only for verified users")
		})

		It("rejects an invalid code without starting the helper", func() {
			run()

			res := s.launcher.VerifyCode(context.Background(), "WRONG")
			Expect(res.Success).To(BeFalse())
			Expect(domain.UserMessage(res.Err)).To(Equal("Invalid code"))
			Expect(s.gate.CanActivate()).To(BeFalse())
		})
	})

	Describe("verified user", func() {
		BeforeEach(func() {
			run()
			Eventually(func() string {
				data, _ := os.ReadFile(filepath.Join(s.installDir, "version.txt"))
				return string(data)
			}, 10*time.Second).Should(Equal("1.0.0"))

			res := s.launcher.VerifyCode(context.Background(), "GOOD-CODE")
			Expect(res.Success).To(BeTrue())
			Expect(res.UserID).To(Equal(int64(42)))
		})

		It("starts the helper and confirms it after the settle delay", func() {
			Eventually(func() domain.HelperState {
				return s.supervisor.Status().State
			}, 5*time.Second).Should(Equal(domain.HelperRunningVerified))
			Expect(s.helperPIDs(helperName)).To(HaveLen(1))
			Expect(s.supervisor.Status().Mode).To(Equal("general"))
		})

		It("detects the provider once verified", func() {
			rec, detected, err := s.state.ProviderCache()
			Expect(err).NotTo(HaveOccurred())
			Expect(detected).To(BeTrue())
			Expect(rec.ProviderID).To(Equal("mgts"))

			settings, err := s.state.LoadSettings()
			Expect(err).NotTo(HaveOccurred())
			Expect(settings.Mode).To(Equal("general"))
		})

		It("persists the subscription in the encrypted store", func() {
			rec, err := s.state.LoadSubscription()
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Valid()).To(BeTrue())
			Expect(*rec.UserID).To(Equal(int64(42)))

			raw, err := os.ReadFile(s.secure.Path())
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).NotTo(ContainSubstring("last_checked_at"))
		})

		It("stops the helper when the subscription is revoked", func() {
			Eventually(func() []int { return s.helperPIDs(helperName) }, 5*time.Second).Should(HaveLen(1))

			srv.subscribed.Store(false)

			Eventually(s.revoked, 5*time.Second).Should(Receive())
			Expect(s.gate.CanActivate()).To(BeFalse())
			Eventually(func() []int { return s.helperPIDs(helperName) }, 5*time.Second).Should(BeEmpty())
			Expect(srv.checkCount()).To(BeNumerically(">=", 1))
		})

		It("restores access after re-subscribing", func() {
			srv.subscribed.Store(false)
			Eventually(s.revoked, 5*time.Second).Should(Receive())

			srv.subscribed.Store(true)
			Expect(s.launcher.RefreshSubscription(context.Background())).To(Succeed())
			Expect(s.gate.CanActivate()).To(BeTrue())
		})

		It("restarts the helper when the mode changes", func() {
			Eventually(func() domain.HelperState {
				return s.supervisor.Status().State
			}, 5*time.Second).Should(Equal(domain.HelperRunningVerified))
			first := s.helperPIDs(helperName)

			Expect(s.launcher.SetMode(context.Background(), "ALT3")).To(Succeed())

			Eventually(func() string { return s.supervisor.Status().Mode }, 5*time.Second).Should(Equal("ALT3"))
			Eventually(func() []int { return s.helperPIDs(helperName) }, 5*time.Second).Should(HaveLen(1))
			Expect(s.helperPIDs(helperName)).NotTo(Equal(first))
		})

		It("applies settings changed by another process", func() {
			Eventually(func() []int { return s.helperPIDs(helperName) }, 5*time.Second).Should(HaveLen(1))

			other, err := infra.NewFileStore(filepath.Join(s.dataDir, infra.StateFileName))
			Expect(err).NotTo(HaveOccurred())
			defer other.Close()
			Expect(infra.NewStateRepository(other, nil, "ALT7").
				SaveSettings(domain.Settings{Enabled: false, Mode: "general"})).To(Succeed())

			Eventually(func() []int { return s.helperPIDs(helperName) }, 5*time.Second).Should(BeEmpty())
			Expect(s.supervisor.Status().State).To(Equal(domain.HelperStopped))
		})

		It("stops the helper on shutdown", func() {
			Eventually(func() []int { return s.helperPIDs(helperName) }, 5*time.Second).Should(HaveLen(1))

			cancel()
			Eventually(done, 10*time.Second).Should(Receive(BeNil()))
			cancel = nil

			Expect(s.helperPIDs(helperName)).To(BeEmpty())
		})
	})

	Describe("server unreachable", func() {
		It("refuses to run without an installed helper", func() {
			srv.Close()
			err := s.launcher.Run(context.Background(), nil)
			Expect(err).To(MatchError(ContainSubstring("install helper")))
			Expect(domain.UserMessage(err)).To(Equal("Connection error. Check your internet connection."))
		})
	})
})
