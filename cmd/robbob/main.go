// Package main is the CLI entry point for robbob.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/skratchdot/open-golang/open"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/robbob/launcher/internal/config"
	"github.com/robbob/launcher/internal/domain"
	"github.com/robbob/launcher/internal/infra"
	"github.com/robbob/launcher/internal/launcher"
)

var (
	// Version info (set via ldflags)
	Version   = "1.0.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "robbob",
	Short: "RobBob launcher - keeps the network helper installed and running",
	Long: `robbob installs the network helper, keeps itself and the helper up to
date, and runs the helper in the selected mode while your channel
subscription is confirmed.

Run 'robbob run' and leave it open. Other commands change settings that
the running launcher applies immediately.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Update, install and run the helper until interrupted",
	Long: `Kills leftover helpers, installs any launcher update, makes sure the
helper package is present, detects your provider and starts the helper
when it is enabled and your subscription is confirmed. Stops the helper
on Ctrl+C.`,
	RunE: runRun,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Enable the helper",
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(true) },
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Disable the helper",
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(false) },
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show helper, subscription and installation status",
	RunE:  runStatus,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <code>",
	Short: "Confirm your subscription with a code from the bot",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-check your subscription now",
	RunE:  runRefresh,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the confirmed subscription",
	RunE:  runReset,
}

var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Detect your internet provider and the recommended mode",
	RunE:  runProvider,
}

var modesCmd = &cobra.Command{
	Use:   "modes",
	Short: "List helper modes",
	RunE:  runModes,
}

var setCmd = &cobra.Command{
	Use:   "set <mode>",
	Short: "Select the helper mode",
	Args:  cobra.ExactArgs(1),
	RunE:  runSet,
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check for a launcher update and install it",
	RunE:  runUpdate,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install or update the helper package",
	RunE:  runInstall,
}

var openCmd = &cobra.Command{
	Use:       "open <bot|channel>",
	Short:     "Open the subscription bot or the channel in the browser",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"bot", "channel"},
	RunE:      runOpen,
}

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Launch Roblox",
	RunE:  runPlay,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath    string
	jsonOutput    bool
	forceDetect   bool
	resetDetect   bool
	checkOnlyFlag bool
)

// openURL hands a URL or protocol link to the OS.
var openURL = open.Run

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	providerCmd.Flags().BoolVar(&forceDetect, "force", false, "Ignore the cached result")
	providerCmd.Flags().BoolVar(&resetDetect, "reset", false, "Forget the detected provider")
	providerCmd.MarkFlagsMutuallyExclusive("force", "reset")
	updateCmd.Flags().BoolVar(&checkOnlyFlag, "check", false, "Only report whether an update is available")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(providerCmd)
	rootCmd.AddCommand(modesCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(versionCmd)
}

// fail prints the user-facing message for err and returns it for the exit code.
func fail(err error) error {
	fmt.Fprintln(os.Stderr, "Error:", domain.UserMessage(err))
	return err
}

func runRun(cmd *cobra.Command, args []string) error {
	hooks := launcher.Hooks{
		UpdateProgress:  progressPrinter(os.Stdout, "Downloading update"),
		InstallProgress: progressPrinter(os.Stdout, "Downloading helper"),
		Revoked: func() {
			fmt.Println("\nYour subscription is no longer active. The helper was stopped.")
			fmt.Println("Subscribe to the channel, then run 'robbob refresh'.")
		},
	}
	a, err := newApp(true, hooks)
	if err != nil {
		return fail(err)
	}
	defer a.Close()
	logger := a.logger

	a.supervisor.OnStatus(func(st domain.HelperStatus) {
		switch st.State {
		case domain.HelperRunningVerified:
			fmt.Printf("Helper running (mode %s, pid %d)\n", st.Mode, st.PID)
		case domain.HelperFailed, domain.HelperStopped:
			if st.Error != "" {
				fmt.Printf("Helper %s: %s\n", st.State, st.Error)
			} else {
				fmt.Printf("Helper %s\n", st.State)
			}
		}
	})

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	if priv := infra.DetectPrivileges(); !priv.Elevated {
		logger.Warn("launcher is not elevated", zap.String("user", priv.User))
		fmt.Println("Warning: the helper needs administrator rights. Start robbob as administrator.")
	}

	if !a.state.TutorialShown() {
		printTutorial(a)
		if err := a.state.MarkTutorialShown(); err != nil {
			logger.Warn("failed to save tutorial flag", zap.Error(err))
		}
	}

	err = a.launcher.Run(ctx, a.watch(ctx))
	switch {
	case launcher.IsHandedOff(err):
		fmt.Println("Update downloaded. The launcher restarts in a moment.")
		return nil
	case err != nil:
		return fail(err)
	}
	fmt.Println("Helper stopped. Bye.")
	return nil
}

func printTutorial(a *app) {
	fmt.Println("=== Welcome to RobBob ===")
	fmt.Printf("1. Subscribe to the channel: %s\n", a.cfg.Subscription.ChannelLink)
	fmt.Printf("2. Get your code from the bot: %s\n", a.cfg.Subscription.BotLink)
	fmt.Println("3. Run: robbob verify <code>")
	fmt.Println("'robbob open bot' and 'robbob open channel' open the links in your browser.")
	fmt.Println("The helper starts as soon as your subscription is confirmed.")
	fmt.Println("=========================")
}

func setEnabled(enabled bool) error {
	a, err := newApp(false, launcher.Hooks{})
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	if err := a.launcher.SetEnabled(context.Background(), enabled); err != nil {
		return fail(err)
	}
	if enabled {
		fmt.Println("Helper enabled.")
	} else {
		fmt.Println("Helper disabled.")
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(false, launcher.Hooks{})
	if err != nil {
		return fail(err)
	}
	defer a.Close()
	a.initGate()

	st, err := a.launcher.Status()
	if err != nil {
		a.logger.Warn("status incomplete", zap.Error(err))
	}

	priv := infra.DetectPrivileges()
	if jsonOutput {
		data, err := json.MarshalIndent(struct {
			launcher.Status
			Privileges infra.Privileges `json:"privileges"`
		}{st, priv}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println("\n=== robbob Status ===")
	if st.ProcessRunning {
		fmt.Println("Helper: RUNNING")
	} else {
		fmt.Println("Helper: NOT RUNNING")
	}
	fmt.Printf("Enabled: %t\n", st.Settings.Enabled)
	fmt.Printf("Administrator: %t\n", priv.Elevated)
	fmt.Printf("Mode: %s\n", st.Settings.Mode)

	if st.Gate.Verified && st.Gate.UserID != nil {
		fmt.Printf("Subscription: confirmed (user %d)\n", *st.Gate.UserID)
		if !st.Gate.LastCheckedAt.IsZero() {
			fmt.Printf("Last checked: %s\n", st.Gate.LastCheckedAt.Format("2006-01-02 15:04:05"))
		}
	} else {
		fmt.Println("Subscription: not confirmed (run 'robbob verify <code>')")
	}

	if st.ProviderDetected {
		fmt.Printf("Provider: %s (recommended mode %s)\n", st.Provider.ProviderID, st.Provider.Mode)
	}

	if st.Installation.Installed() {
		fmt.Printf("Helper version: %s\n", st.Installation.InstalledVersion)
	} else {
		fmt.Println("Helper version: not installed (run 'robbob install')")
	}
	if len(st.Missing) > 0 {
		fmt.Printf("Missing files: %s\n", strings.Join(st.Missing, ", "))
	}
	fmt.Println("=====================")
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	a, err := newApp(false, launcher.Hooks{})
	if err != nil {
		return fail(err)
	}
	defer a.Close()
	a.initGate()

	res := a.launcher.VerifyCode(cmd.Context(), args[0])
	if !res.Success {
		return fail(res.Err)
	}
	fmt.Printf("Subscription confirmed (user %d).\n", res.UserID)
	return nil
}

func runRefresh(cmd *cobra.Command, args []string) error {
	a, err := newApp(false, launcher.Hooks{})
	if err != nil {
		return fail(err)
	}
	defer a.Close()
	a.initGate()

	if err := a.launcher.RefreshSubscription(cmd.Context()); err != nil {
		return fail(err)
	}
	if a.gate.CanActivate() {
		fmt.Println("Subscription confirmed.")
		return nil
	}
	return fail(domain.ErrNotSubscribed)
}

func runReset(cmd *cobra.Command, args []string) error {
	a, err := newApp(false, launcher.Hooks{})
	if err != nil {
		return fail(err)
	}
	defer a.Close()
	a.initGate()

	if err := a.launcher.ResetVerification(); err != nil {
		return fail(err)
	}
	fmt.Println("Subscription forgotten. Run 'robbob verify <code>' to confirm it again.")
	return nil
}

func runProvider(cmd *cobra.Command, args []string) error {
	a, err := newApp(false, launcher.Hooks{})
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	if resetDetect {
		if err := a.launcher.ResetProviderDetection(); err != nil {
			return fail(err)
		}
		fmt.Println("Provider detection reset. The next start detects it again.")
		return nil
	}

	rec, err := a.launcher.DetectProvider(cmd.Context(), forceDetect)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("Provider: %s\n", rec.ProviderID)
	fmt.Printf("Recommended mode: %s\n", rec.Mode)
	if rec.AutoDetected {
		fmt.Println("The recommended mode is now selected.")
	}
	return nil
}

func runModes(cmd *cobra.Command, args []string) error {
	a, err := newApp(false, launcher.Hooks{})
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	s, err := a.state.LoadSettings()
	if err != nil {
		return fail(err)
	}

	fmt.Println("\n=== Helper Modes ===")
	for _, p := range a.modes.List() {
		marker := " "
		if p.Name == s.Mode {
			marker = "*"
		}
		fmt.Printf("%s %-8s %s\n", marker, p.Name, p.Description)
	}
	fmt.Println("====================")
	return nil
}

func runSet(cmd *cobra.Command, args []string) error {
	a, err := newApp(false, launcher.Hooks{})
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	if err := a.launcher.SetMode(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, domain.ErrUnknownMode) {
			fmt.Fprintf(os.Stderr, "Unknown mode %q. Available: %s\n", args[0], strings.Join(a.modes.Names(), ", "))
			return err
		}
		return fail(err)
	}
	fmt.Printf("Mode set to %s.\n", args[0])
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	a, err := newApp(false, launcher.Hooks{})
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	check, err := a.updater.Check(cmd.Context())
	if err != nil {
		return fail(err)
	}
	if !check.Available {
		fmt.Printf("robbob %s is up to date.\n", check.CurrentVersion)
		return nil
	}
	fmt.Printf("Update available: %s -> %s\n", check.CurrentVersion, check.LatestVersion)
	if check.ReleaseNotes != "" {
		fmt.Println(check.ReleaseNotes)
	}
	if checkOnlyFlag {
		return nil
	}

	if err := a.updater.Apply(cmd.Context(), check, progressPrinter(os.Stdout, "Downloading update")); err != nil {
		return fail(err)
	}
	fmt.Println("Update downloaded. The launcher restarts in a moment.")
	return nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	a, err := newApp(false, launcher.Hooks{})
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	state, err := a.installer.Ensure(cmd.Context(), progressPrinter(os.Stdout, "Downloading helper"))
	if err != nil {
		return fail(err)
	}
	fmt.Printf("Helper %s installed in %s\n", state.InstalledVersion, state.InstallPath)
	return nil
}

func runOpen(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fail(err)
	}
	url := cfg.Subscription.BotLink
	if args[0] == "channel" {
		url = cfg.Subscription.ChannelLink
	}
	if err := openURL(url); err != nil {
		fmt.Printf("Could not open the browser. Visit %s\n", url)
		return err
	}
	return nil
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fail(err)
	}
	if err := openURL(cfg.Launcher.GameURL); err != nil {
		fmt.Fprintln(os.Stderr, "Could not start Roblox. Is it installed?")
		return fmt.Errorf("launch game: %w", err)
	}
	fmt.Println("Starting Roblox...")
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("robbob %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
