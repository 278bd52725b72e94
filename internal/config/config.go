// Package config loads launcher configuration from defaults, an optional
// YAML file and ROBBOB_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/robbob/launcher/internal/domain"
)

// Config holds all launcher configuration.
type Config struct {
	Launcher     LauncherConfig     `mapstructure:"launcher"`
	Helper       HelperConfig       `mapstructure:"helper"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Provider     ProviderConfig     `mapstructure:"provider"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// LauncherConfig controls the mandatory self-update and settings restarts.
type LauncherConfig struct {
	VersionURL   string        `mapstructure:"version_url"`
	DownloadURL  string        `mapstructure:"download_url"`
	ExitDelay    time.Duration `mapstructure:"exit_delay"`
	ScriptDelay  time.Duration `mapstructure:"script_delay"`
	RestartDelay time.Duration `mapstructure:"restart_delay"`
	GameURL      string        `mapstructure:"game_url"`
}

// HelperConfig describes where the helper comes from and how it is laid out.
type HelperConfig struct {
	InstallDir   string        `mapstructure:"install_dir"`
	ManifestURL  string        `mapstructure:"manifest_url"`
	ReleaseURL   string        `mapstructure:"release_url"`
	AssetName    string        `mapstructure:"asset_name"`
	BinDir       string        `mapstructure:"bin_dir"`
	ListsDir     string        `mapstructure:"lists_dir"`
	Executable   string        `mapstructure:"executable"`
	SupportFiles []string      `mapstructure:"support_files"`
	RuleFiles    []string      `mapstructure:"rule_files"`
	DefaultMode  string        `mapstructure:"default_mode"`
	SettleDelay  time.Duration `mapstructure:"settle_delay"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
}

// SubscriptionConfig controls the access gate.
type SubscriptionConfig struct {
	APIURL          string        `mapstructure:"api_url"`
	BotLink         string        `mapstructure:"bot_link"`
	ChannelLink     string        `mapstructure:"channel_link"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	FirstCheckDelay time.Duration `mapstructure:"first_check_delay"`
	CheckInterval   time.Duration `mapstructure:"check_interval"`
}

// ProviderConfig controls network provider detection.
type ProviderConfig struct {
	IPInfoURL string        `mapstructure:"ipinfo_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// HTTPConfig holds settings shared by every outbound request.
type HTTPConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	MaxRedirects    int           `mapstructure:"max_redirects"`
	UserAgent       string        `mapstructure:"user_agent"`
}

// StorageConfig controls persisted state.
type StorageConfig struct {
	DataDir             string `mapstructure:"data_dir"`
	EncryptSubscription bool   `mapstructure:"encrypt_subscription"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "robbob")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".robbob")
}

// Default returns a Config with default values.
func Default() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		Launcher: LauncherConfig{
			VersionURL:   "https://your-server.com/api/launcher/version.json",
			DownloadURL:  "https://your-server.com/files/robbob-launcher.zip",
			ExitDelay:    500 * time.Millisecond,
			ScriptDelay:  2 * time.Second,
			RestartDelay: time.Second,
			GameURL:      "roblox-player:1+launchmode",
		},
		Helper: HelperConfig{
			InstallDir:   filepath.Join(dataDir, "bypass"),
			ManifestURL:  "https://your-server.com/api/bypass/version.json",
			ReleaseURL:   "https://api.github.com/repos/yamineki/roboby-files/releases/latest",
			AssetName:    "bypass.zip",
			BinDir:       "bin",
			ListsDir:     "lists",
			Executable:   "winws.exe",
			SupportFiles: []string{"WinDivert.dll", "WinDivert64.sys"},
			RuleFiles:    []string{"list-general.txt"},
			DefaultMode:  "ALT7",
			SettleDelay:  2 * time.Second,
			StopTimeout:  3 * time.Second,
		},
		Subscription: SubscriptionConfig{
			APIURL:          "https://codeworker.truexieru.workers.dev",
			BotLink:         "https://t.me/robloxbob_bot",
			ChannelLink:     "https://t.me/rbxbob",
			RequestTimeout:  10 * time.Second,
			FirstCheckDelay: 60 * time.Second,
			CheckInterval:   300 * time.Second,
		},
		Provider: ProviderConfig{
			IPInfoURL: "https://ipinfo.io/json",
			Timeout:   5 * time.Second,
		},
		HTTP: HTTPConfig{
			Timeout:         15 * time.Second,
			DownloadTimeout: 5 * time.Minute,
			MaxRedirects:    5,
			UserAgent:       "RobBob-Launcher",
		},
		Storage: StorageConfig{
			DataDir:             dataDir,
			EncryptSubscription: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Path:       filepath.Join(dataDir, "logs", "launcher.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.robbob")
	}

	v.SetEnvPrefix("ROBBOB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("launcher.version_url", d.Launcher.VersionURL)
	v.SetDefault("launcher.download_url", d.Launcher.DownloadURL)
	v.SetDefault("launcher.exit_delay", d.Launcher.ExitDelay)
	v.SetDefault("launcher.script_delay", d.Launcher.ScriptDelay)
	v.SetDefault("launcher.restart_delay", d.Launcher.RestartDelay)
	v.SetDefault("launcher.game_url", d.Launcher.GameURL)

	v.SetDefault("helper.install_dir", d.Helper.InstallDir)
	v.SetDefault("helper.manifest_url", d.Helper.ManifestURL)
	v.SetDefault("helper.release_url", d.Helper.ReleaseURL)
	v.SetDefault("helper.asset_name", d.Helper.AssetName)
	v.SetDefault("helper.bin_dir", d.Helper.BinDir)
	v.SetDefault("helper.lists_dir", d.Helper.ListsDir)
	v.SetDefault("helper.executable", d.Helper.Executable)
	v.SetDefault("helper.support_files", d.Helper.SupportFiles)
	v.SetDefault("helper.rule_files", d.Helper.RuleFiles)
	v.SetDefault("helper.default_mode", d.Helper.DefaultMode)
	v.SetDefault("helper.settle_delay", d.Helper.SettleDelay)
	v.SetDefault("helper.stop_timeout", d.Helper.StopTimeout)

	v.SetDefault("subscription.api_url", d.Subscription.APIURL)
	v.SetDefault("subscription.bot_link", d.Subscription.BotLink)
	v.SetDefault("subscription.channel_link", d.Subscription.ChannelLink)
	v.SetDefault("subscription.request_timeout", d.Subscription.RequestTimeout)
	v.SetDefault("subscription.first_check_delay", d.Subscription.FirstCheckDelay)
	v.SetDefault("subscription.check_interval", d.Subscription.CheckInterval)

	v.SetDefault("provider.ipinfo_url", d.Provider.IPInfoURL)
	v.SetDefault("provider.timeout", d.Provider.Timeout)

	v.SetDefault("http.timeout", d.HTTP.Timeout)
	v.SetDefault("http.download_timeout", d.HTTP.DownloadTimeout)
	v.SetDefault("http.max_redirects", d.HTTP.MaxRedirects)
	v.SetDefault("http.user_agent", d.HTTP.UserAgent)

	v.SetDefault("storage.data_dir", d.Storage.DataDir)
	v.SetDefault("storage.encrypt_subscription", d.Storage.EncryptSubscription)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.path", d.Logging.Path)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)
}

// Validate rejects configurations the launcher cannot run with.
func (c *Config) Validate() error {
	if c.Helper.Executable == "" {
		return fmt.Errorf("helper.executable must not be empty")
	}
	if c.HTTP.MaxRedirects < 0 {
		return fmt.Errorf("http.max_redirects must not be negative")
	}
	if c.Subscription.CheckInterval <= 0 {
		return fmt.Errorf("subscription.check_interval must be positive")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must not be empty")
	}
	return nil
}

// Layout returns the helper file layout.
func (c *HelperConfig) Layout() domain.HelperLayout {
	return domain.HelperLayout{
		BinDir:       c.BinDir,
		ListsDir:     c.ListsDir,
		Executable:   c.Executable,
		SupportFiles: c.SupportFiles,
		RuleFiles:    c.RuleFiles,
	}
}
