package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.twwplus/config.toml.
type Config struct {
	Server    ConfigServer    `toml:"server"`
	Storage   ConfigStorage   `toml:"storage"`
	Timing    ConfigTiming    `toml:"timing"`
	Selectors ConfigSelectors `toml:"selectors"`
	Log       ConfigLog       `toml:"log"`
}

// ConfigServer holds the page bridge listener settings.
type ConfigServer struct {
	Listen         string   `toml:"listen"`
	AuthToken      string   `toml:"auth_token"`
	AllowedOrigins []string `toml:"allowed_origins"`
	Upstream       string   `toml:"upstream"`
}

// ConfigStorage selects the draft backend.
type ConfigStorage struct {
	DSN string `toml:"dsn"`
}

// ConfigTiming holds durations in time.ParseDuration syntax.
type ConfigTiming struct {
	DraftDebounce     string `toml:"draft_debounce"`
	ReconcileDebounce string `toml:"reconcile_debounce"`
	FrameInterval     string `toml:"frame_interval"`
}

// ConfigSelectors overrides host page selectors. Empty fields keep defaults.
type ConfigSelectors struct {
	ConversationView string   `toml:"conversation_view,omitempty"`
	InputBox         string   `toml:"input_box,omitempty"`
	Editable         string   `toml:"editable,omitempty"`
	ConversationName string   `toml:"conversation_name,omitempty"`
	ListContainers   []string `toml:"list_containers,omitempty"`
	Rows             string   `toml:"rows,omitempty"`
	RowItem          string   `toml:"row_item,omitempty"`
	RowKey           string   `toml:"row_key,omitempty"`
	Member           string   `toml:"member,omitempty"`
	Preview          string   `toml:"preview,omitempty"`
	Subject          string   `toml:"subject,omitempty"`
}

// ConfigLog holds logging settings.
type ConfigLog struct {
	Level string `toml:"level"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.twwplus, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".twwplus")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig returns the effective configuration: the config file with
// TWWPLUS_* environment overrides applied on top.
func loadConfig() (*Config, error) {
	cfg, err := loadConfigFile()
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

// loadConfigFile reads the config file over the defaults without consulting
// the environment. Commands that write the file back start from this.
func loadConfigFile() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("cannot read config: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config: %w", err)
		}
	}
	return cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ConfigServer{Listen: "127.0.0.1:8787"},
		Timing: ConfigTiming{
			DraftDebounce:     "150ms",
			ReconcileDebounce: "16ms",
			FrameInterval:     "16ms",
		},
		Log: ConfigLog{Level: "info"},
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Listen = envOrDefault("TWWPLUS_LISTEN", cfg.Server.Listen)
	cfg.Server.AuthToken = envOrDefault("TWWPLUS_AUTH_TOKEN", cfg.Server.AuthToken)
	cfg.Server.Upstream = envOrDefault("TWWPLUS_UPSTREAM", cfg.Server.Upstream)
	if origins := os.Getenv("TWWPLUS_ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}
	cfg.Storage.DSN = envOrDefault("TWWPLUS_STORAGE_DSN", cfg.Storage.DSN)
	cfg.Log.Level = envOrDefault("TWWPLUS_LOG_LEVEL", cfg.Log.Level)
}

// setConfigValue sets a config field using dot notation (e.g. "server.listen").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. server.listen)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "server":
		switch field {
		case "listen":
			cfg.Server.Listen = value
		case "auth_token":
			cfg.Server.AuthToken = value
		case "allowed_origins":
			cfg.Server.AllowedOrigins = splitList(value)
		case "upstream":
			cfg.Server.Upstream = value
		default:
			return fmt.Errorf("unknown field %q in section [server]", field)
		}
	case "storage":
		switch field {
		case "dsn":
			cfg.Storage.DSN = value
		default:
			return fmt.Errorf("unknown field %q in section [storage]", field)
		}
	case "timing":
		if _, err := parseDuration(value); err != nil {
			return err
		}
		switch field {
		case "draft_debounce":
			cfg.Timing.DraftDebounce = value
		case "reconcile_debounce":
			cfg.Timing.ReconcileDebounce = value
		case "frame_interval":
			cfg.Timing.FrameInterval = value
		default:
			return fmt.Errorf("unknown field %q in section [timing]", field)
		}
	case "log":
		switch field {
		case "level":
			if _, err := parseLevel(value); err != nil {
				return err
			}
			cfg.Log.Level = value
		default:
			return fmt.Errorf("unknown field %q in section [log]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: server, storage, timing, log)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "twwplus",
	Short: "Draft overlay for the chat web client",
	Long:  "Keeps per-conversation drafts for the chat web client.\nServe the page bridge, inspect stored drafts, and manage configuration.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
