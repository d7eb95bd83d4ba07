package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix         = "VOICENOTES"
	defaultUploadPath = "/upload"
	defaultLogLevel   = "info"
	defaultServeAddr  = "127.0.0.1:8080"
	configFileName    = "config.yaml"
)

// AppConfig captures runtime configuration for the client.
type AppConfig struct {
	DataDir    string
	LogLevel   string
	LogFile    string
	API        APIConfig
	ServeAddr  string
	ServeToken string
}

// APIConfig is the persisted transcription endpoint configuration.
type APIConfig struct {
	BaseURL    string
	UploadPath string
	AuthToken  string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("data.dir", defaultDataDir())
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("api.base_url", "")
	configViper.SetDefault("api.upload_path", defaultUploadPath)
	configViper.SetDefault("api.auth_token", "")
	configViper.SetDefault("serve.address", defaultServeAddr)
	configViper.SetDefault("serve.signing_secret", "")
}

// ReadFile merges the persisted settings file into viper when it exists. A
// missing file is not an error; the defaults and environment still apply.
func ReadFile(configViper *viper.Viper, path string) error {
	if path == "" {
		path = filepath.Join(configViper.GetString("data.dir"), configFileName)
	}
	configViper.SetConfigFile(path)
	configViper.SetConfigType("yaml")
	if err := configViper.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read settings file: %w", err)
	}
	return nil
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DataDir:  configViper.GetString("data.dir"),
		LogLevel: configViper.GetString("log.level"),
		LogFile:  configViper.GetString("log.file"),
		API: APIConfig{
			BaseURL:    configViper.GetString("api.base_url"),
			UploadPath: configViper.GetString("api.upload_path"),
			AuthToken:  configViper.GetString("api.auth_token"),
		},
		ServeAddr:  configViper.GetString("serve.address"),
		ServeToken: configViper.GetString("serve.signing_secret"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// Save writes the settings back to the config file so they survive restarts.
func Save(cfg AppConfig) error {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("data.dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	fileViper := viper.New()
	fileViper.Set("data.dir", cfg.DataDir)
	fileViper.Set("log.level", cfg.LogLevel)
	fileViper.Set("log.file", cfg.LogFile)
	fileViper.Set("api.base_url", cfg.API.BaseURL)
	fileViper.Set("api.upload_path", cfg.API.UploadPath)
	fileViper.Set("api.auth_token", cfg.API.AuthToken)
	fileViper.Set("serve.address", cfg.ServeAddr)
	fileViper.Set("serve.signing_secret", cfg.ServeToken)

	path := filepath.Join(cfg.DataDir, configFileName)
	if err := fileViper.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data.dir is required")
	}
	if strings.TrimSpace(c.API.UploadPath) == "" {
		return fmt.Errorf("api.upload_path is required")
	}
	return nil
}

func defaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "voicenotes-data"
	}
	return filepath.Join(base, "voicenotes")
}
