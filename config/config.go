package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Tim-Conrad/audio-player/constant"
)

type Config struct {
	Origin       string   `json:"origin"        yaml:"origin"`
	RootPath     string   `json:"root_path"     yaml:"root_path"`
	StateDir     string   `json:"state_dir"     yaml:"state_dir"`
	CacheVersion string   `json:"cache_version" yaml:"cache_version"`
	ShellPath    string   `json:"shell_path"    yaml:"shell_path"`
	OfflinePath  string   `json:"offline_path"  yaml:"offline_path"`
	ShellAssets  []string `json:"shell_assets"  yaml:"shell_assets"`
	FFplayPath   string   `json:"ffplay_path"   yaml:"ffplay_path"`
}

func (cfg *Config) applyDefaults() {
	if cfg.RootPath == "" {
		cfg.RootPath = "/music/"
	}
	if cfg.CacheVersion == "" {
		cfg.CacheVersion = constant.CacheVersion
	}
	if cfg.ShellPath == "" {
		cfg.ShellPath = "/index.html"
	}
	if cfg.OfflinePath == "" {
		cfg.OfflinePath = "/offline.html"
	}
	if len(cfg.ShellAssets) == 0 {
		cfg.ShellAssets = []string{
			"/index.html",
			"/offline.html",
			"/styles.css",
			"/app.js",
			"/favicon.svg",
			"/manifest.webmanifest",
			"/icons/icon-192.png",
			"/icons/icon-512.png",
		}
	}
	if cfg.FFplayPath == "" {
		cfg.FFplayPath = "ffplay"
	}
}

func (cfg *Config) validate() error {
	if cfg.Origin == "" {
		return errors.New("origin is empty")
	}
	u, err := url.Parse(cfg.Origin)
	if nil != err {
		return fmt.Errorf("origin is not a valid URL: %v", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return errors.New("origin must be an absolute URL with scheme and host")
	}

	if !strings.HasPrefix(cfg.RootPath, "/") || !strings.HasSuffix(cfg.RootPath, "/") {
		return fmt.Errorf("root path %q must start and end with a slash", cfg.RootPath)
	}

	return nil
}

// OriginURL returns the parsed origin. Must only be called after a
// successful FromFile/FromString.
func (cfg *Config) OriginURL() *url.URL {
	u, err := url.Parse(cfg.Origin)
	if nil != err {
		panic(fmt.Sprintf("origin %q passed validation but failed to parse: %v", cfg.Origin, err))
	}
	return u
}

func FromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if nil != err {
		return nil, fmt.Errorf("failed to read config file %q: %v", filePath, err)
	}
	return FromString(string(data))
}

func FromString(data string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(data), &cfg); nil != err {
		return nil, fmt.Errorf("failed to unmarshal config: %v", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); nil != err {
		return nil, fmt.Errorf("validation failed: %v", err)
	}

	return &cfg, nil
}
