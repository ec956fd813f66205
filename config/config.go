package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Service struct {
	URL            string `yaml:"url" mapstructure:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}
type Services struct {
	Inference Service `yaml:"inference" mapstructure:"inference"`
}
type Pipeline struct {
	Name      string `yaml:"name" mapstructure:"name"`
	Version   string `yaml:"version" mapstructure:"version"`
	LogLvl    string `yaml:"log_level" mapstructure:"log_level"`
	LogFormat string `yaml:"log_format" mapstructure:"log_format"`
}
type Paths struct {
	Outputs string `yaml:"outputs" mapstructure:"outputs"`
	Inbox   string `yaml:"inbox" mapstructure:"inbox"`
}
type Database struct {
	URL string `yaml:"url" mapstructure:"url"`
}
type Server struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}
// Audio lists the recording formats accepted by analyze, uploads and the
// inbox watcher.
type Audio struct {
	Extensions []string `yaml:"extensions" mapstructure:"extensions"`
}
type Watch struct {
	SettleSeconds int `yaml:"settle_seconds" mapstructure:"settle_seconds"`
}
type History struct {
	Limit int `yaml:"limit" mapstructure:"limit"`
}
type Root struct {
	Pipeline Pipeline `yaml:"pipeline" mapstructure:"pipeline"`
	Audio    Audio    `yaml:"audio" mapstructure:"audio"`
	Services Services `yaml:"services" mapstructure:"services"`
	Paths    Paths    `yaml:"paths" mapstructure:"paths"`
	Database Database `yaml:"database" mapstructure:"database"`
	Server   Server   `yaml:"server" mapstructure:"server"`
	Watch    Watch    `yaml:"watch" mapstructure:"watch"`
	History  History  `yaml:"history" mapstructure:"history"`
}

const EnvPrefix = "RESSPEC"

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.name", "resspec")
	v.SetDefault("pipeline.version", "dev")
	v.SetDefault("pipeline.log_level", "info")
	v.SetDefault("pipeline.log_format", "text")
	v.SetDefault("services.inference.url", "http://localhost:5000")
	v.SetDefault("services.inference.timeout_seconds", 60)
	v.SetDefault("paths.outputs", "outputs")
	v.SetDefault("paths.inbox", "")
	v.SetDefault("database.url", "")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("audio.extensions", []string{".wav", ".mp3", ".m4a", ".ogg", ".flac", ".webm"})
	v.SetDefault("watch.settle_seconds", 2)
	v.SetDefault("history.limit", 50)
}

// New builds a viper instance with defaults, env overrides and the config
// file. An explicit path must exist; the guessed locations are optional.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return v, nil
	}

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	for _, p := range []string{
		filepath.Join("config", env, "config.yaml"),
		"config.yaml",
	} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		v.SetConfigFile(p)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", p, err)
		}
		break
	}
	return v, nil
}

// Decode unmarshals v into a validated Root.
func Decode(v *viper.Viper) (*Root, error) {
	var cfg Root
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Load(path string) (*Root, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return Decode(v)
}

func (c *Root) Validate() error {
	if c.Services.Inference.URL == "" {
		return errors.New("services.inference.url is required")
	}
	if c.Services.Inference.TimeoutSeconds < 0 {
		return fmt.Errorf("services.inference.timeout_seconds must not be negative, got %d", c.Services.Inference.TimeoutSeconds)
	}
	if len(c.Audio.Extensions) == 0 {
		return errors.New("audio.extensions must list at least one extension")
	}
	for _, ext := range c.Audio.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("audio.extensions: %q must start with a dot", ext)
		}
	}
	if c.Watch.SettleSeconds < 0 {
		return fmt.Errorf("watch.settle_seconds must not be negative, got %d", c.Watch.SettleSeconds)
	}
	if c.History.Limit <= 0 {
		return fmt.Errorf("history.limit must be positive, got %d", c.History.Limit)
	}
	return nil
}

// OnChange re-decodes the file whenever it changes on disk. Invalid edits
// are reported through fn's error and the previous config stays in effect.
func OnChange(v *viper.Viper, fn func(*Root, error)) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(fsnotify.Event) {
		fn(Decode(v))
	})
	v.WatchConfig()
}

// Write renders the configuration as YAML.
func Write(w io.Writer, c *Root) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

func DurSeconds(n int) time.Duration { return time.Duration(n) * time.Second }
