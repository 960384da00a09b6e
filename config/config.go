package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Progress ProgressConfig `yaml:"progress"`
	Pacing   PacingConfig   `yaml:"pacing"`
	Bundles  []BundleSeed   `yaml:"bundles"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type ProgressConfig struct {
	TTLMinutes int `yaml:"ttl_minutes"`
	MaxJobs    int `yaml:"max_jobs"`
}

// PacingConfig carries the vendor-tuned retry and pacing knobs. The
// defaults come from operating against the trial API; they are policy,
// not physics, and can be overridden per deployment.
type PacingConfig struct {
	RetryBaseSeconds       int `yaml:"retry_base_seconds"`
	RetryCapSeconds        int `yaml:"retry_cap_seconds"`
	MaxAttempts            int `yaml:"max_attempts"`
	ItemDelaySeconds       int `yaml:"item_delay_seconds"`
	ItemDelayCapSeconds    int `yaml:"item_delay_cap_seconds"`
	StrikeThreshold        int `yaml:"strike_threshold"`
	CooldownSeconds        int `yaml:"cooldown_seconds"`
	RequestTimeoutSeconds  int `yaml:"request_timeout_seconds"`
	TransportRetries       int `yaml:"transport_retries"`
	TransportBackoffMillis int `yaml:"transport_backoff_millis"`
}

// BundleSeed describes a certificate bundle to upsert into the store at
// startup so deployments can ship credentials without the dashboard.
type BundleSeed struct {
	Name           string `yaml:"name"`
	PFXPath        string `yaml:"pfx_path"`
	PFXPassword    string `yaml:"pfx_password"`
	ServerCertPath string `yaml:"server_cert_path"`
	CarsURL        string `yaml:"cars_url"`
	WaybillURL     string `yaml:"waybill_url"`
	SkipVerify     bool   `yaml:"skip_verify"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "waybills.db"
	}
	if cfg.Progress.TTLMinutes == 0 {
		cfg.Progress.TTLMinutes = 30
	}
	if cfg.Progress.MaxJobs == 0 {
		cfg.Progress.MaxJobs = 100
	}
	cfg.Pacing.applyDefaults()

	return &cfg, nil
}

func (p *PacingConfig) applyDefaults() {
	if p.RetryBaseSeconds == 0 {
		p.RetryBaseSeconds = 30
	}
	if p.RetryCapSeconds == 0 {
		p.RetryCapSeconds = 120
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 5
	}
	if p.ItemDelaySeconds == 0 {
		p.ItemDelaySeconds = 2
	}
	if p.ItemDelayCapSeconds == 0 {
		p.ItemDelayCapSeconds = 60
	}
	if p.StrikeThreshold == 0 {
		p.StrikeThreshold = 5
	}
	if p.CooldownSeconds == 0 {
		p.CooldownSeconds = 300
	}
	if p.RequestTimeoutSeconds == 0 {
		p.RequestTimeoutSeconds = 60
	}
	if p.TransportRetries == 0 {
		p.TransportRetries = 3
	}
	if p.TransportBackoffMillis == 0 {
		p.TransportBackoffMillis = 1000
	}
}
