package server

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aspect-build/attestbroker/internal/crypto"
	"gopkg.in/yaml.v3"
)

// Backend names accepted by ATTESTBROKER_BACKEND.
const (
	BackendDstack = "dstack"
	BackendRemote = "remote"
)

// RemoteConfig holds settings for the remote integrity backend.
type RemoteConfig struct {
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
	GoogleADC    bool   `yaml:"google_adc"`
}

// Config holds server configuration loaded from an optional YAML file and
// environment variables. Environment variables win.
type Config struct {
	AdminToken  string
	DBPath      string
	ListenAddr  string
	CORSOrigins []string

	// MasterKey seals issued tokens in the request ledger. Nil disables
	// token retention; outcomes are still recorded.
	MasterKey *[32]byte

	// CloudProjectNumber is the statically configured project number
	// string, used when a request carries none.
	CloudProjectNumber string

	Backend        string
	DstackEndpoint string
	Remote         RemoteConfig
	RequestTimeout time.Duration

	// LedgerRetention is how long ledger entries are kept. Zero keeps
	// them forever.
	LedgerRetention time.Duration
}

type fileConfig struct {
	AdminToken         string   `yaml:"admin_token"`
	DBPath             string   `yaml:"db_path"`
	ListenAddr         string   `yaml:"listen_addr"`
	CORSOrigins        []string `yaml:"cors_origins"`
	MasterKey          string   `yaml:"master_key"`
	CloudProjectNumber string   `yaml:"cloud_project_number"`
	Backend            string   `yaml:"backend"`
	RequestTimeout     string   `yaml:"request_timeout"`
	LedgerRetention    string   `yaml:"ledger_retention"`
	Dstack             struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"dstack"`
	Remote RemoteConfig `yaml:"remote"`
}

func loadFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

// envOr returns the environment value for key, or fallback when unset.
func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func parseBool(name, v string) (bool, error) {
	switch strings.TrimSpace(strings.ToLower(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "", "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s must be one of true/false/1/0/yes/no/on/off", name)
	}
}

// LoadConfig loads server configuration. ATTESTBROKER_CONFIG names an
// optional YAML file; every setting can be overridden by its environment
// variable.
func LoadConfig() (*Config, error) {
	fc := &fileConfig{}
	if path := strings.TrimSpace(os.Getenv("ATTESTBROKER_CONFIG")); path != "" {
		loaded, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		fc = loaded
	}

	adminToken := envOr("ATTESTBROKER_ADMIN_TOKEN", fc.AdminToken)
	if adminToken == "" {
		return nil, fmt.Errorf("ATTESTBROKER_ADMIN_TOKEN is required")
	}
	if len(adminToken) < 16 {
		return nil, fmt.Errorf("ATTESTBROKER_ADMIN_TOKEN must be at least 16 characters")
	}

	cfg := &Config{
		AdminToken:         adminToken,
		DBPath:             envOr("ATTESTBROKER_DB_PATH", fc.DBPath),
		ListenAddr:         envOr("ATTESTBROKER_LISTEN_ADDR", fc.ListenAddr),
		CloudProjectNumber: envOr("ATTESTBROKER_CLOUD_PROJECT_NUMBER", fc.CloudProjectNumber),
		Backend:            strings.ToLower(strings.TrimSpace(envOr("ATTESTBROKER_BACKEND", fc.Backend))),
		DstackEndpoint:     envOr("ATTESTBROKER_DSTACK_ENDPOINT", fc.Dstack.Endpoint),
		Remote: RemoteConfig{
			URL:          envOr("ATTESTBROKER_REMOTE_URL", fc.Remote.URL),
			Token:        envOr("ATTESTBROKER_REMOTE_TOKEN", fc.Remote.Token),
			ClientID:     envOr("ATTESTBROKER_REMOTE_CLIENT_ID", fc.Remote.ClientID),
			ClientSecret: envOr("ATTESTBROKER_REMOTE_CLIENT_SECRET", fc.Remote.ClientSecret),
			TokenURL:     envOr("ATTESTBROKER_REMOTE_TOKEN_URL", fc.Remote.TokenURL),
			GoogleADC:    fc.Remote.GoogleADC,
		},
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "attestbroker.db"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendDstack
	}

	if v, ok := os.LookupEnv("ATTESTBROKER_REMOTE_GOOGLE_ADC"); ok {
		adc, err := parseBool("ATTESTBROKER_REMOTE_GOOGLE_ADC", v)
		if err != nil {
			return nil, err
		}
		cfg.Remote.GoogleADC = adc
	}

	switch cfg.Backend {
	case BackendDstack:
	case BackendRemote:
		if strings.TrimSpace(cfg.Remote.URL) == "" {
			return nil, fmt.Errorf("ATTESTBROKER_REMOTE_URL is required for the remote backend")
		}
	default:
		return nil, fmt.Errorf("ATTESTBROKER_BACKEND must be %q or %q, got %q", BackendDstack, BackendRemote, cfg.Backend)
	}

	if v := envOr("ATTESTBROKER_MASTER_KEY", fc.MasterKey); v != "" {
		key, err := crypto.ParseMasterKey(v)
		if err != nil {
			return nil, fmt.Errorf("ATTESTBROKER_MASTER_KEY: %w", err)
		}
		cfg.MasterKey = &key
	}

	timeout := envOr("ATTESTBROKER_REQUEST_TIMEOUT", fc.RequestTimeout)
	if timeout == "" {
		cfg.RequestTimeout = 30 * time.Second
	} else {
		d, err := time.ParseDuration(timeout)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("ATTESTBROKER_REQUEST_TIMEOUT must be a positive duration, got %q", timeout)
		}
		cfg.RequestTimeout = d
	}

	if v := envOr("ATTESTBROKER_LEDGER_RETENTION", fc.LedgerRetention); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("ATTESTBROKER_LEDGER_RETENTION must be a non-negative duration, got %q", v)
		}
		cfg.LedgerRetention = d
	}

	origins := fc.CORSOrigins
	if v := os.Getenv("ATTESTBROKER_CORS_ORIGINS"); v != "" {
		origins = strings.Split(v, ",")
	}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	return cfg, nil
}
