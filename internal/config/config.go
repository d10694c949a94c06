// Package config provides functionality for managing configuration options
// for the application using command-line flags, a config file and environment variables.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultAdminEmail is used when no admin email override is supplied.
const DefaultAdminEmail = "admin@grillz.com"

// Options holds the configuration values for the application.
type Options struct {
	// Addr defines the server's listening address (ip:port).
	Addr string `json:"addr" yaml:"addr"`

	// DatabaseDSN holds the database connection string for the application.
	DatabaseDSN string `json:"database_dsn" yaml:"database_dsn"`

	// Config is the path to the Config file.
	Config string `json:"-" yaml:"-"`

	// AdminEmail is the single address classified as admin.
	AdminEmail string `json:"admin_email" yaml:"admin_email"`

	// MeshAPIKey authenticates against the text-to-3D job queue. Empty disables mesh generation.
	MeshAPIKey       string        `json:"mesh_api_key" yaml:"mesh_api_key"`
	MeshBaseURL      string        `json:"mesh_base_url" yaml:"mesh_base_url"`
	MeshPollInterval time.Duration `json:"mesh_poll_interval" yaml:"mesh_poll_interval"`
	MeshMaxAttempts  int           `json:"mesh_max_attempts" yaml:"mesh_max_attempts"`
	MeshDeadline     time.Duration `json:"mesh_deadline" yaml:"mesh_deadline"`

	// StorageDir is the root directory of the object storage buckets.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`
	// PublicBaseURL prefixes public object URLs and magic links.
	PublicBaseURL string `json:"public_base_url" yaml:"public_base_url"`

	// SessionKey and CSRFKey are base64-encoded secrets (at least 32 bytes decoded).
	SessionKey   string `json:"session_key" yaml:"session_key"`
	CSRFKey      string `json:"csrf_key" yaml:"csrf_key"`
	CookieSecure bool   `json:"cookie_secure" yaml:"cookie_secure"`

	// AMQPURL enables lifecycle event publishing when set.
	AMQPURL      string `json:"amqp_url" yaml:"amqp_url"`
	AMQPExchange string `json:"amqp_exchange" yaml:"amqp_exchange"`

	TLSCert string `json:"tls_cert" yaml:"tls_cert"`
	TLSKey  string `json:"tls_key" yaml:"tls_key"`

	LogLevel     string        `json:"log_level" yaml:"log_level"`
	MagicLinkTTL time.Duration `json:"magic_link_ttl" yaml:"magic_link_ttl"`
	LogRetention time.Duration `json:"log_retention" yaml:"log_retention"`
}

// options holds the current configuration values.
var options = &Options{}

// init initializes command-line flags and sets default values.
func init() {
	flag.StringVar(&options.Addr, "a", "localhost:8080", "run on ip:port server")
	flag.StringVar(&options.DatabaseDSN, "d", "", "db address")
	flag.StringVar(&options.Config, "config", "config.json", "path to config file")
	flag.StringVar(&options.Config, "c", "config.json", "path to config file (shorthand)")
	flag.StringVar(&options.AdminEmail, "admin-email", DefaultAdminEmail, "email classified as admin")
	flag.StringVar(&options.MeshBaseURL, "mesh-url", "https://api.tripo3d.ai/v2/openapi", "text-to-3D API base URL")
	flag.DurationVar(&options.MeshPollInterval, "mesh-poll", 2500*time.Millisecond, "mesh job poll interval")
	flag.IntVar(&options.MeshMaxAttempts, "mesh-attempts", 120, "maximum mesh job polls")
	flag.DurationVar(&options.MeshDeadline, "mesh-deadline", 5*time.Minute, "mesh job deadline")
	flag.StringVar(&options.StorageDir, "storage", "data/storage", "object storage root directory")
	flag.StringVar(&options.PublicBaseURL, "public-url", "http://localhost:8080", "public base URL")
	flag.StringVar(&options.AMQPExchange, "amqp-exchange", "studio.events", "event exchange name")
	flag.StringVar(&options.TLSCert, "tls-cert", "", "server TLS certificate (enables HTTPS)")
	flag.StringVar(&options.TLSKey, "tls-key", "", "server TLS key")
	flag.BoolVar(&options.CookieSecure, "cookie-secure", false, "mark session and CSRF cookies Secure")
	flag.StringVar(&options.LogLevel, "log-level", "info", "log level")
	flag.DurationVar(&options.MagicLinkTTL, "magic-ttl", time.Hour, "magic link lifetime")
	flag.DurationVar(&options.LogRetention, "log-retention", 90*24*time.Hour, "activity log retention")
}

// Parse parses the command-line flags, the config file and environment
// variables to set configuration values. It returns a pointer to the Options
// struct containing the parsed configuration values.
func Parse() *Options {
	flag.Parse()

	// Override flags with environment variables if set
	if configPath := os.Getenv("CONFIG"); configPath != "" {
		options.Config = configPath
	}

	if options.Config != "" {
		if _, err := os.Stat(options.Config); err == nil {
			if err := LoadFile(options, options.Config); err != nil {
				log.Fatalf("error while reading config file: %v", err)
			}
		}
	}

	ApplyEnv(options, os.LookupEnv)

	return options
}

// LoadFile decodes the file at path into opts. Files ending in .yaml or .yml are
// decoded as YAML, everything else as JSON.
func LoadFile(opts *Options, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, opts)
	default:
		err = json.Unmarshal(data, opts)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides opts with the recognised environment variables.
func ApplyEnv(opts *Options, lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("SERVER_ADDRESS", &opts.Addr)
	str("DATABASE_DSN", &opts.DatabaseDSN)
	str("ADMIN_EMAIL", &opts.AdminEmail)
	str("TRIPO_API_KEY", &opts.MeshAPIKey)
	str("TRIPO_BASE_URL", &opts.MeshBaseURL)
	str("STORAGE_DIR", &opts.StorageDir)
	str("PUBLIC_BASE_URL", &opts.PublicBaseURL)
	str("SESSION_KEY", &opts.SessionKey)
	str("CSRF_KEY", &opts.CSRFKey)
	str("RABBITMQ_URL", &opts.AMQPURL)
	str("LOG_LEVEL", &opts.LogLevel)
	str("TLS_CERT", &opts.TLSCert)
	str("TLS_KEY", &opts.TLSKey)
	if v, ok := lookup("COOKIE_SECURE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			opts.CookieSecure = b
		}
	}
}

// Validate checks the settings the whole application depends on.
func (o *Options) Validate() error {
	var errs []error
	if o.Addr == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if o.DatabaseDSN == "" {
		errs = append(errs, errors.New("database DSN is empty"))
	}
	if o.MeshEnabled() {
		if o.MeshPollInterval <= 0 {
			errs = append(errs, fmt.Errorf("mesh poll interval %v must be positive", o.MeshPollInterval))
		}
		if o.MeshMaxAttempts <= 0 {
			errs = append(errs, fmt.Errorf("mesh max attempts %d must be positive", o.MeshMaxAttempts))
		}
		if o.MeshDeadline < 0 {
			errs = append(errs, fmt.Errorf("mesh deadline %v must not be negative", o.MeshDeadline))
		}
	}
	if !strings.Contains(o.AdminEmail, "@") {
		errs = append(errs, fmt.Errorf("admin email %q is not an address", o.AdminEmail))
	}
	return errors.Join(errs...)
}

// MeshEnabled reports whether mesh generation has an API key.
func (o *Options) MeshEnabled() bool {
	return o.MeshAPIKey != ""
}

// SessionSecret decodes SessionKey, generating a random development key when unset.
func (o *Options) SessionSecret() ([]byte, bool) {
	return decodeKey(o.SessionKey)
}

// CSRFSecret decodes CSRFKey, generating a random development key when unset.
func (o *Options) CSRFSecret() ([]byte, bool) {
	return decodeKey(o.CSRFKey)
}

// decodeKey returns the decoded key and true, or a random 32-byte key and false
// when the value is missing or shorter than 32 bytes.
func decodeKey(encoded string) ([]byte, bool) {
	if encoded != "" {
		if key, err := base64.StdEncoding.DecodeString(encoded); err == nil && len(key) >= 32 {
			return key, true
		}
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(fmt.Sprintf("read random key: %v", err))
	}
	return key, false
}
