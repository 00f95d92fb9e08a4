package server

import (
	"net"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"

	"github.com/glowlabs-org/demo-master/signing"
)

// EnvPrefix is prepended to the name of every environment variable read by
// LoadConfig, e.g. DEMO_MASTER_SIGNING_KEY.
const EnvPrefix = "DEMO_MASTER_"

// Config holds everything needed to run a MasterServer.
type Config struct {
	// ListenAddress is the UDP host:port the master listens on.
	ListenAddress string `env:"LISTEN_ADDRESS" envDefault:"0.0.0.0:2342"`

	// HTTPAddress is the host:port of the HTTP API. Empty disables it.
	HTTPAddress string `env:"HTTP_ADDRESS"`

	// ServerTimeout is how long a game server stays listed after its last
	// ADD.
	ServerTimeout time.Duration `env:"SERVER_TIMEOUT" envDefault:"2h"`
	MaxServers    int           `env:"MAX_SERVERS" envDefault:"4096"`

	// MetadataRefreshTime is how long a game server's cached name, version
	// and player limit are trusted before the master queries it again.
	MetadataRefreshTime time.Duration `env:"METADATA_REFRESH_TIME" envDefault:"6h"`

	// QueryAddress is the local host:port of the socket used to query game
	// servers. Empty picks any free port.
	QueryAddress string `env:"QUERY_ADDRESS"`

	// LogFile is the path of the log file, or "-" for stderr.
	LogFile  string `env:"LOG_FILE" envDefault:"demo-master.log"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"warn"`

	// SigningKey names the authority's key in the key store. When it is
	// empty the master serves the registry only and ignores SIGN_START and
	// SIGN_END.
	SigningKey    string `env:"SIGNING_KEY"`
	SigningScheme string `env:"SIGNING_SCHEME" envDefault:"openpgp"`
	KeyStorePath  string `env:"KEYSTORE"`
	KeyPassphrase string `env:"KEY_PASSPHRASE"`

	// SignWorkers bounds the number of signing requests in flight. Requests
	// arriving while every worker is busy are dropped.
	SignWorkers int `env:"SIGN_WORKERS" envDefault:"8"`

	// SignRateLimit is the number of signing requests a single IP may make
	// per SignRateWindow. Zero disables the limit.
	SignRateLimit  int           `env:"SIGN_RATE_LIMIT" envDefault:"30"`
	SignRateWindow time.Duration `env:"SIGN_RATE_WINDOW" envDefault:"1m"`
}

// DefaultConfig returns the configuration used when no environment
// variables are set.
func DefaultConfig() Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic("default config does not parse: " + err.Error())
	}
	return cfg
}

// ConfigFromEnv reads DEMO_MASTER_* environment variables on top of the
// defaults. The result is not validated, so callers can apply further
// overrides first.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, errors.Wrap(err, "unable to parse environment")
	}
	return cfg, nil
}

// LoadConfig is ConfigFromEnv followed by Validate.
func LoadConfig() (Config, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// SigningEnabled reports whether a signing key is configured.
func (c Config) SigningEnabled() bool {
	return c.SigningKey != ""
}

// Validate checks the configuration for values the server cannot run with.
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return errors.Wrapf(err, "bad listen address %q", c.ListenAddress)
	}
	if c.HTTPAddress != "" {
		if _, _, err := net.SplitHostPort(c.HTTPAddress); err != nil {
			return errors.Wrapf(err, "bad HTTP address %q", c.HTTPAddress)
		}
	}
	if c.ServerTimeout <= 0 {
		return errors.New("server timeout must be positive")
	}
	if c.MaxServers <= 0 {
		return errors.New("max servers must be positive")
	}
	if c.MetadataRefreshTime <= 0 {
		return errors.New("metadata refresh time must be positive")
	}
	if c.QueryAddress != "" {
		if _, _, err := net.SplitHostPort(c.QueryAddress); err != nil {
			return errors.Wrapf(err, "bad query address %q", c.QueryAddress)
		}
	}
	if c.LogFile == "" {
		return errors.New("no log file configured")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.SignWorkers <= 0 {
		return errors.New("sign workers must be positive")
	}
	if c.SignRateLimit < 0 {
		return errors.New("sign rate limit cannot be negative")
	}
	if c.SignRateLimit > 0 && c.SignRateWindow <= 0 {
		return errors.New("sign rate window must be positive")
	}

	if !c.SigningEnabled() {
		return nil
	}
	switch strings.ToLower(c.SigningScheme) {
	case signing.SchemeOpenPGP, signing.SchemeSecp256k1:
	default:
		return errors.Errorf("unknown signing scheme %q", c.SigningScheme)
	}
	if c.KeyStorePath == "" {
		return errors.New("a signing key is configured but no key store")
	}
	return nil
}
