package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr       string
		PathPrefix string
	}
	Auth struct {
		JWTSecret               string
		Issuer                  string
		TokenTTL                time.Duration
		BcryptCost              int
		PasswordMinLength       int
		PasswordRequireDigit    bool
		PasswordRequireLetter   bool
		ResetPasswordLength     int
		RevocationSweepInterval time.Duration
	}
	Store struct {
		Driver string
		Path   string
	}
	Mail struct {
		Host     string
		Port     int
		Username string
		Password string
		From     string
		Workers  int
		Queue    int
		Timeout  time.Duration
	}
	RateLimit struct {
		Enabled   bool
		PerSecond float64
		Burst     int
	}
	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("REVIEWAPI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Defaults returns the configuration with every default applied and no
// environment or file overrides.
func Defaults() Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

// Validate reports settings the server cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth jwt secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token ttl must be positive")
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("store path is required for sqlite driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:5000")
	v.SetDefault("server.pathprefix", "/api/v1")

	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.issuer", "review-api")
	v.SetDefault("auth.tokenttl", 15*time.Minute)
	v.SetDefault("auth.bcryptcost", 10)
	v.SetDefault("auth.passwordminlength", 8)
	v.SetDefault("auth.passwordrequiredigit", true)
	v.SetDefault("auth.passwordrequireletter", true)
	v.SetDefault("auth.resetpasswordlength", 10)
	v.SetDefault("auth.revocationsweepinterval", 5*time.Minute)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", "data/review-api.db")

	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 465)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.workers", 2)
	v.SetDefault("mail.queue", 64)
	v.SetDefault("mail.timeout", 15*time.Second)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.persecond", 5.0)
	v.SetDefault("ratelimit.burst", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := parseDotEnvLine(scanner.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}

// parseDotEnvLine reads KEY=VALUE, optionally prefixed with "export ".
// Comments, blank lines and lines without a key are skipped. A value wrapped
// in a matching pair of quotes is unquoted.
func parseDotEnvLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

	key, value, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}

	value = strings.TrimSpace(value)
	if n := len(value); n >= 2 && (value[0] == '"' || value[0] == '\'') && value[n-1] == value[0] {
		value = value[1 : n-1]
	}
	return key, value, true
}
