package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "IPSCOPE"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
}

type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	HTTP            string        `mapstructure:"http"`
	Ops             string        `mapstructure:"ops"`
	Domain          string        `mapstructure:"domain"`
	Certs           string        `mapstructure:"certs"`
	Insecure        bool          `mapstructure:"insecure"`
	Plaintext       bool          `mapstructure:"plaintext"`
	HTTP3           bool          `mapstructure:"http3"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level   string   `mapstructure:"level"`
	Outputs []string `mapstructure:"outputs"`
}

type CORSConfig struct {
	MaxAge              time.Duration `mapstructure:"max_age"`
	TrustForwardedProto bool          `mapstructure:"trust_forwarded_proto"`
}

type UpstreamConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	IPAPI     IPAPIConfig   `mapstructure:"ipapi"`
	CFTrace   CFTraceConfig `mapstructure:"cftrace"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

// IPAPIConfig describes the geolocation upstream. Param is the query
// parameter the caller value is copied into.
type IPAPIConfig struct {
	URL   string `mapstructure:"url"`
	Param string `mapstructure:"param"`
}

type CFTraceConfig struct {
	URL string `mapstructure:"url"`
}

type BreakerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxFailures uint32        `mapstructure:"max_failures"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"config":    "config",
	"listen":    "server.listen",
	"http":      "server.http",
	"ops":       "server.ops",
	"domain":    "server.domain",
	"certs":     "server.certs",
	"insecure":  "server.insecure",
	"plaintext": "server.plaintext",
	"http3":     "server.http3",
	"log-level": "log.level",
}

// Flags returns the command line flags understood by Load.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("ipscope", pflag.ContinueOnError)
	fs.String("config", "", "Path to a YAML config file")
	fs.String("listen", "0.0.0.0:443", "Address to listen on for HTTPS/HTTP3")
	fs.String("http", "0.0.0.0:80", "Address to listen on for HTTP-01 challenges")
	fs.String("ops", "127.0.0.1:9090", "Address for health and metrics endpoints")
	fs.String("domain", "localhost", "Domain name for TLS certificate")
	fs.String("certs", "certs", "Directory to cache certificates")
	fs.Bool("insecure", false, "Use a self-signed certificate for local testing")
	fs.Bool("plaintext", false, "Serve plain HTTP on --listen (behind a TLS-terminating edge)")
	fs.Bool("http3", true, "Also serve HTTP/3 on --listen")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config", "")
	v.SetDefault("server.listen", "0.0.0.0:443")
	v.SetDefault("server.http", "0.0.0.0:80")
	v.SetDefault("server.ops", "127.0.0.1:9090")
	v.SetDefault("server.domain", "localhost")
	v.SetDefault("server.certs", "certs")
	v.SetDefault("server.insecure", false)
	v.SetDefault("server.plaintext", false)
	v.SetDefault("server.http3", true)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.outputs", []string{"stdout"})
	v.SetDefault("cors.max_age", "24h")
	v.SetDefault("cors.trust_forwarded_proto", false)
	v.SetDefault("upstream.timeout", "30s")
	v.SetDefault("upstream.user_agent", "ipscope/1.0")
	v.SetDefault("upstream.ipapi.url", "https://api.ipapi.is/")
	v.SetDefault("upstream.ipapi.param", "q")
	v.SetDefault("upstream.cftrace.url", "https://cloudflare.com/cdn-cgi/trace")
	v.SetDefault("upstream.breaker.enabled", false)
	v.SetDefault("upstream.breaker.max_failures", 5)
	v.SetDefault("upstream.breaker.timeout", "30s")
}

// LoadEnvFile loads variables from a dotenv file. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load builds the configuration from defaults, an optional YAML file,
// IPSCOPE_* environment variables and the parsed flags, in increasing order
// of precedence.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readConfigFile(v *viper.Viper) error {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ipscope")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if err := validateUpstreamURL("upstream.ipapi.url", c.Upstream.IPAPI.URL); err != nil {
		return err
	}
	if err := validateUpstreamURL("upstream.cftrace.url", c.Upstream.CFTrace.URL); err != nil {
		return err
	}
	if strings.TrimSpace(c.Upstream.IPAPI.Param) == "" {
		return errors.New("upstream.ipapi.param must not be empty")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive, got %s", c.Upstream.Timeout)
	}
	if c.Upstream.Breaker.Enabled {
		if c.Upstream.Breaker.MaxFailures == 0 {
			return errors.New("upstream.breaker.max_failures must be at least 1")
		}
		if c.Upstream.Breaker.Timeout <= 0 {
			return fmt.Errorf("upstream.breaker.timeout must be positive, got %s", c.Upstream.Breaker.Timeout)
		}
	}
	if c.CORS.MaxAge < 0 {
		return fmt.Errorf("cors.max_age must not be negative, got %s", c.CORS.MaxAge)
	}
	return nil
}

func validateUpstreamURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", key, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host, got %q", key, raw)
	}
	return nil
}
