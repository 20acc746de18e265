package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type InvalidationCfg struct {
	Enabled bool
	Driver  string `validate:"oneof=none kafka"`
	Topic   string
	Brokers string
	GroupID string
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string `validate:"omitempty,startswith=/"`
}

type Config struct {
	Addr       string `validate:"required"`
	LogLevel   string `validate:"oneof=debug info warn error"`
	LogConsole bool
	LogSampleN int `validate:"gte=0"`

	UpstreamBaseURL    string        `validate:"required,url"`
	UpstreamPerPage    int           `validate:"min=1,max=200"`
	UpstreamTimeout    time.Duration `validate:"gt=0"`
	UpstreamRetries    int           `validate:"gte=0,lte=5"`
	UpstreamRetryDelay time.Duration `validate:"gte=0"`
	UpstreamUserAgent  string

	CacheTTL       time.Duration `validate:"gt=0"`
	RedisAddr      string
	CacheOpTimeout time.Duration `validate:"gte=0"`

	H3Res int `validate:"min=0,max=15"`

	Metrics      MetricsCfg
	Invalidation InvalidationCfg
}

func FromEnv() Config {
	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),

		UpstreamBaseURL:    strings.TrimRight(getenv("UPSTREAM_BASE_URL", "https://api.openbrewerydb.org/v1"), "/"),
		UpstreamPerPage:    getint("UPSTREAM_PER_PAGE", 100),
		UpstreamTimeout:    time.Duration(getint("UPSTREAM_TIMEOUT_SECONDS", 10)) * time.Second,
		UpstreamRetries:    getint("UPSTREAM_RETRIES", 1),
		UpstreamRetryDelay: getduration("UPSTREAM_RETRY_DELAY", 200*time.Millisecond),
		UpstreamUserAgent:  getenv("UPSTREAM_USER_AGENT", "BrewApi/1.0"),

		CacheTTL:       time.Duration(getint("CACHE_TTL_MINUTES", 10)) * time.Minute,
		RedisAddr:      strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),

		H3Res: getint("H3_RES", 8),

		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", false),
			Addr:    getenv("METRICS_ADDR", ":9090"),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Driver:  getenv("INVALIDATION_DRIVER", "none"),
			Topic:   getenv("KAFKA_TOPIC", "brewery-invalidation"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "brewery-cache-invalidator"),
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports every invalid setting in one error.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

// splits "a:9092, b:9092" into trimmed non-empty parts
func SplitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
