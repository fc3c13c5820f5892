// Package config loads the search service configuration from a YAML file,
// PROMPTEMPLE_ environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/DjangoSpop/promptemple-sub000/pkg/cache"
	"github.com/DjangoSpop/promptemple-sub000/pkg/catalog"
	"github.com/DjangoSpop/promptemple-sub000/pkg/observability"
	"github.com/DjangoSpop/promptemple-sub000/pkg/perf"
	"github.com/DjangoSpop/promptemple-sub000/pkg/search"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Catalog drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// APIConfig defines the HTTP server configuration
type APIConfig struct {
	ListenAddress   string        `mapstructure:"listen_address" validate:"required"`
	Mode            string        `mapstructure:"mode" validate:"oneof=debug release test"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// CacheConfig combines both cache tiers
type CacheConfig struct {
	cache.Config `mapstructure:",squash"`
	// L2Enabled turns on the shared Redis tier
	L2Enabled  bool                   `mapstructure:"l2_enabled"`
	Redis      cache.RedisConfig      `mapstructure:"redis"`
	Resilience cache.ResilienceConfig `mapstructure:"resilience"`
}

// CatalogConfig selects the catalog backend
type CatalogConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory postgres"`
	// SeedFile is a JSON array of candidates loaded by the memory driver
	SeedFile string                 `mapstructure:"seed_file"`
	Postgres catalog.PostgresConfig `mapstructure:"postgres"`
}

// Config holds the complete application configuration
type Config struct {
	Environment   string               `mapstructure:"environment"`
	API           APIConfig            `mapstructure:"api"`
	Cache         CacheConfig          `mapstructure:"cache"`
	Catalog       CatalogConfig        `mapstructure:"catalog"`
	Search        search.Config        `mapstructure:"search"`
	Warmer        search.WarmerConfig  `mapstructure:"warmer"`
	Performance   perf.Config          `mapstructure:"performance"`
	Observability observability.Config `mapstructure:"observability"`
}

// Load loads configuration from the file named by PROMPTEMPLE_CONFIG_FILE
// (default configs/config.yaml) and environment variables
func Load() (*Config, error) {
	configFile := os.Getenv("PROMPTEMPLE_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	return LoadFromFile(configFile)
}

// LoadFromFile loads configuration from path. A missing file is not an
// error; defaults and environment variables still apply.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("PROMPTEMPLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional variables used by container setups
	_ = v.BindEnv("cache.redis.address", "PROMPTEMPLE_CACHE_REDIS_ADDRESS", "REDIS_ADDR")
	_ = v.BindEnv("catalog.postgres.dsn", "PROMPTEMPLE_CATALOG_POSTGRES_DSN", "DATABASE_URL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	processEnvExpansion(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks field constraints and cross-field requirements
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Catalog.Driver == DriverPostgres && c.Catalog.Postgres.DSN == "" {
		return errors.New("invalid configuration: catalog.postgres.dsn is required for the postgres driver")
	}
	if c.Cache.L2Enabled && c.Cache.Redis.Address == "" {
		return errors.New("invalid configuration: cache.redis.address is required when L2 is enabled")
	}
	return nil
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == "prod" || c.Environment == "production"
}

// processEnvExpansion expands ${VAR} and ${VAR:-default} in string values
func processEnvExpansion(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		value, ok := v.Get(key).(string)
		if !ok || !strings.Contains(value, "${") {
			continue
		}
		if expanded := expandEnvVars(value); expanded != value {
			v.Set(key, expanded)
		}
	}
}

func expandEnvVars(value string) string {
	result := value
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			return result
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			return result
		}
		end += start

		envVar, defaultVal, _ := strings.Cut(result[start+2:end], ":-")
		envVal := os.Getenv(envVar)
		if envVal == "" {
			envVal = defaultVal
		}
		result = result[:start] + envVal + result[end+1:]
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")

	v.SetDefault("api.listen_address", ":8080")
	v.SetDefault("api.mode", "release")
	v.SetDefault("api.read_timeout", 10*time.Second)
	v.SetDefault("api.write_timeout", 10*time.Second)
	v.SetDefault("api.idle_timeout", 60*time.Second)
	v.SetDefault("api.request_timeout", 2*time.Second)
	v.SetDefault("api.shutdown_timeout", 15*time.Second)

	cacheDefaults := cache.DefaultConfig()
	v.SetDefault("cache.l1_max_items", cacheDefaults.L1MaxItems)
	v.SetDefault("cache.default_ttl", cacheDefaults.DefaultTTL)
	v.SetDefault("cache.backfill_ttl", cacheDefaults.BackfillTTL)
	v.SetDefault("cache.compression_min_size", cacheDefaults.CompressionMinSize)
	v.SetDefault("cache.l2_enabled", false)
	v.SetDefault("cache.redis.address", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.database", 0)
	v.SetDefault("cache.redis.key_prefix", "promptemple:")
	v.SetDefault("cache.redis.pool_size", 10)
	v.SetDefault("cache.redis.dial_timeout", 500*time.Millisecond)
	v.SetDefault("cache.redis.read_timeout", 100*time.Millisecond)
	v.SetDefault("cache.redis.write_timeout", 100*time.Millisecond)

	res := cache.DefaultResilienceConfig()
	v.SetDefault("cache.resilience.op_timeout", res.OpTimeout)
	v.SetDefault("cache.resilience.max_retries", res.MaxRetries)
	v.SetDefault("cache.resilience.initial_interval", res.InitialInterval)
	v.SetDefault("cache.resilience.max_interval", res.MaxInterval)
	v.SetDefault("cache.resilience.breaker_timeout", res.BreakerTimeout)
	v.SetDefault("cache.resilience.breaker_min_requests", res.BreakerMinRequests)
	v.SetDefault("cache.resilience.breaker_failure_ratio", res.BreakerFailureRatio)
	v.SetDefault("cache.resilience.breaker_half_open_max", res.BreakerHalfOpenMax)

	v.SetDefault("catalog.driver", DriverMemory)
	v.SetDefault("catalog.seed_file", "configs/catalog.json")
	v.SetDefault("catalog.postgres.dsn", "")
	v.SetDefault("catalog.postgres.table", "templates")
	v.SetDefault("catalog.postgres.max_open_conns", 25)
	v.SetDefault("catalog.postgres.max_idle_conns", 5)
	v.SetDefault("catalog.postgres.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("catalog.postgres.query_timeout", 5*time.Second)

	sd := search.DefaultConfig()
	v.SetDefault("search.default_max_results", sd.DefaultMaxResults)
	v.SetDefault("search.max_results_limit", sd.MaxResultsLimit)
	v.SetDefault("search.search_ttl", sd.SearchTTL)
	v.SetDefault("search.similar_ttl", sd.SimilarTTL)
	v.SetDefault("search.session_ttl", sd.SessionTTL)
	v.SetDefault("search.session_history", sd.SessionHistory)
	v.SetDefault("search.featured_min_rating", sd.FeaturedMinRating)
	v.SetDefault("search.high_quality_bonus", sd.HighQualityBonus)

	wd := search.DefaultWarmerConfig()
	v.SetDefault("warmer.enabled", wd.Enabled)
	v.SetDefault("warmer.workers", wd.Workers)
	v.SetDefault("warmer.rate_per_second", wd.RatePerSecond)
	v.SetDefault("warmer.queries", []string{})
	v.SetDefault("warmer.categories", []string{})
	v.SetDefault("warmer.popular_queries", wd.PopularQueries)
	v.SetDefault("warmer.popular_ttl", wd.PopularTTL)

	pd := perf.DefaultConfig()
	v.SetDefault("performance.capacity", pd.Capacity)
	v.SetDefault("performance.target_ms", pd.TargetMS)

	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.namespace", "promptemple")
	v.SetDefault("observability.metrics.subsystem", "search")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.service_name", "search-api")
	v.SetDefault("observability.tracing.environment", "dev")
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sample_ratio", 1.0)
}
