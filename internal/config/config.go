// Package config loads service settings from defaults, an optional YAML file
// and DRESSCHECK_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/example/dresscheck/internal/dresscode"
	"github.com/example/dresscheck/internal/imageprocessor"
)

// EnvPrefix prefixes every environment override, e.g. DRESSCHECK_REDIS_ADDR.
const EnvPrefix = "DRESSCHECK"

// Config is the complete service configuration.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Inference InferenceConfig `mapstructure:"inference"`
	Image     ImageConfig     `mapstructure:"image"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Report    ReportConfig    `mapstructure:"report"`
	Cache     CacheConfig     `mapstructure:"cache"`
	S3        S3Config        `mapstructure:"s3"`
	Log       LogConfig       `mapstructure:"log"`
	Timezone  string          `mapstructure:"timezone"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	DSN          string        `mapstructure:"dsn"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	ConnLifetime time.Duration `mapstructure:"conn_lifetime"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type InferenceConfig struct {
	Addr    string        `mapstructure:"addr"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ImageConfig bounds accepted photographs. MaxDimension caps both width and height.
type ImageConfig struct {
	MaxDimension int `mapstructure:"max_dimension"`
}

type JWTConfig struct {
	Secret   string        `mapstructure:"secret"`
	Audience string        `mapstructure:"audience"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// RulesConfig selects the keyword table. ShoeEnabled and RegionMode override
// the table when set.
type RulesConfig struct {
	Path        string `mapstructure:"path"`
	ShoeEnabled *bool  `mapstructure:"shoe_enabled"`
	RegionMode  string `mapstructure:"region_mode"`
}

type PipelineConfig struct {
	ParallelAccessories bool `mapstructure:"parallel_accessories"`
}

type ReportConfig struct {
	OnlyHighestPriorityFailure bool `mapstructure:"only_highest_priority_failure"`
}

type CacheConfig struct {
	ResultTTL time.Duration `mapstructure:"result_ttl"`
}

// S3Config locates the evidence bucket. An empty bucket disables uploads.
type S3Config struct {
	Endpoint      string `mapstructure:"endpoint"`
	Region        string `mapstructure:"region"`
	Bucket        string `mapstructure:"bucket"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// SetDefaults registers the fallback of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("database.dsn", "host=postgres user=postgres password=postgres dbname=dresscheck port=5432 sslmode=disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_lifetime", time.Hour)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "dresscheck:")
	v.SetDefault("inference.addr", "inference:50051")
	v.SetDefault("inference.timeout", 10*time.Second)
	v.SetDefault("image.max_dimension", imageprocessor.DefaultMaxDimension)
	v.SetDefault("jwt.secret", "dev-secret")
	v.SetDefault("jwt.audience", "")
	v.SetDefault("jwt.token_ttl", 12*time.Hour)
	v.SetDefault("rules.path", "")
	v.SetDefault("pipeline.parallel_accessories", false)
	v.SetDefault("report.only_highest_priority_failure", false)
	v.SetDefault("cache.result_ttl", 30*time.Minute)
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.public_base_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("timezone", "Asia/Bangkok")
}

// Load reads the configuration into v. An empty file searches ./dresscheck.yaml
// and tolerates its absence; an explicit file must exist.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// keys without defaults are invisible to Unmarshal unless bound
	for _, key := range []string{"rules.shoe_enabled", "rules.region_mode"} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("dresscheck")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if strings.TrimSpace(c.Inference.Addr) == "" {
		errs = append(errs, errors.New("inference.addr is required"))
	}
	if c.Inference.Timeout < 0 {
		errs = append(errs, errors.New("inference.timeout must not be negative"))
	}
	if c.Image.MaxDimension <= 0 {
		errs = append(errs, errors.New("image.max_dimension must be positive"))
	}
	if c.Cache.ResultTTL <= 0 {
		errs = append(errs, errors.New("cache.result_ttl must be positive"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	return errors.Join(errs...)
}

// Location resolves the timezone defining a history day.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Table loads the keyword table and applies the configured overrides.
func (r RulesConfig) Table() (*dresscode.Table, error) {
	table, err := dresscode.LoadTable(r.Path)
	if err != nil {
		return nil, err
	}
	if r.ShoeEnabled == nil && r.RegionMode == "" {
		return table, nil
	}
	if r.ShoeEnabled != nil {
		table.ShoeEnabled = *r.ShoeEnabled
	}
	if r.RegionMode != "" {
		table.RegionMode = dresscode.RegionMode(r.RegionMode)
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}
