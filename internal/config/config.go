package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/vatledger/engine/internal/vat"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Scheduler SchedulerConfig
	Seller    SellerConfig
	Rules     RulesConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
	LogLevel        string // silent, error, warn, info
	SlowThreshold   time.Duration
}

// RedisConfig holds the rate cache connection. An empty Addr keeps the cache in process.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	RateTTL   time.Duration
	KeyPrefix string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// HTTPConfig holds the operational server settings (health and metrics)
type HTTPConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// SchedulerConfig holds background job settings
type SchedulerConfig struct {
	Enabled        bool
	SweepInterval  time.Duration
	SweepBatchSize int
	MonthlyReturn  bool
	Timezone       string
	JobTimeout     time.Duration
}

// SellerConfig identifies the selling entity printed on every tax record
type SellerConfig struct {
	VatNumber string
}

// RulesConfig is the versioned VAT rule set. Rates are percents.
type RulesConfig struct {
	Version           string
	HomeCountry       string
	EUCountries       []string
	StandardRate      string
	ReducedRate       string
	SecondReducedRate string
	ZeroRate          string
	StandardRates     map[string]string
	SplitEUConsumers  bool
}

// Load reads configuration from config.toml and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with VAT_ prefix (e.g., VAT_DATABASE_PASSWORD)
// 2. configs/.env, loaded into the environment without overriding it
// 3. config.toml
// 4. Built-in defaults
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/app")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("VAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// plain DB_* names from older .env files
	for key, legacy := range map[string]string{
		"database.host":     "DB_HOST",
		"database.port":     "DB_PORT",
		"database.user":     "DB_USER",
		"database.password": "DB_PASSWORD",
		"database.dbname":   "DB_NAME",
		"database.sslmode":  "DB_SSLMODE",
	} {
		envKey := "VAT_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, envKey, legacy)
	}

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
			LogLevel:        v.GetString("database.log_level"),
			SlowThreshold:   v.GetDuration("database.slow_threshold"),
		},
		Redis: RedisConfig{
			Addr:      v.GetString("redis.addr"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			RateTTL:   v.GetDuration("redis.rate_ttl"),
			KeyPrefix: v.GetString("redis.key_prefix"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			Addr:         v.GetString("http.addr"),
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
		},
		Scheduler: SchedulerConfig{
			Enabled:        v.GetBool("scheduler.enabled"),
			SweepInterval:  v.GetDuration("scheduler.sweep_interval"),
			SweepBatchSize: v.GetInt("scheduler.sweep_batch_size"),
			MonthlyReturn:  v.GetBool("scheduler.monthly_return"),
			Timezone:       v.GetString("scheduler.timezone"),
			JobTimeout:     v.GetDuration("scheduler.job_timeout"),
		},
		Seller: SellerConfig{
			VatNumber: v.GetString("seller.vat_number"),
		},
		Rules: RulesConfig{
			Version:           v.GetString("rules.version"),
			HomeCountry:       v.GetString("rules.home_country"),
			EUCountries:       splitList(v.GetStringSlice("rules.eu_countries")),
			StandardRate:      v.GetString("rules.standard_rate"),
			ReducedRate:       v.GetString("rules.reduced_rate"),
			SecondReducedRate: v.GetString("rules.second_reduced_rate"),
			ZeroRate:          v.GetString("rules.zero_rate"),
			StandardRates:     v.GetStringMapString("rules.standard_rates"),
			SplitEUConsumers:  v.GetBool("rules.split_eu_consumers"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "vat-engine")
	v.SetDefault("app.env", "development")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.slow_threshold", 200*time.Millisecond)

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.rate_ttl", 10*time.Minute)
	v.SetDefault("redis.key_prefix", "vat:rates:")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.sweep_interval", 5*time.Minute)
	v.SetDefault("scheduler.sweep_batch_size", 200)
	v.SetDefault("scheduler.monthly_return", true)
	v.SetDefault("scheduler.timezone", "Europe/Dublin")
	v.SetDefault("scheduler.job_timeout", 10*time.Minute)

	def := vat.DefaultRules()
	v.SetDefault("rules.version", def.Version)
	v.SetDefault("rules.home_country", def.HomeCountry)
	v.SetDefault("rules.eu_countries", def.EUCountries)
	v.SetDefault("rules.standard_rate", def.Buckets.Standard.String())
	v.SetDefault("rules.reduced_rate", def.Buckets.Reduced.String())
	v.SetDefault("rules.second_reduced_rate", def.Buckets.SecondReduced.String())
	v.SetDefault("rules.zero_rate", def.Buckets.Zero.String())
	v.SetDefault("rules.standard_rates", map[string]string{"IE": def.Buckets.Standard.String()})
	v.SetDefault("rules.split_eu_consumers", false)
}

// splitList accepts both TOML arrays and comma-separated env values.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Scheduler.Enabled {
		if c.Scheduler.SweepInterval <= 0 {
			return fmt.Errorf("scheduler.sweep_interval must be positive")
		}
		if c.Scheduler.SweepBatchSize <= 0 {
			return fmt.Errorf("scheduler.sweep_batch_size must be positive")
		}
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if c.App.Env == "production" {
		if c.Seller.VatNumber == "" {
			return fmt.Errorf("seller.vat_number is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}
	if _, err := c.Rules.Build(); err != nil {
		return err
	}
	return nil
}

// Build converts the configured rule set and validates it.
func (r RulesConfig) Build() (vat.Rules, error) {
	parse := func(key, s string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return decimal.Zero, fmt.Errorf("rules.%s: invalid rate %q: %w", key, s, err)
		}
		return d, nil
	}

	var (
		rules vat.Rules
		err   error
	)
	rules.Version = r.Version
	rules.HomeCountry = r.HomeCountry
	rules.EUCountries = r.EUCountries
	rules.SplitEUConsumers = r.SplitEUConsumers

	if rules.Buckets.Standard, err = parse("standard_rate", r.StandardRate); err != nil {
		return vat.Rules{}, err
	}
	if rules.Buckets.Reduced, err = parse("reduced_rate", r.ReducedRate); err != nil {
		return vat.Rules{}, err
	}
	if rules.Buckets.SecondReduced, err = parse("second_reduced_rate", r.SecondReducedRate); err != nil {
		return vat.Rules{}, err
	}
	if rules.Buckets.Zero, err = parse("zero_rate", r.ZeroRate); err != nil {
		return vat.Rules{}, err
	}

	rules.StandardRates = make(map[string]decimal.Decimal, len(r.StandardRates))
	for country, s := range r.StandardRates {
		if rules.StandardRates[country], err = parse("standard_rates."+country, s); err != nil {
			return vat.Rules{}, err
		}
	}

	rules = rules.Normalize()
	if err := rules.Validate(); err != nil {
		return vat.Rules{}, err
	}
	return rules, nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
