// Package config loads pipeline configuration from environment variables
// (with optional .env files), following the same viper + godotenv shape
// the teacher uses for its own config loading.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/fourthplaces/rootsignal-sub002/internal/errors"
)

// Config holds all configuration for a pipeline run.
type Config struct {
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Voyage    VoyageConfig    `yaml:"voyage"`
	Search    SearchConfig    `yaml:"search"`
	Apify     ApifyConfig     `yaml:"apify"`
	Browser   BrowserConfig   `yaml:"browser"`
	Neo4j     Neo4jConfig     `yaml:"neo4j"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Budget    BudgetConfig    `yaml:"budget"`
	Cache     CacheConfig     `yaml:"cache"`
	Region    RegionConfig    `yaml:"region"`
}

// AnthropicConfig configures the primary LLM provider.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// VoyageConfig configures the embedding provider.
type VoyageConfig struct {
	APIKey string `yaml:"api_key"`
}

// SearchConfig configures the search API used by web-query sources and
// the investigation loop.
type SearchConfig struct {
	SerperAPIKey string `yaml:"serper_api_key"`
}

// ApifyConfig configures the optional social-platform scraping backend.
type ApifyConfig struct {
	APIKey string `yaml:"api_key"` // empty disables social backends -> Unsupported
}

// BrowserConfig selects the page-fetch backend: remote browserless when a
// URL is configured, local headless browser otherwise.
type BrowserConfig struct {
	BrowserlessURL   string `yaml:"browserless_url"`
	BrowserlessToken string `yaml:"browserless_token"`
}

// UseRemote reports whether the remote browserless backend is configured.
func (b BrowserConfig) UseRemote() bool {
	return b.BrowserlessURL != ""
}

// Neo4jConfig configures the graph backend.
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// PostgresConfig configures the relational store (Sources, Pins,
// Interactions, event log, run log).
type PostgresConfig struct {
	URL string `yaml:"url"`
}

// BudgetConfig configures the per-run cost ceiling (§4.4).
type BudgetConfig struct {
	DailyBudgetCents int64 `yaml:"daily_budget_cents"` // 0 = unlimited
}

// CacheConfig configures the Redis cache and the read-snapshot reload
// cadence.
type CacheConfig struct {
	RedisHost        string        `yaml:"redis_host"`
	RedisPort        int           `yaml:"redis_port"`
	RedisPassword    string        `yaml:"redis_password"`
	CacheReloadHours time.Duration `yaml:"cache_reload_hours"`
}

// RegionConfig defines the geographic window a run targets (§3 Region).
type RegionConfig struct {
	Lat      float64 `yaml:"lat"`
	Lng      float64 `yaml:"lng"`
	RadiusKM float64 `yaml:"radius_km"`
	Name     string  `yaml:"name"`
}

// Default returns baseline configuration before environment overrides are
// applied.
func Default() *Config {
	return &Config{
		Browser: BrowserConfig{},
		Budget: BudgetConfig{
			DailyBudgetCents: 500,
		},
		Cache: CacheConfig{
			RedisHost:        "localhost",
			RedisPort:        6379,
			CacheReloadHours: 1 * time.Hour,
		},
		Region: RegionConfig{
			RadiusKM: 40,
		},
	}
}

// Load loads configuration from .env files and the process environment.
// Env vars always win over defaults; there is no YAML file search here —
// unlike the teacher's CLI tool this pipeline runs as a server-side batch
// job configured entirely through its environment (§6).
func Load() (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.AutomaticEnv()

	cfg := Default()

	cfg.Anthropic.APIKey = v.GetString("ANTHROPIC_API_KEY")
	cfg.Voyage.APIKey = v.GetString("VOYAGE_API_KEY")
	cfg.Search.SerperAPIKey = v.GetString("SERPER_API_KEY")
	cfg.Apify.APIKey = v.GetString("APIFY_API_KEY")
	cfg.Browser.BrowserlessURL = v.GetString("BROWSERLESS_URL")
	cfg.Browser.BrowserlessToken = v.GetString("BROWSERLESS_TOKEN")

	cfg.Neo4j.URI = v.GetString("NEO4J_URI")
	cfg.Neo4j.User = envOrDefault("NEO4J_USER", "neo4j")
	cfg.Neo4j.Password = v.GetString("NEO4J_PASSWORD")
	cfg.Neo4j.Database = envOrDefault("NEO4J_DATABASE", "neo4j")

	cfg.Postgres.URL = v.GetString("POSTGRES_URL")

	if dailyCents := os.Getenv("DAILY_BUDGET_CENTS"); dailyCents != "" {
		n, err := strconv.ParseInt(dailyCents, 10, 64)
		if err != nil {
			return nil, errors.ConfigErrorf("invalid DAILY_BUDGET_CENTS %q: %v", dailyCents, err)
		}
		cfg.Budget.DailyBudgetCents = n
	}

	if reloadHours := os.Getenv("CACHE_RELOAD_HOURS"); reloadHours != "" {
		n, err := strconv.ParseFloat(reloadHours, 64)
		if err != nil {
			return nil, errors.ConfigErrorf("invalid CACHE_RELOAD_HOURS %q: %v", reloadHours, err)
		}
		cfg.Cache.CacheReloadHours = time.Duration(n * float64(time.Hour))
	}
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.Cache.RedisHost = host
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return nil, errors.ConfigErrorf("invalid REDIS_PORT %q: %v", port, err)
		}
		cfg.Cache.RedisPort = n
	}
	cfg.Cache.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if lat := os.Getenv("REGION_LAT"); lat != "" {
		n, err := strconv.ParseFloat(lat, 64)
		if err != nil {
			return nil, errors.ConfigErrorf("invalid REGION_LAT %q: %v", lat, err)
		}
		cfg.Region.Lat = n
	}
	if lng := os.Getenv("REGION_LNG"); lng != "" {
		n, err := strconv.ParseFloat(lng, 64)
		if err != nil {
			return nil, errors.ConfigErrorf("invalid REGION_LNG %q: %v", lng, err)
		}
		cfg.Region.Lng = n
	}
	if radius := os.Getenv("REGION_RADIUS_KM"); radius != "" {
		n, err := strconv.ParseFloat(radius, 64)
		if err != nil {
			return nil, errors.ConfigErrorf("invalid REGION_RADIUS_KM %q: %v", radius, err)
		}
		cfg.Region.RadiusKM = n
	}
	if name := os.Getenv("REGION_NAME"); name != "" {
		cfg.Region.Name = name
	}

	return cfg, cfg.Validate()
}

// Validate fails fast on missing required configuration (§7: a Fatal
// config error aborts the run before any phase starts).
func (c *Config) Validate() error {
	if c.Neo4j.URI == "" {
		return errors.ConfigError("NEO4J_URI is required")
	}
	if c.Postgres.URL == "" {
		return errors.ConfigError("POSTGRES_URL is required")
	}
	if c.Region.Name == "" {
		return errors.ConfigError("REGION_NAME is required")
	}
	if c.Anthropic.APIKey == "" {
		return errors.ConfigError("ANTHROPIC_API_KEY is required")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFiles loads .env files in order of precedence, mirroring the
// teacher's lookup order.
func loadEnvFiles() {
	envFiles := []string{".env.local", ".env"}
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}
}
