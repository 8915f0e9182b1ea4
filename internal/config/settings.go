package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the full runtime configuration shared by the commands
type Settings struct {
	Database DatabaseSettings `yaml:"database"`
	Loader   LoaderSettings   `yaml:"loader"`
	Geocoder GeocoderSettings `yaml:"geocoder"`
	Matcher  MatcherSettings  `yaml:"matcher"`
	Web      WebSettings      `yaml:"web"`
}

// DatabaseSettings contains database connection settings
type DatabaseSettings struct {
	URL            string `yaml:"url"`
	Host           string `yaml:"host"`
	Port           string `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	Name           string `yaml:"name"`
	SSLMode        string `yaml:"sslmode"`
	MaxConnections int    `yaml:"max_connections"`
}

// LoaderSettings controls the Receita Federal bulk load
type LoaderSettings struct {
	DataDir      string `yaml:"data_dir"`
	BaseURL      string `yaml:"base_url"`
	BatchSize    int    `yaml:"batch_size"`
	ShardWorkers int    `yaml:"shard_workers"`
	KeepFiles    bool   `yaml:"keep_files"`
	Prune        bool   `yaml:"prune"`
	MaxAttempts  int    `yaml:"max_attempts"`
}

// GeocoderSettings controls the reverse geocoding client
type GeocoderSettings struct {
	URL         string        `yaml:"url"`
	UserAgent   string        `yaml:"user_agent"`
	Delay       time.Duration `yaml:"delay"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// MatcherSettings controls batch matching
type MatcherSettings struct {
	TopN     int `yaml:"top_n"`
	Workers  int `yaml:"workers"`
	PageSize int `yaml:"page_size"`
}

// WebSettings controls the batch query API
type WebSettings struct {
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	MaxLookup int           `yaml:"max_lookup"`
	MaxRefine int           `yaml:"max_refine"`
	StatsTTL  time.Duration `yaml:"stats_ttl"`
}

// DefaultSettings returns the settings used when nothing is configured
func DefaultSettings() *Settings {
	return &Settings{
		Database: DatabaseSettings{
			Host:           "localhost",
			Port:           "5432",
			User:           "postgres",
			Password:       "postgres",
			Name:           "bdgd",
			SSLMode:        "disable",
			MaxConnections: 20,
		},
		Loader: LoaderSettings{
			DataDir:      "data/cnpj",
			BaseURL:      "https://dados-abertos-rf-cnpj.casadosdados.com.br/arquivos/2026-01-11/",
			BatchSize:    10000,
			ShardWorkers: 1,
			Prune:        true,
			MaxAttempts:  5,
		},
		Geocoder: GeocoderSettings{
			URL:         "https://nominatim.openstreetmap.org/reverse",
			UserAgent:   "BDGD-Pro/1.0 (geocoding for energy client matching)",
			Delay:       1100 * time.Millisecond,
			Timeout:     15 * time.Second,
			MaxAttempts: 3,
		},
		Matcher: MatcherSettings{
			TopN:     3,
			Workers:  4,
			PageSize: 1000,
		},
		Web: WebSettings{
			Host:      "0.0.0.0",
			Port:      8080,
			MaxLookup: 1000,
			MaxRefine: 100,
			StatsTTL:  time.Minute,
		},
	}
}

// LoadSettings builds Settings from defaults, an optional YAML file and the environment.
// Environment variables win over the file.
func LoadSettings(path string) (*Settings, error) {
	settings := DefaultSettings()

	if path == "" {
		path = os.Getenv("BDGD_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	settings.applyEnv()
	return settings, nil
}

func (s *Settings) applyEnv() {
	s.Database.URL = GetEnv("DATABASE_URL", s.Database.URL)
	s.Database.Host = GetEnv("PGHOST", s.Database.Host)
	s.Database.Port = GetEnv("PGPORT", s.Database.Port)
	s.Database.User = GetEnv("PGUSER", s.Database.User)
	s.Database.Password = GetEnv("PGPASSWORD", s.Database.Password)
	s.Database.Name = GetEnv("PGDATABASE", s.Database.Name)
	s.Database.SSLMode = GetEnv("PGSSLMODE", s.Database.SSLMode)
	s.Database.MaxConnections = GetEnvInt("DB_MAX_CONNECTIONS", s.Database.MaxConnections)

	s.Loader.DataDir = GetEnv("CNPJ_DATA_DIR", s.Loader.DataDir)
	s.Loader.BaseURL = GetEnv("CNPJ_BASE_URL", s.Loader.BaseURL)
	s.Loader.BatchSize = GetEnvInt("CNPJ_BATCH_SIZE", s.Loader.BatchSize)
	s.Loader.ShardWorkers = GetEnvInt("CNPJ_SHARD_WORKERS", s.Loader.ShardWorkers)
	s.Loader.KeepFiles = GetEnvBool("CNPJ_KEEP_FILES", s.Loader.KeepFiles)
	s.Loader.Prune = GetEnvBool("CNPJ_PRUNE", s.Loader.Prune)
	s.Loader.MaxAttempts = GetEnvInt("CNPJ_DOWNLOAD_ATTEMPTS", s.Loader.MaxAttempts)

	s.Geocoder.URL = GetEnv("NOMINATIM_URL", s.Geocoder.URL)
	s.Geocoder.UserAgent = GetEnv("NOMINATIM_USER_AGENT", s.Geocoder.UserAgent)
	s.Geocoder.Delay = GetEnvDuration("NOMINATIM_DELAY", s.Geocoder.Delay)
	s.Geocoder.Timeout = GetEnvDuration("NOMINATIM_TIMEOUT", s.Geocoder.Timeout)
	s.Geocoder.MaxAttempts = GetEnvInt("NOMINATIM_ATTEMPTS", s.Geocoder.MaxAttempts)

	s.Matcher.TopN = GetEnvInt("MATCH_TOP_N", s.Matcher.TopN)
	s.Matcher.Workers = GetEnvInt("MATCH_WORKERS", s.Matcher.Workers)
	s.Matcher.PageSize = GetEnvInt("MATCH_PAGE_SIZE", s.Matcher.PageSize)

	s.Web.Host = GetEnv("WEB_HOST", s.Web.Host)
	s.Web.Port = GetEnvInt("WEB_PORT", s.Web.Port)
	s.Web.MaxLookup = GetEnvInt("WEB_MAX_LOOKUP", s.Web.MaxLookup)
	s.Web.MaxRefine = GetEnvInt("WEB_MAX_REFINE", s.Web.MaxRefine)
	s.Web.StatsTTL = GetEnvDuration("WEB_STATS_TTL", s.Web.StatsTTL)
}

// DSN returns a lib/pq connection string
func (d DatabaseSettings) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}
