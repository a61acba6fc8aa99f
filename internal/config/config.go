package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

var DefaultEnvConfig *envConfig

type envConfig struct {
	// server config
	APP_PORT string `toml:"app_port"`
	// export engine config
	TEMPLATE_PATHS []string `toml:"template_paths"`
	SCHEMA_PATH    string   `toml:"schema_path"`
	BUFFER_SIZE    int      `toml:"buffer_size"`
	COERCE_VALUES  bool     `toml:"coerce_values"`
	// database config
	DB_ENABLED           bool          `toml:"db_enabled"`
	DB_DRIVER            string        `toml:"db_driver"`
	DB_HOST              string        `toml:"db_host"`
	DB_PORT              int           `toml:"db_port"`
	DB_USER              string        `toml:"db_user"`
	DB_PASSWORD          string        `toml:"db_password"`
	DB_NAME              string        `toml:"db_name"`
	DB_SSL_MODE          string        `toml:"db_ssl_mode"`
	DB_PATH              string        `toml:"db_path"`
	DB_CONN_MAX_LIFETIME time.Duration `toml:"-"`
	DB_MAX_IDLE_CONNS    int           `toml:"db_max_idle_conns"`
	DB_MAX_OPEN_CONNS    int           `toml:"db_max_open_conns"`
	// other block sources, empty disables them
	ELASTIC_URL       string `toml:"elastic_url"`
	DATASTORE_PROJECT string `toml:"datastore_project"`
	// logger config
	LOG_FILE_PATH string `toml:"log_file_path"`
	LOG_LEVEL     string `toml:"log_level"`
}

func defaults() envConfig {
	return envConfig{
		APP_PORT:             "8080",
		BUFFER_SIZE:          100,
		COERCE_VALUES:        true,
		DB_DRIVER:            "postgres",
		DB_HOST:              "localhost",
		DB_PORT:              5432,
		DB_USER:              "postgres",
		DB_PASSWORD:          "postgres",
		DB_NAME:              "postgres",
		DB_SSL_MODE:          "disable",
		DB_CONN_MAX_LIFETIME: 20 * time.Minute,
		DB_MAX_IDLE_CONNS:    10,
		DB_MAX_OPEN_CONNS:    100,
		LOG_LEVEL:            "info",
	}
}

// LoadEnvConfig fills DefaultEnvConfig from, in increasing priority: built-in
// defaults, the TOML file named by CONFIG_FILE, and the environment (including
// a .env file when one exists).
func LoadEnvConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fileCfg, err := loadFile(path, cfg)
		if err != nil {
			return err
		}
		cfg = *fileCfg
	}

	DefaultEnvConfig = &envConfig{
		APP_PORT:             getEnvString("APP_PORT", cfg.APP_PORT),
		TEMPLATE_PATHS:       getEnvList("TEMPLATE_PATHS", cfg.TEMPLATE_PATHS),
		SCHEMA_PATH:          getEnvString("SCHEMA_PATH", cfg.SCHEMA_PATH),
		BUFFER_SIZE:          getEnvInt("BUFFER_SIZE", cfg.BUFFER_SIZE),
		COERCE_VALUES:        getEnvBool("COERCE_VALUES", cfg.COERCE_VALUES),
		DB_ENABLED:           getEnvBool("DB_ENABLED", cfg.DB_ENABLED),
		DB_DRIVER:            getEnvString("DB_DRIVER", cfg.DB_DRIVER),
		DB_HOST:              getEnvString("DB_HOST", cfg.DB_HOST),
		DB_PORT:              getEnvInt("DB_PORT", cfg.DB_PORT),
		DB_USER:              getEnvString("DB_USER", cfg.DB_USER),
		DB_PASSWORD:          getEnvString("DB_PASSWORD", cfg.DB_PASSWORD),
		DB_NAME:              getEnvString("DB_NAME", cfg.DB_NAME),
		DB_SSL_MODE:          getEnvString("DB_SSL_MODE", cfg.DB_SSL_MODE),
		DB_PATH:              getEnvString("DB_PATH", cfg.DB_PATH),
		DB_CONN_MAX_LIFETIME: getEnvDuration("DB_CONN_MAX_LIFETIME", cfg.DB_CONN_MAX_LIFETIME),
		DB_MAX_IDLE_CONNS:    getEnvInt("DB_MAX_IDLE_CONNS", cfg.DB_MAX_IDLE_CONNS),
		DB_MAX_OPEN_CONNS:    getEnvInt("DB_MAX_OPEN_CONNS", cfg.DB_MAX_OPEN_CONNS),
		ELASTIC_URL:          getEnvString("ELASTIC_URL", cfg.ELASTIC_URL),
		DATASTORE_PROJECT:    getEnvString("DATASTORE_PROJECT", cfg.DATASTORE_PROJECT),
		LOG_FILE_PATH:        getEnvString("LOG_FILE_PATH", cfg.LOG_FILE_PATH),
		LOG_LEVEL:            getEnvString("LOG_LEVEL", cfg.LOG_LEVEL),
	}
	return nil
}

// loadFile decodes a TOML config file over base. Keys missing from the file
// keep their base value. Durations are written as strings ("20m") or as
// seconds.
func loadFile(path string, base envConfig) (*envConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var raw struct {
		envConfig
		Lifetime interface{} `toml:"db_conn_max_lifetime"`
	}
	raw.envConfig = base
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	cfg := raw.envConfig
	switch v := raw.Lifetime.(type) {
	case nil:
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: db_conn_max_lifetime: %w", path, err)
		}
		cfg.DB_CONN_MAX_LIFETIME = d
	case int64:
		cfg.DB_CONN_MAX_LIFETIME = time.Duration(v) * time.Second
	default:
		return nil, fmt.Errorf("parsing config file %s: db_conn_max_lifetime has type %T", path, v)
	}
	return &cfg, nil
}

func getEnvString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvList splits a comma separated variable, dropping empty entries.
func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(val, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if i, err := strconv.Atoi(val); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return fallback
}
