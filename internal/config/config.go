package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ModeCloud = "cloud"
	ModeSniff = "sniff"

	configPathEnv = "CONFIG_FILE"
)

var validate = validator.New()

// Duration accepts plain seconds or a Go duration string.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// AppConfig holds all runtime settings.
type AppConfig struct {
	Mode string `yaml:"mode" validate:"oneof=cloud sniff"`

	ClientID     string `yaml:"client_id" validate:"required_if=Mode cloud"`
	ClientSecret string `yaml:"client_secret" validate:"required_if=Mode cloud"`
	TokensFile   string `yaml:"tokens_persistence_file" validate:"required_if=Mode cloud"`
	DeviceID     string `yaml:"device_id"`

	PollInterval     Duration `yaml:"poll_interval" validate:"gt=0"`
	MaxTries         int      `yaml:"max_tries" validate:"min=1"`
	RetryWait        Duration `yaml:"retry_wait" validate:"gte=0"`
	APIBaseURL       string   `yaml:"api_base_url" validate:"required,url"`
	HTTPTimeout      Duration `yaml:"http_timeout" validate:"gt=0"`
	MaxResponseBytes int64    `yaml:"max_response_bytes" validate:"gt=0"`
	StaleAfter       Duration `yaml:"stale_after" validate:"gt=0"`
	MeasureWindow    Duration `yaml:"measure_window" validate:"gt=0"`

	SniffHost string `yaml:"sniff_host"`
	SniffPort int    `yaml:"sniff_port" validate:"min=1,max=65535"`

	// SensorMap overrides entries of the default observation map by name.
	SensorMap map[string]string `yaml:"sensor_map"`

	// HTTPAddr is the status API listen address. Empty disables the API.
	HTTPAddr        string   `yaml:"http_addr"`
	StoreMaxHistory int      `yaml:"store_max_history" validate:"gte=0"` // 0 = unlimited
	StoreMaxAge     Duration `yaml:"store_max_age" validate:"gte=0"`     // 0 = unlimited

	DatabaseURL string `yaml:"database_url"`

	RedisAddr     string   `yaml:"redis_addr"`
	RedisPassword string   `yaml:"redis_password"`
	RedisTTL      Duration `yaml:"redis_ttl" validate:"gte=0"`

	InfluxAddr        string `yaml:"influx_addr"`
	InfluxUser        string `yaml:"influx_user"`
	InfluxPassword    string `yaml:"influx_password"`
	InfluxDB          string `yaml:"influx_db" validate:"required_with=InfluxAddr"`
	InfluxMeasurement string `yaml:"influx_measurement" validate:"required_with=InfluxAddr"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when nothing is set.
func Default() AppConfig {
	return AppConfig{
		Mode:              ModeCloud,
		PollInterval:      Duration(300 * time.Second),
		MaxTries:          5,
		RetryWait:         Duration(10 * time.Second),
		APIBaseURL:        "https://api.netatmo.com",
		HTTPTimeout:       Duration(30 * time.Second),
		MaxResponseBytes:  1 << 20,
		StaleAfter:        Duration(60 * time.Second),
		MeasureWindow:     Duration(30 * time.Minute),
		SniffHost:         "",
		SniffPort:         80,
		HTTPAddr:          ":8080",
		StoreMaxHistory:   288, // 24h at the default poll interval
		StoreMaxAge:       Duration(24 * time.Hour),
		RedisTTL:          Duration(15 * time.Minute),
		InfluxDB:          "weather",
		InfluxMeasurement: "netatmo",
		LogLevel:          "info",
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in that order. A .env file in the working directory is loaded
// into the environment first. path falls back to CONFIG_FILE.
func Load(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	cfg.Mode = strings.ToLower(cfg.Mode)
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func loadFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *AppConfig) error {
	cfg.Mode = getenvDefault("NETATMO_MODE", cfg.Mode)
	cfg.ClientID = getenvDefault("NETATMO_CLIENT_ID", cfg.ClientID)
	cfg.ClientSecret = getenvDefault("NETATMO_CLIENT_SECRET", cfg.ClientSecret)
	cfg.TokensFile = getenvDefault("NETATMO_TOKENS_FILE", cfg.TokensFile)
	cfg.DeviceID = getenvDefault("NETATMO_DEVICE_ID", cfg.DeviceID)
	cfg.APIBaseURL = getenvDefault("NETATMO_API_BASE_URL", cfg.APIBaseURL)
	cfg.SniffHost = getenvDefault("SNIFF_HOST", cfg.SniffHost)
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DatabaseURL = getenvDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisAddr = getenvDefault("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getenvDefault("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.InfluxAddr = getenvDefault("INFLUX_ADDR", cfg.InfluxAddr)
	cfg.InfluxUser = getenvDefault("INFLUX_USER", cfg.InfluxUser)
	cfg.InfluxPassword = getenvDefault("INFLUX_PASSWORD", cfg.InfluxPassword)
	cfg.InfluxDB = getenvDefault("INFLUX_DB", cfg.InfluxDB)
	cfg.InfluxMeasurement = getenvDefault("INFLUX_MEASUREMENT", cfg.InfluxMeasurement)
	cfg.LogLevel = getenvDefault("LOG_LEVEL", cfg.LogLevel)

	var err error
	if cfg.MaxTries, err = getenvInt("NETATMO_MAX_TRIES", cfg.MaxTries); err != nil {
		return err
	}
	if cfg.SniffPort, err = getenvInt("SNIFF_PORT", cfg.SniffPort); err != nil {
		return err
	}
	if cfg.StoreMaxHistory, err = getenvInt("STORE_MAX_HISTORY", cfg.StoreMaxHistory); err != nil {
		return err
	}
	if v := os.Getenv("MAX_RESPONSE_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_RESPONSE_BYTES: %w", err)
		}
		cfg.MaxResponseBytes = n
	}

	durations := []struct {
		key string
		dst *Duration
	}{
		{"NETATMO_POLL_INTERVAL", &cfg.PollInterval},
		{"NETATMO_RETRY_WAIT", &cfg.RetryWait},
		{"HTTP_TIMEOUT", &cfg.HTTPTimeout},
		{"STALE_AFTER", &cfg.StaleAfter},
		{"MEASURE_WINDOW", &cfg.MeasureWindow},
		{"STORE_MAX_AGE", &cfg.StoreMaxAge},
		{"REDIS_TTL", &cfg.RedisTTL},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = Duration(parsed)
	}

	if v := os.Getenv("SENSOR_MAP"); v != "" {
		overrides, err := parseSensorMap(v)
		if err != nil {
			return err
		}
		if cfg.SensorMap == nil {
			cfg.SensorMap = make(map[string]string, len(overrides))
		}
		for name, pattern := range overrides {
			cfg.SensorMap[name] = pattern
		}
	}
	return nil
}

// parseSensorMap reads "name=pattern,name=pattern".
func parseSensorMap(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, pattern, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(pattern) == "" {
			return nil, fmt.Errorf("invalid SENSOR_MAP entry %q", pair)
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(pattern)
	}
	return out, nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: use seconds or a duration like 5m", s)
	}
	return d, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
