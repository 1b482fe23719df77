package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/messenger/chansync/internal/logger"
)

// loadEnv читает .env только вне production (в prod конфиг только из env).
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		f, err := os.Open(filepath.Join(dir, ".env"))
		if err == nil {
			loadEnvFrom(f)
			f.Close()
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func loadEnvFrom(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

const (
	ConsentBackendFile   = "file"
	ConsentBackendRedis  = "redis"
	ConsentBackendMemory = "memory"
)

// ConsentConfig — где хранить id ожидающего согласия и как его опрашивать.
type ConsentConfig struct {
	Backend      string
	FilePath     string
	RedisURL     string
	TTL          time.Duration
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Config содержит настройки клиента синхронизации.
// Приоритет: переменные окружения > YAML-файл > значения по умолчанию.
type Config struct {
	// Бэкенд
	APIBaseURL        string
	APIToken          string
	RequestTimeout    time.Duration
	RequestsPerSecond float64

	// Текущий пользователь и служебный бот
	SelfGID string
	BotGID  string

	// Списки каналов
	PageSize             int
	CountersPageSize     int
	CountersPollInterval time.Duration

	// RealtimeURL — ws(s):// адрес событий. Пустой — только опрос.
	RealtimeURL string

	// Ключи устройства
	DeviceKeyPath       string
	DeviceKeyPassphrase string
	DeviceName          string

	Consent ConsentConfig

	// InspectAddr — адрес отладочного HTTP (снимок кеша, /metrics). Пустой — выключен.
	InspectAddr        string
	InspectToken       string
	CORSAllowedOrigins string

	LogLevel string
}

// yamlConfig — промежуточная структура файла конфигурации.
type yamlConfig struct {
	APIBaseURL           string  `yaml:"api_base_url"`
	RequestTimeout       int     `yaml:"request_timeout"`
	RequestsPerSecond    float64 `yaml:"requests_per_second"`
	SelfGID              string  `yaml:"self_gid"`
	BotGID               string  `yaml:"bot_gid"`
	PageSize             int     `yaml:"page_size"`
	CountersPageSize     int     `yaml:"counters_page_size"`
	CountersPollInterval int     `yaml:"counters_poll_interval"`
	RealtimeURL          string  `yaml:"realtime_url"`
	DeviceKeyPath        string  `yaml:"device_key_path"`
	DeviceName           string  `yaml:"device_name"`
	ConsentBackend       string  `yaml:"consent_backend"`
	ConsentFile          string  `yaml:"consent_file"`
	ConsentRedisURL      string  `yaml:"consent_redis_url"`
	ConsentTTL           int     `yaml:"consent_ttl"`
	ConsentPollInterval  int     `yaml:"consent_poll_interval"`
	ConsentPollTimeout   int     `yaml:"consent_poll_timeout"`
	InspectAddr          string  `yaml:"inspect_addr"`
	CORSAllowedOrigins   string  `yaml:"cors_allowed_origins"`
	LogLevel             string  `yaml:"log_level"`
}

func defaults() yamlConfig {
	return yamlConfig{
		APIBaseURL:           "http://localhost:8080/api",
		RequestTimeout:       15,
		RequestsPerSecond:    20,
		PageSize:             50,
		CountersPageSize:     200,
		CountersPollInterval: 30,
		DeviceKeyPath:        ".chansync/device.age",
		DeviceName:           "chansync",
		ConsentBackend:       ConsentBackendFile,
		ConsentFile:          ".chansync/consent.json",
		ConsentRedisURL:      "redis://localhost:6379",
		ConsentTTL:           900,
		ConsentPollInterval:  3,
		ConsentPollTimeout:   300,
		CORSAllowedOrigins:   "*",
		LogLevel:             "info",
	}
}

// Load загружает конфигурацию.
// Сначала подгружаются переменные из .env (если есть), затем YAML и env (env имеет приоритет).
func Load() (*Config, error) {
	loadEnv()
	yc := defaults()

	// CONFIG_PATH → config/client.yaml
	for _, path := range []string{os.Getenv("CONFIG_PATH"), "config/client.yaml"} {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: ошибка парсинга %s: %v (используются значения по умолчанию)", path, err)
			yc = defaults()
		} else {
			logger.Infof("config: загружен %s", path)
		}
		break
	}

	cfg := &Config{
		APIBaseURL:           envStr("API_BASE_URL", yc.APIBaseURL),
		APIToken:             envStr("API_TOKEN", ""),
		RequestTimeout:       time.Duration(envInt("REQUEST_TIMEOUT", yc.RequestTimeout)) * time.Second,
		RequestsPerSecond:    envFloat("REQUESTS_PER_SECOND", yc.RequestsPerSecond),
		SelfGID:              envStr("SELF_GID", yc.SelfGID),
		BotGID:               envStr("BOT_GID", yc.BotGID),
		PageSize:             envInt("PAGE_SIZE", yc.PageSize),
		CountersPageSize:     envInt("COUNTERS_PAGE_SIZE", yc.CountersPageSize),
		CountersPollInterval: time.Duration(envInt("COUNTERS_POLL_INTERVAL", yc.CountersPollInterval)) * time.Second,
		RealtimeURL:          envStr("REALTIME_URL", yc.RealtimeURL),
		DeviceKeyPath:        envStr("DEVICE_KEY_PATH", yc.DeviceKeyPath),
		DeviceKeyPassphrase:  envStr("DEVICE_KEY_PASSPHRASE", ""),
		DeviceName:           envStr("DEVICE_NAME", yc.DeviceName),
		Consent: ConsentConfig{
			Backend:      envStr("CONSENT_BACKEND", yc.ConsentBackend),
			FilePath:     envStr("CONSENT_FILE", yc.ConsentFile),
			RedisURL:     envStr("CONSENT_REDIS_URL", yc.ConsentRedisURL),
			TTL:          time.Duration(envInt("CONSENT_TTL", yc.ConsentTTL)) * time.Second,
			PollInterval: time.Duration(envInt("CONSENT_POLL_INTERVAL", yc.ConsentPollInterval)) * time.Second,
			PollTimeout:  time.Duration(envInt("CONSENT_POLL_TIMEOUT", yc.ConsentPollTimeout)) * time.Second,
		},
		InspectAddr:        envStr("INSPECT_ADDR", yc.InspectAddr),
		InspectToken:       envStr("INSPECT_TOKEN", ""),
		CORSAllowedOrigins: envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		LogLevel:           envStr("LOG_LEVEL", yc.LogLevel),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.APIBaseURL == "" {
		errs = append(errs, errors.New("api_base_url is required"))
	}
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page_size must be positive, got %d", c.PageSize))
	}
	if c.CountersPageSize <= 0 {
		errs = append(errs, fmt.Errorf("counters_page_size must be positive, got %d", c.CountersPageSize))
	}
	switch c.Consent.Backend {
	case ConsentBackendFile, ConsentBackendRedis, ConsentBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown consent_backend %q", c.Consent.Backend))
	}
	if os.Getenv("APP_ENV") == "production" {
		if !strings.HasPrefix(c.APIBaseURL, "https://") {
			errs = append(errs, errors.New("в production api_base_url должен быть https://"))
		}
		if c.DeviceKeyPath != "" && c.DeviceKeyPassphrase == "" {
			logger.Errorf("config: в production задайте DEVICE_KEY_PASSPHRASE (файл ключей хранится без шифрования)")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// envStr возвращает значение переменной окружения или fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt возвращает числовое значение переменной окружения или fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
