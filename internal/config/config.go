// Пакет config — загрузка и валидация конфигурации Test Assistant
// из переменных окружения (и опционального .env-файла).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Поддерживаемые драйверы хранилища.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

// Поддерживаемые LLM-провайдеры.
const (
	LLMProviderOpenAI = "openai"
	LLMProviderClaude = "claude"
	LLMProviderGemini = "gemini"
)

// Config содержит все параметры конфигурации Test Assistant.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Разрешённые CORS origins
	CORSOrigins []string

	// --- Хранилище ---

	// Драйвер хранилища записей: postgres или sqlite
	StoreDriver string
	// Путь к файлу SQLite (для StoreDriver=sqlite)
	SQLitePath string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Максимальный размер пула соединений
	DBMaxConns int
	// Минимальное число открытых соединений
	DBMinConns int
	// Максимальное время жизни соединения
	DBConnMaxLifetime time.Duration

	// --- JWT ---

	// Секрет для подписи HS256-токенов
	JWTSecret string
	// Время жизни access-токена
	JWTAccessTTL time.Duration
	// Время жизни refresh-токена
	JWTRefreshTTL time.Duration
	// Issuer выпускаемых токенов
	JWTIssuer string
	// URL JWKS внешнего IdP (опционально; при задании токены проверяются по JWKS)
	JWTJWKSURL string
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- Jira ---

	// Базовый URL Jira Cloud (например, https://company.atlassian.net)
	JiraURL string
	// Email пользователя Jira (basic auth)
	JiraEmail string
	// API-токен Jira
	JiraAPIToken string
	// Таймаут HTTP-запросов к Jira
	JiraTimeout time.Duration
	// TTL кэша задач Jira (0 — кэш отключён)
	JiraCacheTTL time.Duration
	// Максимальное количество задач в кэше
	JiraCacheSize int

	// --- LLM ---

	// Провайдер: openai, claude, gemini
	LLMProvider string
	// API-ключ провайдера
	LLMAPIKey string
	// Имя модели
	LLMModel string
	// Базовый URL API (опционально, для совместимых прокси)
	LLMBaseURL string
	// Максимальное количество токенов ответа
	LLMMaxTokens int
	// Температура генерации
	LLMTemperature float64
	// Максимальное количество попыток генерации
	LLMMaxAttempts int
	// Пауза между попытками
	LLMRetryDelay time.Duration
	// Таймаут HTTP-запроса к провайдеру
	LLMTimeout time.Duration

	// --- topologymetrics ---

	// Имя группы в метриках зависимостей
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration
	// Лейбл isentry=yes для всех зависимостей
	DephealthIsEntry bool

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// LoadDotEnv подгружает переменные из файла .env (если он существует).
// Уже заданные переменные окружения не перезаписываются.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("загрузка %s: %w", p, err)
		}
	}
	return nil
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// TA_PORT — порт HTTP-сервера (по умолчанию 8000)
	cfg.Port, err = getEnvInt("TA_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("TA_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("TA_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// TA_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("TA_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("TA_LOG_LEVEL: %w", err)
	}

	// TA_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("TA_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("TA_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// TA_CORS_ORIGINS — через запятую (по умолчанию "*")
	cfg.CORSOrigins = parseCSV(getEnvDefault("TA_CORS_ORIGINS", "*"))

	// --- Хранилище ---

	cfg.StoreDriver = getEnvDefault("TA_STORE_DRIVER", StoreDriverPostgres)
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if err := loadPostgres(cfg); err != nil {
			return nil, err
		}
	case StoreDriverSQLite:
		cfg.SQLitePath = getEnvDefault("TA_SQLITE_PATH", "test-assistant.db")
	default:
		return nil, fmt.Errorf("TA_STORE_DRIVER: недопустимое значение %q, допустимые: postgres, sqlite", cfg.StoreDriver)
	}

	// --- JWT ---

	// TA_JWT_JWKS_URL — при задании секрет не обязателен для проверки,
	// но выпуск собственных токенов (/auth) по-прежнему требует TA_JWT_SECRET.
	cfg.JWTJWKSURL = strings.TrimSpace(getEnvDefault("TA_JWT_JWKS_URL", ""))

	cfg.JWTSecret, err = getEnvRequired("TA_JWT_SECRET")
	if err != nil {
		return nil, err
	}
	if len(cfg.JWTSecret) < 16 {
		return nil, errors.New("TA_JWT_SECRET: минимальная длина секрета — 16 символов")
	}

	cfg.JWTAccessTTL, err = getEnvDuration("TA_JWT_ACCESS_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TA_JWT_ACCESS_TTL: %w", err)
	}
	cfg.JWTRefreshTTL, err = getEnvDuration("TA_JWT_REFRESH_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("TA_JWT_REFRESH_TTL: %w", err)
	}
	if cfg.JWTRefreshTTL <= cfg.JWTAccessTTL {
		return nil, errors.New("TA_JWT_REFRESH_TTL: должен быть больше TA_JWT_ACCESS_TTL")
	}
	cfg.JWTIssuer = getEnvDefault("TA_JWT_ISSUER", "test-assistant")
	cfg.JWTLeeway, err = getEnvDuration("TA_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TA_JWT_LEEWAY: %w", err)
	}

	// --- Jira ---

	cfg.JiraURL, err = getEnvRequired("TA_JIRA_URL")
	if err != nil {
		return nil, err
	}
	cfg.JiraURL = strings.TrimRight(cfg.JiraURL, "/")

	cfg.JiraEmail, err = getEnvRequired("TA_JIRA_EMAIL")
	if err != nil {
		return nil, err
	}
	cfg.JiraAPIToken, err = getEnvRequired("TA_JIRA_API_TOKEN")
	if err != nil {
		return nil, err
	}
	cfg.JiraTimeout, err = getEnvDuration("TA_JIRA_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TA_JIRA_TIMEOUT: %w", err)
	}
	cfg.JiraCacheTTL, err = getEnvDuration("TA_JIRA_CACHE_TTL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TA_JIRA_CACHE_TTL: %w", err)
	}
	cfg.JiraCacheSize, err = getEnvInt("TA_JIRA_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("TA_JIRA_CACHE_SIZE: %w", err)
	}
	if cfg.JiraCacheSize < 1 {
		return nil, fmt.Errorf("TA_JIRA_CACHE_SIZE: значение %d должно быть положительным", cfg.JiraCacheSize)
	}

	// --- LLM ---

	if err := loadLLM(cfg); err != nil {
		return nil, err
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("TA_DEPHEALTH_GROUP", "test-assistant")
	cfg.DephealthCheckInterval, err = getEnvDuration("TA_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TA_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthIsEntry, err = getEnvBool("TA_DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("TA_DEPHEALTH_ISENTRY: %w", err)
	}

	// --- Graceful shutdown ---

	// TA_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("TA_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TA_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// loadPostgres читает параметры подключения к PostgreSQL.
func loadPostgres(cfg *Config) error {
	var err error

	if cfg.DBHost, err = getEnvRequired("TA_DB_HOST"); err != nil {
		return err
	}
	if cfg.DBPort, err = getEnvInt("TA_DB_PORT", 5432); err != nil {
		return fmt.Errorf("TA_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("TA_DB_NAME"); err != nil {
		return err
	}
	if cfg.DBUser, err = getEnvRequired("TA_DB_USER"); err != nil {
		return err
	}
	if cfg.DBPassword, err = getEnvRequired("TA_DB_PASSWORD"); err != nil {
		return err
	}

	cfg.DBSSLMode = getEnvDefault("TA_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return fmt.Errorf("TA_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Пул соединений ---
	if cfg.DBMaxConns, err = getEnvInt("TA_DB_MAX_CONNS", 10); err != nil {
		return fmt.Errorf("TA_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 1 {
		return fmt.Errorf("TA_DB_MAX_CONNS: значение %d должно быть не меньше 1", cfg.DBMaxConns)
	}
	if cfg.DBMinConns, err = getEnvInt("TA_DB_MIN_CONNS", 0); err != nil {
		return fmt.Errorf("TA_DB_MIN_CONNS: %w", err)
	}
	if cfg.DBMinConns < 0 || cfg.DBMinConns > cfg.DBMaxConns {
		return fmt.Errorf("TA_DB_MIN_CONNS: значение %d вне диапазона 0-%d", cfg.DBMinConns, cfg.DBMaxConns)
	}
	if cfg.DBConnMaxLifetime, err = getEnvDuration("TA_DB_CONN_MAX_LIFETIME", 30*time.Minute); err != nil {
		return fmt.Errorf("TA_DB_CONN_MAX_LIFETIME: %w", err)
	}
	return nil
}

// loadLLM читает параметры провайдера языковой модели.
func loadLLM(cfg *Config) error {
	var err error

	cfg.LLMProvider = strings.ToLower(getEnvDefault("TA_LLM_PROVIDER", LLMProviderOpenAI))
	defaultModel := map[string]string{
		LLMProviderOpenAI: "gpt-4o-mini",
		LLMProviderClaude: "claude-3-5-haiku-latest",
		LLMProviderGemini: "gemini-2.0-flash",
	}
	model, ok := defaultModel[cfg.LLMProvider]
	if !ok {
		return fmt.Errorf("TA_LLM_PROVIDER: недопустимое значение %q, допустимые: openai, claude, gemini", cfg.LLMProvider)
	}

	if cfg.LLMAPIKey, err = getEnvRequired("TA_LLM_API_KEY"); err != nil {
		return err
	}
	cfg.LLMModel = getEnvDefault("TA_LLM_MODEL", model)
	cfg.LLMBaseURL = strings.TrimRight(getEnvDefault("TA_LLM_BASE_URL", ""), "/")

	if cfg.LLMMaxTokens, err = getEnvInt("TA_LLM_MAX_TOKENS", 8000); err != nil {
		return fmt.Errorf("TA_LLM_MAX_TOKENS: %w", err)
	}
	if cfg.LLMMaxTokens < 1 {
		return fmt.Errorf("TA_LLM_MAX_TOKENS: значение %d должно быть положительным", cfg.LLMMaxTokens)
	}

	if cfg.LLMTemperature, err = getEnvFloat("TA_LLM_TEMPERATURE", 0.7); err != nil {
		return fmt.Errorf("TA_LLM_TEMPERATURE: %w", err)
	}
	if cfg.LLMTemperature < 0 || cfg.LLMTemperature > 2 {
		return fmt.Errorf("TA_LLM_TEMPERATURE: значение %g вне диапазона 0-2", cfg.LLMTemperature)
	}

	if cfg.LLMMaxAttempts, err = getEnvInt("TA_LLM_MAX_ATTEMPTS", 3); err != nil {
		return fmt.Errorf("TA_LLM_MAX_ATTEMPTS: %w", err)
	}
	if cfg.LLMMaxAttempts < 1 || cfg.LLMMaxAttempts > 10 {
		return fmt.Errorf("TA_LLM_MAX_ATTEMPTS: значение %d вне диапазона 1-10", cfg.LLMMaxAttempts)
	}

	if cfg.LLMRetryDelay, err = getEnvDuration("TA_LLM_RETRY_DELAY", time.Second); err != nil {
		return fmt.Errorf("TA_LLM_RETRY_DELAY: %w", err)
	}
	if cfg.LLMTimeout, err = getEnvDuration("TA_LLM_TIMEOUT", 3*time.Minute); err != nil {
		return fmt.Errorf("TA_LLM_TIMEOUT: %w", err)
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL (для golang-migrate и метрик зависимостей).
// Учётные данные экранируются.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvFloat возвращает дробное значение переменной окружения или значение по умолчанию.
func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное число: %q", val)
	}
	return f, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
