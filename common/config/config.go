package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

func getEnv(key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	return value
}

func loadEnvString(key string, result *string) {
	s, ok := os.LookupEnv(key)

	if !ok {
		return
	}
	*result = s
}

func loadEnvUint(key string, result *uint) {
	s, ok := os.LookupEnv(key)

	if !ok {
		return
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return
	}
	*result = uint(n)
}

func loadEnvInt(key string, result *int) {
	s, ok := os.LookupEnv(key)

	if !ok {
		return
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return
	}
	*result = n
}

func loadEnvBool(key string, result *bool) {
	s, ok := os.LookupEnv(key)

	if !ok {
		return
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return
	}
	*result = b
}

func loadEnvDuration(key string, result *time.Duration) {
	s, ok := os.LookupEnv(key)

	if !ok {
		return
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return
	}
	*result = d
}

// loadEnvList reads a comma separated list, dropping blank entries
func loadEnvList(key string, result *[]string) {
	s, ok := os.LookupEnv(key)

	if !ok {
		return
	}
	items := lo.Map(strings.Split(s, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	})
	*result = lo.Compact(items)
}

/* PgSQL Configuration */
type pgSqlConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     uint   `json:"port"`
	Database string `json:"database"`
	SslMode  string `json:"ssl_mode"`
	User     string `json:"user"`
	Password string `json:"password"`
}

func (p pgSqlConfig) ConnStr() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s", p.Host, p.Port, p.User, p.Password, p.Database, p.SslMode)
}

func defaultPgSql() pgSqlConfig {
	return pgSqlConfig{
		Enabled:  false,
		Host:     "localhost",
		Port:     5432,
		Database: "database",
		User:     "",
		Password: "",
		SslMode:  "disable",
	}
}

func (p *pgSqlConfig) loadFromEnv() {
	loadEnvBool("POSTGRES_ENABLED", &p.Enabled)
	loadEnvString("POSTGRES_HOST", &p.Host)
	loadEnvUint("POSTGRES_PORT", &p.Port)
	loadEnvString("POSTGRES_DB_NAME", &p.Database)
	loadEnvString("POSTGRES_SSLMODE", &p.SslMode)
	loadEnvString("POSTGRES_USERNAME", &p.User)
	loadEnvString("POSTGRES_PASSWORD", &p.Password)
}

/* Listen Configuration */

type listenConfig struct {
	Host string `json:"host"`
	Port uint   `json:"port"`
}

func (l listenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

func defaultListenConfig() listenConfig {
	return listenConfig{
		Host: "127.0.0.1",
		Port: 8080,
	}
}

func (l *listenConfig) loadFromEnv() {
	loadEnvString("LISTEN_HOST", &l.Host)
	loadEnvUint("LISTEN_PORT", &l.Port)
}

type hostConfig struct {
	Host string `json:"host"`
}

func (h *hostConfig) loadFromEnv() {
	loadEnvString("HOST", &h.Host)
}

func defaultHostConfig() hostConfig {
	return hostConfig{
		Host: "localhost",
	}
}

/* Log Configuration */

type logConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

func (l *logConfig) loadFromEnv() {
	loadEnvString("LOG_LEVEL", &l.Level)
	loadEnvBool("LOG_PRETTY", &l.Pretty)
}

func defaultLogConfig() logConfig {
	return logConfig{
		Level:  "info",
		Pretty: false,
	}
}

/* Worker Configuration */

const (
	TransportProcess = "process"
	TransportNats    = "nats"
)

type workerConfig struct {
	// Transport is either "process" or "nats".
	Transport   string        `json:"transport"`
	Command     string        `json:"command"`
	Args        []string      `json:"args"`
	LangPath    string        `json:"lang_path"`
	CachePath   string        `json:"cache_path"`
	CacheMethod string        `json:"cache_method"`
	Gzip        bool          `json:"gzip"`
	Languages   string        `json:"languages"`
	OEM         int           `json:"oem"`
	Parameters  []string      `json:"parameters"`
	Timeout     time.Duration `json:"timeout"`
	Logging     bool          `json:"logging"`
}

// Params turns the "key=value" entries of Parameters into engine variables
func (w workerConfig) Params() map[string]any {
	params := make(map[string]any, len(w.Parameters))
	for _, entry := range w.Parameters {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			continue
		}
		params[key] = value
	}
	return params
}

func (w *workerConfig) loadFromEnv() {
	loadEnvString("WORKER_TRANSPORT", &w.Transport)
	loadEnvString("WORKER_COMMAND", &w.Command)
	loadEnvList("WORKER_ARGS", &w.Args)
	loadEnvString("WORKER_LANG_PATH", &w.LangPath)
	loadEnvString("WORKER_CACHE_PATH", &w.CachePath)
	loadEnvString("WORKER_CACHE_METHOD", &w.CacheMethod)
	loadEnvBool("WORKER_GZIP", &w.Gzip)
	loadEnvString("WORKER_LANGUAGES", &w.Languages)
	loadEnvInt("WORKER_OEM", &w.OEM)
	loadEnvList("WORKER_PARAMETERS", &w.Parameters)
	loadEnvDuration("WORKER_TIMEOUT", &w.Timeout)
	loadEnvBool("WORKER_LOGGING", &w.Logging)
}

func defaultWorkerConfig() workerConfig {
	return workerConfig{
		Transport:   TransportProcess,
		Command:     "ocr-worker",
		LangPath:    "https://tessdata.projectnaptha.com/4.0.0",
		CacheMethod: "write",
		Gzip:        true,
		Languages:   "eng",
		OEM:         1,
		Timeout:     2 * time.Minute,
	}
}

/* Pool Configuration */

type poolConfig struct {
	Size      int           `json:"size"`
	QueueSize int           `json:"queue_size"`
	Timeout   time.Duration `json:"timeout"`
}

func (p *poolConfig) loadFromEnv() {
	loadEnvInt("POOL_SIZE", &p.Size)
	loadEnvInt("POOL_QUEUE_SIZE", &p.QueueSize)
	loadEnvDuration("POOL_TIMEOUT", &p.Timeout)
}

func defaultPoolConfig() poolConfig {
	return poolConfig{
		Size:      2,
		QueueSize: 100,
		Timeout:   5 * time.Minute,
	}
}

type natsConfig struct {
	Enabled          bool
	Host             string
	Port             uint
	Username         string
	Password         string
	JetStreamEnabled bool
	SpawnTimeout     time.Duration
}

func (c *natsConfig) loadFromEnv() {
	loadEnvBool("NATS_ENABLED", &c.Enabled)
	c.Host = getEnv("NATS_HOST", c.Host)
	loadEnvUint("NATS_PORT", &c.Port)
	c.Username = getEnv("NATS_USER", c.Username)
	c.Password = getEnv("NATS_PASSWORD", c.Password)
	loadEnvBool("NATS_JETSTREAM_ENABLED", &c.JetStreamEnabled)
	loadEnvDuration("NATS_SPAWN_TIMEOUT", &c.SpawnTimeout)
}

func (c natsConfig) URL() string {
	return fmt.Sprintf("nats://%s:%d", c.Host, c.Port)
}

func defaultNatsConfig() natsConfig {
	return natsConfig{
		Enabled:          false,
		Host:             "localhost",
		Port:             4222,
		Username:         "",
		Password:         "",
		JetStreamEnabled: true,
		SpawnTimeout:     30 * time.Second,
	}
}

type securityConfig struct {
	BackendApiKey string
	// ImageHosts lists the hosts http(s) image inputs may be fetched from
	ImageHosts []string
}

func (s *securityConfig) loadFromEnv() {
	s.BackendApiKey = getEnv("BACKEND_API_KEY", "")
	loadEnvList("IMAGE_URL_HOSTS", &s.ImageHosts)
}

func defaultSecurityConfig() securityConfig {
	return securityConfig{
		BackendApiKey: "",
	}
}

type redisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     uint   `json:"port"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

func (r redisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (r *redisConfig) loadFromEnv() {
	loadEnvBool("REDIS_ENABLED", &r.Enabled)
	loadEnvString("REDIS_HOST", &r.Host)
	loadEnvUint("REDIS_PORT", &r.Port)
	loadEnvString("REDIS_PASSWORD", &r.Password)
	loadEnvInt("REDIS_DB", &r.DB)
	log.Debug().Interface("redis", r).Msg("Redis config loaded")
}

func defaultRedisConfig() redisConfig {
	return redisConfig{
		Enabled:  false,
		Host:     "localhost",
		Port:     6379,
		Password: "",
		DB:       0,
	}
}

type GCSConfig struct {
	Enabled         bool
	ProjectID       string
	CredentialsFile string
	Bucket          string
	// PDFPrefix is the object prefix generated PDFs are uploaded under.
	PDFPrefix string
}

func (g *GCSConfig) loadFromEnv() {
	loadEnvBool("GCS_ENABLED", &g.Enabled)
	g.ProjectID = getEnv("GCS_PROJECT_ID", g.ProjectID)
	g.CredentialsFile = getEnv("GCS_CREDENTIALS_FILE", g.CredentialsFile)
	g.Bucket = getEnv("GCS_STORAGE_BUCKET", g.Bucket)
	g.PDFPrefix = getEnv("GCS_PDF_PREFIX", g.PDFPrefix)
}

func defaultGcsConfig() GCSConfig {
	return GCSConfig{
		Enabled:         false,
		ProjectID:       "",
		CredentialsFile: "",
		Bucket:          "",
		PDFPrefix:       "ocr/pdf",
	}
}

type Config struct {
	Host     hostConfig
	Listen   listenConfig
	Log      logConfig
	Worker   workerConfig
	Pool     poolConfig
	PgSql    pgSqlConfig
	Security securityConfig
	Nats     natsConfig
	Redis    redisConfig
	GCS      GCSConfig
}

func (c *Config) LoadFromEnv() {
	c.Host.loadFromEnv()
	c.Listen.loadFromEnv()
	c.Log.loadFromEnv()
	c.Worker.loadFromEnv()
	c.Pool.loadFromEnv()
	c.PgSql.loadFromEnv()
	c.Security.loadFromEnv()
	c.Nats.loadFromEnv()
	c.Redis.loadFromEnv()
	c.GCS.loadFromEnv()
}

// ErrInvalidConfig wraps every Validate failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate reports configuration that cannot work
func (c Config) Validate() error {
	if !lo.Contains([]string{TransportProcess, TransportNats}, c.Worker.Transport) {
		return fmt.Errorf("%w: unknown worker transport %q", ErrInvalidConfig, c.Worker.Transport)
	}
	if c.Worker.Transport == TransportNats && !c.Nats.Enabled {
		return fmt.Errorf("%w: worker transport %q requires NATS_ENABLED", ErrInvalidConfig, c.Worker.Transport)
	}
	if c.Worker.Transport == TransportProcess && c.Worker.Command == "" {
		return fmt.Errorf("%w: worker transport %q requires WORKER_COMMAND", ErrInvalidConfig, c.Worker.Transport)
	}
	if c.Pool.Size <= 0 {
		return fmt.Errorf("%w: pool size must be positive, got %d", ErrInvalidConfig, c.Pool.Size)
	}
	if c.Pool.QueueSize < 0 {
		return fmt.Errorf("%w: pool queue size cannot be negative, got %d", ErrInvalidConfig, c.Pool.QueueSize)
	}
	if lo.Contains(c.Security.ImageHosts, "*") && c.Security.BackendApiKey == "" {
		return fmt.Errorf("%w: IMAGE_URL_HOSTS=* requires BACKEND_API_KEY", ErrInvalidConfig)
	}
	if c.GCS.Enabled && c.GCS.Bucket == "" {
		return fmt.Errorf("%w: GCS_STORAGE_BUCKET is required when GCS is enabled", ErrInvalidConfig)
	}
	return nil
}

func DefaultConfig() Config {
	return Config{
		Host:     defaultHostConfig(),
		Listen:   defaultListenConfig(),
		Log:      defaultLogConfig(),
		Worker:   defaultWorkerConfig(),
		Pool:     defaultPoolConfig(),
		PgSql:    defaultPgSql(),
		Security: defaultSecurityConfig(),
		Nats:     defaultNatsConfig(),
		Redis:    defaultRedisConfig(),
		GCS:      defaultGcsConfig(),
	}
}
