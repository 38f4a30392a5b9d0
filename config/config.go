package config

import (
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"inspector-api"`
	Port                          int      `env:"PORT" env-default:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"60"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database driver
	DatabaseDriver string `env:"DB_DRIVER" env-default:"postgres"`
	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:""`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"inspector"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Auth Issuer URL
	AuthIssuerURL string `env:"AUTH_ISSUER_URL" env-default:""`
	// Auth Client ID
	AuthClientID string `env:"AUTH_CLIENT_ID" env-default:""`
	// Auth Enabled - when false, allows X-Workspace-ID and X-User-ID headers for testing
	AuthEnabled bool `env:"AUTH_ENABLED" env-default:"false"`
	// Agent Shared Secret - authenticates the background agent surface.
	// Agent requests must still name a workspace explicitly; the secret only
	// elevates which resolution path is used, not which rows are visible.
	AgentSharedSecret string `env:"AGENT_SHARED_SECRET" env-default:""`

	// Credential encryption key (base64, 32 bytes decoded)
	CredentialEncryptionKey string `env:"CREDENTIAL_ENCRYPTION_KEY" env-default:""`

	// Redis host (optional; in-process stores are used when unset)
	RedisHost string `env:"REDIS_HOST" env-default:""`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`

	// Kafka brokers (comma-separated). Empty disables usage event publishing.
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:""`
	// Kafka topic for billing usage events
	KafkaUsageTopic string `env:"KAFKA_USAGE_TOPIC" env-default:"billing-usage"`

	// Query execution settings
	// Hard timeout applied to each remote query
	QueryTimeout time.Duration `env:"QUERY_TIMEOUT" env-default:"30s"`
	// TTL for cached query results
	QueryCacheTTL time.Duration `env:"QUERY_CACHE_TTL" env-default:"15m"`
	// Per-workspace admissions per window on the query path
	QueryRateLimit int `env:"QUERY_RATE_LIMIT" env-default:"20"`
	// Per-workspace admissions per window on enumeration-heavy paths
	EnumerationRateLimit int `env:"ENUMERATION_RATE_LIMIT" env-default:"15"`
	// Rate limit window
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" env-default:"60s"`

	// Fallback enumeration settings
	// Maximum pages fetched before reporting a partial count
	FallbackMaxPages int `env:"FALLBACK_MAX_PAGES" env-default:"100"`
	// Items requested per page
	FallbackPageSize int `env:"FALLBACK_PAGE_SIZE" env-default:"100"`
	// Wall-clock budget for the whole enumeration, measured from its start
	FallbackTimeBudget time.Duration `env:"FALLBACK_TIME_BUDGET" env-default:"50s"`

	// Cache sweep settings
	// Interval between expired-entry sweeps
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" env-default:"5m"`
	// Enable/disable the sweeper
	SweepEnabled bool `env:"SWEEP_ENABLED" env-default:"true"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads .env (when present) and binds environment variables onto the config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
