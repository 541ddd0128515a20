package config

import "time"

// APIConfig holds runtime configuration for the DarkSphere API service.
type APIConfig struct {
	Environment   string
	Addr          string
	DatabaseURL   string
	MigrationsDir string

	JWTSecret   string
	SessionTTL  time.Duration
	AdminEmails []string

	PasscodeTTL       time.Duration
	KeyBatchMax       int
	KeyValueLength    int
	StoreQueryTimeout time.Duration

	UserCacheTTL              time.Duration
	UserCacheCapacity         int
	PostCacheTTL              time.Duration
	PostCacheCapacity         int
	AnnouncementCacheTTL      time.Duration
	AnnouncementCacheCapacity int
	CacheSweepInterval        time.Duration

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:   GetString("APP_ENV", "development"),
		Addr:          GetString("API_ADDR", ":4000"),
		DatabaseURL:   GetString("DATABASE_URL", "postgres://darksphere:darksphere@db:5432/darksphere?sslmode=disable"),
		MigrationsDir: GetString("DB_MIGRATIONS_DIR", "./db/migrations"),

		JWTSecret:   GetString("JWT_SECRET", "supersecuresecret"),
		SessionTTL:  GetDuration("SESSION_TTL", 7*24*time.Hour),
		AdminEmails: GetStrings("ADMIN_EMAILS", nil),

		PasscodeTTL:       GetDuration("PASSCODE_TTL", 5*24*time.Hour),
		KeyBatchMax:       GetInt("KEY_BATCH_MAX", 50),
		KeyValueLength:    GetInt("KEY_VALUE_LENGTH", 12),
		StoreQueryTimeout: GetDuration("STORE_QUERY_TIMEOUT", 5*time.Second),

		UserCacheTTL:              GetDuration("USER_CACHE_TTL", 5*time.Minute),
		UserCacheCapacity:         GetInt("USER_CACHE_CAPACITY", 1000),
		PostCacheTTL:              GetDuration("POST_CACHE_TTL", time.Minute),
		PostCacheCapacity:         GetInt("POST_CACHE_CAPACITY", 500),
		AnnouncementCacheTTL:      GetDuration("ANNOUNCEMENT_CACHE_TTL", 5*time.Minute),
		AnnouncementCacheCapacity: GetInt("ANNOUNCEMENT_CACHE_CAPACITY", 100),
		CacheSweepInterval:        GetDuration("CACHE_SWEEP_INTERVAL", time.Minute),

		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
