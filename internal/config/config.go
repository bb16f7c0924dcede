package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerAddress   string
	JWTSecret       string
	JWTExpiration   time.Duration
	UploadDir       string
	DataDir         string
	MaxUploadSizeMB int64

	MongoURI string
	MongoDB  string
	RedisURI string

	FirebaseProjectID       string
	FirebaseCredentialsJSON string

	StorageBucket string

	SendGridAPIKey  string
	ReportFromEmail string
	ReportToEmail   string

	// ClusterRadius is the cluster merge radius in projected pixels.
	ClusterRadius float64

	RateLimitPerMinute int64

	PinExpiryInterval time.Duration
}

// Load reads .env (if present) and assembles the runtime configuration.
// Every value has a local-development default; production deployments set
// the environment explicitly.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServerAddress:   getEnv("SERVER_ADDRESS", ":8080"),
		JWTSecret:       getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		JWTExpiration:   getDuration("JWT_EXPIRATION", 24*time.Hour),
		UploadDir:       getEnv("UPLOAD_DIR", "./uploads"),
		DataDir:         getEnv("DATA_DIR", "./data"),
		MaxUploadSizeMB: getInt64("MAX_UPLOAD_SIZE_MB", 10),

		MongoURI: getEnv("MONGODB_URI", ""),
		MongoDB:  getEnv("MONGODB_DB", "trailmark"),
		RedisURI: getEnv("REDIS_URI", ""),

		FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseCredentialsJSON: getEnv("FIREBASE_CREDENTIALS_JSON", ""),

		StorageBucket: getEnv("STORAGE_BUCKET", ""),

		SendGridAPIKey:  getEnv("SENDGRID_API_KEY", ""),
		ReportFromEmail: getEnv("REPORT_FROM_EMAIL", "reports@trailmark.app"),
		ReportToEmail:   getEnv("REPORT_TO_EMAIL", "reports@trailmark.app"),

		ClusterRadius: getFloat("CLUSTER_RADIUS", 12),

		RateLimitPerMinute: getInt64("RATE_LIMIT_PER_MINUTE", 300),

		PinExpiryInterval: getDuration("PIN_EXPIRY_INTERVAL", time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
