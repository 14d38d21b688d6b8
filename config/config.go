package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port             string
	JWTSecret        string
	JWTExpiry        int // in hours
	LogLevel         string
	LogFormat        string // "json" or "console"
	MaxMessageLength int

	DBPath  string
	DBDebug bool

	UploadDir      string
	UploadBaseURL  string
	MaxUploadBytes int64

	SendBuffer      int // outbound frames queued per connection
	AllowedOrigins  string
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	port := getEnv("PORT", "8081")
	return Config{
		Port:             port,
		JWTSecret:        getEnv("JWT_SECRET", "dev-super-secret-change-me"),
		JWTExpiry:        getEnvAsInt("JWT_EXPIRY", 24),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "console"),
		MaxMessageLength: getEnvAsInt("MAX_MESSAGE_LENGTH", 1000),
		DBPath:           getEnv("DB_PATH", "chat.db"),
		DBDebug:          getEnv("DB_DEBUG", "false") == "true",
		UploadDir:        getEnv("UPLOAD_DIR", "uploads"),
		UploadBaseURL:    getEnv("UPLOAD_BASE_URL", "http://localhost:"+port+"/uploads"),
		MaxUploadBytes:   int64(getEnvAsInt("MAX_UPLOAD_BYTES", 5*1024*1024)),
		SendBuffer:       getEnvAsInt("SEND_BUFFER", 256),
		AllowedOrigins:   getEnv("CORS_ALLOWED_ORIGINS", "*"),
		ShutdownTimeout:  time.Duration(getEnvAsInt("SHUTDOWN_TIMEOUT", 30)) * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
