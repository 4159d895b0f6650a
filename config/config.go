package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MaxWorkers int
	JobCount   int
	Port       string
	NatsURL    string

	Environment string
	LogLevel    string

	EnableHTTP bool
	EnableNATS bool

	WorkspaceRoot   string
	WorkspaceMaxAge time.Duration
	DefaultLanguage string
	ToolchainFile   string
	MaxCodeLength   int

	SandboxMode     string // host or docker
	SandboxImage    string
	SandboxMemoryMB int
	SandboxCPUs     float64

	BetterStackUploadURL   string
	BetterStackSourceToken string
	ExecutionLogPath       string
}

func LoadConfig() Config {
	err := godotenv.Load(".env")
	if err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	return Config{
		MaxWorkers: getEnvInt("MAX_WORKERS", 4),
		JobCount:   getEnvInt("JOB_COUNT", 64),
		Port:       getEnv("PORT", "8000"),
		NatsURL:    getEnv("NATSURL", "nats://localhost:4222"),

		Environment: getEnv("ENVIRONMENT", "production"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		EnableHTTP: getEnvBool("ENABLE_HTTP", true),
		EnableNATS: getEnvBool("ENABLE_NATS", false),

		WorkspaceRoot:   getEnv("WORKSPACE_ROOT", ""),
		WorkspaceMaxAge: getEnvDuration("WORKSPACE_MAX_AGE", time.Hour),
		DefaultLanguage: getEnv("DEFAULT_LANGUAGE", "python"),
		ToolchainFile:   getEnv("TOOLCHAIN_FILE", ""),
		MaxCodeLength:   getEnvInt("MAX_CODE_LENGTH", 10000),

		SandboxMode:     strings.ToLower(getEnv("SANDBOX_MODE", "host")),
		SandboxImage:    getEnv("SANDBOX_IMAGE", "codeexec-worker"),
		SandboxMemoryMB: getEnvInt("SANDBOX_MEMORY_MB", 200),
		SandboxCPUs:     getEnvFloat("SANDBOX_CPUS", 1),

		BetterStackUploadURL:   getEnv("BETTERSTACKUPLOADURL", ""),
		BetterStackSourceToken: getEnv("BETTERSTACKSOURCETOKEN", ""),
		ExecutionLogPath:       getEnv("EXECUTION_LOG_PATH", "executions.log"),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
