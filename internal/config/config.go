package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maneesh/studyfolders/internal/models"
)

// Config holds all application configuration
type Config struct {
	// Service configuration
	ServicePort string
	ServiceName string

	// Logging configuration
	LogLevel  string
	LogFormat string

	// MySQL configuration
	MySQLHost     string
	MySQLPort     string
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string

	// Redis configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Jaeger configuration
	JaegerEndpoint string
	TracingEnabled bool

	// Storage adapters
	StorageRequestTimeout time.Duration
	ClientCacheSize       int

	// Naming counters
	Naming NamingOptions

	// CodeReservationTTL bounds how long a reserved code high-water mark
	// outlives the creation that reserved it.
	CodeReservationTTL time.Duration
}

// NamingOptions holds counter starts and minimum digit widths per code scope
type NamingOptions struct {
	StudyCodeCounterStart          int
	StudyCodeMinimumDigits         int
	ExternalStudyCodeCounterStart  int
	ExternalStudyCodeMinimumDigits int
	AssayCodeCounterStart          int
	AssayCodeMinimumDigits         int
}

// DefaultNamingOptions returns the counter defaults used when no environment overrides are set.
func DefaultNamingOptions() NamingOptions {
	return NamingOptions{
		StudyCodeCounterStart:          10001,
		StudyCodeMinimumDigits:         5,
		ExternalStudyCodeCounterStart:  1,
		ExternalStudyCodeMinimumDigits: 5,
		AssayCodeCounterStart:          1,
		AssayCodeMinimumDigits:         3,
	}
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() (*Config, error) {
	def := DefaultNamingOptions()
	config := &Config{
		// Service defaults
		ServicePort: getEnv("SERVICE_PORT", "8080"),
		ServiceName: getEnv("SERVICE_NAME", "studyfolders-service"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// MySQL defaults
		MySQLHost:     getEnv("MYSQL_HOST", "localhost"),
		MySQLPort:     getEnv("MYSQL_PORT", "3306"),
		MySQLUser:     getEnv("MYSQL_USER", "root"),
		MySQLPassword: getEnv("MYSQL_PASSWORD", ""),
		MySQLDatabase: getEnv("MYSQL_DATABASE", "studyfolders"),

		// Redis defaults
		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// Jaeger defaults
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "localhost:4318"),
		TracingEnabled: getEnvAsBool("TRACING_ENABLED", true),

		StorageRequestTimeout: getEnvAsDuration("STORAGE_REQUEST_TIMEOUT", 30*time.Second),
		ClientCacheSize:       getEnvAsInt("STORAGE_CLIENT_CACHE_SIZE", 32),

		Naming: NamingOptions{
			StudyCodeCounterStart:          getEnvAsInt("STUDY_CODE_COUNTER_START", def.StudyCodeCounterStart),
			StudyCodeMinimumDigits:         getEnvAsInt("STUDY_CODE_MIN_DIGITS", def.StudyCodeMinimumDigits),
			ExternalStudyCodeCounterStart:  getEnvAsInt("EXTERNAL_STUDY_CODE_COUNTER_START", def.ExternalStudyCodeCounterStart),
			ExternalStudyCodeMinimumDigits: getEnvAsInt("EXTERNAL_STUDY_CODE_MIN_DIGITS", def.ExternalStudyCodeMinimumDigits),
			AssayCodeCounterStart:          getEnvAsInt("ASSAY_CODE_COUNTER_START", def.AssayCodeCounterStart),
			AssayCodeMinimumDigits:         getEnvAsInt("ASSAY_CODE_MIN_DIGITS", def.AssayCodeMinimumDigits),
		},
		CodeReservationTTL: getEnvAsDuration("CODE_RESERVATION_TTL", 10*time.Minute),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects counter settings that cannot produce codes.
func (c *Config) Validate() error {
	n := c.Naming
	for name, v := range map[string]int{
		"STUDY_CODE_MIN_DIGITS":          n.StudyCodeMinimumDigits,
		"EXTERNAL_STUDY_CODE_MIN_DIGITS": n.ExternalStudyCodeMinimumDigits,
		"ASSAY_CODE_MIN_DIGITS":          n.AssayCodeMinimumDigits,
	} {
		if v < 1 {
			return fmt.Errorf("%s: must be at least 1, got %d", name, v)
		}
	}
	for name, v := range map[string]int{
		"STUDY_CODE_COUNTER_START":          n.StudyCodeCounterStart,
		"EXTERNAL_STUDY_CODE_COUNTER_START": n.ExternalStudyCodeCounterStart,
		"ASSAY_CODE_COUNTER_START":          n.AssayCodeCounterStart,
	} {
		if v < 0 {
			return fmt.Errorf("%s: must not be negative, got %d", name, v)
		}
	}
	if c.CodeReservationTTL <= 0 {
		return fmt.Errorf("CODE_RESERVATION_TTL: must be positive")
	}
	return nil
}

// GetDSN returns the MySQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.MySQLUser,
		c.MySQLPassword,
		c.MySQLHost,
		c.MySQLPort,
		c.MySQLDatabase,
	)
}

// GetRedisAddr returns the Redis address, or "" when Redis is not configured
func (c *Config) GetRedisAddr() string {
	if c.RedisHost == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// EnvCredentials resolves a location's credential reference from the environment.
// A reference "ACME_S3" reads ACME_S3_ACCESS_KEY, ACME_S3_SECRET_KEY and ACME_S3_TOKEN.
type EnvCredentials struct{}

// Resolve implements storage.CredentialSource.
func (EnvCredentials) Resolve(ref string) (models.Credentials, error) {
	if ref == "" {
		return models.Credentials{}, nil
	}
	prefix := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(ref))
	creds := models.Credentials{
		AccessKey: os.Getenv(prefix + "_ACCESS_KEY"),
		SecretKey: os.Getenv(prefix + "_SECRET_KEY"),
		Token:     os.Getenv(prefix + "_TOKEN"),
	}
	if creds.AccessKey == "" && creds.SecretKey == "" && creds.Token == "" {
		return creds, fmt.Errorf("credential reference %q: no %s_* variables set", ref, prefix)
	}
	return creds, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
