package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type PoolConfig struct {
	CoreSize      int
	MaxSize       int
	QueueCapacity int
	KeepAlive     time.Duration
}

type RetryConfig struct {
	Attempts     int
	InitialDelay time.Duration
	Multiplier   float64
	Cap          time.Duration
}

type Config struct {
	// Server
	ServerPort    string
	ServerHost    string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxUploadSize int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers              []string
	KafkaGroupID              string
	NotificationTopic         string
	AlertCustomerExpiredTopic string

	// File storage
	StorageBackend string // "local" or "s3"
	UploadDir      string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3Region       string
	S3UseSSL       bool

	// File processing
	AllowedExtensions []string
	BatchSize         int
	FilePool          PoolConfig
	NotificationPool  PoolConfig

	// Dispatcher retry
	ProducerRetry RetryConfig

	// Dedup cache
	DedupBackend    string // "memory" or "redis"
	DedupTTL        time.Duration
	DedupMaxEntries int

	// Notification rules
	RuleConfigPath          string
	ActiveServiceYears      int
	MaxExpiredServicesCount int

	// Schedulers
	FailedJobRetryInterval time.Duration
	RuleSweepInterval      time.Duration
	PoolMonitorInterval    time.Duration

	// SMTP
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
}

func Load() *Config {
	return &Config{
		ServerPort:    getEnv("SERVER_PORT", "8080"),
		ServerHost:    getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:   getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:  getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxUploadSize: int64(getIntEnv("MAX_UPLOAD_SIZE_BYTES", 16*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "cloudmon"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "cloudmon123"),
		PostgresDB:       getEnv("POSTGRES_DB", "cloudmon"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:              getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:              getEnv("KAFKA_GROUP_ID", "cloudmon-notifier"),
		NotificationTopic:         getEnv("KAFKA_NOTIFICATION_TOPIC", "notifications"),
		AlertCustomerExpiredTopic: getEnv("KAFKA_ALERT_CUSTOMER_EXPIRED_TOPIC", "alerts.customer-expired"),

		StorageBackend: getEnv("STORAGE_BACKEND", "local"),
		UploadDir:      getEnv("UPLOAD_DIR", "./uploads"),
		S3Endpoint:     getEnv("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:    getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("S3_SECRET_KEY", ""),
		S3Bucket:       getEnv("S3_BUCKET", "cloudmon-uploads"),
		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3UseSSL:       getBoolEnv("S3_USE_SSL", false),

		AllowedExtensions: getStringSliceEnv("ALLOWED_EXTENSIONS", []string{"csv"}),
		BatchSize:         getIntEnv("BATCH_SIZE", 100),

		FilePool: PoolConfig{
			CoreSize:      getIntEnv("FILE_POOL_CORE_SIZE", 2),
			MaxSize:       getIntEnv("FILE_POOL_MAX_SIZE", 5),
			QueueCapacity: getIntEnv("FILE_POOL_QUEUE_CAPACITY", 25),
			KeepAlive:     getDuration("FILE_POOL_KEEP_ALIVE", 60*time.Second),
		},
		NotificationPool: PoolConfig{
			CoreSize:      getIntEnv("NOTIFICATION_POOL_CORE_SIZE", 2),
			MaxSize:       getIntEnv("NOTIFICATION_POOL_MAX_SIZE", 4),
			QueueCapacity: getIntEnv("NOTIFICATION_POOL_QUEUE_CAPACITY", 50),
			KeepAlive:     getDuration("NOTIFICATION_POOL_KEEP_ALIVE", 60*time.Second),
		},

		ProducerRetry: RetryConfig{
			Attempts:     getIntEnv("PRODUCER_RETRY_ATTEMPTS", 3),
			InitialDelay: getDuration("PRODUCER_RETRY_INITIAL_DELAY", 100*time.Millisecond),
			Multiplier:   getFloatEnv("PRODUCER_RETRY_MULTIPLIER", 2.0),
			Cap:          getDuration("PRODUCER_RETRY_CAP", 5*time.Minute),
		},

		DedupBackend:    getEnv("DEDUP_BACKEND", "memory"),
		DedupTTL:        getDuration("DEDUP_TTL", 24*time.Hour),
		DedupMaxEntries: getIntEnv("DEDUP_MAX_ENTRIES", 100000),

		RuleConfigPath:          getEnv("RULE_CONFIG_PATH", ""),
		ActiveServiceYears:      getIntEnv("RULE_ACTIVE_SERVICE_YEARS", 5),
		MaxExpiredServicesCount: getIntEnv("RULE_MAX_EXPIRED_SERVICES", 3),

		FailedJobRetryInterval: getDuration("FAILED_JOB_RETRY_INTERVAL", 10*time.Minute),
		RuleSweepInterval:      getDuration("RULE_SWEEP_INTERVAL", 15*time.Minute),
		PoolMonitorInterval:    getDuration("POOL_MONITOR_INTERVAL", time.Hour),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getIntEnv("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
