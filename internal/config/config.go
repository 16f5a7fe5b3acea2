package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Logging     LoggingConfig
	OTP         OTPConfig
	SMS         SMSConfig
	Redis       RedisConfig
	Audit       AuditConfig
	KMS         KMSConfig
	Hashing     HashingConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RequestTimeout bounds a single handler, including SMS dispatch.
	RequestTimeout time.Duration
	RequireTLS     bool
	AllowedOrigins []string
	TLS            TLSConfig

	// AdminToken guards PUT /api/v1/otp/provider. The route is not mounted
	// when it is empty.
	AdminToken string
}

// TLSConfig enables an HTTPS listener. Certificates come from ACME when a
// domain is set, else from the key pair files, else a self-signed
// development certificate.
type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
	Domain   string
	CacheDir string
	Email    string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// OTPConfig carries the provider settings. Durations are whole seconds to
// match the values callers see in responses.
type OTPConfig struct {
	Provider              string
	DryRun                bool
	SigningSecret         string
	SigningSecretKMS      string
	HashAlgorithm         string
	TTLSeconds            int
	ResendCooldownSeconds int
	MaxAttempts           int
	LockoutSeconds        int
	RatePerMinute         int
	RatePerHour           int
	RatePerDay            int
	DefaultCountryCode    string
	MockCodes             []string
	CleanupInterval       time.Duration
	Store                 string
	StoreShards           int
}

type SMSConfig struct {
	Transport string
	Netgsm    NetgsmConfig
	SNS       SNSConfig
}

type NetgsmConfig struct {
	UserCode  string
	Password  string
	MsgHeader string
	URL       string
	Timeout   time.Duration
}

type SNSConfig struct {
	Region   string
	SenderID string
	Timeout  time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type AuditConfig struct {
	QueueSize     int
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
	Index    string
}

type KMSConfig struct {
	Region string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
}

const (
	DefaultNetgsmURL    = "https://api.netgsm.com.tr/sms/send/get"
	minAdminTokenLength = 32
)

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestTimeout: getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			RequireTLS:     getEnvAsBool("SERVER_REQUIRE_TLS", false),
			AllowedOrigins: getEnvAsSlice("SERVER_ALLOWED_ORIGINS", []string{"https://*"}),
			TLS: TLSConfig{
				Enabled:  getEnvAsBool("SERVER_TLS_ENABLED", false),
				CertFile: getEnv("SERVER_TLS_CERT_FILE", ""),
				KeyFile:  getEnv("SERVER_TLS_KEY_FILE", ""),
				Domain:   getEnv("SERVER_TLS_DOMAIN", ""),
				CacheDir: getEnv("SERVER_TLS_CACHE_DIR", "./certs"),
				Email:    getEnv("SERVER_TLS_EMAIL", ""),
			},
			AdminToken: getEnv("SERVER_ADMIN_TOKEN", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		OTP: OTPConfig{
			Provider:              getEnv("OTP_PROVIDER", "sms"),
			DryRun:                getEnvAsBool("OTP_DRY_RUN", false),
			SigningSecret:         getEnv("OTP_SIGNING_SECRET", ""),
			SigningSecretKMS:      getEnv("OTP_SIGNING_SECRET_KMS", ""),
			HashAlgorithm:         getEnv("OTP_HASH_ALGORITHM", "hmac-sha256"),
			TTLSeconds:            getEnvAsInt("OTP_TTL_SECONDS", 180),
			ResendCooldownSeconds: getEnvAsInt("OTP_RESEND_COOLDOWN_SECONDS", 90),
			MaxAttempts:           getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
			LockoutSeconds:        getEnvAsInt("OTP_LOCKOUT_SECONDS", 300),
			RatePerMinute:         getEnvAsInt("OTP_RATE_PER_MINUTE", 1),
			RatePerHour:           getEnvAsInt("OTP_RATE_PER_HOUR", 3),
			RatePerDay:            getEnvAsInt("OTP_RATE_PER_DAY", 5),
			DefaultCountryCode:    getEnv("OTP_DEFAULT_COUNTRY_CODE", "90"),
			MockCodes:             getEnvAsSlice("OTP_MOCK_CODES", []string{"123456"}),
			CleanupInterval:       getEnvAsDuration("OTP_CLEANUP_INTERVAL", time.Minute),
			Store:                 getEnv("OTP_STORE", "memory"),
			StoreShards:           getEnvAsInt("OTP_STORE_SHARDS", 64),
		},
		SMS: SMSConfig{
			Transport: getEnv("SMS_TRANSPORT", "netgsm"),
			Netgsm: NetgsmConfig{
				UserCode:  getEnv("NETGSM_USERCODE", ""),
				Password:  getEnv("NETGSM_PASSWORD", ""),
				MsgHeader: getEnv("NETGSM_MSGHEADER", ""),
				URL:       getEnv("NETGSM_URL", DefaultNetgsmURL),
				Timeout:   getEnvAsDuration("NETGSM_TIMEOUT", 10*time.Second),
			},
			SNS: SNSConfig{
				Region:   getEnv("AWS_REGION", ""),
				SenderID: getEnv("SNS_SENDER_ID", ""),
				Timeout:  getEnvAsDuration("SNS_TIMEOUT", 10*time.Second),
			},
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 20),
		},
		Audit: AuditConfig{
			QueueSize: getEnvAsInt("AUDIT_QUEUE_SIZE", 1024),
			Kafka: KafkaConfig{
				Brokers: getEnvAsSlice("AUDIT_KAFKA_BROKERS", nil),
				Topic:   getEnv("AUDIT_KAFKA_TOPIC", "otp-events"),
			},
			Clickhouse: ClickhouseConfig{
				URL:      getEnv("AUDIT_CLICKHOUSE_URL", ""),
				Username: getEnv("AUDIT_CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("AUDIT_CLICKHOUSE_PASSWORD", ""),
				Database: getEnv("AUDIT_CLICKHOUSE_DATABASE", "default"),
			},
			Elasticsearch: ElasticsearchConfig{
				URL:      getEnv("AUDIT_ELASTICSEARCH_URL", ""),
				Username: getEnv("AUDIT_ELASTICSEARCH_USERNAME", ""),
				Password: getEnv("AUDIT_ELASTICSEARCH_PASSWORD", ""),
				Index:    getEnv("AUDIT_ELASTICSEARCH_INDEX", "otp-events"),
			},
		},
		KMS: KMSConfig{
			Region: getEnv("AWS_REGION", ""),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getEnvAsInt("ARGON2_MEMORY_KB", 19456),
			Argon2TimeCost:    getEnvAsInt("ARGON2_TIME_COST", 2),
			Argon2Parallelism: getEnvAsInt("ARGON2_PARALLELISM", 1),
		},
	}
}

// Validate checks the values that cannot be defaulted sensibly.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT out of range: %d", c.Server.Port))
	}
	switch c.OTP.Provider {
	case "sms", "mock":
	default:
		errs = append(errs, fmt.Errorf("unknown OTP_PROVIDER %q", c.OTP.Provider))
	}
	switch c.OTP.Store {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown OTP_STORE %q", c.OTP.Store))
	}
	switch c.SMS.Transport {
	case "netgsm", "sns":
	default:
		errs = append(errs, fmt.Errorf("unknown SMS_TRANSPORT %q", c.SMS.Transport))
	}
	if c.OTP.TTLSeconds <= 0 {
		errs = append(errs, errors.New("OTP_TTL_SECONDS must be positive"))
	}
	if c.OTP.MaxAttempts <= 0 {
		errs = append(errs, errors.New("OTP_MAX_ATTEMPTS must be positive"))
	}
	if c.OTP.RatePerMinute <= 0 || c.OTP.RatePerHour <= 0 || c.OTP.RatePerDay <= 0 {
		errs = append(errs, errors.New("OTP_RATE_PER_* must be positive"))
	}
	// Dry run skips dispatch only; the sms provider still hashes with the
	// secret and reports unhealthy without one.
	if c.OTP.SigningSecret == "" && c.OTP.SigningSecretKMS == "" && (c.OTP.Provider != "mock" || !c.OTP.DryRun) {
		errs = append(errs, errors.New("OTP_SIGNING_SECRET or OTP_SIGNING_SECRET_KMS is required unless OTP_PROVIDER=mock with OTP_DRY_RUN"))
	}
	if c.OTP.Provider == "mock" && c.IsProduction() && !c.OTP.DryRun {
		errs = append(errs, errors.New("OTP_PROVIDER=mock in production requires OTP_DRY_RUN"))
	}
	if c.Server.AdminToken != "" && len(c.Server.AdminToken) < minAdminTokenLength {
		errs = append(errs, fmt.Errorf("SERVER_ADMIN_TOKEN must be at least %d characters", minAdminTokenLength))
	}
	if c.SMS.SNS.Timeout <= 0 || c.SMS.Netgsm.Timeout <= 0 {
		errs = append(errs, errors.New("NETGSM_TIMEOUT and SNS_TIMEOUT must be positive"))
	}
	if h := c.Hashing; h.Argon2MemoryCost <= 0 || h.Argon2TimeCost <= 0 || h.Argon2Parallelism <= 0 || h.Argon2Parallelism > 255 {
		errs = append(errs, errors.New("ARGON2_MEMORY_KB and ARGON2_TIME_COST must be positive, ARGON2_PARALLELISM within 1..255"))
	}
	if tc := c.Server.TLS; tc.Enabled && c.IsProduction() && tc.Domain == "" && (tc.CertFile == "" || tc.KeyFile == "") {
		errs = append(errs, errors.New("SERVER_TLS_ENABLED in production needs SERVER_TLS_DOMAIN or a certificate key pair"))
	}
	if c.OTP.StoreShards <= 0 {
		errs = append(errs, errors.New("OTP_STORE_SHARDS must be positive"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
