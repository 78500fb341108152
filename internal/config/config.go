package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var (
	ErrMissingJWTSecret    = errors.New("AUTH_JWT_SECRET must be at least 32 bytes")
	ErrMissingAuditKey     = errors.New("AUDIT_CHAIN_KEY must be at least 32 bytes in production")
	ErrInvalidStateBackend = errors.New("STATE_BACKEND must be memory or redis")
	ErrInvalidAuditSink    = errors.New("unknown audit sink")
	ErrInvalidLimits       = errors.New("rate limit and lockout thresholds must be positive")
	ErrInvalidWindow       = errors.New("RATE_LIMIT_WINDOW must be at least 1ms")
	ErrInvalidProxy        = errors.New("SERVER_TRUSTED_PROXIES entries must be IPs or CIDRs")
	ErrInvalidTimeouts     = errors.New("session timeouts must be positive and sensitive <= normal")
)

type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Auth          AuthConfig
	Session       SessionConfig
	RateLimit     RateLimitConfig
	Audit         AuditConfig
	State         StateConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	Sweeper       SweeperConfig
	Metrics       MetricsConfig
}

type ServerConfig struct {
	Port           int
	TLSPort        int
	EnableTLS      bool
	AutoCert       bool
	Domain         string
	CertFile       string
	KeyFile        string
	AutoCertDir    string
	Email          string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	CORSOrigins    []string
	// Peers allowed to set X-Forwarded-For. Empty means the socket peer is
	// always the client address.
	TrustedProxies []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type AuthConfig struct {
	JWTSecret       string
	TokenIssuer     string
	VerifierTimeout time.Duration
	MaxFailures     int
	LoginLimit      int
	EmergencyLimit  int
	// bcrypt hash of the break-glass code; empty disables the path.
	EmergencyCodeHash string
	PermissionsFile   string
	KeyBySourceAddr   bool
	TOTPSkew          uint
}

type SessionConfig struct {
	Timeout          time.Duration
	SensitiveTimeout time.Duration
}

type RateLimitConfig struct {
	Window time.Duration
}

type AuditConfig struct {
	ChainKey         string
	SinkTimeout      time.Duration
	AlertTimeout     time.Duration
	FallbackCapacity int
	JournalCapacity  int
	Sinks            []string
	AlertHook        string
	AlertTopic       string
	Index            string
}

type StateConfig struct {
	Backend string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers []string
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type KMSConfig struct {
	Enabled   bool
	KeyID     string
	Region    string
	MasterKey string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	Pepper            string
	PepperVersion     int
	OldPeppers        map[int]string
}

type BucketingConfig struct {
	EventBuckets int
}

type SweeperConfig struct {
	Interval time.Duration
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

var (
	current *Config
	mu      sync.RWMutex
)

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: GetEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:           GetEnvInt("SERVER_PORT", 8080),
			TLSPort:        GetEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:      GetEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:       GetEnvBool("SERVER_AUTO_CERT", false),
			Domain:         GetEnv("SERVER_DOMAIN", "localhost"),
			CertFile:       GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:        GetEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:    GetEnv("SERVER_AUTO_CERT_DIR", "./certs"),
			Email:          GetEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:    GetEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   GetEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    GetEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			CORSOrigins:    GetEnvList("SERVER_CORS_ORIGINS", []string{"https://*"}),
			TrustedProxies: GetEnvList("SERVER_TRUSTED_PROXIES", nil),
		},
		Logging: LoggingConfig{
			Level:  GetEnv("LOG_LEVEL", "info"),
			Format: GetEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			JWTSecret:         GetEnv("AUTH_JWT_SECRET", ""),
			TokenIssuer:       GetEnv("AUTH_TOKEN_ISSUER", "surf-admin-auth"),
			VerifierTimeout:   GetEnvDuration("AUTH_VERIFIER_TIMEOUT", 3*time.Second),
			MaxFailures:       GetEnvInt("AUTH_MAX_FAILURES", 3),
			LoginLimit:        GetEnvInt("AUTH_LOGIN_LIMIT", 5),
			EmergencyLimit:    GetEnvInt("AUTH_EMERGENCY_LIMIT", 3),
			EmergencyCodeHash: GetEnv("AUTH_EMERGENCY_CODE_HASH", ""),
			PermissionsFile:   GetEnv("PERMISSIONS_FILE", ""),
			KeyBySourceAddr:   GetEnvBool("AUTH_KEY_BY_SOURCE_ADDR", true),
			TOTPSkew:          uint(GetEnvInt("AUTH_TOTP_SKEW", 1)),
		},
		Session: SessionConfig{
			Timeout:          GetEnvDuration("SESSION_TIMEOUT", time.Hour),
			SensitiveTimeout: GetEnvDuration("SESSION_SENSITIVE_TIMEOUT", 30*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Window: GetEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Audit: AuditConfig{
			ChainKey:         GetEnv("AUDIT_CHAIN_KEY", ""),
			SinkTimeout:      GetEnvDuration("AUDIT_SINK_TIMEOUT", 2*time.Second),
			AlertTimeout:     GetEnvDuration("AUDIT_ALERT_TIMEOUT", 2*time.Second),
			FallbackCapacity: GetEnvInt("AUDIT_FALLBACK_CAPACITY", 1024),
			JournalCapacity:  GetEnvInt("AUDIT_JOURNAL_CAPACITY", 10000),
			Sinks:            GetEnvList("AUDIT_SINKS", []string{"log"}),
			AlertHook:        GetEnv("AUDIT_ALERT_HOOK", "log"),
			AlertTopic:       GetEnv("AUDIT_ALERT_TOPIC", "admin-security-alerts"),
			Index:            GetEnv("AUDIT_ES_INDEX", "admin-security-events"),
		},
		State: StateConfig{
			Backend: GetEnv("STATE_BACKEND", "memory"),
		},
		Redis: RedisConfig{
			URL:      GetEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetEnvInt("REDIS_DB", 0),
			PoolSize: GetEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    GetEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: GetEnv("SCYLLA_KEYSPACE", "surf_admin"),
			Username: GetEnv("SCYLLA_USERNAME", ""),
			Password: GetEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers: GetEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:      GetEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: GetEnv("ELASTICSEARCH_USERNAME", ""),
			Password: GetEnv("ELASTICSEARCH_PASSWORD", ""),
		},
		Clickhouse: ClickhouseConfig{
			URL:      GetEnv("CLICKHOUSE_URL", "http://localhost:9000"),
			Username: GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database: GetEnv("CLICKHOUSE_DATABASE", "surf_admin"),
		},
		KMS: KMSConfig{
			Enabled:   GetEnvBool("KMS_ENABLED", false),
			KeyID:     GetEnv("KMS_KEY_ID", ""),
			Region:    GetEnv("KMS_REGION", "eu-west-1"),
			MasterKey: GetEnv("LOCAL_MASTER_KEY", ""),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  GetEnvInt("ARGON2_MEMORY_COST", 64*1024),
			Argon2TimeCost:    GetEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism: GetEnvInt("ARGON2_PARALLELISM", 2),
			Pepper:            GetEnv("HASH_PEPPER", ""),
			PepperVersion:     GetEnvInt("HASH_PEPPER_VERSION", 1),
			OldPeppers:        parsePeppers(GetEnv("HASH_OLD_PEPPERS", "")),
		},
		Bucketing: BucketingConfig{
			EventBuckets: GetEnvInt("EVENT_BUCKETS", 64),
		},
		Sweeper: SweeperConfig{
			Interval: GetEnvDuration("SWEEP_INTERVAL", 2*time.Minute),
		},
		Metrics: MetricsConfig{
			Enabled: GetEnvBool("METRICS_ENABLED", true),
			Path:    GetEnv("METRICS_PATH", "/metrics"),
		},
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg
}

// Get returns the most recently loaded config, loading it on first use.
func Get() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg == nil {
		return LoadConfig()
	}
	return cfg
}

// Validate rejects configurations the service must not start with.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 32 {
		return ErrMissingJWTSecret
	}
	if c.IsProduction() && len(c.Audit.ChainKey) < 32 {
		return ErrMissingAuditKey
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		return err
	}
	switch c.State.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStateBackend, c.State.Backend)
	}
	for _, s := range c.Audit.Sinks {
		switch s {
		case "log", "scylla", "elasticsearch", "clickhouse":
		default:
			return fmt.Errorf("%w: %q", ErrInvalidAuditSink, s)
		}
	}
	if c.Auth.MaxFailures <= 0 || c.Auth.LoginLimit <= 0 || c.Auth.EmergencyLimit <= 0 || c.RateLimit.Window <= 0 {
		return ErrInvalidLimits
	}
	// windows are counted in whole milliseconds
	if c.RateLimit.Window < time.Millisecond {
		return fmt.Errorf("%w: %s", ErrInvalidWindow, c.RateLimit.Window)
	}
	if c.Session.Timeout <= 0 || c.Session.SensitiveTimeout <= 0 || c.Session.SensitiveTimeout > c.Session.Timeout {
		return ErrInvalidTimeouts
	}
	return nil
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

// TrustedProxyPrefixes parses Server.TrustedProxies. A bare address becomes a
// single-host prefix.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.Server.TrustedProxies))
	for _, raw := range c.Server.TrustedProxies {
		if p, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidProxy, raw)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// HasSink reports whether the named audit sink is enabled.
func (c *Config) HasSink(name string) bool {
	for _, s := range c.Audit.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func GetEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func GetEnvList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parsePeppers reads "2:oldpepper,3:older" into a version map.
func parsePeppers(raw string) map[int]string {
	out := make(map[int]string)
	for _, part := range strings.Split(raw, ",") {
		version, value, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			continue
		}
		v, err := strconv.Atoi(version)
		if err != nil {
			continue
		}
		out[v] = value
	}
	return out
}
