package factory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"admin-auth-service/internal/alerting"
	"admin-auth-service/internal/audit"
	"admin-auth-service/internal/bucketing"
	"admin-auth-service/internal/client"
	"admin-auth-service/internal/config"
	"admin-auth-service/internal/encryption"
	"admin-auth-service/internal/gateway"
	"admin-auth-service/internal/handler"
	"admin-auth-service/internal/hashing"
	"admin-auth-service/internal/lockout"
	"admin-auth-service/internal/metrics"
	"admin-auth-service/internal/mfa"
	"admin-auth-service/internal/models"
	"admin-auth-service/internal/permission"
	"admin-auth-service/internal/ratelimit"
	chrepo "admin-auth-service/internal/repository/clickhouse"
	"admin-auth-service/internal/repository/elastic"
	redisrepo "admin-auth-service/internal/repository/redis"
	"admin-auth-service/internal/repository/scylla"
	"admin-auth-service/internal/session"
	"admin-auth-service/internal/sweeper"
	"admin-auth-service/internal/tls"
	"admin-auth-service/internal/token"
	"admin-auth-service/internal/util"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

var errIdentityStoreOffline = errors.New("identity store not initialized")

// Factory manages the lifecycle of all application dependencies.
type Factory struct {
	config     *config.Config
	logger     *zap.Logger
	tlsManager *tls.TLSManager
	registry   *prometheus.Registry

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	// Core
	auditLogger *audit.Logger
	adminRepo   *scylla.AdminUserRepository
	limiter     gateway.RateLimiter
	sessions    *session.Store
	gateway     *gateway.Gateway
	tokens      *token.Manager
	sweeper     *sweeper.Sweeper

	closeOnce sync.Once
}

// NewFactory loads configuration and wires every component.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()
	logger := util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	f := &Factory{
		config:   cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	if cfg.Metrics.Enabled {
		f.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics.Register(f.registry)
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(tls.TLSConfig{
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Production:  cfg.IsProduction(),
		}, logger.Named("tls"))
	}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := f.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}
	if err := f.initializeCore(); err != nil {
		return nil, fmt.Errorf("failed to initialize core: %w", err)
	}

	logger.Info("Factory initialized successfully",
		zap.String("environment", cfg.Environment),
		zap.String("state_backend", cfg.State.Backend),
		zap.Strings("audit_sinks", cfg.Audit.Sinks),
		zap.String("alert_hook", cfg.Audit.AlertHook),
		zap.Bool("tls_enabled", cfg.Server.EnableTLS),
		zap.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return f, nil
}

// initializeClients connects to the backends the configuration asks for.
// Failures abort startup in production and are logged elsewhere.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	if f.config.State.Backend == "redis" {
		if c, err := client.NewRedisClient(f.config, f.logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else {
			f.redisClient = c
		}
	}

	if c, err := scylla.NewScyllaClient(f.config, f.logger); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else if err := c.EnsureSchema(ctx); err != nil {
		c.Close()
		initErrors = append(initErrors, fmt.Errorf("scylla schema: %w", err))
	} else {
		f.scyllaClient = c
	}

	if f.config.HasSink("elasticsearch") {
		if c, err := client.NewElasticsearchClient(f.config, f.logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else if err := c.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
		} else {
			f.esClient = c
		}
	}

	if f.config.HasSink("clickhouse") {
		if c, err := client.NewClickHouseClient(f.config, f.logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else if err := chrepo.NewSecurityEventStore(c).EnsureSchema(ctx); err != nil {
			_ = c.Close()
			initErrors = append(initErrors, fmt.Errorf("clickhouse schema: %w", err))
		} else {
			f.clickhouseClient = c
		}
	}

	if f.config.Audit.AlertHook == "kafka" {
		if p, err := client.NewKafkaProducer(f.config, f.logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
		} else {
			f.kafkaProducer = p
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %w", errors.Join(initErrors...))
		}
		for _, err := range initErrors {
			f.logger.Warn("Service initialization warning", zap.Error(err))
		}
	}
	return nil
}

func (f *Factory) initializeManagers() error {
	f.hasher = hashing.NewHasher(f.config)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	var keys encryption.KeyService
	if f.config.KMS.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		kmsClient, err := encryption.NewKMSClient(ctx, f.config)
		if err != nil {
			return err
		}
		keys = encryption.NewKMSKeyService(kmsClient, f.config.KMS.KeyID)
	} else {
		if f.config.IsProduction() && f.config.KMS.MasterKey == "" {
			return errors.New("LOCAL_MASTER_KEY or KMS is required in production")
		}
		local, err := encryption.NewLocalKeyService(f.config.KMS.MasterKey)
		if err != nil {
			return err
		}
		keys = local
	}
	f.encryptionManager = encryption.NewEncryptionManager(keys)
	return nil
}

func (f *Factory) initializeCore() error {
	cfg := f.config

	matrix, err := permission.LoadMatrix(cfg.Auth.PermissionsFile)
	if err != nil {
		return err
	}

	f.auditLogger = audit.NewLogger(f.auditSink(), f.alertHook(), audit.Config{
		ChainKey:         []byte(cfg.Audit.ChainKey),
		SinkTimeout:      cfg.Audit.SinkTimeout,
		AlertTimeout:     cfg.Audit.AlertTimeout,
		FallbackCapacity: cfg.Audit.FallbackCapacity,
		JournalCapacity:  cfg.Audit.JournalCapacity,
	}, f.logger.Named("audit"))

	var store scylla.AdminStore = offlineStore{}
	if f.scyllaClient != nil {
		store = f.scyllaClient
	}
	f.adminRepo, err = scylla.NewAdminUserRepository(store, f.hasher, f.encryptionManager, f.logger.Named("admin_users"))
	if err != nil {
		return err
	}

	rlConfig := ratelimit.Config{Window: cfg.RateLimit.Window}
	localLimiter := ratelimit.New(f.auditLogger, rlConfig, f.logger.Named("ratelimit"))
	localLockouts := lockout.New()

	var lockouts gateway.LockoutTracker = localLockouts
	var windows sweeper.WindowSweeper = localLimiter
	f.limiter = localLimiter
	if f.redisClient != nil {
		cache := redisrepo.NewRateLimitCache(f.redisClient, localLimiter, f.auditLogger, rlConfig, f.logger.Named("ratelimit"))
		f.limiter = cache
		windows = cache
		lockouts = redisrepo.NewLockoutCache(f.redisClient, localLockouts, f.logger.Named("lockout"))
	}

	f.sessions = session.NewStore(f.auditLogger, session.Config{
		Timeout:          cfg.Session.Timeout,
		SensitiveTimeout: cfg.Session.SensitiveTimeout,
	}, f.logger.Named("session"))

	f.gateway = gateway.New(gateway.Deps{
		Credentials: f.adminRepo,
		Roles:       f.adminRepo,
		MFA:         mfa.NewTOTPVerifier(f.adminRepo, cfg.Auth.TOTPSkew, nil),
		Limiter:     f.limiter,
		Lockouts:    lockouts,
		Permissions: matrix,
		Sessions:    f.sessions,
		Recorder:    f.auditLogger,
	}, gateway.Config{
		LoginLimit:         cfg.Auth.LoginLimit,
		EmergencyLimit:     cfg.Auth.EmergencyLimit,
		MaxFailures:        cfg.Auth.MaxFailures,
		VerifierTimeout:    cfg.Auth.VerifierTimeout,
		EmergencyCodeHash:  []byte(cfg.Auth.EmergencyCodeHash),
		KeyBySourceAddress: cfg.Auth.KeyBySourceAddr,
	}, f.logger.Named("gateway"))

	f.tokens = token.NewManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenIssuer, 0, nil)
	f.sweeper = sweeper.New(f.sessions, windows, f.auditLogger, cfg.Sweeper.Interval, f.logger.Named("sweeper"))
	return nil
}

// auditSink fans out to every configured sink whose client came up.
func (f *Factory) auditSink() audit.Sink {
	var sinks []audit.Sink
	for _, name := range f.config.Audit.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, audit.NewLogSink(f.logger.Named("security")))
		case "scylla":
			if f.scyllaClient != nil {
				sinks = append(sinks, scylla.NewSecurityEventRepository(f.scyllaClient, f.bucketingManager))
			}
		case "elasticsearch":
			if f.esClient != nil {
				sinks = append(sinks, elastic.NewSecurityEventIndex(f.esClient, f.config.Audit.Index))
			}
		case "clickhouse":
			if f.clickhouseClient != nil {
				sinks = append(sinks, chrepo.NewSecurityEventStore(f.clickhouseClient))
			}
		}
	}

	switch len(sinks) {
	case 0:
		f.logger.Warn("no audit sink available, falling back to log sink")
		return audit.NewLogSink(f.logger.Named("security"))
	case 1:
		return sinks[0]
	default:
		return audit.NewMultiSink(sinks...)
	}
}

func (f *Factory) alertHook() audit.AlertHook {
	if f.kafkaProducer != nil {
		return alerting.NewKafkaAlertHook(f.kafkaProducer, f.config.Audit.AlertTopic, "admin-auth")
	}
	return audit.NewLogAlertHook(f.logger.Named("alert"))
}

// Start launches background work.
func (f *Factory) Start() error {
	return f.sweeper.Start()
}

// Router builds the HTTP handler tree.
func (f *Factory) Router() http.Handler {
	admin := handler.NewAdminHandler(f.gateway, f.tokens, f.auditLogger, f.logger.Named("http"))

	var registry *prometheus.Registry
	if f.config.Metrics.Enabled {
		registry = f.registry
	}
	// validated in NewFactory
	trusted, _ := f.config.TrustedProxyPrefixes()

	return handler.NewRouter(admin, f, handler.RouterConfig{
		RequireHTTPS:   f.config.Server.EnableTLS,
		TrustedProxies: trusted,
		CORSOrigins:    f.config.Server.CORSOrigins,
		RequestTimeout: f.config.Server.WriteTimeout,
		MetricsPath:    f.config.Metrics.Path,
		Registry:       registry,
	}, f.logger)
}

// HealthCheck reports every configured dependency that is down.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.scyllaClient == nil {
		healthErrors["scylla"] = errIdentityStoreOffline
	} else if err := f.scyllaClient.HealthCheck(ctx); err != nil {
		healthErrors["scylla"] = err
	}

	if f.config.State.Backend == "redis" {
		if f.redisClient == nil {
			healthErrors["redis"] = errors.New("redis client not initialized")
		} else if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(ctx); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if n := f.auditLogger.Pending(); n > 0 {
		healthErrors["audit_sink"] = fmt.Errorf("%d events awaiting redelivery", n)
	}

	return healthErrors
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		f.logger.Info("Shutting down factory...")

		if f.sweeper != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			f.sweeper.Stop(ctx)
			cancel()
		}

		if f.auditLogger != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if n := f.auditLogger.Redeliver(ctx); n > 0 {
				f.logger.Info("Flushed buffered audit events", zap.Int("count", n))
			}
			if pending := f.auditLogger.Pending(); pending > 0 {
				f.logger.Error("Audit events lost on shutdown", zap.Int("count", pending))
			}
			cancel()
		}

		if f.kafkaProducer != nil {
			_ = f.kafkaProducer.Close()
		}
		if f.clickhouseClient != nil {
			_ = f.clickhouseClient.Close()
		}
		if f.esClient != nil {
			f.esClient.Close()
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			_ = f.redisClient.Close()
		}
		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		f.logger.Info("Factory shutdown completed")
		util.Sync()
	})
	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Logger() *zap.Logger {
	return f.logger
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

// offlineStore stands in for Scylla when it failed to start outside
// production, so logins answer service_unavailable instead of panicking.
type offlineStore struct{}

func (offlineStore) GetAdminByEmail(context.Context, string) (*models.AdminUser, error) {
	return nil, errIdentityStoreOffline
}

func (offlineStore) UpsertAdmin(context.Context, *models.AdminUser) error {
	return errIdentityStoreOffline
}

func (offlineStore) UpdatePasswordHash(context.Context, string, string) error {
	return errIdentityStoreOffline
}
