package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"otp-service/internal/audit"
	"otp-service/internal/bucketing"
	"otp-service/internal/client"
	"otp-service/internal/clock"
	"otp-service/internal/config"
	"otp-service/internal/encryption"
	"otp-service/internal/provider"
	"otp-service/internal/repository/memory"
	redisrepo "otp-service/internal/repository/redis"
	"otp-service/internal/service"
	"otp-service/internal/sms"
	"otp-service/internal/store"
	"otp-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config
	clock  clock.Clock

	// Clients
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	encryptionManager *encryption.EncryptionManager
	recorder          *audit.Recorder

	store          store.Store
	sender         sms.Sender
	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory(ctx context.Context) (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	factory := &Factory{
		config: cfg,
		clock:  clock.New(),
		closed: make(chan struct{}),
	}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := factory.initializeStore(initCtx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := factory.initializeSender(initCtx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize sms sender: %w", err)
	}
	if err := factory.initializeAudit(initCtx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize audit sinks: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("store", cfg.OTP.Store),
		util.String("sms_transport", cfg.SMS.Transport),
		util.Bool("audit_enabled", factory.recorder.Enabled()),
	)

	return factory, nil
}

func (f *Factory) initializeStore(ctx context.Context) error {
	switch f.config.OTP.Store {
	case "redis":
		rc, err := client.NewRedisClient(f.config.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		if err := rc.HealthCheck(ctx); err != nil {
			rc.Close()
			return fmt.Errorf("redis health check: %w", err)
		}
		f.redisClient = rc
		f.store = redisrepo.NewOTPCache(rc, f.clock)
		util.Info("Redis OTP store initialized and healthy")
	default:
		f.store = memory.NewStore(bucketing.NewBucketingManager(f.config.OTP.StoreShards))
		util.Info("In-memory OTP store initialized", util.Int("shards", f.config.OTP.StoreShards))
	}
	return nil
}

func (f *Factory) initializeSender(ctx context.Context) error {
	switch f.config.SMS.Transport {
	case sms.TransportSNS:
		awsCfg, err := f.awsConfig(ctx, f.config.SMS.SNS.Region)
		if err != nil {
			return err
		}
		f.sender = sms.NewSNSSender(sns.NewFromConfig(awsCfg), f.config.SMS.SNS)
	case sms.TransportNetgsm, "":
		f.sender = sms.NewNetgsmSender(f.config.SMS.Netgsm)
	default:
		return fmt.Errorf("%w: %q", sms.ErrUnknownTransport, f.config.SMS.Transport)
	}

	if err := f.sender.Validate(); err != nil {
		if !f.config.OTP.DryRun && f.config.OTP.Provider == provider.NameSMS {
			return err
		}
		util.Warn("SMS sender is not configured; sends will fail health checks", util.ErrorField(err))
	}
	return nil
}

// initializeAudit connects every configured sink. Outside production a
// broken sink is skipped with a warning.
func (f *Factory) initializeAudit(ctx context.Context) error {
	var (
		sinks      []audit.Sink
		initErrors []error
	)
	auditCfg := f.config.Audit

	if len(auditCfg.Kafka.Brokers) > 0 {
		if producer, err := client.NewKafkaProducer(auditCfg.Kafka); err != nil {
			initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
		} else {
			f.kafkaProducer = producer
			sinks = append(sinks, audit.NewKafkaSink(producer, auditCfg.Kafka.Topic))
			util.Info("Kafka audit sink initialized")
		}
	}

	if auditCfg.Clickhouse.URL != "" {
		if ch, err := client.NewClickHouseClient(auditCfg.Clickhouse, f.config.IsProduction()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = ch
			sink := audit.NewClickHouseSink(ch)
			if err := sink.EnsureSchema(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("clickhouse schema: %w", err))
			} else {
				sinks = append(sinks, sink)
				util.Info("ClickHouse audit sink initialized")
			}
		}
	}

	if auditCfg.Elasticsearch.URL != "" {
		if es, err := client.NewElasticsearchClient(auditCfg.Elasticsearch, f.config.IsDevelopment()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = es
			if err := es.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
			} else {
				sinks = append(sinks, audit.NewElasticsearchSink(es, auditCfg.Elasticsearch.Index))
				util.Info("Elasticsearch audit sink initialized")
			}
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return errors.Join(initErrors...)
		}
		for _, err := range initErrors {
			util.Warn("Audit sink initialization warning", util.ErrorField(err))
		}
	}

	if len(sinks) > 0 {
		f.recorder = audit.NewRecorder(auditCfg.QueueSize, f.clock, sinks...)
	}
	return nil
}

func (f *Factory) awsConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return cfg, fmt.Errorf("aws config: %w", err)
	}
	return cfg, nil
}

// SigningSecret returns the plaintext secret, unwrapping it through KMS when
// only the encrypted form is configured.
func (f *Factory) SigningSecret(ctx context.Context) (string, error) {
	otpCfg := f.config.OTP
	if otpCfg.SigningSecret != "" || otpCfg.SigningSecretKMS == "" {
		return otpCfg.SigningSecret, nil
	}

	if f.encryptionManager == nil {
		awsCfg, err := f.awsConfig(ctx, f.config.KMS.Region)
		if err != nil {
			return "", err
		}
		f.encryptionManager = encryption.NewEncryptionManager(kms.NewFromConfig(awsCfg))
	}
	return f.encryptionManager.ResolveSigningSecret(ctx, otpCfg.SigningSecret, otpCfg.SigningSecretKMS)
}

// ProviderConfig maps the loaded configuration onto the provider settings.
func (f *Factory) ProviderConfig(ctx context.Context) (provider.Config, error) {
	secret, err := f.SigningSecret(ctx)
	if err != nil {
		return provider.Config{}, fmt.Errorf("signing secret: %w", err)
	}
	return provider.ConfigFromApp(f.config, secret), nil
}

// ==============================
// Service Factory
// ==============================
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		deps := provider.Deps{
			Store:  f.store,
			Sender: f.sender,
			Clock:  f.clock,
		}
		if f.recorder.Enabled() {
			deps.Audit = f.recorder
		}
		f.serviceFactory = service.NewServiceFactory(deps, util.Get())
	}
	return f.serviceFactory
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.store != nil {
		if err := f.store.Ping(ctx); err != nil {
			healthErrors["store"] = err
		}
	} else {
		healthErrors["store"] = fmt.Errorf("otp store not initialized")
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

	return healthErrors
}

// IsHealthy ignores the audit sinks; only the store gates readiness.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	_, storeDown := f.HealthCheck(ctx)["store"]
	return !storeDown
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.recorder != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := f.recorder.Close(ctx); err != nil {
				util.Error("Failed to flush audit events", util.ErrorField(err))
			} else {
				util.Info("Audit recorder flushed")
			}
			cancel()
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Store() store.Store {
	return f.store
}
