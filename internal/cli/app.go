package cli

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"invite-service/internal/config"
	"invite-service/internal/consumer"
	"invite-service/internal/domain"
	"invite-service/internal/gateway"
	"invite-service/internal/handler"
	"invite-service/internal/httpclient"
	"invite-service/internal/lock"
	"invite-service/internal/notifier"
	"invite-service/internal/provisioner"
	"invite-service/internal/reconcile"
	"invite-service/internal/repository"
	"invite-service/internal/retry"
	"invite-service/internal/sender"
	"invite-service/internal/service"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

type entitlementStore interface {
	service.EntitlementRepository
	reconcile.EntitlementRepository
}

type pricingStore interface {
	service.PricingRepository
	Seed(ctx context.Context, tiers []domain.PricingTier) error
}

// app is the wired process. close releases everything it opened, in reverse.
type app struct {
	cfg          config.Config
	db           *sql.DB
	provider     domain.Provider
	pricing      pricingStore
	invoices     *service.InvoiceService
	callbacks    *service.CallbackProcessor
	entitlements *service.EntitlementService
	sweeper      *reconcile.Sweeper
	consumer     *consumer.KafkaConsumer
	closers      []func()
}

func newApp(ctx context.Context, cfg config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	var (
		txs  service.TransactionRepository
		ents entitlementStore
		logs notifier.LogRepository
	)
	switch cfg.StoreDriver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("could not connect to database: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, func() { db.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return nil, fmt.Errorf("database not reachable: %w", err)
		}
		txs = repository.NewPostgresTransactionRepository(db)
		ents = repository.NewPostgresEntitlementRepository(db)
		a.pricing = repository.NewPostgresPricingRepository(db)
		logs = repository.NewPostgresNotificationLogRepository(db)
	default:
		log.Warn("Using in-memory store, records are lost on restart")
		txs = repository.NewMemoryTransactionRepository()
		ents = repository.NewMemoryEntitlementRepository()
		a.pricing = repository.NewMemoryPricingRepository()
		logs = repository.NewMemoryNotificationLogRepository()
	}

	locker, err := a.newLocker(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.newPublisher()
	if err != nil {
		return nil, err
	}

	var email sender.EmailSender
	if cfg.SMTP.Enabled() {
		email = sender.NewSMTPEmailSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From)
	} else {
		log.Info("SMTP not configured, email copies disabled")
	}
	loc := cfg.Location()
	dispatcher := notifier.NewDispatcher(publisher, email, logs, loc, cfg.AdminBuyerID)

	gw, err := gateway.New(cfg, httpclient.New(cfg.PaymentProvider, cfg.GatewayTimeout), gateway.Options{
		CallbackURL: cfg.CallbackURL,
		ReturnURL:   cfg.ReturnURL,
		Location:    loc,
	})
	if err != nil {
		return nil, err
	}
	a.provider = gw.Kind()

	access := provisioner.NewClient(cfg.Provisioner.URL, cfg.Provisioner.Token,
		httpclient.New("provisioner", cfg.Provisioner.Timeout))
	gatewayPolicy := retry.FromConfig(cfg.Retry, cfg.GatewayTimeout)
	provisionPolicy := retry.FromConfig(cfg.Retry, cfg.Provisioner.Timeout)

	a.invoices = service.NewInvoiceService(txs, a.pricing, gw, locker, gatewayPolicy)
	a.callbacks = service.NewCallbackProcessor(txs, gw, locker, dispatcher)
	a.entitlements = service.NewEntitlementService(txs, ents, access, dispatcher, locker, provisionPolicy)
	a.sweeper = reconcile.NewSweeper(ents, access, dispatcher, locker, provisionPolicy, reconcile.Options{
		ReminderLead: cfg.Sweep.ReminderLead,
		Retention:    cfg.Sweep.Retention,
		ItemTimeout:  itemTimeout(cfg),
	})

	log.WithFields(log.Fields{
		"provider": a.provider,
		"store":    cfg.StoreDriver,
		"kafka":    cfg.Kafka.Enabled(),
		"redis":    cfg.Redis.Addr != "",
		"smtp":     cfg.SMTP.Enabled(),
	}).Info("Service wired")
	return a, nil
}

// itemTimeout leaves room for every provisioning attempt plus the backoff
// between them.
func itemTimeout(cfg config.Config) time.Duration {
	attempts := time.Duration(max(cfg.Retry.Attempts, 1))
	return attempts*(cfg.Provisioner.Timeout+cfg.Retry.MaxDelay) + 10*time.Second
}

func (a *app) newLocker(ctx context.Context) (lock.Locker, error) {
	if a.cfg.Redis.Addr == "" {
		return lock.NewMemoryLocker(), nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{a.cfg.Redis.Addr},
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.closers = append(a.closers, func() { client.Close() })
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis not reachable: %w", err)
	}
	log.WithField("addr", a.cfg.Redis.Addr).Info("Using Redis for record locks")
	return lock.NewRedisLocker(client, a.cfg.Redis.LockTTL), nil
}

func (a *app) newPublisher() (notifier.Publisher, error) {
	if !a.cfg.Kafka.Enabled() {
		log.Warn("KAFKA_BOOTSTRAP_SERVERS is not set, notifications are only logged")
		return notifier.LogPublisher{}, nil
	}
	log.WithField("kafka_servers", a.cfg.Kafka.Servers()).Info("Connecting to Kafka")
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  a.cfg.Kafka.Servers(),
		"acks":               "all",
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	publisher := notifier.NewKafkaPublisher(producer, a.cfg.Kafka.NotificationTopic)
	a.closers = append(a.closers, publisher.Close)
	return publisher, nil
}

// startConsumer subscribes to the email-capture topic. It is a no-op without
// brokers.
func (a *app) startConsumer() error {
	if !a.cfg.Kafka.Enabled() {
		return nil
	}
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  a.cfg.Kafka.Servers(),
		"group.id":           a.cfg.Kafka.GroupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	kc, err := consumer.NewKafkaConsumer(c, a.cfg.Kafka.EmailTopic, handler.NewEmailCaptureHandler(a.entitlements))
	if err != nil {
		c.Close()
		return fmt.Errorf("failed to subscribe to topic: %w", err)
	}
	a.consumer = kc
	a.closers = append(a.closers, func() { kc.Close() })
	return nil
}

// seedPricing inserts the configured tiers that the store does not have yet.
func (a *app) seedPricing(ctx context.Context) error {
	tiers, err := config.LoadPricing(a.cfg.Pricing)
	if err != nil {
		return err
	}
	if err := a.pricing.Seed(ctx, tiers); err != nil {
		return fmt.Errorf("failed to seed pricing: %w", err)
	}
	log.WithField("tiers", len(tiers)).Info("Pricing tiers loaded")
	return nil
}

func (a *app) router() http.Handler {
	deps := handler.RouterDeps{
		Provider:     a.provider,
		Callbacks:    a.callbacks,
		Invoices:     a.invoices,
		Entitlements: a.entitlements,
		Location:     a.cfg.Location(),
	}
	if a.db != nil {
		deps.Health = a.db
	}
	if a.cfg.CallbackRateLimit > 0 {
		deps.CallbackLimiter = handler.NewRateLimiter(a.cfg.CallbackRateLimit, a.cfg.CallbackBurst)
	}
	return handler.NewRouter(deps)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
