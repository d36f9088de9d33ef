// Package app assembles the services from configuration. Both the API server and
// the cron runner start from Build.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bikefleet-backend/internal/cache"
	"bikefleet-backend/internal/config"
	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/escalation"
	"bikefleet-backend/internal/gateway"
	"bikefleet-backend/internal/lock"
	"bikefleet-backend/internal/logger"
	"bikefleet-backend/internal/notify"
	"bikefleet-backend/internal/repository/memory"
	"bikefleet-backend/internal/repository/postgres"
	"bikefleet-backend/internal/security"
	"bikefleet-backend/internal/service"
)

type App struct {
	Config *config.Config

	Payments service.PaymentService
	Billing  service.BillingService
	Rentals  service.RentalService
	Bookings service.BookingService
	Renewals service.RenewalService

	Tokens security.TokenManager
	APIKey *security.APIKeyVerifier

	ready   []func(ctx context.Context) error
	closers []func(ctx context.Context) error
}

// Build connects to every configured backend. On error whatever was opened is closed.
func Build(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	settings, err := SettingsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	repos, err := a.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repos.Tariffs = cache.NewTariffCache(repos.Tariffs, 5*time.Minute)

	gw := newGateway(cfg)

	locker, err := a.newLocker(ctx, cfg)
	if err != nil {
		return nil, err
	}

	channels := notify.Fanout{notify.Log{}}
	sinks := []escalation.Sink{escalation.NewStoreSink(repos.Issues)}

	if cfg.RabbitMQ.Enabled {
		conn, ch, err := notify.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return conn.Close() })
		if err := escalation.DeclareReviewQueue(ch, cfg.RabbitMQ.ReviewQueue); err != nil {
			return nil, err
		}
		channels = append(channels, notify.NewBotPublisher(ch, cfg.RabbitMQ.Exchange))
		sinks = append(sinks, escalation.NewQueueSink(ch, cfg.RabbitMQ.ReviewQueue))
		logger.Info("RabbitMQ connected", "exchange", cfg.RabbitMQ.Exchange, "review_queue", cfg.RabbitMQ.ReviewQueue)
	}

	if cfg.Firebase.Enabled {
		push, err := notify.NewFirebasePush(ctx, cfg.Firebase.CredentialsFile, repos.Clients)
		if err != nil {
			return nil, err
		}
		channels = append(channels, push)
		logger.Info("Firebase push enabled")
	}

	if cfg.SendGrid.Enabled {
		sinks = append(sinks, escalation.NewSendGridAlert(
			cfg.SendGrid.APIKey,
			cfg.SendGrid.FromEmail,
			cfg.SendGrid.FromName,
			cfg.SendGrid.AlertRecipients,
		))
		logger.Info("SendGrid alerts enabled", "recipients", len(cfg.SendGrid.AlertRecipients))
	}

	async := notify.NewAsync(channels, 256, 4, 10*time.Second)
	a.closers = append(a.closers, async.Close)
	escalator := escalation.New(sinks...)

	inventory := service.NewInventoryService(repos.Bikes, nil)
	a.Payments = service.NewPaymentService(repos, inventory, gw, locker, escalator, async, settings)
	a.Billing = service.NewBillingService(repos, a.Payments, gw, escalator, async, settings)
	a.Rentals = service.NewRentalService(repos.Rentals, repos.Bikes, a.Billing, async, settings)
	a.Bookings = service.NewBookingService(repos.Bookings, settings)
	a.Renewals = service.NewRenewalService(repos, a.Payments, a.Rentals, settings)

	a.Tokens = security.NewTokenManager(cfg.JWT.Secret, time.Duration(cfg.JWT.AccessTokenExpiry)*time.Minute)
	a.APIKey = security.NewAPIKeyVerifier(cfg.Admin.APIKeyHash)
	if cfg.Admin.APIKeyHash == "" {
		logger.Warn("admin.api_key_hash is empty; admin routes accept bearer tokens only")
	}

	return a, nil
}

// SettingsFromConfig converts the billing section into service settings
func SettingsFromConfig(cfg *config.Config) (service.Settings, error) {
	bookingCost, err := domain.ParseMoney(cfg.Billing.BookingCost)
	if err != nil {
		return service.Settings{}, fmt.Errorf("billing.booking_cost: %w", err)
	}
	saveCard, err := domain.ParseMoney(cfg.Billing.SaveCardAmount)
	if err != nil {
		return service.Settings{}, fmt.Errorf("billing.save_card_amount: %w", err)
	}
	if bookingCost <= 0 || saveCard <= 0 {
		return service.Settings{}, fmt.Errorf("billing amounts must be positive")
	}
	return service.Settings{
		BookingCost:       bookingCost,
		BookingHold:       time.Duration(cfg.Billing.BookingHoldMinutes) * time.Minute,
		DefaultRentalDays: cfg.Billing.DefaultRentalDays,
		SaveCardAmount:    saveCard,
		DefaultCity:       cfg.Billing.DefaultCity,
		ReturnURL:         cfg.Gateway.ReturnURL,
	}, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config) (service.Repositories, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using the in-memory store; data is lost on restart")
		store := memory.NewStore()
		seedDemo(store)
		return service.Repositories{
			Clients:  store.ClientRepository,
			Ledger:   store.LedgerRepository,
			Rentals:  store.RentalRepository,
			Bikes:    store.BikeRepository,
			Bookings: store.BookingRepository,
			Tariffs:  store.TariffRepository,
			Issues:   store.IssueRepository,
		}, nil
	}

	logger.Info("Connecting to database...", "host", cfg.Database.Host, "port", cfg.Database.Port, "database", cfg.Database.Database)
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return service.Repositories{}, err
	}
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })
	a.ready = append(a.ready, db.PingContext)
	logger.Info("Database connection established")

	store := postgres.NewStore(db)
	return service.Repositories{
		Clients:  store.ClientRepository,
		Ledger:   store.LedgerRepository,
		Rentals:  store.RentalRepository,
		Bikes:    store.BikeRepository,
		Bookings: store.BookingRepository,
		Tariffs:  store.TariffRepository,
		Issues:   store.IssueRepository,
	}, nil
}

func newGateway(cfg *config.Config) gateway.Gateway {
	if cfg.Gateway.Type == "yookassa" {
		logger.Info("Using YooKassa gateway", "base_url", cfg.Gateway.BaseURL, "shop_id", cfg.Gateway.ShopID)
		return gateway.NewYooKassaClient(
			cfg.Gateway.BaseURL,
			cfg.Gateway.ShopID,
			cfg.Gateway.SecretKey,
			cfg.Gateway.Currency,
			time.Duration(cfg.Gateway.TimeoutSeconds)*time.Second,
		)
	}
	logger.Warn("Using the mock payment gateway")
	base := cfg.Gateway.BaseURL
	if base == "" {
		base = "http://" + cfg.GetServerAddress() + "/mock-gateway"
	}
	return gateway.NewMockGateway(base)
}

func (a *App) newLocker(ctx context.Context, cfg *config.Config) (lock.Locker, error) {
	if !cfg.Redis.Enabled {
		return lock.NewLocal(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("could not connect to redis: %w", err)
	}
	a.ready = append(a.ready, func(ctx context.Context) error { return client.Ping(ctx).Err() })
	logger.Info("Redis lock enabled", "addr", cfg.Redis.Addr)
	return lock.NewRedis(client, time.Duration(cfg.Redis.LockTTLSeconds)*time.Second), nil
}

// Ready reports whether the store and lock backends answer
func (a *App) Ready(ctx context.Context) error {
	for _, check := range a.ready {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases backends in reverse order of opening
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// seedDemo gives the in-memory store something to rent
func seedDemo(store *memory.Store) {
	tariffID := store.AddTariff(domain.Tariff{Name: "Week", Price: 250000, DurationDays: 7, Active: true})
	for _, code := range []string{"DEMO-1", "DEMO-2", "DEMO-3"} {
		store.AddBike(domain.Bike{Code: code, TariffID: &tariffID, City: "Москва"})
	}
	for _, serial := range []string{"BAT-1", "BAT-2", "BAT-3", "BAT-4"} {
		store.AddBattery(domain.Battery{Serial: serial})
	}
	store.AddClient(domain.Client{ID: "demo-client", Name: "Demo Client", Phone: "+79000000000", City: "Москва"})
	logger.Info("Seeded demo data", "tariff_id", tariffID, "client_id", "demo-client")
}
