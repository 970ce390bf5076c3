// payment-service создает платежи через провайдера и публикует их итог по webhook подтверждениям.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/akriventsev/shopsaga/framework/adapters/repository"
	"github.com/akriventsev/shopsaga/framework/observability"
	"github.com/akriventsev/shopsaga/internal/app"
	"github.com/akriventsev/shopsaga/internal/config"
	"github.com/akriventsev/shopsaga/internal/payment"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatal().Err(err).Msg("payment-service failed")
	}
}

func run(ctx context.Context, configPath string) error {
	a, err := app.New("payment-service", configPath)
	if err != nil {
		return err
	}
	cfg := a.Config

	var (
		repo   payment.Repository = payment.NewMemoryRepository()
		locker payment.Locker     = payment.NewMemoryLocker()
	)
	// в режиме mongo реплик может быть несколько, поэтому блокировка уходит в Redis
	if cfg.Store == config.StoreMongo {
		if repo, err = newMongoRepository(ctx, a); err != nil {
			return err
		}
		if locker, err = newRedisLocker(ctx, a); err != nil {
			return err
		}
	}

	if cfg.Payment.SecretKey == "" {
		a.Logger.Warn().Msg("payment provider secret key is not set, card payments will be rejected")
	}
	svc := payment.NewService(repo, payment.NewSandboxProvider(cfg.Payment.SecretKey), locker, a.Bus,
		payment.Options{DefaultCurrency: cfg.Payment.DefaultCurrency, LockTTL: cfg.Payment.LockTTL},
		a.Logger, a.Metrics)
	if err := a.Container.Register("payment-service", svc.Start, nil); err != nil {
		return err
	}

	payment.NewAPI(svc, cfg.Payment.WebhookSecret).Register(a.Router)
	return a.Run(ctx)
}

func newMongoRepository(ctx context.Context, a *app.App) (payment.Repository, error) {
	client, err := repository.ConnectMongo(ctx, a.Config.Mongo)
	if err != nil {
		return nil, err
	}
	if err := a.Container.RegisterCloser("mongo", client.Disconnect); err != nil {
		return nil, err
	}
	a.Health.Register(observability.NewCheck("mongo", func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	}))
	return payment.NewMongoRepository(ctx, client.Database(a.Config.Mongo.Database))
}

func newRedisLocker(ctx context.Context, a *app.App) (payment.Locker, error) {
	client, err := repository.NewRedisClient(ctx, a.Config.Redis)
	if err != nil {
		return nil, err
	}
	if err := a.Container.RegisterCloser("redis", func(context.Context) error { return client.Close() }); err != nil {
		return nil, err
	}
	a.Health.Register(observability.NewCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}))
	return payment.NewRedisLocker(client), nil
}
