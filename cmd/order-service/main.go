// order-service принимает заказы и ведет сагу оформления: проверка остатков, оплата, завершение.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/akriventsev/shopsaga/framework/adapters/messagebus"
	"github.com/akriventsev/shopsaga/framework/adapters/repository"
	"github.com/akriventsev/shopsaga/framework/invoke"
	"github.com/akriventsev/shopsaga/framework/observability"
	"github.com/akriventsev/shopsaga/internal/app"
	"github.com/akriventsev/shopsaga/internal/config"
	"github.com/akriventsev/shopsaga/internal/order"
	"github.com/akriventsev/shopsaga/internal/relay"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatal().Err(err).Msg("order-service failed")
	}
}

func run(ctx context.Context, configPath string) error {
	a, err := app.New("order-service", configPath)
	if err != nil {
		return err
	}
	cfg := a.Config

	repo, err := newRepository(ctx, a)
	if err != nil {
		return err
	}

	requester := invoke.NewRequester(a.Bus, a.Logger,
		invoke.WithCleanupDelay(cfg.Timeouts.ReplyCleanup),
		invoke.WithMetrics(a.Metrics),
	)

	var fallback order.PaymentFallback
	if cfg.Payment.FallbackURL != "" {
		fallback = order.NewHTTPPaymentFallback(cfg.Payment.FallbackURL, cfg.Payment.FallbackTimeout)
	}

	orchestrator := order.NewOrchestrator(repo, a.Bus, requester, fallback, order.Options{
		ValidationTimeout: cfg.Timeouts.Validation,
		PaymentTimeout:    cfg.Timeouts.Payment,
		FallbackTimeout:   cfg.Payment.FallbackTimeout,
		DefaultCurrency:   cfg.Payment.DefaultCurrency,
	}, a.Logger, a.Metrics)
	if err := a.Container.Register("order-saga", orchestrator.Start, nil); err != nil {
		return err
	}

	if cfg.Relay.Enabled {
		writer, err := messagebus.NewKafkaWriter(cfg.Relay.Kafka)
		if err != nil {
			return err
		}
		r := relay.New(a.Bus, writer, a.Logger)
		if err := a.Container.Register("lifecycle-relay", r.Start, r.Stop); err != nil {
			return err
		}
	}

	order.NewAPI(orchestrator).Register(a.Router)
	return a.Run(ctx)
}

func newRepository(ctx context.Context, a *app.App) (order.Repository, error) {
	if a.Config.Store != config.StoreMongo {
		return order.NewMemoryRepository(), nil
	}

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
	return order.NewMongoRepository(ctx, client.Database(a.Config.Mongo.Database))
}
