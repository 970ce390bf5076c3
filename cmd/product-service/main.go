// product-service хранит каталог и остатки, отвечает на проверку остатков и списывает их по завершенным заказам.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/akriventsev/shopsaga/framework/adapters/repository"
	"github.com/akriventsev/shopsaga/framework/invoke"
	"github.com/akriventsev/shopsaga/framework/migrations"
	"github.com/akriventsev/shopsaga/framework/observability"
	"github.com/akriventsev/shopsaga/internal/app"
	"github.com/akriventsev/shopsaga/internal/config"
	"github.com/akriventsev/shopsaga/internal/product"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatal().Err(err).Msg("product-service failed")
	}
}

func run(ctx context.Context, configPath string) error {
	a, err := app.New("product-service", configPath)
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
	reducer := product.NewStockReducer(repo, product.RequestOrderDetails(requester, cfg.Timeouts.OrderDetails),
		a.Bus, a.Logger, a.Metrics)

	svc := product.NewService(repo, a.Bus, reducer, a.Logger)
	if err := a.Container.Register("product-service", svc.Start, nil); err != nil {
		return err
	}

	product.NewAPI(svc).Register(a.Router)
	return a.Run(ctx)
}

func newRepository(ctx context.Context, a *app.App) (product.Repository, error) {
	if a.Config.Store != config.StorePostgres {
		return product.NewMemoryRepository(), nil
	}

	db, err := migrations.OpenDB(ctx, a.Config.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	err = product.Migrations.Up(ctx, db)
	_ = db.Close()
	if err != nil {
		return nil, err
	}

	pool, err := repository.NewPostgresPool(ctx, a.Config.Postgres)
	if err != nil {
		return nil, err
	}
	if err := a.Container.RegisterCloser("postgres", func(context.Context) error {
		pool.Close()
		return nil
	}); err != nil {
		return nil, err
	}

	repo := product.NewPostgresRepository(pool)
	a.Health.Register(observability.NewCheck("postgres", repo.Ping))
	return repo, nil
}
