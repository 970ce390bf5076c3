package product

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/akriventsev/shopsaga/framework/adapters/repository"
	"github.com/akriventsev/shopsaga/framework/migrations"
	"github.com/akriventsev/shopsaga/internal/domain"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrations схема product-service
var Migrations = migrations.Source{FS: migrationFS, Dir: "migrations"}

// PostgresRepository Repository на PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создает репозиторий поверх пула
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Ping проверяет соединение
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Create(ctx context.Context, p *domain.Product) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO products (id, name, seller_id, price, stock, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Name, p.SellerID, p.Price.String(), p.Stock, p.UpdatedAt,
	)
	if repository.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, p.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*domain.Product, error) {
	var (
		p     domain.Product
		price string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id::text, name, seller_id, price::text, stock, updated_at FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.SellerID, &price, &p.Stock, &p.UpdatedAt)
	if repository.IsNoRows(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product: %w", err)
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid price for product %s: %w", id, err)
	}
	return &p, nil
}

// DecrementStock выполняет списание в одной транзакции: запись в stock_ledger
// защищает от повторной доставки, строка товара блокируется до commit.
func (r *PostgresRepository) DecrementStock(ctx context.Context, orderID, productID string, qty int) (domain.StockDecrement, error) {
	res := domain.StockDecrement{ProductID: productID, Requested: qty}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var stock int
		err := tx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&stock)
		if repository.IsNoRows(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, productID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock product: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`INSERT INTO stock_ledger (order_id, product_id, requested, applied)
			 VALUES ($1, $2, $3, LEAST($3, $4)) ON CONFLICT (order_id, product_id) DO NOTHING`,
			orderID, productID, qty, stock,
		)
		if err != nil {
			return fmt.Errorf("failed to record stock ledger: %w", err)
		}

		if tag.RowsAffected() == 0 {
			res.AlreadyApplied = true
			res.Remaining = stock
			return tx.QueryRow(ctx,
				`SELECT requested, applied FROM stock_ledger WHERE order_id = $1 AND product_id = $2`,
				orderID, productID,
			).Scan(&res.Requested, &res.Applied)
		}

		err = tx.QueryRow(ctx,
			`UPDATE products SET stock = GREATEST(stock - $2, 0), updated_at = now()
			 WHERE id = $1 RETURNING stock`,
			productID, qty,
		).Scan(&res.Remaining)
		if err != nil {
			return fmt.Errorf("failed to decrement stock: %w", err)
		}
		res.Applied = stock - res.Remaining
		return nil
	})
	if err != nil {
		return domain.StockDecrement{}, err
	}
	return res, nil
}
