package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product товар; Stock никогда не бывает отрицательным
type Product struct {
	ID        string
	Name      string
	SellerID  string
	Price     decimal.Decimal
	Stock     int
	UpdatedAt time.Time
}

// StockDecrement результат атомарного списания
type StockDecrement struct {
	ProductID string
	Requested int
	Applied   int
	Remaining int
	// AlreadyApplied истинно, если списание по этому заказу уже было выполнено ранее
	AlreadyApplied bool
}

// Shortfall сколько единиц не удалось списать из-за нехватки
func (d StockDecrement) Shortfall() int {
	return d.Requested - d.Applied
}
