package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/akriventsev/shopsaga/framework/adapters/repository"
	"github.com/akriventsev/shopsaga/internal/domain"
)

// CollectionName коллекция платежей
const CollectionName = "payments"

type historyDocument struct {
	Status    string    `bson:"status"`
	Timestamp time.Time `bson:"timestamp"`
	Message   string    `bson:"message"`
}

type paymentDocument struct {
	ID                string            `bson:"_id"`
	OrderID           string            `bson:"orderId"`
	UserID            string            `bson:"userId"`
	Amount            string            `bson:"amount"`
	Currency          string            `bson:"currency"`
	Method            string            `bson:"method"`
	Status            string            `bson:"status"`
	StatusHistory     []historyDocument `bson:"statusHistory"`
	ProviderPaymentID string            `bson:"providerPaymentId,omitempty"`
	ClientSecret      string            `bson:"clientSecret,omitempty"`
	Error             string            `bson:"error,omitempty"`
	CreatedAt         time.Time         `bson:"createdAt"`
	UpdatedAt         time.Time         `bson:"updatedAt"`
}

// MongoRepository Repository поверх MongoDB
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository создает репозиторий; уникальный индекс по orderId гарантирует один платеж на заказ
func NewMongoRepository(ctx context.Context, db *mongo.Database) (*MongoRepository, error) {
	coll := db.Collection(CollectionName)
	err := repository.EnsureIndexes(ctx, coll,
		repository.IndexSpec{Name: "order_unique", Fields: []string{"orderId"}, Unique: true},
		repository.IndexSpec{
			Name:          "provider_payment",
			Fields:        []string{"providerPaymentId"},
			PartialFilter: bson.M{"providerPaymentId": bson.M{"$exists": true}},
		},
	)
	if err != nil {
		return nil, err
	}
	return &MongoRepository{coll: coll}, nil
}

func (r *MongoRepository) Create(ctx context.Context, p *domain.Payment) error {
	if _, err := r.coll.InsertOne(ctx, toDocument(p)); err != nil {
		if repository.IsDuplicateKey(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, p.OrderID)
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*domain.Payment, error) {
	return r.findOne(ctx, bson.M{"_id": id}, id)
}

func (r *MongoRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	return r.findOne(ctx, bson.M{"orderId": orderID}, "order "+orderID)
}

func (r *MongoRepository) FindByProviderID(ctx context.Context, providerPaymentID string) (*domain.Payment, error) {
	return r.findOne(ctx, bson.M{"providerPaymentId": providerPaymentID}, "provider payment "+providerPaymentID)
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.M, what string) (*domain.Payment, error) {
	var doc paymentDocument
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if repository.IsNoDocuments(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, what)
		}
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return fromDocument(doc)
}

func (r *MongoRepository) Update(ctx context.Context, p *domain.Payment) error {
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": p.ID}, toDocument(p))
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, p.ID)
	}
	return nil
}

func toDocument(p *domain.Payment) paymentDocument {
	doc := paymentDocument{
		ID:                p.ID,
		OrderID:           p.OrderID,
		UserID:            p.UserID,
		Amount:            p.Amount.String(),
		Currency:          p.Currency,
		Method:            string(p.Method),
		Status:            string(p.Status()),
		ProviderPaymentID: p.ProviderPaymentID,
		ClientSecret:      p.ClientSecret,
		Error:             p.Error,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
	for _, h := range p.History() {
		doc.StatusHistory = append(doc.StatusHistory, historyDocument{Status: string(h.State), Timestamp: h.Timestamp, Message: h.Message})
	}
	return doc
}

func fromDocument(doc paymentDocument) (*domain.Payment, error) {
	amount, err := decimal.NewFromString(doc.Amount)
	if err != nil {
		return nil, fmt.Errorf("payment %s: invalid amount: %w", doc.ID, err)
	}
	p := domain.Payment{
		ID:                doc.ID,
		OrderID:           doc.OrderID,
		UserID:            doc.UserID,
		Amount:            amount,
		Currency:          doc.Currency,
		Method:            domain.PaymentMethod(doc.Method),
		ProviderPaymentID: doc.ProviderPaymentID,
		ClientSecret:      doc.ClientSecret,
		Error:             doc.Error,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}
	history := make([]domain.PaymentStatusChange, 0, len(doc.StatusHistory))
	for _, h := range doc.StatusHistory {
		history = append(history, domain.PaymentStatusChange{State: domain.PaymentStatus(h.Status), Timestamp: h.Timestamp, Message: h.Message})
	}
	return domain.RestorePayment(p, domain.PaymentStatus(doc.Status), history)
}
