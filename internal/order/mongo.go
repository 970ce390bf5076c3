package order

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

// CollectionName коллекция заказов
const CollectionName = "orders"

type itemDocument struct {
	ProductID string `bson:"productId"`
	SellerID  string `bson:"sellerId,omitempty"`
	Quantity  int    `bson:"quantity"`
	Price     string `bson:"price"`
}

type historyDocument struct {
	Status    string    `bson:"status"`
	Timestamp time.Time `bson:"timestamp"`
	Message   string    `bson:"message"`
}

type paymentDocument struct {
	PaymentID         string    `bson:"paymentId,omitempty"`
	Status            string    `bson:"status"`
	ProviderPaymentID string    `bson:"providerPaymentId,omitempty"`
	ClientSecret      string    `bson:"clientSecret,omitempty"`
	Amount            string    `bson:"amount"`
	RedirectURL       string    `bson:"redirectUrl,omitempty"`
	UpdatedAt         time.Time `bson:"updatedAt"`
}

type failureDocument struct {
	Message   string    `bson:"message"`
	Step      string    `bson:"step"`
	Timestamp time.Time `bson:"timestamp"`
}

// orderDocument хранимое представление заказа; суммы хранятся строками без потери точности
type orderDocument struct {
	ID             string            `bson:"_id"`
	UserID         string            `bson:"userId"`
	Items          []itemDocument    `bson:"items"`
	TotalAmount    string            `bson:"totalAmount"`
	Currency       string            `bson:"currency"`
	PaymentMethod  string            `bson:"paymentMethod"`
	Status         string            `bson:"status"`
	StatusHistory  []historyDocument `bson:"statusHistory"`
	Payment        *paymentDocument  `bson:"payment,omitempty"`
	IdempotencyKey string            `bson:"idempotencyKey,omitempty"`
	SagaID         string            `bson:"sagaId,omitempty"`
	Error          *failureDocument  `bson:"error,omitempty"`
	Version        int64             `bson:"version"`
	CreatedAt      time.Time         `bson:"createdAt"`
	UpdatedAt      time.Time         `bson:"updatedAt"`
}

// MongoRepository Repository поверх MongoDB
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository создает репозиторий и индексы коллекции
func NewMongoRepository(ctx context.Context, db *mongo.Database) (*MongoRepository, error) {
	coll := db.Collection(CollectionName)
	err := repository.EnsureIndexes(ctx, coll,
		repository.IndexSpec{
			Name:          "idempotency_key_unique",
			Fields:        []string{"idempotencyKey"},
			Unique:        true,
			PartialFilter: bson.M{"idempotencyKey": bson.M{"$exists": true}},
		},
		repository.IndexSpec{Name: "user_created", Fields: []string{"userId", "createdAt"}},
	)
	if err != nil {
		return nil, err
	}
	return &MongoRepository{coll: coll}, nil
}

func (r *MongoRepository) Create(ctx context.Context, o *domain.Order) error {
	o.Version = 1
	if _, err := r.coll.InsertOne(ctx, toDocument(o)); err != nil {
		if repository.IsDuplicateKey(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, o.IdempotencyKey)
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	return r.findOne(ctx, bson.M{"_id": id}, id)
}

func (r *MongoRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return r.findOne(ctx, bson.M{"idempotencyKey": key}, "idempotency key "+key)
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.M, what string) (*domain.Order, error) {
	var doc orderDocument
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if repository.IsNoDocuments(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, what)
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return fromDocument(doc)
}

func (r *MongoRepository) Update(ctx context.Context, o *domain.Order) error {
	doc := toDocument(o)
	doc.Version = o.Version + 1

	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": o.ID, "version": o.Version}, doc)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if res.MatchedCount == 0 {
		n, err := r.coll.CountDocuments(ctx, bson.M{"_id": o.ID})
		if err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, o.ID)
		}
		return fmt.Errorf("%w: %s", ErrConcurrentUpdate, o.ID)
	}
	o.Version = doc.Version
	return nil
}

func toDocument(o *domain.Order) orderDocument {
	doc := orderDocument{
		ID:             o.ID,
		UserID:         o.UserID,
		TotalAmount:    o.TotalAmount.String(),
		Currency:       o.Currency,
		PaymentMethod:  string(o.PaymentMethod),
		Status:         string(o.Status()),
		IdempotencyKey: o.IdempotencyKey,
		SagaID:         o.SagaID,
		Version:        o.Version,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	for _, it := range o.Items {
		doc.Items = append(doc.Items, itemDocument{
			ProductID: it.ProductID,
			SellerID:  it.SellerID,
			Quantity:  it.Quantity,
			Price:     it.Price.String(),
		})
	}
	for _, h := range o.History() {
		doc.StatusHistory = append(doc.StatusHistory, historyDocument{
			Status:    string(h.State),
			Timestamp: h.Timestamp,
			Message:   h.Message,
		})
	}
	if p := o.Payment; p != nil {
		doc.Payment = &paymentDocument{
			PaymentID:         p.PaymentID,
			Status:            p.Status,
			ProviderPaymentID: p.ProviderPaymentID,
			ClientSecret:      p.ClientSecret,
			Amount:            p.Amount.String(),
			RedirectURL:       p.RedirectURL,
			UpdatedAt:         p.UpdatedAt,
		}
	}
	if e := o.Error; e != nil {
		doc.Error = &failureDocument{Message: e.Message, Step: e.Step, Timestamp: e.Timestamp}
	}
	return doc
}

func fromDocument(doc orderDocument) (*domain.Order, error) {
	total, err := decimal.NewFromString(doc.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("order %s: invalid total amount: %w", doc.ID, err)
	}
	status, err := domain.ParseOrderStatus(doc.Status)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", doc.ID, err)
	}

	o := domain.Order{
		ID:             doc.ID,
		UserID:         doc.UserID,
		TotalAmount:    total,
		Currency:       doc.Currency,
		PaymentMethod:  domain.PaymentMethod(doc.PaymentMethod),
		IdempotencyKey: doc.IdempotencyKey,
		SagaID:         doc.SagaID,
		Version:        doc.Version,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
	for _, it := range doc.Items {
		price, err := decimal.NewFromString(it.Price)
		if err != nil {
			return nil, fmt.Errorf("order %s: invalid item price: %w", doc.ID, err)
		}
		o.Items = append(o.Items, domain.OrderItem{
			ProductID: it.ProductID,
			SellerID:  it.SellerID,
			Quantity:  it.Quantity,
			Price:     price,
		})
	}
	if p := doc.Payment; p != nil {
		amount, err := decimal.NewFromString(p.Amount)
		if err != nil {
			return nil, fmt.Errorf("order %s: invalid payment amount: %w", doc.ID, err)
		}
		o.Payment = &domain.PaymentInfo{
			PaymentID:         p.PaymentID,
			Status:            p.Status,
			ProviderPaymentID: p.ProviderPaymentID,
			ClientSecret:      p.ClientSecret,
			Amount:            amount,
			RedirectURL:       p.RedirectURL,
			UpdatedAt:         p.UpdatedAt,
		}
	}
	if e := doc.Error; e != nil {
		o.Error = &domain.Failure{Message: e.Message, Step: e.Step, Timestamp: e.Timestamp}
	}

	history := make([]domain.StatusChange, 0, len(doc.StatusHistory))
	for _, h := range doc.StatusHistory {
		history = append(history, domain.StatusChange{State: domain.OrderStatus(h.Status), Timestamp: h.Timestamp, Message: h.Message})
	}
	return domain.RestoreOrder(o, status, history)
}
