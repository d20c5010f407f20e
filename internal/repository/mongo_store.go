package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"energy-trading-api/internal/config"
	"energy-trading-api/internal/models"
	apperrors "energy-trading-api/pkg/errors"
)

const (
	factoriesCollection = "factories"
	balancesCollection  = "factory_balances"
	tradesCollection    = "trades"
)

// MongoStore implements Store on a MongoDB replica set. Row locks are emulated
// by writing a fresh lock token to the document inside the transaction, which
// makes concurrent writers conflict on it.
type MongoStore struct {
	client    *mongo.Client
	factories *mongo.Collection
	balances  *mongo.Collection
	trades    *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

func NewMongoStore(client *mongo.Client, db *mongo.Database) *MongoStore {
	return &MongoStore{
		client:    client,
		factories: db.Collection(factoriesCollection),
		balances:  db.Collection(balancesCollection),
		trades:    db.Collection(tradesCollection),
	}
}

// OpenMongo connects to MongoDB and ensures indexes exist
func OpenMongo(ctx context.Context, cfg config.StorageConfig) (*MongoStore, error) {
	clientOptions := options.Client().
		ApplyURI(cfg.MongoURI).
		SetMaxPoolSize(uint64(cfg.MaxOpenConns)).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout).
		SetTimeout(cfg.OpTimeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	store := NewMongoStore(client, client.Database(cfg.MongoDatabase))
	if cfg.AutoMigrate {
		if err := store.CreateIndexes(ctx); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
	}
	return store, nil
}

// CreateIndexes creates the secondary indexes used by lookups and listings
func (s *MongoStore) CreateIndexes(ctx context.Context) error {
	_, err := s.factories.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create factory email index: %w", err)
	}

	_, err = s.trades.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "seller_id", Value: 1}}},
		{Keys: bson.D{{Key: "buyer_id", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create trade indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) GetBalances(ctx context.Context, factoryID string) (*models.FactoryBalance, error) {
	var doc balanceDocument
	if err := s.balances.FindOne(ctx, bson.M{"_id": factoryID}).Decode(&doc); err != nil {
		return nil, mongoNotFoundOr(err, "factory", factoryID, "get balances")
	}
	return doc.toModel()
}

func (s *MongoStore) ListBalances(ctx context.Context) ([]*models.FactoryBalance, error) {
	cursor, err := s.balances.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, mapMongoError("list balances", err)
	}
	var docs []balanceDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mapMongoError("list balances", err)
	}

	out := make([]*models.FactoryBalance, 0, len(docs))
	for _, doc := range docs {
		b, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *MongoStore) GetFactory(ctx context.Context, factoryID string) (*models.Factory, error) {
	var doc factoryDocument
	if err := s.factories.FindOne(ctx, bson.M{"_id": factoryID}).Decode(&doc); err != nil {
		return nil, mongoNotFoundOr(err, "factory", factoryID, "get factory")
	}
	return doc.toModel()
}

func (s *MongoStore) GetFactoryByEmail(ctx context.Context, email string) (*models.Factory, error) {
	var doc factoryDocument
	if err := s.factories.FindOne(ctx, bson.M{"email": strings.ToLower(email)}).Decode(&doc); err != nil {
		return nil, mongoNotFoundOr(err, "factory with email", email, "get factory by email")
	}
	return doc.toModel()
}

func (s *MongoStore) ListFactories(ctx context.Context) ([]*models.Factory, error) {
	cursor, err := s.factories.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, mapMongoError("list factories", err)
	}
	var docs []factoryDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mapMongoError("list factories", err)
	}

	out := make([]*models.Factory, 0, len(docs))
	for _, doc := range docs {
		f, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *MongoStore) GetTrade(ctx context.Context, tradeID string) (*models.Trade, error) {
	var doc tradeDocument
	if err := s.trades.FindOne(ctx, bson.M{"_id": tradeID}).Decode(&doc); err != nil {
		return nil, mongoNotFoundOr(err, "trade", tradeID, "get trade")
	}
	return doc.toModel()
}

func (s *MongoStore) ListTrades(ctx context.Context, filter TradeFilter) ([]*models.Trade, error) {
	filter = filter.Normalize()

	query := bson.M{}
	if filter.FactoryID != "" {
		query["$or"] = bson.A{
			bson.M{"seller_id": filter.FactoryID},
			bson.M{"buyer_id": filter.FactoryID},
		}
	}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(filter.Limit)).
		SetSkip(int64(filter.Offset))

	cursor, err := s.trades.Find(ctx, query, opts)
	if err != nil {
		return nil, mapMongoError("list trades", err)
	}
	var docs []tradeDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mapMongoError("list trades", err)
	}

	out := make([]*models.Trade, 0, len(docs))
	for _, doc := range docs {
		t, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *MongoStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return apperrors.NewUnavailableError("failed to start session", err)
	}
	defer session.EndSession(ctx)

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	var fnErr error
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		fnErr = fn(sc, &mongoTx{store: s})
		return nil, fnErr
	}, txnOpts)
	if err == nil {
		return nil
	}
	if fnErr != nil {
		return fnErr
	}
	return mapMongoError("commit transaction", err)
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return apperrors.NewUnavailableError("mongo ping failed", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

type mongoTx struct {
	store *MongoStore
}

func (m *mongoTx) CreateFactory(ctx context.Context, factory *models.Factory, balance *models.FactoryBalance) error {
	fdoc, err := newFactoryDocument(factory)
	if err != nil {
		return err
	}
	bdoc, err := newBalanceDocument(balance)
	if err != nil {
		return err
	}

	if _, err := m.store.factories.InsertOne(ctx, fdoc); err != nil {
		return mapMongoError("insert factory", err)
	}
	if _, err := m.store.balances.InsertOne(ctx, bdoc); err != nil {
		return mapMongoError("insert balance", err)
	}
	return nil
}

func (m *mongoTx) LockBalance(ctx context.Context, factoryID string) (*models.FactoryBalance, error) {
	var doc balanceDocument
	err := m.store.balances.FindOneAndUpdate(ctx,
		bson.M{"_id": factoryID},
		bson.M{"$set": bson.M{"lock_token": primitive.NewObjectID()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return nil, mongoNotFoundOr(err, "factory", factoryID, "lock balance")
	}
	return doc.toModel()
}

func (m *mongoTx) SaveBalance(ctx context.Context, balance *models.FactoryBalance) error {
	doc, err := newBalanceDocument(balance)
	if err != nil {
		return err
	}
	res, err := m.store.balances.UpdateOne(ctx, bson.M{"_id": balance.FactoryID}, bson.M{"$set": bson.M{
		"energy_balance":    doc.EnergyBalance,
		"currency_balance":  doc.CurrencyBalance,
		"available_energy":  doc.AvailableEnergy,
		"daily_consumption": doc.DailyConsumption,
		"updated_at":        doc.UpdatedAt,
	}})
	if err != nil {
		return mapMongoError("update balance", err)
	}
	if res.MatchedCount == 0 {
		return apperrors.NewNotFoundError("factory", balance.FactoryID)
	}
	return nil
}

func (m *mongoTx) InsertTrade(ctx context.Context, trade *models.Trade) error {
	doc, err := newTradeDocument(trade)
	if err != nil {
		return err
	}
	if _, err := m.store.trades.InsertOne(ctx, doc); err != nil {
		return mapMongoError("insert trade", err)
	}
	return nil
}

func (m *mongoTx) LockTrade(ctx context.Context, tradeID string) (*models.Trade, error) {
	var doc tradeDocument
	err := m.store.trades.FindOneAndUpdate(ctx,
		bson.M{"_id": tradeID},
		bson.M{"$set": bson.M{"lock_token": primitive.NewObjectID()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return nil, mongoNotFoundOr(err, "trade", tradeID, "lock trade")
	}
	return doc.toModel()
}

func (m *mongoTx) SaveTrade(ctx context.Context, trade *models.Trade) error {
	res, err := m.store.trades.UpdateOne(ctx, bson.M{"_id": trade.ID}, bson.M{"$set": bson.M{
		"status":       string(trade.Status),
		"completed_at": trade.CompletedAt,
		"cancelled_at": trade.CancelledAt,
	}})
	if err != nil {
		return mapMongoError("update trade", err)
	}
	if res.MatchedCount == 0 {
		return apperrors.NewNotFoundError("trade", trade.ID)
	}
	return nil
}

type factoryDocument struct {
	ID              string               `bson:"_id"`
	Name            string               `bson:"name"`
	EnergyType      string               `bson:"energy_type"`
	Email           *string              `bson:"email,omitempty"`
	PasswordHash    string               `bson:"password_hash"`
	Localisation    string               `bson:"localisation"`
	FiscalMatricule string               `bson:"fiscal_matricule"`
	EnergyCapacity  primitive.Decimal128 `bson:"energy_capacity"`
	ContactInfo     string               `bson:"contact_info"`
	CreatedAt       time.Time            `bson:"created_at"`
}

type balanceDocument struct {
	FactoryID        string               `bson:"_id"`
	EnergyBalance    primitive.Decimal128 `bson:"energy_balance"`
	CurrencyBalance  primitive.Decimal128 `bson:"currency_balance"`
	AvailableEnergy  primitive.Decimal128 `bson:"available_energy"`
	DailyConsumption primitive.Decimal128 `bson:"daily_consumption"`
	UpdatedAt        time.Time            `bson:"updated_at"`
}

type tradeDocument struct {
	ID           string               `bson:"_id"`
	SellerID     string               `bson:"seller_id"`
	BuyerID      string               `bson:"buyer_id"`
	EnergyAmount primitive.Decimal128 `bson:"energy_amount"`
	PricePerUnit primitive.Decimal128 `bson:"price_per_unit"`
	TotalPrice   primitive.Decimal128 `bson:"total_price"`
	Status       string               `bson:"status"`
	CreatedAt    time.Time            `bson:"created_at"`
	CompletedAt  *time.Time           `bson:"completed_at"`
	CancelledAt  *time.Time           `bson:"cancelled_at"`
}

func newFactoryDocument(f *models.Factory) (*factoryDocument, error) {
	capacity, err := toDecimal128(f.EnergyCapacity)
	if err != nil {
		return nil, err
	}
	var email *string
	if f.Email != nil {
		lower := strings.ToLower(*f.Email)
		email = &lower
	}
	return &factoryDocument{
		ID:              f.ID,
		Name:            f.Name,
		EnergyType:      f.EnergyType,
		Email:           email,
		PasswordHash:    f.PasswordHash,
		Localisation:    f.Localisation,
		FiscalMatricule: f.FiscalMatricule,
		EnergyCapacity:  capacity,
		ContactInfo:     f.ContactInfo,
		CreatedAt:       f.CreatedAt,
	}, nil
}

func (d *factoryDocument) toModel() (*models.Factory, error) {
	capacity, err := fromDecimal128(d.EnergyCapacity)
	if err != nil {
		return nil, err
	}
	return &models.Factory{
		ID:              d.ID,
		Name:            d.Name,
		EnergyType:      d.EnergyType,
		Email:           d.Email,
		PasswordHash:    d.PasswordHash,
		Localisation:    d.Localisation,
		FiscalMatricule: d.FiscalMatricule,
		EnergyCapacity:  capacity,
		ContactInfo:     d.ContactInfo,
		CreatedAt:       d.CreatedAt,
	}, nil
}

func newBalanceDocument(b *models.FactoryBalance) (*balanceDocument, error) {
	values, err := toDecimal128s(b.EnergyBalance, b.CurrencyBalance, b.AvailableEnergy, b.DailyConsumption)
	if err != nil {
		return nil, err
	}
	return &balanceDocument{
		FactoryID:        b.FactoryID,
		EnergyBalance:    values[0],
		CurrencyBalance:  values[1],
		AvailableEnergy:  values[2],
		DailyConsumption: values[3],
		UpdatedAt:        b.UpdatedAt,
	}, nil
}

func (d *balanceDocument) toModel() (*models.FactoryBalance, error) {
	values, err := fromDecimal128s(d.EnergyBalance, d.CurrencyBalance, d.AvailableEnergy, d.DailyConsumption)
	if err != nil {
		return nil, err
	}
	return &models.FactoryBalance{
		FactoryID:        d.FactoryID,
		EnergyBalance:    values[0],
		CurrencyBalance:  values[1],
		AvailableEnergy:  values[2],
		DailyConsumption: values[3],
		UpdatedAt:        d.UpdatedAt,
	}, nil
}

func newTradeDocument(t *models.Trade) (*tradeDocument, error) {
	values, err := toDecimal128s(t.EnergyAmount, t.PricePerUnit, t.TotalPrice)
	if err != nil {
		return nil, err
	}
	return &tradeDocument{
		ID:           t.ID,
		SellerID:     t.SellerID,
		BuyerID:      t.BuyerID,
		EnergyAmount: values[0],
		PricePerUnit: values[1],
		TotalPrice:   values[2],
		Status:       string(t.Status),
		CreatedAt:    t.CreatedAt,
		CompletedAt:  t.CompletedAt,
		CancelledAt:  t.CancelledAt,
	}, nil
}

func (d *tradeDocument) toModel() (*models.Trade, error) {
	values, err := fromDecimal128s(d.EnergyAmount, d.PricePerUnit, d.TotalPrice)
	if err != nil {
		return nil, err
	}
	return &models.Trade{
		ID:           d.ID,
		SellerID:     d.SellerID,
		BuyerID:      d.BuyerID,
		EnergyAmount: values[0],
		PricePerUnit: values[1],
		TotalPrice:   values[2],
		Status:       models.TradeStatus(d.Status),
		CreatedAt:    d.CreatedAt,
		CompletedAt:  d.CompletedAt,
		CancelledAt:  d.CancelledAt,
	}, nil
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, apperrors.NewInvalidArgumentError("amount %s cannot be stored", d.String())
	}
	return v, nil
}

func toDecimal128s(values ...decimal.Decimal) ([]primitive.Decimal128, error) {
	out := make([]primitive.Decimal128, len(values))
	for i, v := range values {
		d, err := toDecimal128(v)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, apperrors.NewInternalError("corrupt decimal value in document", err)
	}
	return d, nil
}

func fromDecimal128s(values ...primitive.Decimal128) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		d, err := fromDecimal128(v)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func mongoNotFoundOr(err error, resource, id, op string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperrors.NewNotFoundError(resource, id)
	}
	return mapMongoError(op, err)
}

func mapMongoError(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return apperrors.Wrap(apperrors.KindConflict, op+": duplicate key", err)
	}
	return apperrors.NewUnavailableError(op+" failed", err)
}
