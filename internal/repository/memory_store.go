package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"energy-trading-api/internal/models"
	apperrors "energy-trading-api/pkg/errors"
)

// MemoryStore keeps balances and trades in process memory. Transactions are
// serialized by a single mutex and staged writes are applied only on commit.
type MemoryStore struct {
	mu        sync.Mutex
	closed    bool
	factories map[string]*models.Factory
	emails    map[string]string
	balances  map[string]*models.FactoryBalance
	trades    map[string]*models.Trade
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		factories: make(map[string]*models.Factory),
		emails:    make(map[string]string),
		balances:  make(map[string]*models.FactoryBalance),
		trades:    make(map[string]*models.Trade),
	}
}

func (s *MemoryStore) GetBalances(ctx context.Context, factoryID string) (*models.FactoryBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}
	b, ok := s.balances[factoryID]
	if !ok {
		return nil, apperrors.NewNotFoundError("factory", factoryID)
	}
	return b.Clone(), nil
}

func (s *MemoryStore) ListBalances(ctx context.Context) ([]*models.FactoryBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]*models.FactoryBalance, 0, len(s.balances))
	for _, b := range s.balances {
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FactoryID < out[j].FactoryID })
	return out, nil
}

func (s *MemoryStore) GetFactory(ctx context.Context, factoryID string) (*models.Factory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}
	f, ok := s.factories[factoryID]
	if !ok {
		return nil, apperrors.NewNotFoundError("factory", factoryID)
	}
	return cloneFactory(f), nil
}

func (s *MemoryStore) GetFactoryByEmail(ctx context.Context, email string) (*models.Factory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}
	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, apperrors.NewNotFoundError("factory with email", email)
	}
	return cloneFactory(s.factories[id]), nil
}

func (s *MemoryStore) ListFactories(ctx context.Context) ([]*models.Factory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]*models.Factory, 0, len(s.factories))
	for _, f := range s.factories {
		out = append(out, cloneFactory(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetTrade(ctx context.Context, tradeID string) (*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}
	t, ok := s.trades[tradeID]
	if !ok {
		return nil, apperrors.NewNotFoundError("trade", tradeID)
	}
	return t.Clone(), nil
}

func (s *MemoryStore) ListTrades(ctx context.Context, filter TradeFilter) ([]*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}
	filter = filter.Normalize()

	var matched []*models.Trade
	for _, t := range s.trades {
		if filter.FactoryID != "" && !t.Involves(filter.FactoryID) {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		matched = append(matched, t.Clone())
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset >= len(matched) {
		return []*models.Trade{}, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], nil
}

func (s *MemoryStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	tx := &memoryTx{
		store:     s,
		factories: make(map[string]*models.Factory),
		emails:    make(map[string]string),
		balances:  make(map[string]*models.FactoryBalance),
		trades:    make(map[string]*models.Trade),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperrors.NewUnavailableError("transaction aborted before commit", err)
	}

	for id, f := range tx.factories {
		s.factories[id] = f
	}
	for email, id := range tx.emails {
		s.emails[email] = id
	}
	for id, b := range tx.balances {
		s.balances[id] = b
	}
	for id, t := range tx.trades {
		s.trades[id] = t
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check(ctx)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// check must be called with mu held
func (s *MemoryStore) check(ctx context.Context) error {
	if s.closed {
		return apperrors.NewUnavailableError("memory store is closed", nil)
	}
	if err := ctx.Err(); err != nil {
		return apperrors.NewUnavailableError("storage operation cancelled", err)
	}
	return nil
}

// memoryTx stages writes until the enclosing transaction commits
type memoryTx struct {
	store     *MemoryStore
	factories map[string]*models.Factory
	emails    map[string]string
	balances  map[string]*models.FactoryBalance
	trades    map[string]*models.Trade
}

func (tx *memoryTx) CreateFactory(ctx context.Context, factory *models.Factory, balance *models.FactoryBalance) error {
	if _, ok := tx.factory(factory.ID); ok {
		return apperrors.NewConflictError("factory %s already exists", factory.ID)
	}
	if email := strings.ToLower(factory.EmailAddress()); email != "" {
		if _, ok := tx.store.emails[email]; ok {
			return apperrors.NewConflictError("email %s is already registered", factory.EmailAddress())
		}
		if _, ok := tx.emails[email]; ok {
			return apperrors.NewConflictError("email %s is already registered", factory.EmailAddress())
		}
		tx.emails[email] = factory.ID
	}
	tx.factories[factory.ID] = cloneFactory(factory)
	tx.balances[balance.FactoryID] = balance.Clone()
	return nil
}

func (tx *memoryTx) LockBalance(ctx context.Context, factoryID string) (*models.FactoryBalance, error) {
	if b, ok := tx.balances[factoryID]; ok {
		return b.Clone(), nil
	}
	if b, ok := tx.store.balances[factoryID]; ok {
		return b.Clone(), nil
	}
	return nil, apperrors.NewNotFoundError("factory", factoryID)
}

func (tx *memoryTx) SaveBalance(ctx context.Context, balance *models.FactoryBalance) error {
	if _, err := tx.LockBalance(ctx, balance.FactoryID); err != nil {
		return err
	}
	tx.balances[balance.FactoryID] = balance.Clone()
	return nil
}

func (tx *memoryTx) InsertTrade(ctx context.Context, trade *models.Trade) error {
	if _, ok := tx.trade(trade.ID); ok {
		return apperrors.NewConflictError("trade %s already exists", trade.ID)
	}
	tx.trades[trade.ID] = trade.Clone()
	return nil
}

func (tx *memoryTx) LockTrade(ctx context.Context, tradeID string) (*models.Trade, error) {
	if t, ok := tx.trade(tradeID); ok {
		return t.Clone(), nil
	}
	return nil, apperrors.NewNotFoundError("trade", tradeID)
}

func (tx *memoryTx) SaveTrade(ctx context.Context, trade *models.Trade) error {
	if _, ok := tx.trade(trade.ID); !ok {
		return apperrors.NewNotFoundError("trade", trade.ID)
	}
	tx.trades[trade.ID] = trade.Clone()
	return nil
}

func (tx *memoryTx) factory(id string) (*models.Factory, bool) {
	if f, ok := tx.factories[id]; ok {
		return f, true
	}
	f, ok := tx.store.factories[id]
	return f, ok
}

func (tx *memoryTx) trade(id string) (*models.Trade, bool) {
	if t, ok := tx.trades[id]; ok {
		return t, true
	}
	t, ok := tx.store.trades[id]
	return t, ok
}

func cloneFactory(f *models.Factory) *models.Factory {
	c := *f
	if f.Email != nil {
		email := *f.Email
		c.Email = &email
	}
	return &c
}
