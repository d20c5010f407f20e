package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"energy-trading-api/internal/config"
	"energy-trading-api/internal/models"
	apperrors "energy-trading-api/pkg/errors"
)

// MySQLStore implements Store on MySQL/InnoDB through gorm, locking rows with
// SELECT ... FOR UPDATE inside gorm transactions.
type MySQLStore struct {
	db *gorm.DB
}

var _ Store = (*MySQLStore)(nil)

func NewMySQLStore(db *gorm.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// OpenMySQL connects to MySQL, configures the pool and migrates the schema
func OpenMySQL(ctx context.Context, cfg config.StorageConfig) (*MySQLStore, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQLDSN), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get mysql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}

	if cfg.AutoMigrate {
		if err := db.WithContext(ctx).AutoMigrate(&models.Factory{}, &models.FactoryBalance{}, &models.Trade{}); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to migrate mysql schema: %w", err)
		}
	}

	return NewMySQLStore(db), nil
}

func (s *MySQLStore) GetBalances(ctx context.Context, factoryID string) (*models.FactoryBalance, error) {
	var b models.FactoryBalance
	if err := s.db.WithContext(ctx).Where("factory_id = ?", factoryID).First(&b).Error; err != nil {
		return nil, gormNotFoundOr(err, "factory", factoryID, "get balances")
	}
	return &b, nil
}

func (s *MySQLStore) ListBalances(ctx context.Context) ([]*models.FactoryBalance, error) {
	var out []*models.FactoryBalance
	if err := s.db.WithContext(ctx).Order("factory_id").Find(&out).Error; err != nil {
		return nil, mapGormError("list balances", err)
	}
	return out, nil
}

func (s *MySQLStore) GetFactory(ctx context.Context, factoryID string) (*models.Factory, error) {
	var f models.Factory
	if err := s.db.WithContext(ctx).Where("factory_id = ?", factoryID).First(&f).Error; err != nil {
		return nil, gormNotFoundOr(err, "factory", factoryID, "get factory")
	}
	return &f, nil
}

func (s *MySQLStore) GetFactoryByEmail(ctx context.Context, email string) (*models.Factory, error) {
	var f models.Factory
	if err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(email)).First(&f).Error; err != nil {
		return nil, gormNotFoundOr(err, "factory with email", email, "get factory by email")
	}
	return &f, nil
}

func (s *MySQLStore) ListFactories(ctx context.Context) ([]*models.Factory, error) {
	var out []*models.Factory
	if err := s.db.WithContext(ctx).Order("factory_id").Find(&out).Error; err != nil {
		return nil, mapGormError("list factories", err)
	}
	return out, nil
}

func (s *MySQLStore) GetTrade(ctx context.Context, tradeID string) (*models.Trade, error) {
	var t models.Trade
	if err := s.db.WithContext(ctx).Where("trade_id = ?", tradeID).First(&t).Error; err != nil {
		return nil, gormNotFoundOr(err, "trade", tradeID, "get trade")
	}
	return &t, nil
}

func (s *MySQLStore) ListTrades(ctx context.Context, filter TradeFilter) ([]*models.Trade, error) {
	filter = filter.Normalize()

	query := s.db.WithContext(ctx).Model(&models.Trade{})
	if filter.FactoryID != "" {
		query = query.Where("seller_id = ? OR buyer_id = ?", filter.FactoryID, filter.FactoryID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	out := []*models.Trade{}
	err := query.Order("created_at DESC").Order("trade_id DESC").
		Limit(filter.Limit).Offset(filter.Offset).
		Find(&out).Error
	if err != nil {
		return nil, mapGormError("list trades", err)
	}
	return out, nil
}

func (s *MySQLStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(ctx, &mysqlTx{db: tx})
		return fnErr
	})
	if err == nil {
		return nil
	}
	if fnErr != nil {
		return fnErr
	}
	return mapGormError("commit transaction", err)
}

func (s *MySQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return apperrors.NewUnavailableError("mysql handle unavailable", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return apperrors.NewUnavailableError("mysql ping failed", err)
	}
	return nil
}

func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type mysqlTx struct {
	db *gorm.DB
}

func (m *mysqlTx) CreateFactory(ctx context.Context, factory *models.Factory, balance *models.FactoryBalance) error {
	if err := m.db.Create(factory).Error; err != nil {
		return mapGormError("insert factory", err)
	}
	if err := m.db.Create(balance).Error; err != nil {
		return mapGormError("insert balance", err)
	}
	return nil
}

func (m *mysqlTx) LockBalance(ctx context.Context, factoryID string) (*models.FactoryBalance, error) {
	var b models.FactoryBalance
	err := m.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("factory_id = ?", factoryID).
		First(&b).Error
	if err != nil {
		return nil, gormNotFoundOr(err, "factory", factoryID, "lock balance")
	}
	return &b, nil
}

func (m *mysqlTx) SaveBalance(ctx context.Context, balance *models.FactoryBalance) error {
	res := m.db.Model(&models.FactoryBalance{}).
		Where("factory_id = ?", balance.FactoryID).
		Updates(map[string]interface{}{
			"energy_balance":    balance.EnergyBalance,
			"currency_balance":  balance.CurrencyBalance,
			"available_energy":  balance.AvailableEnergy,
			"daily_consumption": balance.DailyConsumption,
			"updated_at":        balance.UpdatedAt,
		})
	if res.Error != nil {
		return mapGormError("update balance", res.Error)
	}
	// MySQL reports matched-but-unchanged rows as 0 affected, so confirm existence separately.
	if res.RowsAffected == 0 {
		var count int64
		if err := m.db.Model(&models.FactoryBalance{}).Where("factory_id = ?", balance.FactoryID).Count(&count).Error; err != nil {
			return mapGormError("update balance", err)
		}
		if count == 0 {
			return apperrors.NewNotFoundError("factory", balance.FactoryID)
		}
	}
	return nil
}

func (m *mysqlTx) InsertTrade(ctx context.Context, trade *models.Trade) error {
	if err := m.db.Create(trade).Error; err != nil {
		return mapGormError("insert trade", err)
	}
	return nil
}

func (m *mysqlTx) LockTrade(ctx context.Context, tradeID string) (*models.Trade, error) {
	var t models.Trade
	err := m.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("trade_id = ?", tradeID).
		First(&t).Error
	if err != nil {
		return nil, gormNotFoundOr(err, "trade", tradeID, "lock trade")
	}
	return &t, nil
}

func (m *mysqlTx) SaveTrade(ctx context.Context, trade *models.Trade) error {
	res := m.db.Model(&models.Trade{}).
		Where("trade_id = ?", trade.ID).
		Updates(map[string]interface{}{
			"status":       trade.Status,
			"completed_at": trade.CompletedAt,
			"cancelled_at": trade.CancelledAt,
		})
	if res.Error != nil {
		return mapGormError("update trade", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NewNotFoundError("trade", trade.ID)
	}
	return nil
}

func gormNotFoundOr(err error, resource, id, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NewNotFoundError(resource, id)
	}
	return mapGormError(op, err)
}

func mapGormError(op string, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.Wrap(apperrors.KindConflict, op+": duplicate key", err)
	}
	return apperrors.NewUnavailableError(op+" failed", err)
}
