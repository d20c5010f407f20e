package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"energy-trading-api/internal/config"
	"energy-trading-api/internal/models"
	apperrors "energy-trading-api/pkg/errors"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

const (
	factoryColumns = `factory_id, name, energy_type, email, password_hash, localisation,
		fiscal_matricule, energy_capacity, contact_info, created_at`
	balanceColumns = `factory_id, energy_balance, currency_balance, available_energy,
		daily_consumption, updated_at`
	tradeColumns = `trade_id, seller_id, buyer_id, energy_amount, price_per_unit, total_price,
		status, created_at, completed_at, cancelled_at`
)

// PostgresStore implements Store on PostgreSQL using row locks (SELECT ... FOR UPDATE)
// inside read-committed transactions.
type PostgresStore struct {
	db *sqlx.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects, configures the pool and applies pending migrations
func OpenPostgres(ctx context.Context, cfg config.StorageConfig) (*PostgresStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	db, err := sqlx.ConnectContext(connectCtx, "postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if cfg.AutoMigrate {
		if err := MigratePostgres(db.DB); err != nil {
			db.Close()
			return nil, err
		}
	}

	return NewPostgresStore(db), nil
}

// MigratePostgres applies the embedded schema migrations
func MigratePostgres(db *sql.DB) error {
	source, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("failed to open migration source: %w", err)
	}

	driver, err := migratepostgres.WithInstance(db, &migratepostgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBalances(ctx context.Context, factoryID string) (*models.FactoryBalance, error) {
	var b models.FactoryBalance
	query := `SELECT ` + balanceColumns + ` FROM factory_balances WHERE factory_id = $1`
	if err := sqlx.GetContext(ctx, s.db, &b, query, factoryID); err != nil {
		return nil, notFoundOr(err, "factory", factoryID, "get balances")
	}
	return &b, nil
}

func (s *PostgresStore) ListBalances(ctx context.Context) ([]*models.FactoryBalance, error) {
	var out []*models.FactoryBalance
	query := `SELECT ` + balanceColumns + ` FROM factory_balances ORDER BY factory_id`
	if err := sqlx.SelectContext(ctx, s.db, &out, query); err != nil {
		return nil, mapPostgresError("list balances", err)
	}
	return out, nil
}

func (s *PostgresStore) GetFactory(ctx context.Context, factoryID string) (*models.Factory, error) {
	var f models.Factory
	query := `SELECT ` + factoryColumns + ` FROM factories WHERE factory_id = $1`
	if err := sqlx.GetContext(ctx, s.db, &f, query, factoryID); err != nil {
		return nil, notFoundOr(err, "factory", factoryID, "get factory")
	}
	return &f, nil
}

func (s *PostgresStore) GetFactoryByEmail(ctx context.Context, email string) (*models.Factory, error) {
	var f models.Factory
	query := `SELECT ` + factoryColumns + ` FROM factories WHERE email = $1`
	if err := sqlx.GetContext(ctx, s.db, &f, query, strings.ToLower(email)); err != nil {
		return nil, notFoundOr(err, "factory with email", email, "get factory by email")
	}
	return &f, nil
}

func (s *PostgresStore) ListFactories(ctx context.Context) ([]*models.Factory, error) {
	var out []*models.Factory
	query := `SELECT ` + factoryColumns + ` FROM factories ORDER BY factory_id`
	if err := sqlx.SelectContext(ctx, s.db, &out, query); err != nil {
		return nil, mapPostgresError("list factories", err)
	}
	return out, nil
}

func (s *PostgresStore) GetTrade(ctx context.Context, tradeID string) (*models.Trade, error) {
	var t models.Trade
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE trade_id = $1`
	if err := sqlx.GetContext(ctx, s.db, &t, query, tradeID); err != nil {
		return nil, notFoundOr(err, "trade", tradeID, "get trade")
	}
	return &t, nil
}

func (s *PostgresStore) ListTrades(ctx context.Context, filter TradeFilter) ([]*models.Trade, error) {
	filter = filter.Normalize()

	var (
		conditions []string
		args       []interface{}
	)
	if filter.FactoryID != "" {
		args = append(args, filter.FactoryID)
		conditions = append(conditions, fmt.Sprintf("(seller_id = $%d OR buyer_id = $%d)", len(args), len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + tradeColumns + ` FROM trades`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, trade_id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	out := []*models.Trade{}
	if err := sqlx.SelectContext(ctx, s.db, &out, query, args...); err != nil {
		return nil, mapPostgresError("list trades", err)
	}
	return out, nil
}

func (s *PostgresStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapPostgresError("begin transaction", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapPostgresError("commit transaction", err)
	}
	committed = true
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return mapPostgresError("ping", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type postgresTx struct {
	tx *sqlx.Tx
}

func (p *postgresTx) CreateFactory(ctx context.Context, factory *models.Factory, balance *models.FactoryBalance) error {
	insertFactory := `INSERT INTO factories (` + factoryColumns + `) VALUES (
		:factory_id, :name, :energy_type, :email, :password_hash, :localisation,
		:fiscal_matricule, :energy_capacity, :contact_info, :created_at)`
	if _, err := p.tx.NamedExecContext(ctx, insertFactory, factory); err != nil {
		return mapPostgresError("insert factory", err)
	}

	insertBalance := `INSERT INTO factory_balances (` + balanceColumns + `) VALUES (
		:factory_id, :energy_balance, :currency_balance, :available_energy,
		:daily_consumption, :updated_at)`
	if _, err := p.tx.NamedExecContext(ctx, insertBalance, balance); err != nil {
		return mapPostgresError("insert balance", err)
	}
	return nil
}

func (p *postgresTx) LockBalance(ctx context.Context, factoryID string) (*models.FactoryBalance, error) {
	var b models.FactoryBalance
	query := `SELECT ` + balanceColumns + ` FROM factory_balances WHERE factory_id = $1 FOR UPDATE`
	if err := p.tx.GetContext(ctx, &b, query, factoryID); err != nil {
		return nil, notFoundOr(err, "factory", factoryID, "lock balance")
	}
	return &b, nil
}

func (p *postgresTx) SaveBalance(ctx context.Context, balance *models.FactoryBalance) error {
	query := `UPDATE factory_balances SET
		energy_balance = :energy_balance,
		currency_balance = :currency_balance,
		available_energy = :available_energy,
		daily_consumption = :daily_consumption,
		updated_at = :updated_at
		WHERE factory_id = :factory_id`
	res, err := p.tx.NamedExecContext(ctx, query, balance)
	if err != nil {
		return mapPostgresError("update balance", err)
	}
	return requireRow(res, "factory", balance.FactoryID)
}

func (p *postgresTx) InsertTrade(ctx context.Context, trade *models.Trade) error {
	query := `INSERT INTO trades (` + tradeColumns + `) VALUES (
		:trade_id, :seller_id, :buyer_id, :energy_amount, :price_per_unit, :total_price,
		:status, :created_at, :completed_at, :cancelled_at)`
	if _, err := p.tx.NamedExecContext(ctx, query, trade); err != nil {
		return mapPostgresError("insert trade", err)
	}
	return nil
}

func (p *postgresTx) LockTrade(ctx context.Context, tradeID string) (*models.Trade, error) {
	var t models.Trade
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE trade_id = $1 FOR UPDATE`
	if err := p.tx.GetContext(ctx, &t, query, tradeID); err != nil {
		return nil, notFoundOr(err, "trade", tradeID, "lock trade")
	}
	return &t, nil
}

func (p *postgresTx) SaveTrade(ctx context.Context, trade *models.Trade) error {
	query := `UPDATE trades SET
		status = :status,
		completed_at = :completed_at,
		cancelled_at = :cancelled_at
		WHERE trade_id = :trade_id`
	res, err := p.tx.NamedExecContext(ctx, query, trade)
	if err != nil {
		return mapPostgresError("update trade", err)
	}
	return requireRow(res, "trade", trade.ID)
}

func requireRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewUnavailableError("failed to read affected rows", err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError(resource, id)
	}
	return nil
}

func notFoundOr(err error, resource, id, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFoundError(resource, id)
	}
	return mapPostgresError(op, err)
}

// mapPostgresError translates driver errors into the error kinds callers expect
func mapPostgresError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return apperrors.Wrap(apperrors.KindConflict, op+": duplicate key", err)
		case "23514": // check_violation
			return apperrors.Wrap(apperrors.KindInvalidArgument, op+": constraint violated", err)
		}
	}
	return apperrors.NewUnavailableError(op+" failed", err)
}
