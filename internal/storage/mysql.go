package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"crypto-strategy-engine/internal/engine"
	"crypto-strategy-engine/internal/model"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// schema 成交、净值、快照三张表，只追加
var schema = []string{
	`CREATE TABLE IF NOT EXISTS fills (
	id CHAR(36) NOT NULL PRIMARY KEY,
	instance VARCHAR(64) NOT NULL,
	ts DATETIME(3) NOT NULL,
	symbol VARCHAR(32) NOT NULL,
	side VARCHAR(8) NOT NULL,
	quantity DOUBLE NOT NULL,
	price DOUBLE NOT NULL,
	quote DOUBLE NOT NULL,
	fee DOUBLE NOT NULL,
	pnl DOUBLE NOT NULL,
	reason VARCHAR(64) NOT NULL,
	INDEX idx_fills_instance_ts (instance, ts)
)`,
	`CREATE TABLE IF NOT EXISTS equity (
	id CHAR(36) NOT NULL PRIMARY KEY,
	instance VARCHAR(64) NOT NULL,
	ts DATETIME(3) NOT NULL,
	equity DOUBLE NOT NULL,
	INDEX idx_equity_instance_ts (instance, ts)
)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
	id CHAR(36) NOT NULL PRIMARY KEY,
	instance VARCHAR(64) NOT NULL,
	strategy VARCHAR(32) NOT NULL,
	ts DATETIME(3) NOT NULL,
	action VARCHAR(8) NOT NULL,
	reason VARCHAR(64) NOT NULL,
	asset VARCHAR(32) NOT NULL,
	quantity DOUBLE NOT NULL,
	equity DOUBLE NOT NULL,
	decision JSON NOT NULL,
	INDEX idx_snapshots_instance_ts (instance, ts)
)`,
}

// MySQLRecorder 每次迭代一个事务
type MySQLRecorder struct {
	db     *sql.DB
	logger *zap.Logger
}

func OpenMySQL(ctx context.Context, dsn string, logger *zap.Logger) (*MySQLRecorder, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql open: %w", err)
	}
	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(16)
	db.SetConnMaxLifetime(time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql ping: %w", err)
	}
	return NewMySQLRecorder(db, logger), nil
}

func NewMySQLRecorder(db *sql.DB, logger *zap.Logger) *MySQLRecorder {
	return &MySQLRecorder{db: db, logger: logger}
}

func (r *MySQLRecorder) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	r.logger.Info("MySQL schema ready", zap.Int("Tables", len(schema)))
	return nil
}

func (r *MySQLRecorder) Close() error { return r.db.Close() }

func (r *MySQLRecorder) Begin(ctx context.Context) (engine.Batch, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &mysqlBatch{ctx: ctx, tx: tx}, nil
}

type mysqlBatch struct {
	ctx context.Context
	tx  *sql.Tx
}

func (b *mysqlBatch) AddFill(instance string, f model.Fill) error {
	_, err := b.tx.ExecContext(b.ctx,
		`INSERT INTO fills (id, instance, ts, symbol, side, quantity, price, quote, fee, pnl, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), instance, f.Time.UTC(), f.Symbol, string(f.Side),
		f.Quantity, f.Price, f.Quote, f.Fee, f.PnL, string(f.Reason))
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

func (b *mysqlBatch) AddEquity(instance string, p model.EquityPoint) error {
	_, err := b.tx.ExecContext(b.ctx,
		`INSERT INTO equity (id, instance, ts, equity) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), instance, p.Time.UTC(), p.Equity)
	if err != nil {
		return fmt.Errorf("insert equity: %w", err)
	}
	return nil
}

func (b *mysqlBatch) AddSnapshot(s model.Snapshot) error {
	decision, err := json.Marshal(s.Decision)
	if err != nil {
		return err
	}
	_, err = b.tx.ExecContext(b.ctx,
		`INSERT INTO snapshots (id, instance, strategy, ts, action, reason, asset, quantity, equity, decision)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), s.Instance, s.Strategy, s.Time.UTC(), string(s.Decision.Action), string(s.Decision.Reason),
		s.Position.Asset, s.Position.Quantity, s.Equity, string(decision))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (b *mysqlBatch) Commit() error   { return b.tx.Commit() }
func (b *mysqlBatch) Rollback() error { return b.tx.Rollback() }
