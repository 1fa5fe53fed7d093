package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/mselser95/prediction-arb/pkg/types"
	"go.uber.org/zap"
)

// PostgresSink implements Sink using PostgreSQL.
type PostgresSink struct {
	db     *sql.DB
	logger *zap.Logger
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

// NewPostgresSink connects to PostgreSQL and ensures the trades table
// exists. The unique (venue, venue_order_id) index backs Record's
// idempotency guarantee.
func NewPostgresSink(cfg *PostgresConfig) (*PostgresSink, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Ping()
	if err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			id             BIGSERIAL PRIMARY KEY,
			executed_at    TIMESTAMPTZ NOT NULL,
			venue          TEXT        NOT NULL,
			market_id      TEXT        NOT NULL,
			token_id       TEXT        NOT NULL,
			outcome        TEXT        NOT NULL,
			side           TEXT        NOT NULL,
			price          NUMERIC     NOT NULL,
			size           NUMERIC     NOT NULL,
			fee            NUMERIC     NOT NULL,
			venue_order_id TEXT        NOT NULL,
			UNIQUE (venue, venue_order_id)
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("ensure trades table: %w", err)
	}

	cfg.Logger.Info("postgres-sink-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return &PostgresSink{
		db:     db,
		logger: cfg.Logger,
	}, nil
}

// Record inserts one trade. Replays of the same (venue, venue_order_id)
// are swallowed by the conflict clause.
func (p *PostgresSink) Record(ctx context.Context, trade *types.Trade) error {
	query := `
		INSERT INTO trades (
			executed_at, venue, market_id, token_id, outcome, side,
			price, size, fee, venue_order_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (venue, venue_order_id) DO NOTHING
	`

	result, err := p.db.ExecContext(ctx, query,
		trade.Timestamp,
		string(trade.Venue),
		trade.MarketID,
		trade.TokenID,
		string(trade.Outcome),
		string(trade.Side),
		trade.Price,
		trade.Size,
		trade.Fee,
		trade.VenueOrderID,
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		p.logger.Debug("trade-already-recorded",
			zap.String("venue", string(trade.Venue)),
			zap.String("venue-order-id", trade.VenueOrderID))
	}

	return nil
}

// Close closes the database connection.
func (p *PostgresSink) Close() error {
	p.logger.Info("closing-postgres-sink")
	return p.db.Close()
}
