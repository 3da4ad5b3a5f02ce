package storage

import (
	"context"
	"database/sql"
	"fmt"

	json "github.com/goccy/go-json"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/scanner"
)

// PostgresStorage implements Storage using PostgreSQL. It expects two
// provisioned tables: opportunities (one row per scanner emission) and
// task_events (one row per engine journal line, payload as JSONB).
type PostgresStorage struct {
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

// NewPostgresStorage creates a new PostgreSQL storage.
func NewPostgresStorage(cfg *PostgresConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	cfg.Logger.Info("postgres-storage-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return &PostgresStorage{
		db:     db,
		logger: cfg.Logger,
	}, nil
}

// StoreOpportunity stores a scanned opportunity.
func (p *PostgresStorage) StoreOpportunity(ctx context.Context, opp *scanner.Opportunity) error {
	query := `
		INSERT INTO opportunities (
			key, market_id, title, side, strategy,
			maker_token, hedge_token, detected_at,
			predict_price, hedge_price, predict_fee, total_cost,
			profit, profit_bps, max_quantity, predict_depth, hedge_depth
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
	`

	_, err := p.db.ExecContext(ctx, query,
		opp.Key(),
		opp.MarketID,
		opp.Title,
		string(opp.Side),
		string(opp.Strategy),
		opp.MakerToken,
		opp.HedgeToken,
		opp.LastUpdate,
		opp.PredictPrice,
		opp.HedgePrice,
		opp.PredictFee,
		opp.TotalCost,
		opp.Profit,
		opp.ProfitBps,
		opp.MaxQuantity,
		opp.PredictDepth,
		opp.HedgeDepth,
	)

	if err != nil {
		return fmt.Errorf("insert opportunity: %w", err)
	}

	p.logger.Debug("opportunity-stored",
		zap.String("key", opp.Key()),
		zap.Int("profit-bps", opp.ProfitBps))

	return nil
}

// StoreTaskEvent stores one engine journal line.
func (p *PostgresStorage) StoreTaskEvent(ctx context.Context, ev *TaskEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO task_events (task_id, event, payload, recorded_at)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := p.db.ExecContext(ctx, query, ev.TaskID, ev.Event, payload, ev.At); err != nil {
		return fmt.Errorf("insert task event: %w", err)
	}

	p.logger.Debug("task-event-stored",
		zap.String("task-id", ev.TaskID),
		zap.String("event", ev.Event))

	return nil
}

// Close closes the database connection.
func (p *PostgresStorage) Close() error {
	p.logger.Info("closing-postgres-storage")
	return p.db.Close()
}
