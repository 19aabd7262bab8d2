package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	gwcontext "github.com/yourorg/multigateway/internal/context"
)

const schema = `
CREATE TABLE IF NOT EXISTS gateways (
    id          BIGSERIAL PRIMARY KEY,
    type        TEXT        NOT NULL,
    name        TEXT        NOT NULL,
    is_active   BOOLEAN     NOT NULL DEFAULT TRUE,
    priority    INTEGER     NOT NULL DEFAULT 1,
    credentials JSONB       NOT NULL DEFAULT '{}'::jsonb,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS transactions (
    id                TEXT PRIMARY KEY,
    gateway_id        BIGINT      NOT NULL REFERENCES gateways(id),
    external_id       TEXT        NOT NULL,
    status            TEXT        NOT NULL,
    amount            BIGINT      NOT NULL,
    card_last_numbers VARCHAR(4)  NOT NULL DEFAULT '',
    payer_name        TEXT        NOT NULL DEFAULT '',
    payer_email       TEXT        NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS transactions_gateway_id_idx ON transactions (gateway_id);
CREATE INDEX IF NOT EXISTS gateways_routing_idx ON gateways (priority, id) WHERE deleted_at IS NULL;
`

const gatewayColumns = `id, type, name, is_active, priority, credentials, updated_at`

const transactionColumns = `id, gateway_id, external_id, status, amount, card_last_numbers, payer_name, payer_email, created_at, updated_at`

// PostgresStore manages gateways and transactions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens and pings a connection pool for dsn.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres db: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing pool.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGateway(row rowScanner) (gwcontext.GatewayConfig, error) {
	var (
		cfg   gwcontext.GatewayConfig
		typ   string
		creds []byte
	)
	if err := row.Scan(&cfg.ID, &typ, &cfg.Name, &cfg.IsActive, &cfg.Priority, &creds, &cfg.UpdatedAt); err != nil {
		return gwcontext.GatewayConfig{}, err
	}
	cfg.Type = gwcontext.GatewayType(typ)
	if len(creds) > 0 {
		if err := json.Unmarshal(creds, &cfg.Credentials); err != nil {
			return gwcontext.GatewayConfig{}, fmt.Errorf("failed to decode credentials of gateway %d: %w", cfg.ID, err)
		}
	}
	return cfg, nil
}

func (s *PostgresStore) ListGateways(ctx context.Context) ([]gwcontext.GatewayConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+gatewayColumns+` FROM gateways WHERE deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list gateways: %w", err)
	}
	defer rows.Close()

	var out []gwcontext.GatewayConfig
	for rows.Next() {
		cfg, err := scanGateway(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetGateway(ctx context.Context, id int64) (gwcontext.GatewayConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+gatewayColumns+` FROM gateways WHERE id = $1 AND deleted_at IS NULL`, id)
	cfg, err := scanGateway(row)
	if errors.Is(err, sql.ErrNoRows) {
		return gwcontext.GatewayConfig{}, fmt.Errorf("gateway %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return gwcontext.GatewayConfig{}, fmt.Errorf("failed to get gateway %d: %w", id, err)
	}
	return cfg, nil
}

func encodeCredentials(c gwcontext.Credentials) ([]byte, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

func (s *PostgresStore) CreateGateway(ctx context.Context, cfg gwcontext.GatewayConfig) (gwcontext.GatewayConfig, error) {
	if err := validateGateway(cfg); err != nil {
		return gwcontext.GatewayConfig{}, err
	}
	creds, err := encodeCredentials(cfg.Credentials)
	if err != nil {
		return gwcontext.GatewayConfig{}, err
	}
	row := s.db.QueryRowContext(ctx, `
        INSERT INTO gateways (type, name, is_active, priority, credentials)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING `+gatewayColumns,
		string(cfg.Type), cfg.Name, cfg.IsActive, cfg.Priority, creds)
	out, err := scanGateway(row)
	if err != nil {
		return gwcontext.GatewayConfig{}, mapPQError("failed to insert gateway", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateGateway(ctx context.Context, cfg gwcontext.GatewayConfig) (gwcontext.GatewayConfig, error) {
	if err := validateGateway(cfg); err != nil {
		return gwcontext.GatewayConfig{}, err
	}
	creds, err := encodeCredentials(cfg.Credentials)
	if err != nil {
		return gwcontext.GatewayConfig{}, err
	}
	row := s.db.QueryRowContext(ctx, `
        UPDATE gateways
        SET type = $2, name = $3, is_active = $4, priority = $5, credentials = $6, updated_at = now()
        WHERE id = $1 AND deleted_at IS NULL
        RETURNING `+gatewayColumns,
		cfg.ID, string(cfg.Type), cfg.Name, cfg.IsActive, cfg.Priority, creds)
	out, err := scanGateway(row)
	if errors.Is(err, sql.ErrNoRows) {
		return gwcontext.GatewayConfig{}, fmt.Errorf("gateway %d: %w", cfg.ID, ErrNotFound)
	}
	if err != nil {
		return gwcontext.GatewayConfig{}, mapPQError("failed to update gateway", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteGateway(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE gateways SET deleted_at = now(), is_active = FALSE WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to delete gateway %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("gateway %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanTransaction(row rowScanner) (gwcontext.Transaction, error) {
	var (
		tx     gwcontext.Transaction
		status string
	)
	err := row.Scan(&tx.ID, &tx.GatewayID, &tx.ExternalID, &status, &tx.AmountMinorUnits,
		&tx.CardLastNumbers, &tx.PayerName, &tx.PayerEmail, &tx.CreatedAt, &tx.UpdatedAt)
	tx.Status = gwcontext.TransactionStatus(status)
	return tx, err
}

func (s *PostgresStore) CreateTransaction(ctx context.Context, tx gwcontext.Transaction) (gwcontext.Transaction, error) {
	if err := validateTransaction(tx); err != nil {
		return gwcontext.Transaction{}, err
	}
	row := s.db.QueryRowContext(ctx, `
        INSERT INTO transactions (id, gateway_id, external_id, status, amount, card_last_numbers, payer_name, payer_email)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING `+transactionColumns,
		tx.ID, tx.GatewayID, tx.ExternalID, string(tx.Status), tx.AmountMinorUnits,
		tx.CardLastNumbers, tx.PayerName, tx.PayerEmail)
	out, err := scanTransaction(row)
	if err != nil {
		return gwcontext.Transaction{}, mapPQError("failed to insert transaction", err)
	}
	return out, nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (gwcontext.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return gwcontext.Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return gwcontext.Transaction{}, fmt.Errorf("failed to get transaction %s: %w", id, err)
	}
	return tx, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]gwcontext.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if filter.GatewayID != 0 {
		args = append(args, filter.GatewayID)
		where = append(where, fmt.Sprintf("gateway_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]gwcontext.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateTransactionStatus(ctx context.Context, id string, from, to gwcontext.TransactionStatus) (gwcontext.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
        UPDATE transactions SET status = $3, updated_at = now()
        WHERE id = $1 AND status = $2
        RETURNING `+transactionColumns,
		id, string(from), string(to))
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.GetTransaction(ctx, id)
		if getErr != nil {
			return gwcontext.Transaction{}, getErr
		}
		return current, fmt.Errorf("transaction %s is %s, expected %s: %w", id, current.Status, from, ErrConflict)
	}
	if err != nil {
		return gwcontext.Transaction{}, fmt.Errorf("failed to update transaction %s: %w", id, err)
	}
	return tx, nil
}

// mapPQError translates constraint violations into store sentinels.
func mapPQError(msg string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return fmt.Errorf("%s: %w: %s", msg, ErrConflict, pqErr.Message)
		case "foreign_key_violation", "check_violation", "not_null_violation", "string_data_right_truncation":
			return fmt.Errorf("%s: %w: %s", msg, ErrInvalid, pqErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

var _ Store = (*PostgresStore)(nil)
