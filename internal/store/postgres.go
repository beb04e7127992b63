package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool limits for the Postgres store.
const (
	DefaultMaxConns        = 10
	DefaultMinConns        = 2
	DefaultMaxConnIdleTime = time.Minute

	connectTimeout = 5 * time.Second
	pingTimeout    = 2 * time.Second
)

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and verifies the connection.
func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("database url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolCfg.MaxConns = DefaultMaxConns
	poolCfg.MinConns = DefaultMinConns
	poolCfg.MaxConnIdleTime = DefaultMaxConnIdleTime

	logger.Info("Initializing PostgreSQL connection pool",
		slog.String("host", poolCfg.ConnConfig.Host),
		slog.Int("port", int(poolCfg.ConnConfig.Port)),
		slog.String("database", poolCfg.ConnConfig.Database))

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) GetOrCreateUser(ctx context.Context, googleID, email, name string) (User, error) {
	if googleID == "" {
		return User{}, errors.New("google id is required")
	}

	// The no-op update makes RETURNING yield the existing row on conflict.
	const query = `
        INSERT INTO users (id, google_id, email, name, created_at)
        VALUES ($1, $2, $3, $4, NOW())
        ON CONFLICT (google_id) DO UPDATE SET google_id = EXCLUDED.google_id
        RETURNING id, google_id, email, name, created_at
    `
	var u User
	err := p.pool.QueryRow(ctx, query, uuid.NewString(), googleID, email, name).Scan(
		&u.ID, &u.GoogleID, &u.Email, &u.Name, &u.CreatedAt,
	)
	if err != nil {
		return User{}, fmt.Errorf("failed to upsert user: %w", err)
	}
	return u, nil
}

func (p *Postgres) UserByID(ctx context.Context, id string) (User, error) {
	const query = `
        SELECT id, google_id, email, name, created_at
        FROM users
        WHERE id = $1
    `
	var u User
	err := p.pool.QueryRow(ctx, query, id).Scan(&u.ID, &u.GoogleID, &u.Email, &u.Name, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (p *Postgres) OfficialOwnedBy(ctx context.Context, userID, officialID string) (bool, error) {
	const query = `
        SELECT EXISTS (
            SELECT 1
            FROM officials o
            JOIN databases d ON d.id = o.database_id
            WHERE o.id = $1 AND d.user_id = $2
        )
    `
	var owned bool
	if err := p.pool.QueryRow(ctx, query, officialID, userID).Scan(&owned); err != nil {
		return false, fmt.Errorf("failed to check official owner: %w", err)
	}
	return owned, nil
}

func (p *Postgres) MarkSent(ctx context.Context, userID, officialID string, at time.Time) error {
	const query = `
        INSERT INTO sent_history (user_id, official_id, sent_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (user_id, official_id) DO UPDATE SET sent_at = EXCLUDED.sent_at
    `
	if _, err := p.pool.Exec(ctx, query, userID, officialID, at.UTC()); err != nil {
		return fmt.Errorf("failed to mark sent: %w", err)
	}
	return nil
}

func (p *Postgres) SentHistory(ctx context.Context, userID string) ([]string, error) {
	const query = `
        SELECT official_id
        FROM sent_history
        WHERE user_id = $1
        ORDER BY sent_at, official_id
    `
	rows, err := p.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sent history: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan sent history: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := p.pool.Ping(pingCtx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

var _ Store = (*Postgres)(nil)
