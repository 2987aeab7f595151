package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/cartstore/pkg/database"
	apperrors "github.com/utafrali/cartstore/pkg/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the schema migrations for the cart_blobs table,
// rooted so that database.RunMigrations sees the .sql files directly.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(fmt.Sprintf("cart blob migrations: %v", err))
	}
	return sub
}

// Store implements blob.Store on a single PostgreSQL table.
type Store struct {
	db database.DBTX
}

// NewStore creates a new PostgreSQL-backed blob store.
func NewStore(db database.DBTX) *Store {
	return &Store{db: db}
}

// Get retrieves the blob stored under key.
func (s *Store) Get(ctx context.Context, key string) (_ []byte, err error) {
	query := `SELECT value FROM cart_blobs WHERE key = $1`

	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "GetBlob", query)
	defer func() { end(err) }()

	var value []byte
	if err := s.db.QueryRow(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("blob", key)
		}
		return nil, fmt.Errorf("get cart blob: %w", err)
	}
	return value, nil
}

// Set inserts or overwrites the blob stored under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) (err error) {
	query := `
		INSERT INTO cart_blobs (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "SetBlob", query)
	defer func() { end(err) }()

	if _, err := s.db.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("upsert cart blob: %w", err)
	}
	return nil
}

// Ping checks connectivity to PostgreSQL.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
