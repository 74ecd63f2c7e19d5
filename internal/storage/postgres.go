package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	qInsertImage = `
INSERT INTO hosted_images (key, data, content_type, created_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (key) DO NOTHING`

	qSelectImage = `
SELECT data, content_type FROM hosted_images WHERE key = $1`
)

// PGStore persists blobs in a Postgres table. Suits deployments that already
// run a database but have no writable volume.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) (*PGStore, error) {
	if pool == nil {
		return nil, errors.New("storage: pgx pool is required")
	}
	return &PGStore{pool: pool}, nil
}

func (s *PGStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, qInsertImage, cleanKey, data, contentType); err != nil {
		return fmt.Errorf("storage: insert image: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, key string) (Object, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return Object{}, err
	}
	var obj Object
	row := s.pool.QueryRow(ctx, qSelectImage, cleanKey)
	if err := row.Scan(&obj.Data, &obj.ContentType); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Object{}, ErrNotFound
		}
		return Object{}, fmt.Errorf("storage: select image: %w", err)
	}
	if obj.ContentType == "" {
		obj.ContentType = "image/png"
	}
	return obj, nil
}
