package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/target/portal-session/internal/data/pgxutil"
	apperrors "github.com/target/portal-session/internal/errors"
)

// KVRepo stores session keys in the portal_kv table.
// Reads are one SELECT (one snapshot). Writes are one batched transaction
// and deletes are one statement, so readers never see half an update.
type KVRepo struct {
	DB     *sql.DB
	Prefix string
}

// NewKVRepo creates a new KVRepo namespacing keys with prefix.
func NewKVRepo(db *sql.DB, prefix string) *KVRepo {
	return &KVRepo{DB: db, Prefix: prefix}
}

// ErrEmptyKey is returned when a write names an empty key.
var ErrEmptyKey = errors.New("key cannot be empty")

func (r *KVRepo) fullKeys(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = r.Prefix + k
	}
	return out
}

func (r *KVRepo) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	byFull := make(map[string]string, len(keys))
	for _, k := range keys {
		byFull[r.Prefix+k] = k
	}

	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT key, value FROM portal_kv WHERE key = ANY($1)`, r.fullKeys(keys))
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				return err
			}
			out[byFull[k]] = v
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("kv get: %w", apperrors.MapDBError(err))
	}
	return out, nil
}

func (r *KVRepo) Set(ctx context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}
	for k := range entries {
		if k == "" {
			return ErrEmptyKey
		}
	}

	const upsert = `
		INSERT INTO portal_kv (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

	var batch pgx.Batch
	for k, v := range entries {
		batch.Queue(upsert, r.Prefix+k, v)
	}
	err := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		return pgxutil.SendBatch(ctx, tx, &batch)
	})
	if err != nil {
		return fmt.Errorf("kv set: %w", apperrors.MapDBError(err))
	}
	return nil
}

func (r *KVRepo) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, `DELETE FROM portal_kv WHERE key = ANY($1)`, r.fullKeys(keys))
		return err
	})
	if err != nil {
		return fmt.Errorf("kv delete: %w", apperrors.MapDBError(err))
	}
	return nil
}
