package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"loft/internal/server/metadata"
)

// configKey is the fixed key of the single stored-config row.
const configKey = "singleton"

// maxTxRetries bounds retries after serialization failures.
const maxTxRetries = 5

// Store implements metadata.Store on Postgres. Every transaction runs at
// SERIALIZABLE isolation; serialization failures (SQLSTATE 40001) and
// deadlocks (40P01) are retried by re-running the transaction function.
type Store struct {
	db *DB
}

// NewStore creates a metadata store backed by db.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

func (s *Store) RunTx(ctx context.Context, fn func(metadata.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := pgx.BeginTxFunc(ctx, s.db.Pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
			return fn(&pgTx{ctx: ctx, tx: tx})
		})
		if err == nil {
			return nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("transaction failed after %d serialization retries: %w", maxTxRetries, lastErr)
}

type pgTx struct {
	ctx context.Context
	tx  pgx.Tx
}

func (t *pgTx) GetFile(path string) (*metadata.File, error) {
	f := metadata.File{}
	err := t.tx.QueryRow(t.ctx,
		"SELECT path, blob_id, expires_at FROM files WHERE path = $1", path,
	).Scan(&f.Path, &f.BlobID, &f.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return &f, nil
}

func (t *pgTx) InsertFile(f metadata.File) error {
	_, err := t.tx.Exec(t.ctx,
		"INSERT INTO files (path, blob_id, expires_at) VALUES ($1, $2, $3)",
		f.Path, f.BlobID, f.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert file %q: %w", f.Path, err)
	}
	return nil
}

func (t *pgTx) UpdateFile(f metadata.File) error {
	tag, err := t.tx.Exec(t.ctx,
		"UPDATE files SET blob_id = $2, expires_at = $3 WHERE path = $1",
		f.Path, f.BlobID, f.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update file %q: %w", f.Path, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("file %q does not exist", f.Path)
	}
	return nil
}

func (t *pgTx) DeleteFile(path string) error {
	tag, err := t.tx.Exec(t.ctx, "DELETE FROM files WHERE path = $1", path)
	if err != nil {
		return fmt.Errorf("failed to delete file %q: %w", path, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("file %q does not exist", path)
	}
	return nil
}

func (t *pgTx) GetBlob(id string) (*metadata.Blob, error) {
	b := metadata.Blob{}
	err := t.tx.QueryRow(t.ctx,
		"SELECT blob_id, content_type, size, ref_count, updated_at FROM blobs WHERE blob_id = $1", id,
	).Scan(&b.BlobID, &b.ContentType, &b.Size, &b.RefCount, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}
	return &b, nil
}

func (t *pgTx) InsertBlob(b metadata.Blob) error {
	_, err := t.tx.Exec(t.ctx,
		"INSERT INTO blobs (blob_id, content_type, size, ref_count, updated_at) VALUES ($1, $2, $3, $4, $5)",
		b.BlobID, b.ContentType, b.Size, b.RefCount, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert blob %q: %w", b.BlobID, err)
	}
	return nil
}

func (t *pgTx) AddRef(id string, delta int) error {
	tag, err := t.tx.Exec(t.ctx,
		"UPDATE blobs SET ref_count = ref_count + $2, updated_at = NOW() WHERE blob_id = $1",
		id, delta,
	)
	if err != nil {
		return fmt.Errorf("failed to adjust refcount of blob %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("blob %q does not exist", id)
	}
	return nil
}

func (t *pgTx) DeleteBlob(id string) error {
	tag, err := t.tx.Exec(t.ctx, "DELETE FROM blobs WHERE blob_id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete blob %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("blob %q does not exist", id)
	}
	return nil
}

func (t *pgTx) GetUpload(id string) (*metadata.Upload, error) {
	u := metadata.Upload{}
	err := t.tx.QueryRow(t.ctx,
		"SELECT blob_id, content_type, size, expires_at, created_at FROM uploads WHERE blob_id = $1", id,
	).Scan(&u.BlobID, &u.ContentType, &u.Size, &u.ExpiresAt, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	return &u, nil
}

func (t *pgTx) InsertUpload(u metadata.Upload) error {
	_, err := t.tx.Exec(t.ctx,
		"INSERT INTO uploads (blob_id, content_type, size, expires_at, created_at) VALUES ($1, $2, $3, $4, $5)",
		u.BlobID, u.ContentType, u.Size, u.ExpiresAt, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert upload %q: %w", u.BlobID, err)
	}
	return nil
}

func (t *pgTx) UpdateUpload(u metadata.Upload) error {
	tag, err := t.tx.Exec(t.ctx,
		"UPDATE uploads SET content_type = $2, size = $3, expires_at = $4 WHERE blob_id = $1",
		u.BlobID, u.ContentType, u.Size, u.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update upload %q: %w", u.BlobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upload %q does not exist", u.BlobID)
	}
	return nil
}

func (t *pgTx) DeleteUpload(id string) error {
	tag, err := t.tx.Exec(t.ctx, "DELETE FROM uploads WHERE blob_id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete upload %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upload %q does not exist", id)
	}
	return nil
}

func (t *pgTx) ListFiles(prefix, after string, limit int) ([]metadata.File, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if prefix == "" {
		rows, err = t.tx.Query(t.ctx,
			"SELECT path, blob_id, expires_at FROM files WHERE path > $1 ORDER BY path LIMIT $2",
			after, limit,
		)
	} else {
		// Half-open range [prefix, prefix+MAX_CHAR) keeps the scan on the
		// primary key index.
		upper := prefix + string(rune(0x10FFFF))
		rows, err = t.tx.Query(t.ctx,
			"SELECT path, blob_id, expires_at FROM files WHERE path > $1 AND path >= $2 AND path < $3 ORDER BY path LIMIT $4",
			after, prefix, upper, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()
	return scanFiles(rows)
}

func (t *pgTx) ExpiredUploads(now time.Time, limit int) ([]metadata.Upload, error) {
	rows, err := t.tx.Query(t.ctx,
		"SELECT blob_id, content_type, size, expires_at, created_at FROM uploads WHERE expires_at < $1 ORDER BY expires_at LIMIT $2",
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired uploads: %w", err)
	}
	defer rows.Close()

	var out []metadata.Upload
	for rows.Next() {
		u := metadata.Upload{}
		if err := rows.Scan(&u.BlobID, &u.ContentType, &u.Size, &u.ExpiresAt, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan expired upload: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (t *pgTx) OrphanedBlobs(cutoff time.Time, limit int) ([]metadata.Blob, error) {
	rows, err := t.tx.Query(t.ctx,
		"SELECT blob_id, content_type, size, ref_count, updated_at FROM blobs WHERE ref_count = 0 AND updated_at <= $1 ORDER BY updated_at LIMIT $2",
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query orphaned blobs: %w", err)
	}
	defer rows.Close()

	var out []metadata.Blob
	for rows.Next() {
		b := metadata.Blob{}
		if err := rows.Scan(&b.BlobID, &b.ContentType, &b.Size, &b.RefCount, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan orphaned blob: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (t *pgTx) ExpiredFiles(now time.Time, limit int) ([]metadata.File, error) {
	rows, err := t.tx.Query(t.ctx,
		"SELECT path, blob_id, expires_at FROM files WHERE expires_at IS NOT NULL AND expires_at < $1 ORDER BY path LIMIT $2",
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired files: %w", err)
	}
	defer rows.Close()
	return scanFiles(rows)
}

func scanFiles(rows pgx.Rows) ([]metadata.File, error) {
	var out []metadata.File
	for rows.Next() {
		f := metadata.File{}
		if err := rows.Scan(&f.Path, &f.BlobID, &f.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (t *pgTx) GetConfig() (*metadata.StoredConfig, error) {
	var (
		payload []byte
		stored  metadata.StoredConfig
	)
	err := t.tx.QueryRow(t.ctx,
		"SELECT payload, checksum, freeze_gc, updated_at FROM config WHERE key = $1", configKey,
	).Scan(&payload, &stored.Checksum, &stored.FreezeGC, &stored.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}
	if err := json.Unmarshal(payload, &stored.Config); err != nil {
		return nil, fmt.Errorf("failed to decode stored config: %w", err)
	}
	return &stored, nil
}

func (t *pgTx) PutConfig(cfg metadata.Config, checksum string) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = t.tx.Exec(t.ctx, `
		INSERT INTO config (key, payload, checksum, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE
			SET payload = EXCLUDED.payload, checksum = EXCLUDED.checksum, updated_at = NOW()
	`, configKey, payload, checksum)
	if err != nil {
		return fmt.Errorf("failed to store config: %w", err)
	}
	return nil
}

func (t *pgTx) SetFreezeGC(frozen bool) error {
	tag, err := t.tx.Exec(t.ctx,
		"UPDATE config SET freeze_gc = $2, updated_at = NOW() WHERE key = $1", configKey, frozen,
	)
	if err != nil {
		return fmt.Errorf("failed to set freeze flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return metadata.ErrNotConfigured
	}
	return nil
}

func (t *pgTx) Stats() (*metadata.Stats, error) {
	stats := &metadata.Stats{}
	err := t.tx.QueryRow(t.ctx, `
		SELECT
			(SELECT COUNT(*) FROM files),
			(SELECT COUNT(*) FROM blobs),
			(SELECT COUNT(*) FROM uploads),
			(SELECT COUNT(*) FROM blobs WHERE ref_count = 0),
			(SELECT COALESCE(SUM(size), 0) FROM blobs WHERE ref_count > 0)
	`).Scan(
		&stats.Files,
		&stats.Blobs,
		&stats.PendingUploads,
		&stats.OrphanedBlobs,
		&stats.ReferencedBytes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}
