package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// timeFormat is the ISO 8601 format used for all timestamps in SQLite.
const timeFormat = "2006-01-02T15:04:05.000Z"

// Store is the SQLite-backed metadata store. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the metadata database at dbPath and
// initializes the schema.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening metadata database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing metadata schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS access_keys (
			id                TEXT PRIMARY KEY,
			access_key_id     TEXT NOT NULL UNIQUE,
			secret_access_key TEXT NOT NULL,
			display_name      TEXT NOT NULL DEFAULT '',
			is_active         INTEGER NOT NULL DEFAULT 1,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS buckets (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL UNIQUE,
			owner_id   TEXT NOT NULL REFERENCES access_keys(id),
			region     TEXT NOT NULL DEFAULT 'us-east-1',
			acl        TEXT NOT NULL DEFAULT 'private',
			max_size   INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS objects (
			id            TEXT PRIMARY KEY,
			bucket_id     TEXT NOT NULL REFERENCES buckets(id) ON DELETE CASCADE,
			key           TEXT NOT NULL,
			size          INTEGER NOT NULL,
			etag          TEXT NOT NULL,
			content_type  TEXT NOT NULL DEFAULT 'application/octet-stream',
			storage_path  TEXT NOT NULL DEFAULT '',
			metadata      TEXT NOT NULL DEFAULT '{}',
			last_modified TEXT NOT NULL,
			created_at    TEXT NOT NULL,
			UNIQUE (bucket_id, key)
		);

		CREATE INDEX IF NOT EXISTS idx_objects_bucket_key ON objects(bucket_id, key);

		CREATE TABLE IF NOT EXISTS multipart_uploads (
			id           TEXT PRIMARY KEY,
			upload_id    TEXT NOT NULL UNIQUE,
			bucket_id    TEXT NOT NULL REFERENCES buckets(id) ON DELETE CASCADE,
			key          TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
			metadata     TEXT NOT NULL DEFAULT '{}',
			initiated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS multipart_parts (
			id           TEXT PRIMARY KEY,
			upload_id    TEXT NOT NULL REFERENCES multipart_uploads(upload_id) ON DELETE CASCADE,
			part_number  INTEGER NOT NULL,
			size         INTEGER NOT NULL,
			etag         TEXT NOT NULL,
			storage_path TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL,
			UNIQUE (upload_id, part_number)
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeFormat, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func marshalMeta(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMeta(v string) (map[string]string, error) {
	m := map[string]string{}
	if v == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(v), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// likeEscape escapes LIKE wildcards in s so it can be used as a literal
// prefix with the ESCAPE '\' clause.
func likeEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// ---- access keys ----

// CreateAccessKey inserts a new access key. The ID and timestamps are
// assigned here if unset.
func (s *Store) CreateAccessKey(ctx context.Context, key *AccessKey) error {
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if key.CreatedAt.IsZero() {
		key.CreatedAt = now
	}
	key.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_keys (id, access_key_id, secret_access_key, display_name, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, key.ID, key.AccessKeyID, key.SecretAccessKey, key.DisplayName, key.IsActive, fmtTime(key.CreatedAt), fmtTime(key.UpdatedAt))
	return err
}

func scanAccessKey(row *sql.Row) (*AccessKey, error) {
	var k AccessKey
	var created, updated string
	err := row.Scan(&k.ID, &k.AccessKeyID, &k.SecretAccessKey, &k.DisplayName, &k.IsActive, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrAccessKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	k.CreatedAt = parseTime(created)
	k.UpdatedAt = parseTime(updated)
	return &k, nil
}

// GetAccessKey returns the access key with the given row id.
func (s *Store) GetAccessKey(ctx context.Context, id string) (*AccessKey, error) {
	return scanAccessKey(s.db.QueryRowContext(ctx, `
		SELECT id, access_key_id, secret_access_key, display_name, is_active, created_at, updated_at
		FROM access_keys WHERE id = ?
	`, id))
}

// GetAccessKeyByKeyID returns the access key with the given AWS-style
// access key id, as presented in request credentials.
func (s *Store) GetAccessKeyByKeyID(ctx context.Context, accessKeyID string) (*AccessKey, error) {
	return scanAccessKey(s.db.QueryRowContext(ctx, `
		SELECT id, access_key_id, secret_access_key, display_name, is_active, created_at, updated_at
		FROM access_keys WHERE access_key_id = ?
	`, accessKeyID))
}

// ListAccessKeys returns all access keys ordered by creation time.
func (s *Store) ListAccessKeys(ctx context.Context) ([]AccessKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, access_key_id, secret_access_key, display_name, is_active, created_at, updated_at
		FROM access_keys ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []AccessKey
	for rows.Next() {
		var k AccessKey
		var created, updated string
		if err := rows.Scan(&k.ID, &k.AccessKeyID, &k.SecretAccessKey, &k.DisplayName, &k.IsActive, &created, &updated); err != nil {
			return nil, err
		}
		k.CreatedAt = parseTime(created)
		k.UpdatedAt = parseTime(updated)
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpdateAccessKey updates the mutable fields of an access key.
func (s *Store) UpdateAccessKey(ctx context.Context, id, displayName string, isActive bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE access_keys SET display_name = ?, is_active = ?, updated_at = ? WHERE id = ?
	`, displayName, isActive, fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAccessKeyNotFound
	}
	return nil
}

// DeleteAccessKey removes an access key. Buckets owned by the key are
// reassigned to another key inside the same transaction; if no other key
// exists the delete fails with ErrLastAccessKey.
func (s *Store) DeleteAccessKey(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var owned int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM buckets WHERE owner_id = ?`, id).Scan(&owned); err != nil {
		return err
	}

	if owned > 0 {
		var heirID string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM access_keys WHERE id != ? ORDER BY created_at LIMIT 1
		`, id).Scan(&heirID)
		if err == sql.ErrNoRows {
			return ErrLastAccessKey
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE buckets SET owner_id = ? WHERE owner_id = ?`, heirID, id); err != nil {
			return err
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM access_keys WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAccessKeyNotFound
	}

	return tx.Commit()
}

// CountAccessKeys returns the number of access keys.
func (s *Store) CountAccessKeys(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM access_keys`).Scan(&n)
	return n, err
}

// ---- buckets ----

// CreateBucket inserts a new bucket row. Returns ErrBucketExists if the
// name is taken.
func (s *Store) CreateBucket(ctx context.Context, b *Bucket) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if b.ACL == "" {
		b.ACL = ACLPrivate
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM buckets WHERE name = ?`, b.Name).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return ErrBucketExists
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO buckets (id, name, owner_id, region, acl, max_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.Name, b.OwnerID, b.Region, b.ACL, b.MaxSize, fmtTime(b.CreatedAt))
	return err
}

// GetBucket returns the bucket with the given name.
func (s *Store) GetBucket(ctx context.Context, name string) (*Bucket, error) {
	var b Bucket
	var created string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, region, acl, max_size, created_at FROM buckets WHERE name = ?
	`, name).Scan(&b.ID, &b.Name, &b.OwnerID, &b.Region, &b.ACL, &b.MaxSize, &created)
	if err == sql.ErrNoRows {
		return nil, ErrBucketNotFound
	}
	if err != nil {
		return nil, err
	}
	b.CreatedAt = parseTime(created)
	return &b, nil
}

// ListBuckets returns all buckets ordered by name.
func (s *Store) ListBuckets(ctx context.Context) ([]Bucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, owner_id, region, acl, max_size, created_at FROM buckets ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []Bucket
	for rows.Next() {
		var b Bucket
		var created string
		if err := rows.Scan(&b.ID, &b.Name, &b.OwnerID, &b.Region, &b.ACL, &b.MaxSize, &created); err != nil {
			return nil, err
		}
		b.CreatedAt = parseTime(created)
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// UpdateBucket updates a bucket's ACL and size limit.
func (s *Store) UpdateBucket(ctx context.Context, name, acl string, maxSize int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE buckets SET acl = ?, max_size = ? WHERE name = ?
	`, acl, maxSize, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBucketNotFound
	}
	return nil
}

// DeleteBucket removes a bucket row. Object rows cascade.
func (s *Store) DeleteBucket(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM buckets WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBucketNotFound
	}
	return nil
}

// CountObjects returns the number of objects in a bucket.
func (s *Store) CountObjects(ctx context.Context, bucketID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects WHERE bucket_id = ?`, bucketID).Scan(&n)
	return n, err
}

// ---- objects ----

// UpsertObject creates or replaces the object row for (bucket, key).
func (s *Store) UpsertObject(ctx context.Context, obj *Object) error {
	if obj.ID == "" {
		obj.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = now
	}
	if obj.LastModified.IsZero() {
		obj.LastModified = now
	}
	meta, err := marshalMeta(obj.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO objects (id, bucket_id, key, size, etag, content_type, storage_path, metadata, last_modified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (bucket_id, key) DO UPDATE SET
			size = excluded.size,
			etag = excluded.etag,
			content_type = excluded.content_type,
			storage_path = excluded.storage_path,
			metadata = excluded.metadata,
			last_modified = excluded.last_modified
	`, obj.ID, obj.BucketID, obj.Key, obj.Size, obj.ETag, obj.ContentType, obj.StoragePath, meta,
		fmtTime(obj.LastModified), fmtTime(obj.CreatedAt))
	return err
}

func (s *Store) scanObjects(rows *sql.Rows) ([]Object, error) {
	var objects []Object
	for rows.Next() {
		var o Object
		var meta, modified, created string
		if err := rows.Scan(&o.ID, &o.BucketID, &o.Key, &o.Size, &o.ETag, &o.ContentType, &o.StoragePath, &meta, &modified, &created); err != nil {
			return nil, err
		}
		m, err := unmarshalMeta(meta)
		if err != nil {
			return nil, err
		}
		o.Metadata = m
		o.LastModified = parseTime(modified)
		o.CreatedAt = parseTime(created)
		objects = append(objects, o)
	}
	return objects, rows.Err()
}

// GetObject returns the object row for (bucket, key).
func (s *Store) GetObject(ctx context.Context, bucketID, key string) (*Object, error) {
	var o Object
	var meta, modified, created string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, bucket_id, key, size, etag, content_type, storage_path, metadata, last_modified, created_at
		FROM objects WHERE bucket_id = ? AND key = ?
	`, bucketID, key).Scan(&o.ID, &o.BucketID, &o.Key, &o.Size, &o.ETag, &o.ContentType, &o.StoragePath, &meta, &modified, &created)
	if err == sql.ErrNoRows {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}
	m, err := unmarshalMeta(meta)
	if err != nil {
		return nil, err
	}
	o.Metadata = m
	o.LastModified = parseTime(modified)
	o.CreatedAt = parseTime(created)
	return &o, nil
}

// DeleteObject removes the object row for (bucket, key). Returns
// ErrObjectNotFound if no row exists.
func (s *Store) DeleteObject(ctx context.Context, bucketID, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE bucket_id = ? AND key = ?`, bucketID, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrObjectNotFound
	}
	return nil
}

// ListObjectsPage returns up to limit object rows in key order, restricted
// to the given prefix and strictly after afterKey when set.
func (s *Store) ListObjectsPage(ctx context.Context, bucketID, prefix, afterKey string, limit int) ([]Object, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bucket_id, key, size, etag, content_type, storage_path, metadata, last_modified, created_at
		FROM objects
		WHERE bucket_id = ? AND key LIKE ? ESCAPE '\' AND key > ?
		ORDER BY key
		LIMIT ?
	`, bucketID, likeEscape(prefix)+"%", afterKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanObjects(rows)
}

// ListObjectKeys returns every key in the bucket, in key order. Used by the
// admin bucket purge.
func (s *Store) ListObjectKeys(ctx context.Context, bucketID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM objects WHERE bucket_id = ? ORDER BY key`, bucketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ---- multipart uploads ----

// CreateUpload inserts a new multipart upload row.
func (s *Store) CreateUpload(ctx context.Context, u *Upload) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.InitiatedAt.IsZero() {
		u.InitiatedAt = time.Now().UTC()
	}
	meta, err := marshalMeta(u.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO multipart_uploads (id, upload_id, bucket_id, key, content_type, metadata, initiated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.UploadID, u.BucketID, u.Key, u.ContentType, meta, fmtTime(u.InitiatedAt))
	return err
}

// GetUpload returns the multipart upload with the given upload id.
func (s *Store) GetUpload(ctx context.Context, uploadID string) (*Upload, error) {
	var u Upload
	var meta, initiated string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, upload_id, bucket_id, key, content_type, metadata, initiated_at
		FROM multipart_uploads WHERE upload_id = ?
	`, uploadID).Scan(&u.ID, &u.UploadID, &u.BucketID, &u.Key, &u.ContentType, &meta, &initiated)
	if err == sql.ErrNoRows {
		return nil, ErrUploadNotFound
	}
	if err != nil {
		return nil, err
	}
	m, err := unmarshalMeta(meta)
	if err != nil {
		return nil, err
	}
	u.Metadata = m
	u.InitiatedAt = parseTime(initiated)
	return &u, nil
}

// ListUploads returns the in-flight uploads for a bucket, ordered by key.
func (s *Store) ListUploads(ctx context.Context, bucketID string) ([]Upload, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, upload_id, bucket_id, key, content_type, metadata, initiated_at
		FROM multipart_uploads WHERE bucket_id = ? ORDER BY key
	`, bucketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []Upload
	for rows.Next() {
		var u Upload
		var meta, initiated string
		if err := rows.Scan(&u.ID, &u.UploadID, &u.BucketID, &u.Key, &u.ContentType, &meta, &initiated); err != nil {
			return nil, err
		}
		m, err := unmarshalMeta(meta)
		if err != nil {
			return nil, err
		}
		u.Metadata = m
		u.InitiatedAt = parseTime(initiated)
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// DeleteUpload removes a multipart upload row; part rows cascade.
func (s *Store) DeleteUpload(ctx context.Context, uploadID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM multipart_uploads WHERE upload_id = ?`, uploadID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUploadNotFound
	}
	return nil
}

// UpsertPart creates or replaces the part row for (upload, part number).
func (s *Store) UpsertPart(ctx context.Context, p *Part) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO multipart_parts (id, upload_id, part_number, size, etag, storage_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (upload_id, part_number) DO UPDATE SET
			size = excluded.size,
			etag = excluded.etag,
			storage_path = excluded.storage_path,
			created_at = excluded.created_at
	`, p.ID, p.UploadID, p.PartNumber, p.Size, p.ETag, p.StoragePath, fmtTime(p.CreatedAt))
	return err
}

// GetPart returns the part row for (upload, part number).
func (s *Store) GetPart(ctx context.Context, uploadID string, partNumber int) (*Part, error) {
	var p Part
	var created string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, upload_id, part_number, size, etag, storage_path, created_at
		FROM multipart_parts WHERE upload_id = ? AND part_number = ?
	`, uploadID, partNumber).Scan(&p.ID, &p.UploadID, &p.PartNumber, &p.Size, &p.ETag, &p.StoragePath, &created)
	if err == sql.ErrNoRows {
		return nil, ErrPartNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(created)
	return &p, nil
}

// ListParts returns all parts for the upload sorted by part number.
func (s *Store) ListParts(ctx context.Context, uploadID string) ([]Part, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, upload_id, part_number, size, etag, storage_path, created_at
		FROM multipart_parts WHERE upload_id = ? ORDER BY part_number
	`, uploadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []Part
	for rows.Next() {
		var p Part
		var created string
		if err := rows.Scan(&p.ID, &p.UploadID, &p.PartNumber, &p.Size, &p.ETag, &p.StoragePath, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(created)
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// CompleteUpload atomically records the assembled object and removes the
// upload with all its parts.
func (s *Store) CompleteUpload(ctx context.Context, uploadID string, obj *Object) error {
	if obj.ID == "" {
		obj.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = now
	}
	if obj.LastModified.IsZero() {
		obj.LastModified = now
	}
	meta, err := marshalMeta(obj.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO objects (id, bucket_id, key, size, etag, content_type, storage_path, metadata, last_modified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (bucket_id, key) DO UPDATE SET
			size = excluded.size,
			etag = excluded.etag,
			content_type = excluded.content_type,
			storage_path = excluded.storage_path,
			metadata = excluded.metadata,
			last_modified = excluded.last_modified
	`, obj.ID, obj.BucketID, obj.Key, obj.Size, obj.ETag, obj.ContentType, obj.StoragePath, meta,
		fmtTime(obj.LastModified), fmtTime(obj.CreatedAt))
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM multipart_uploads WHERE upload_id = ?`, uploadID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUploadNotFound
	}

	return tx.Commit()
}

// ---- stats ----

// GetStats returns row counts for the admin API.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM access_keys`).Scan(&st.AccessKeys); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM buckets`).Scan(&st.Buckets); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects`).Scan(&st.Objects); err != nil {
		return nil, err
	}
	return &st, nil
}
