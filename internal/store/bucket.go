package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

// domainRecord separates record checksums from any other hash in the system.
const domainRecord = "trackq/record/v1"

// Record is one stored entry as returned by a snapshot.
type Record struct {
	Seq       int64
	Key       string
	Data      []byte
	CreatedAt int64 // unix nanos of first insertion
}

// Bucket is a named, ordered keyspace inside a Store.
//
// Each method is a single SQL statement, so no caller ever observes a
// partially written record.
type Bucket struct {
	store *Store
	name  string
}

// Name returns the bucket name.
func (b *Bucket) Name() string {
	return b.name
}

// Put inserts or replaces the value for key. Replacing keeps the record's
// original seq, so an updated record does not move in snapshot order.
func (b *Bucket) Put(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return fmt.Errorf("put %s: empty key", b.name)
	}
	_, err := b.store.db.ExecContext(ctx, `
		INSERT INTO records (bucket, key, data, checksum, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (bucket, key) DO UPDATE SET
			data = excluded.data,
			checksum = excluded.checksum
	`, b.name, key, data, checksum(b.name, key, data), b.store.now().UnixNano())
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", b.name, key, err)
	}
	return nil
}

// Replace overwrites the value for an existing key in place. It never
// creates a record: a key that is absent, or was deleted concurrently,
// reports replaced=false.
func (b *Bucket) Replace(ctx context.Context, key string, data []byte) (bool, error) {
	res, err := b.store.db.ExecContext(ctx, `
		UPDATE records SET data = ?, checksum = ?
		WHERE bucket = ? AND key = ?
	`, data, checksum(b.name, key, data), b.name, key)
	if err != nil {
		return false, fmt.Errorf("replace %s/%s: %w", b.name, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("replace %s/%s: rows affected: %w", b.name, key, err)
	}
	return n > 0, nil
}

// Get returns the value for key. A missing key or a record failing its
// checksum reports found=false.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	var sum string
	err := b.store.db.QueryRowContext(ctx, `
		SELECT data, checksum FROM records
		WHERE bucket = ? AND key = ?
	`, b.name, key).Scan(&data, &sum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", b.name, key, err)
	}
	if !b.verify(key, data, sum) {
		return nil, false, nil
	}
	return data, true, nil
}

// Delete removes key. Returns true when a record was removed.
func (b *Bucket) Delete(ctx context.Context, key string) (bool, error) {
	res, err := b.store.db.ExecContext(ctx, `
		DELETE FROM records WHERE bucket = ? AND key = ?
	`, b.name, key)
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", b.name, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: rows affected: %w", b.name, key, err)
	}
	return n > 0, nil
}

// All returns a point-in-time snapshot of the bucket ordered by seq, oldest
// first. Records failing their checksum are skipped.
func (b *Bucket) All(ctx context.Context) ([]Record, error) {
	rows, err := b.store.db.QueryContext(ctx, `
		SELECT seq, key, data, checksum, created_at FROM records
		WHERE bucket = ?
		ORDER BY seq ASC
	`, b.name)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", b.name, err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		var sum string
		if err := rows.Scan(&rec.Seq, &rec.Key, &rec.Data, &sum, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", b.name, err)
		}
		if !b.verify(rec.Key, rec.Data, sum) {
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", b.name, err)
	}
	return records, nil
}

// Clear removes every record in the bucket atomically.
func (b *Bucket) Clear(ctx context.Context) error {
	if _, err := b.store.db.ExecContext(ctx, `DELETE FROM records WHERE bucket = ?`, b.name); err != nil {
		return fmt.Errorf("clear %s: %w", b.name, err)
	}
	return nil
}

// Count returns the number of records in the bucket, corrupt ones included.
func (b *Bucket) Count(ctx context.Context) (int, error) {
	var n int
	err := b.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE bucket = ?`, b.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", b.name, err)
	}
	return n, nil
}

func (b *Bucket) verify(key string, data []byte, sum string) bool {
	if checksum(b.name, key, data) == sum {
		return true
	}
	b.store.logger.Warn("record failed checksum, skipping",
		"bucket", b.name,
		"key", key,
	)
	return false
}

// checksum computes SHA256(domain + 0x00 + bucket + 0x00 + key + 0x00 + data).
// The null separators prevent boundary ambiguity between fields.
func checksum(bucket, key string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domainRecord))
	h.Write([]byte{0x00})
	h.Write([]byte(bucket))
	h.Write([]byte{0x00})
	h.Write([]byte(key))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
