package vestd

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	"lukechampine.com/blake3"
)

// ErrIdempotencyMismatch is returned when a key is reused with a different
// request body.
var ErrIdempotencyMismatch = errors.New("idempotency key reuse with different request body")

// Journal persists idempotency keys and an append-only record of every
// engine operation the daemon executed.
type Journal struct {
	db *sql.DB
}

// Operation is one journalled engine call.
type Operation struct {
	ID        string
	Kind      string
	Actor     string
	Subject   string
	Amount    string
	Detail    string
	CreatedAt time.Time
}

// OpenJournal opens (and migrates) the sqlite journal at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	j := &Journal{db: db}
	if err := j.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
            subject TEXT NOT NULL,
            idempotency_key TEXT NOT NULL,
            request_hash TEXT NOT NULL,
            response_status INTEGER NOT NULL,
            response_body BLOB NOT NULL,
            created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY(subject, idempotency_key)
        );`,
		`CREATE TABLE IF NOT EXISTS operations (
            id TEXT PRIMARY KEY,
            kind TEXT NOT NULL,
            actor TEXT NOT NULL,
            subject TEXT,
            amount TEXT,
            detail TEXT,
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_operations_created_at ON operations(created_at);`,
	}
	for _, stmt := range schema {
		if _, err := j.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// RequestHash fingerprints a request body for idempotency comparison.
func RequestHash(body []byte) string {
	sum := blake3.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// LookupIdempotency returns the stored response for a subject/key pair. A
// reuse with a different request hash fails with ErrIdempotencyMismatch.
func (j *Journal) LookupIdempotency(subject, key, requestHash string) (int, []byte, bool, error) {
	row := j.db.QueryRow(
		`SELECT request_hash, response_status, response_body FROM idempotency_keys
         WHERE subject = ? AND idempotency_key = ?`, subject, key)
	var storedHash string
	var status int
	var body []byte
	if err := row.Scan(&storedHash, &status, &body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil, false, nil
		}
		return 0, nil, false, err
	}
	if storedHash != requestHash {
		return 0, nil, false, ErrIdempotencyMismatch
	}
	return status, body, true, nil
}

// StoreIdempotency records the response served for a subject/key pair.
func (j *Journal) StoreIdempotency(subject, key, requestHash string, status int, body []byte) error {
	_, err := j.db.Exec(
		`INSERT OR IGNORE INTO idempotency_keys
         (subject, idempotency_key, request_hash, response_status, response_body)
         VALUES (?, ?, ?, ?, ?)`, subject, key, requestHash, status, body)
	return err
}

// Record appends an operation to the journal and returns its identifier.
func (j *Journal) Record(op Operation) (string, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	_, err := j.db.Exec(
		`INSERT INTO operations (id, kind, actor, subject, amount, detail, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Kind, op.Actor, op.Subject, op.Amount, op.Detail, op.CreatedAt)
	if err != nil {
		return "", err
	}
	return op.ID, nil
}

// Operations lists journalled operations inside a time window, oldest first.
func (j *Journal) Operations(start, end time.Time) ([]Operation, error) {
	rows, err := j.db.Query(
		`SELECT id, kind, actor, COALESCE(subject, ''), COALESCE(amount, ''), COALESCE(detail, ''), created_at
         FROM operations WHERE created_at >= ? AND created_at < ? ORDER BY created_at ASC`,
		start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Operation
	for rows.Next() {
		var op Operation
		if err := rows.Scan(&op.ID, &op.Kind, &op.Actor, &op.Subject, &op.Amount, &op.Detail, &op.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}
