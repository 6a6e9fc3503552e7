package persist

import (
	"context"
	"fmt"
	"time"
)

// AuditEntry is one recorded handshake outcome.
type AuditEntry struct {
	EventID string    `json:"event_id"`
	At      time.Time `json:"at"`
	IP      string    `json:"ip"`
	Account string    `json:"account"`
	Version uint16    `json:"version"`
	Outcome string    `json:"outcome"`
	Detail  string    `json:"detail"`
}

type AuditRepo struct {
	db *DB
}

func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// WriteBatch writes a batch of entries in a single transaction.
func (r *AuditRepo) WriteBatch(ctx context.Context, entries []AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, r.db.rebind(
		`INSERT INTO login_audit (event_id, at, ip, account, version, outcome, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`))
	if err != nil {
		return fmt.Errorf("audit prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.EventID, e.At.Unix(), e.IP, e.Account, int64(e.Version), e.Outcome, e.Detail,
		); err != nil {
			return fmt.Errorf("audit insert: %w", err)
		}
	}

	return tx.Commit()
}

// Recent returns the newest entries first.
func (r *AuditRepo) Recent(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.SQL.QueryContext(ctx, r.db.rebind(
		`SELECT event_id, at, ip, account, version, outcome, detail
		 FROM login_audit ORDER BY at DESC, id DESC LIMIT $1`), limit)
	if err != nil {
		return nil, fmt.Errorf("audit recent: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var at, version int64
		if err := rows.Scan(&e.EventID, &at, &e.IP, &e.Account, &version, &e.Outcome, &e.Detail); err != nil {
			return nil, err
		}
		e.At = time.Unix(at, 0).UTC()
		e.Version = uint16(version)
		out = append(out, e)
	}
	return out, rows.Err()
}
