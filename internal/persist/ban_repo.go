package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BanInfo is one IP ban. A zero ExpiresAt means the ban never expires.
type BanInfo struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	BannedBy  string    `json:"banned_by"`
	BannedAt  time.Time `json:"banned_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Permanent reports whether the ban has no expiry.
func (b *BanInfo) Permanent() bool { return b.ExpiresAt.IsZero() }

type BanRepo struct {
	db *DB
}

func NewBanRepo(db *DB) *BanRepo {
	return &BanRepo{db: db}
}

// IPBan returns the active ban for ip, or nil. An expired ban is deleted and
// reported as not banned.
func (r *BanRepo) IPBan(ctx context.Context, ip string, now time.Time) (*BanInfo, error) {
	var bannedAt, expiresAt int64
	b := &BanInfo{IP: ip}
	err := r.db.SQL.QueryRowContext(ctx, r.db.rebind(
		`SELECT reason, banned_by, banned_at, expires_at FROM ip_bans WHERE ip = $1`), ip,
	).Scan(&b.Reason, &b.BannedBy, &bannedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ip ban: %w", err)
	}

	if expiresAt != 0 && expiresAt <= now.Unix() {
		if _, err := r.Remove(ctx, ip); err != nil {
			return nil, err
		}
		return nil, nil
	}
	b.BannedAt = time.Unix(bannedAt, 0).UTC()
	if expiresAt != 0 {
		b.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	}
	return b, nil
}

// Add creates or replaces the ban for b.IP.
func (r *BanRepo) Add(ctx context.Context, b BanInfo) error {
	if b.BannedAt.IsZero() {
		b.BannedAt = time.Now()
	}
	var expires int64
	if !b.ExpiresAt.IsZero() {
		expires = b.ExpiresAt.Unix()
	}
	_, err := r.db.SQL.ExecContext(ctx, r.db.rebind(
		`INSERT INTO ip_bans (ip, reason, banned_by, banned_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (ip) DO UPDATE SET
		   reason = excluded.reason, banned_by = excluded.banned_by,
		   banned_at = excluded.banned_at, expires_at = excluded.expires_at`),
		b.IP, b.Reason, b.BannedBy, b.BannedAt.Unix(), expires,
	)
	if err != nil {
		return fmt.Errorf("add ip ban: %w", err)
	}
	return nil
}

// Remove reports whether a ban existed.
func (r *BanRepo) Remove(ctx context.Context, ip string) (bool, error) {
	res, err := r.db.SQL.ExecContext(ctx, r.db.rebind(`DELETE FROM ip_bans WHERE ip = $1`), ip)
	if err != nil {
		return false, fmt.Errorf("remove ip ban: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *BanRepo) List(ctx context.Context) ([]BanInfo, error) {
	rows, err := r.db.SQL.QueryContext(ctx,
		`SELECT ip, reason, banned_by, banned_at, expires_at FROM ip_bans ORDER BY banned_at, ip`)
	if err != nil {
		return nil, fmt.Errorf("list ip bans: %w", err)
	}
	defer rows.Close()

	var out []BanInfo
	for rows.Next() {
		var b BanInfo
		var bannedAt, expiresAt int64
		if err := rows.Scan(&b.IP, &b.Reason, &b.BannedBy, &bannedAt, &expiresAt); err != nil {
			return nil, err
		}
		b.BannedAt = time.Unix(bannedAt, 0).UTC()
		if expiresAt != 0 {
			b.ExpiresAt = time.Unix(expiresAt, 0).UTC()
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
