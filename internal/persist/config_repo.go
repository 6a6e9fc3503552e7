package persist

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
)

const (
	configMotdHash = "motd_hash"
	configMotdNum  = "motd_num"
)

// ServerConfigRepo is a key/value table for values that survive restarts.
type ServerConfigRepo struct {
	db *DB
}

func NewServerConfigRepo(db *DB) *ServerConfigRepo {
	return &ServerConfigRepo{db: db}
}

func (r *ServerConfigRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := r.db.SQL.QueryRowContext(ctx, r.db.rebind(
		`SELECT value FROM server_config WHERE config = $1`), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load server config %s: %w", key, err)
	}
	return v, true, nil
}

func (r *ServerConfigRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.SQL.ExecContext(ctx, r.db.rebind(
		`INSERT INTO server_config (config, value) VALUES ($1, $2)
		 ON CONFLICT (config) DO UPDATE SET value = excluded.value`),
		key, value,
	)
	if err != nil {
		return fmt.Errorf("store server config %s: %w", key, err)
	}
	return nil
}

// SyncMOTD returns the MOTD sequence number for motd, bumping the stored number
// when the text differs from what was last seen. Clients use the number to
// decide whether to show the message again.
func (r *ServerConfigRepo) SyncMOTD(ctx context.Context, motd string) (uint32, error) {
	var num uint32
	if v, ok, err := r.Get(ctx, configMotdNum); err != nil {
		return 0, err
	} else if ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("bad %s %q: %w", configMotdNum, v, err)
		}
		num = uint32(n)
	}

	sum := sha1.Sum([]byte(motd))
	hash := hex.EncodeToString(sum[:])
	old, _, err := r.Get(ctx, configMotdHash)
	if err != nil {
		return 0, err
	}
	if old == hash {
		return num, nil
	}

	num++
	if err := r.Set(ctx, configMotdNum, strconv.FormatUint(uint64(num), 10)); err != nil {
		return 0, err
	}
	if err := r.Set(ctx, configMotdHash, hash); err != nil {
		return 0, err
	}
	return num, nil
}
