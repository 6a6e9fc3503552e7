package persist

import (
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials covers both an unknown account and a wrong password.
var ErrInvalidCredentials = errors.New("persist: invalid account name or password")

// Account is what the login gateway needs from an account row.
type Account struct {
	ID            int64
	Name          string
	Secret        string   // base32 token secret, empty = no second factor
	Characters    []string // storage order
	PremiumEndsAt int64    // unix seconds, 0 = never had premium
	ProxyID       uint16
}

type AccountRepo struct {
	db *DB
}

func NewAccountRepo(db *DB) *AccountRepo {
	return &AccountRepo{db: db}
}

// Authenticate loads the account and checks the password. It returns
// ErrInvalidCredentials without saying which part was wrong.
func (r *AccountRepo) Authenticate(ctx context.Context, name, password string) (*Account, error) {
	acc := &Account{}
	var hash string
	var proxyID int64
	err := r.db.SQL.QueryRowContext(ctx, r.db.rebind(
		`SELECT id, name, password_hash, secret, premium_ends_at, proxy_id
		 FROM accounts WHERE name = $1`), name,
	).Scan(&acc.ID, &acc.Name, &hash, &acc.Secret, &acc.PremiumEndsAt, &proxyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if !ValidatePassword(hash, password) {
		return nil, ErrInvalidCredentials
	}
	acc.ProxyID = uint16(proxyID)

	acc.Characters, err = r.characterNames(ctx, acc.ID)
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (r *AccountRepo) characterNames(ctx context.Context, accountID int64) ([]string, error) {
	rows, err := r.db.SQL.QueryContext(ctx, r.db.rebind(
		`SELECT name FROM characters WHERE account_id = $1 ORDER BY id`), accountID)
	if err != nil {
		return nil, fmt.Errorf("load characters: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Create inserts a new account with a bcrypt password hash.
func (r *AccountRepo) Create(ctx context.Context, name, rawPassword, secret string) (*Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(rawPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	acc := &Account{Name: name, Secret: secret}
	err = r.db.SQL.QueryRowContext(ctx, r.db.rebind(
		`INSERT INTO accounts (name, password_hash, secret, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`),
		name, string(hash), secret, time.Now().Unix(),
	).Scan(&acc.ID)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return acc, nil
}

func (r *AccountRepo) AddCharacter(ctx context.Context, accountID int64, name string) error {
	_, err := r.db.SQL.ExecContext(ctx, r.db.rebind(
		`INSERT INTO characters (account_id, name, created_at) VALUES ($1, $2, $3)`),
		accountID, name, time.Now().Unix(),
	)
	return err
}

func (r *AccountRepo) SetPremium(ctx context.Context, accountID int64, endsAt time.Time) error {
	_, err := r.db.SQL.ExecContext(ctx, r.db.rebind(
		`UPDATE accounts SET premium_ends_at = $2 WHERE id = $1`),
		accountID, endsAt.Unix(),
	)
	return err
}

func (r *AccountRepo) SetProxy(ctx context.Context, accountID int64, proxyID uint16) error {
	_, err := r.db.SQL.ExecContext(ctx, r.db.rebind(
		`UPDATE accounts SET proxy_id = $2 WHERE id = $1`),
		accountID, int64(proxyID),
	)
	return err
}

func (r *AccountRepo) UpdateLastLogin(ctx context.Context, accountID int64, ip string) error {
	_, err := r.db.SQL.ExecContext(ctx, r.db.rebind(
		`UPDATE accounts SET last_login = $2, last_ip = $3 WHERE id = $1`),
		accountID, time.Now().Unix(), ip,
	)
	return err
}

// ValidatePassword checks a bcrypt hash, or a 40 character hex SHA-1 hash as
// written by older account tools.
func ValidatePassword(hash, rawPassword string) bool {
	if strings.HasPrefix(hash, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(rawPassword)) == nil
	}
	if len(hash) == sha1.Size*2 {
		sum := sha1.Sum([]byte(rawPassword))
		want := hex.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(strings.ToLower(hash)), []byte(want)) == 1
	}
	return false
}
