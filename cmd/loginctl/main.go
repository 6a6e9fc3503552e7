// loginctl is the operator tool for the login gateway: key generation,
// account import and ban listing.
//
// Usage:
//
//	go run ./cmd/loginctl <command> [flags]
//
// Commands: keygen, import, bans
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/l1jgo/loginserver/internal/config"
	"github.com/l1jgo/loginserver/internal/persist"
)

// rsaBits matches the 128-byte blocks the client encrypts.
const rsaBits = 1024

// --- account import file ---

type accountFileYAML struct {
	Accounts []accountYAML `yaml:"accounts"`
}

type accountYAML struct {
	Name        string   `yaml:"name"`
	Password    string   `yaml:"password"`
	Secret      string   `yaml:"secret"`
	PremiumDays int      `yaml:"premium_days"`
	ProxyID     uint16   `yaml:"proxy_id"`
	Characters  []string `yaml:"characters"`
}

// accountWriter is the part of AccountRepo the importer needs.
type accountWriter interface {
	Create(ctx context.Context, name, rawPassword, secret string) (*persist.Account, error)
	AddCharacter(ctx context.Context, accountID int64, name string) error
	SetPremium(ctx context.Context, accountID int64, endsAt time.Time) error
	SetProxy(ctx context.Context, accountID int64, proxyID uint16) error
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		printUsage()
		return
	}
	_ = godotenv.Load()

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	cfgPath := fs.String("config", envOr("LOGIN_CONFIG", "config/login.toml"), "config file (.toml or .lua)")
	out := fs.String("out", "key.pem", "keygen: output PEM file")
	file := fs.String("file", "accounts.yaml", "import: account YAML file")
	_ = fs.Parse(os.Args[2:])

	var err error
	switch cmd {
	case "keygen":
		err = keygen(*out)
	case "import":
		err = withDB(*cfgPath, func(ctx context.Context, db *persist.DB) error {
			n, err := importFile(ctx, persist.NewAccountRepo(db), *file, time.Now())
			if err == nil {
				fmt.Printf("Imported %d accounts\n", n)
			}
			return err
		})
	case "bans":
		err = withDB(*cfgPath, func(ctx context.Context, db *persist.DB) error {
			return listBans(ctx, persist.NewBanRepo(db))
		})
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR [%s]: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loginctl <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  keygen  -out key.pem          generate the server RSA key")
	fmt.Println("  import  -file accounts.yaml   create accounts and characters")
	fmt.Println("  bans                          list IP bans")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func withDB(cfgPath string, fn func(context.Context, *persist.DB) error) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if dsn := os.Getenv("LOGIN_DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := persist.NewDB(ctx, cfg.Database, zap.NewNop())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := persist.RunMigrations(ctx, db); err != nil {
		return err
	}
	return fn(ctx, db)
}

func keygen(path string) error {
	key, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := pem.Encode(f, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}); err != nil {
		return err
	}
	fmt.Printf("Wrote %d-bit key to %s\n", rsaBits, path)
	return nil
}

func importFile(ctx context.Context, w accountWriter, path string, now time.Time) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	var f accountFileYAML
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return importAccounts(ctx, w, f.Accounts, now)
}

// importAccounts stops at the first failing account; earlier ones stay.
func importAccounts(ctx context.Context, w accountWriter, list []accountYAML, now time.Time) (int, error) {
	for i, a := range list {
		if a.Name == "" || a.Password == "" {
			return i, fmt.Errorf("account #%d: name and password are required", i+1)
		}
		acc, err := w.Create(ctx, a.Name, a.Password, a.Secret)
		if err != nil {
			return i, fmt.Errorf("account %s: %w", a.Name, err)
		}
		for _, c := range a.Characters {
			if err := w.AddCharacter(ctx, acc.ID, c); err != nil {
				return i, fmt.Errorf("account %s character %s: %w", a.Name, c, err)
			}
		}
		if a.PremiumDays > 0 {
			if err := w.SetPremium(ctx, acc.ID, now.AddDate(0, 0, a.PremiumDays)); err != nil {
				return i, fmt.Errorf("account %s premium: %w", a.Name, err)
			}
		}
		if a.ProxyID != 0 {
			if err := w.SetProxy(ctx, acc.ID, a.ProxyID); err != nil {
				return i, fmt.Errorf("account %s proxy: %w", a.Name, err)
			}
		}
	}
	return len(list), nil
}

func listBans(ctx context.Context, repo *persist.BanRepo) error {
	bans, err := repo.List(ctx)
	if err != nil {
		return err
	}
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"IP", "Reason", "By", "Banned", "Expires"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, b := range bans {
		expires := "never"
		if !b.Permanent() {
			expires = b.ExpiresAt.Format(time.DateTime)
		}
		tw.Append([]string{b.IP, b.Reason, b.BannedBy, b.BannedAt.Format(time.DateTime), expires})
	}
	tw.Render()
	return nil
}
