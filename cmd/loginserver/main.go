package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/l1jgo/loginserver/internal/api"
	"github.com/l1jgo/loginserver/internal/auth"
	"github.com/l1jgo/loginserver/internal/config"
	"github.com/l1jgo/loginserver/internal/core/event"
	"github.com/l1jgo/loginserver/internal/dispatch"
	"github.com/l1jgo/loginserver/internal/handler"
	gonet "github.com/l1jgo/loginserver/internal/net"
	"github.com/l1jgo/loginserver/internal/net/packet"
	"github.com/l1jgo/loginserver/internal/persist"
	"github.com/l1jgo/loginserver/internal/telemetry"
	"github.com/l1jgo/loginserver/internal/world"
)

const (
	eventPumpInterval = 100 * time.Millisecond
	shutdownTimeout   = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m         L1JGO Login Gateway  v0.1.0       \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1m伺服器:\033[0m %s\n\n", serverName)
}

func printSection(title string) {
	// CJK characters take two columns
	displayWidth := 0
	for _, r := range title {
		if r > 0x7F {
			displayWidth += 2
		} else {
			displayWidth++
		}
	}
	lineLen := max(46-displayWidth-1, 3)
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

func printSummary(cfg *config.Config, motdNum uint32) {
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"項目", "設定"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	tw.Append([]string{"World", fmt.Sprintf("%s %s:%d", cfg.Server.Name, cfg.Server.IP, cfg.Server.GamePort)})
	tw.Append([]string{"Protocol", fmt.Sprintf("%s (%d-%d)", cfg.Login.VersionStr, cfg.Login.VersionMin, cfg.Login.VersionMax)})
	tw.Append([]string{"Live cast", fmt.Sprintf("%v (port %d)", cfg.Login.EnableLiveCasting, cfg.Server.LiveCastPort)})
	tw.Append([]string{"Free premium", fmt.Sprintf("%v", cfg.Login.FreePremium)})
	tw.Append([]string{"MOTD #", fmt.Sprintf("%d", motdNum)})
	tw.Append([]string{"Proxies", fmt.Sprintf("%d", len(cfg.Proxies))})
	tw.Append([]string{"Database", cfg.Database.Driver})
	tw.Render()
	fmt.Println()
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Environment and config
	_ = godotenv.Load()

	cfgPath := "config/login.toml"
	if p := os.Getenv("LOGIN_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dsn := os.Getenv("LOGIN_DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if tok := os.Getenv("LOGIN_API_TOKEN"); tok != "" {
		cfg.API.Token = tok
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name)

	// 2. Database
	printSection("資料庫")
	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(initCtx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	printOK(fmt.Sprintf("%s 連線成功", db.Driver()))

	if err := persist.RunMigrations(initCtx, db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	printOK("資料庫遷移完成")

	accounts := persist.NewAccountRepo(db)
	bans := persist.NewBanRepo(db)
	serverCfg := persist.NewServerConfigRepo(db)
	audit := persist.NewAuditRepo(db)

	// 3. World state
	worldState := world.NewState()
	motdNum, err := serverCfg.SyncMOTD(initCtx, cfg.Server.MOTD)
	if err != nil {
		return fmt.Errorf("motd: %w", err)
	}
	worldState.SetMOTD(cfg.Server.MOTD, motdNum)
	fmt.Println()

	// 4. Keys
	printSection("加密")
	rsaKey, err := gonet.LoadRSA(cfg.Login.RSAKeyFile)
	if err != nil {
		return fmt.Errorf("rsa key: %w", err)
	}
	printOK(fmt.Sprintf("RSA 私鑰載入 (%s)", cfg.Login.RSAKeyFile))
	fmt.Println()

	// 5. Background services
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				log.Error("背景服務結束", zap.String("service", name), zap.Error(err))
			}
		}()
	}

	bus := event.NewBus(log)
	spawn("event-pump", func(ctx context.Context) error {
		bus.Pump(ctx, eventPumpInterval)
		return nil
	})

	stopAudit := func() {}
	if cfg.Audit.Enabled {
		sink := telemetry.NewAuditSink(audit, cfg.Audit.FlushInterval, cfg.Audit.BatchSize, log)
		sink.Attach(bus)
		stopAudit = runAudit(sink)
	}
	defer stopAudit()

	if cfg.Telemetry.Enabled {
		pub, err := telemetry.NewMQTT(cfg.Telemetry, log)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		pub.Attach(bus)
		spawn("mqtt", pub.Start)
	}

	dispatcher := dispatch.New(dispatch.Options{
		Workers:     cfg.Dispatcher.Workers,
		QueueSize:   cfg.Dispatcher.QueueSize,
		TaskTimeout: cfg.Dispatcher.TaskTimeout,
	}, log)

	// 6. Login listener
	deps := &handler.Deps{
		Config:     cfg,
		Log:        log,
		RSA:        rsaKey,
		Accounts:   accounts,
		Bans:       bans,
		World:      worldState,
		Dispatcher: dispatcher,
		Tokens:     auth.New(),
		Events:     bus,
	}
	registry := packet.NewRegistry(log)
	handler.RegisterAll(registry, deps)

	attempts := 0
	if cfg.RateLimit.Enabled {
		attempts = cfg.RateLimit.LoginAttemptsPerMinute
	}
	netServer, err := gonet.NewServer(cfg.Network.BindAddress, registry, gonet.SessionOptions{
		OutQueueSize: cfg.Network.OutQueueSize,
		ReadTimeout:  cfg.Network.ReadTimeout,
		WriteTimeout: cfg.Network.WriteTimeout,
	}, attempts, log)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	go netServer.AcceptLoop()

	if cfg.API.Enabled {
		apiServer := api.NewServer(api.Deps{
			Config:   cfg,
			World:    worldState,
			Bans:     bans,
			MOTD:     serverCfg,
			Audit:    auditReader(cfg.Audit, audit),
			Sessions: netServer,
			Log:      log,
		})
		spawn("api", apiServer.Start)
	}

	initial, err := world.ParseGameState(cfg.Login.InitialState)
	if err != nil {
		return fmt.Errorf("initial state: %w", err)
	}
	worldState.SetGameState(initial)

	printSection("伺服器就緒")
	printSummary(cfg, motdNum)
	printReady(fmt.Sprintf("監聽位址 %s", netServer.Addr().String()))
	if cfg.API.Enabled {
		printReady(fmt.Sprintf("管理 API %s", cfg.API.BindAddress))
	}
	fmt.Println()

	// 7. Wait for a signal
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdownCh
	log.Info("收到關閉訊號", zap.String("signal", sig.String()))

	// New logins are answered silently from here on.
	worldState.SetGameState(world.GameShutdown)
	netServer.Shutdown()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := dispatcher.Stop(stopCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn("任務派發器關閉異常", zap.Error(err))
	}
	stop()
	wg.Wait()
	stopAudit()

	log.Info("伺服器已關閉")
	return nil
}

// auditReader is nil when auditing is off, which the API answers with 404.
func auditReader(cfg config.AuditConfig, repo *persist.AuditRepo) api.AuditReader {
	if !cfg.Enabled || repo == nil {
		return nil
	}
	return repo
}

// runAudit runs the sink outside the background group. The returned stop must
// be called after the event pump exits so the pump's final dispatch is still
// written by the sink's last flush. Calling stop again is a no-op.
func runAudit(sink *telemetry.AuditSink) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sink.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
