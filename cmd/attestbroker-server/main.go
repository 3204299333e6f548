package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aspect-build/attestbroker/internal/logx"
	"github.com/aspect-build/attestbroker/internal/server"
	"github.com/aspect-build/attestbroker/internal/server/db"
	"github.com/aspect-build/attestbroker/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	verbose := flag.Bool("verbose", false, "Enable verbose debug logs (same as --log-level debug)")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error (or ATTESTBROKER_LOG_LEVEL)")
	flag.BoolVar(showVersion, "v", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", version.String("attestbroker-server"))
		fmt.Fprintf(os.Stderr, "attestbroker-server prepares integrity sessions and exchanges challenges for attestation tokens.\n\n")
		fmt.Fprintf(os.Stderr, "Environment variables:\n")
		fmt.Fprintf(os.Stderr, "  ATTESTBROKER_CONFIG                Optional YAML config file; env vars override it\n")
		fmt.Fprintf(os.Stderr, "  ATTESTBROKER_ADMIN_TOKEN           Admin Bearer token for ledger/status APIs (min 16 chars, required)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTBROKER_DB_PATH               SQLite ledger path (default: attestbroker.db)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTBROKER_LISTEN_ADDR           Listen address (default: :8080)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTBROKER_CORS_ORIGINS          Comma-separated allowed CORS origins\n")
		fmt.Fprintf(os.Stderr, "  ATTESTBROKER_MASTER_KEY            64 hex chars; seals issued tokens in the ledger (optional)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTBROKER_CLOUD_PROJECT_NUMBER  Project number used when a request carries none\n")
		fmt.Fprintf(os.Stderr, "  ATTESTBROKER_BACKEND               Integrity backend: dstack|remote (default: dstack)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTBROKER_DSTACK_ENDPOINT       dstack guest agent socket or URL\n")
		fmt.Fprintf(os.Stderr, "  ATTESTBROKER_REMOTE_URL            Remote integrity service base URL\n")
		fmt.Fprintf(os.Stderr, "  ATTESTBROKER_REMOTE_TOKEN          Static bearer token for the remote service\n")
		fmt.Fprintf(os.Stderr, "  ATTESTBROKER_REMOTE_CLIENT_ID      OAuth2 client credentials (with _SECRET and _TOKEN_URL)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTBROKER_REMOTE_GOOGLE_ADC     Use Google application default credentials\n")
		fmt.Fprintf(os.Stderr, "  ATTESTBROKER_REQUEST_TIMEOUT       Per-request timeout (default: 30s)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTBROKER_LEDGER_RETENTION      Delete ledger entries older than this (default: keep)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTBROKER_LOG_LEVEL             Log level: debug|info|warn|error (default: info)\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("attestbroker-server"))
		os.Exit(0)
	}

	if err := logx.Configure(*logLevel, *verbose); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()

	backend, err := server.NewBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("integrity backend: %v", err)
	}
	if !backend.IsSupported() {
		logx.Warnf("integrity backend %q is not usable on this host; token requests will fail with UNSUPPORTED_PLATFORM", cfg.Backend)
	}

	svc := server.NewService(cfg, backend)
	r := server.NewRouter(store, cfg, svc)
	logx.Infof("server config: backend=%s format=%s request_timeout=%s ledger_retention=%s token_retention=%v",
		cfg.Backend, backend.Format(), cfg.RequestTimeout, cfg.LedgerRetention, cfg.MasterKey != nil)

	go server.RunLedgerPruner(ctx, store, cfg.LedgerRetention, time.Hour)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logx.Errorf("shutdown: %v", err)
		}
	}()

	log.Printf("attestbroker-server listening on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}
