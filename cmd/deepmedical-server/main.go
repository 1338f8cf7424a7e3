// Command deepmedical-server runs the Request Orchestrator's HTTP surface
// against a configured session store and LLM providers.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"

	"github.com/deepmedical/core/internal/config"
	"github.com/deepmedical/core/orchestrator"
	providerfactory "github.com/deepmedical/core/providers/factory"
	"github.com/deepmedical/core/registry"
	"github.com/deepmedical/core/session"
)

// logFlags drops the date/time prefix when stdout isn't a terminal, since
// most log aggregators (journald, Cloud Logging) add their own timestamp
// and a duplicate one just wastes width.
func logFlags() int {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return log.LstdFlags
	}
	return 0
}

func main() {
	addr := flag.String("addr", envOr("DEEPMEDICAL_ADDR", ":8080"), "address to listen on")
	databaseURL := flag.String("database", config.ParseStringEnv("DATABASE_URL", "sqlite://deepmedical.db"), "session store connection string")
	browserDir := flag.String("browser-history-dir", config.ParseStringEnv("BROWSER_HISTORY_DIR", "./browser_history"), "directory browser_drive trace gifs are served from")
	runTimeout := flag.Duration("run-timeout", config.ParseDurationEnv("DEFAULT_RUN_TIMEOUT", 5*time.Minute), "maximum duration of a single workflow run")
	rosterOverrides := flag.String("roster-overrides", envOr("DEEPMEDICAL_ROSTER_OVERRIDES_FILE", ""), "optional YAML file narrowing worker descriptions/tools/tiers")
	flag.Parse()

	log.SetFlags(logFlags())

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("deepmedical-server: .env not loaded: %v", err)
	}

	if *rosterOverrides != "" {
		if err := registry.LoadYAML(*rosterOverrides); err != nil {
			log.Fatalf("deepmedical-server: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := session.Open(*databaseURL)
	if err != nil {
		log.Fatalf("deepmedical-server: opening session store: %v", err)
	}
	defer store.Close()

	adapter, err := providerfactory.FromEnv(ctx)
	if err != nil {
		log.Fatalf("deepmedical-server: configuring llm providers: %v", err)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Store:      store,
		Adapter:    adapter,
		RunTimeout: *runTimeout,
		BrowserDir: *browserDir,
	})
	if err != nil {
		log.Fatalf("deepmedical-server: %v", err)
	}

	srv := &http.Server{
		Addr:    *addr,
		Handler: orch.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("deepmedical-server: listening on %s", *addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("deepmedical-server: %v", err)
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("deepmedical-server: shutdown: %v", err)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
