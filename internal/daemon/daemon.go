// Package daemon wires the bridge together: the transport lifecycle, the
// dispatch pipeline, the stores and the operator HTTP surface.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"
	"golang.org/x/sync/errgroup"

	"github.com/nous-labs/vacancy-bridge/internal/channel/matrix"
	"github.com/nous-labs/vacancy-bridge/internal/channel/whatsapp"
	"github.com/nous-labs/vacancy-bridge/internal/credstore"
	"github.com/nous-labs/vacancy-bridge/internal/dispatch"
	"github.com/nous-labs/vacancy-bridge/internal/events"
	"github.com/nous-labs/vacancy-bridge/internal/housekeeping"
	"github.com/nous-labs/vacancy-bridge/internal/lifecycle"
	"github.com/nous-labs/vacancy-bridge/internal/llm"
	"github.com/nous-labs/vacancy-bridge/internal/prompt"
	"github.com/nous-labs/vacancy-bridge/internal/store"
	"github.com/nous-labs/vacancy-bridge/internal/vacancies"
	"github.com/nous-labs/vacancy-bridge/pkg/channel"
	"github.com/nous-labs/vacancy-bridge/pkg/conversation"
)

// connection is the part of the lifecycle manager the HTTP surface needs.
type connection interface {
	Snapshot() lifecycle.Snapshot
	ResetAndRestart(ctx context.Context) error
}

type vacancySearcher interface {
	Search(ctx context.Context, keywords string) []vacancies.Record
}

type auditReader interface {
	RecentAudit(ctx context.Context, limit int) ([]conversation.AuditEntry, error)
}

// Daemon is the main bridge process.
type Daemon struct {
	config  *Config
	store   store.Store
	events  *events.Bus
	manager *lifecycle.Manager
	cleaner *housekeeping.Worker

	// HTTP surface dependencies
	conn      connection
	vacancies vacancySearcher
	audit     auditReader

	startedAt  time.Time
	healthyMu  sync.RWMutex
	healthy    bool
	httpServer *http.Server
}

// New builds every component from cfg. The store is opened here and closed
// when Run returns.
func New(ctx context.Context, cfg *Config) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	profile := prompt.Default()
	if cfg.Prompt.Path != "" {
		p, err := prompt.Load(cfg.Prompt.Path)
		if err != nil {
			return nil, err
		}
		profile = p
	}

	router, err := newRouter(cfg.LLM)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	cache := vacancies.NewCache(
		vacancies.NewHTTPSource(cfg.Vacancies.URL, cfg.Vacancies.UserAgent),
		vacancies.WithTTL(cfg.Vacancies.TTL),
		vacancies.WithFetchTimeout(cfg.Vacancies.FetchTimeout),
	)
	// Nothing from a previous run is served.
	cache.Clear()

	bus := events.NewBus()
	orchestrator := dispatch.NewOrchestrator(dispatch.OrchestratorConfig{
		Sessions:   st,
		Modes:      st,
		Audit:      st,
		LLM:        router,
		Data:       cache,
		Profile:    profile,
		MaxHistory: cfg.Store.MaxHistory,
	})
	pipeline := dispatch.NewPipeline(dispatch.NewFilter(st, st), orchestrator, st, bus, profile)

	d := &Daemon{
		config: cfg,
		store:  st,
		events: bus,
		cleaner: housekeeping.NewWorker(st, bus, housekeeping.Config{
			Interval: cfg.Store.CleanupInterval,
			IdleTTL:  cfg.Store.IdleTTL,
		}),
		vacancies: cache,
		audit:     st,
		startedAt: time.Now(),
	}
	d.manager = lifecycle.New(lifecycle.Options{
		Transport:   newTransport(cfg),
		Credentials: credstore.New(cfg.CredentialsDir),
		Handler:     pipeline.HandleInbound,
		OnReady:     d.onReady,
		ShowQR:      printQR,
		Events:      bus,
	})
	d.conn = d.manager

	slog.Info("bridge configured",
		"transport", cfg.Transport,
		"store", cfg.Store.Driver,
		"llm", cfg.LLM.Primary.Provider,
		"vacancies", cfg.Vacancies.URL,
	)
	return d, nil
}

func newTransport(cfg *Config) channel.Transport {
	if cfg.Transport == "matrix" {
		return matrix.New(matrix.Config{
			Homeserver:   cfg.Matrix.Homeserver,
			UserID:       cfg.Matrix.UserID,
			Password:     cfg.Matrix.Password,
			ServerName:   cfg.Matrix.ServerName,
			AllowedUsers: cfg.Matrix.AllowedUsers,
		})
	}
	return whatsapp.New()
}

// newRouter builds the provider chain: primary first, then the optional
// fallback.
func newRouter(cfg LLMConfig) (*llm.Router, error) {
	primary, err := newProvider(cfg.Primary)
	if err != nil {
		return nil, fmt.Errorf("llm.primary: %w", err)
	}
	providers := []llm.Provider{primary}
	if cfg.Fallback.Provider != "" {
		fallback, err := newProvider(cfg.Fallback)
		if err != nil {
			return nil, fmt.Errorf("llm.fallback: %w", err)
		}
		providers = append(providers, fallback)
	}
	return llm.NewRouter(llm.Defaults{
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}, providers...), nil
}

func newProvider(p ProviderConfig) (llm.Provider, error) {
	switch p.Provider {
	case "deepseek":
		return llm.NewOpenAICompat("deepseek", p.BaseURL, p.APIKey, p.Model), nil
	case "openai":
		baseURL := p.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return llm.NewOpenAICompat("openai", baseURL, p.APIKey, p.Model), nil
	case "anthropic":
		return llm.NewAnthropic("anthropic", p.BaseURL, p.APIKey, p.Model), nil
	}
	return nil, fmt.Errorf("unknown provider %q", p.Provider)
}

// onReady runs on every successful open. The cleanup worker only starts once.
func (d *Daemon) onReady(ctx context.Context) {
	d.cleaner.Start(ctx)
	err := d.store.Record(ctx, conversation.AuditEntry{
		Category: conversation.AuditSystem,
		Text:     "Bot conectado correctamente",
	})
	if err != nil {
		slog.Warn("failed to record connection audit", "error", err)
	}
}

// printQR renders the pairing code on the terminal.
func printQR(code string) {
	q, err := qrcode.New(code, qrcode.Low)
	if err != nil {
		slog.Warn("failed to render pairing code", "error", err)
		return
	}
	fmt.Fprintln(os.Stdout, q.ToSmallString(false))
}

func (d *Daemon) setHealthy(v bool) {
	d.healthyMu.Lock()
	d.healthy = v
	d.healthyMu.Unlock()
}

func (d *Daemon) isHealthy() bool {
	d.healthyMu.RLock()
	v := d.healthy
	d.healthyMu.RUnlock()
	return v
}

// Run serves the operator surface and keeps the transport connected until
// ctx is cancelled or the HTTP server fails.
func (d *Daemon) Run(ctx context.Context) error {
	d.httpServer = &http.Server{
		Addr:              d.config.HTTPAddr,
		Handler:           d.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("operator http listening", "addr", d.config.HTTPAddr)
		err := d.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		d.manager.Start(gctx)
		d.setHealthy(true)
		<-gctx.Done()
		d.setHealthy(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.httpServer.Shutdown(shutdownCtx)

		d.manager.Stop()
		d.manager.Wait()
		d.cleaner.Wait()
		return nil
	})

	err := g.Wait()
	if cerr := d.store.Close(); cerr != nil {
		slog.Warn("store close failed", "error", cerr)
	}
	slog.Info("bridge stopped")
	return err
}

// ResetCredentials wipes the stored transport credentials without starting
// the bridge.
func ResetCredentials(cfg *Config) error {
	return credstore.New(cfg.CredentialsDir).Clear()
}
