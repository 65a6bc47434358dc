// ABOUTME: Gateway orchestrator that wires the Feishu client, router, relay and reply pipeline
// ABOUTME: Owns the HTTP server lifecycle for callbacks, health and the API proxy

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/null-object-0000/feishu-bridge/internal/auth"
	"github.com/null-object-0000/feishu-bridge/internal/backend"
	"github.com/null-object-0000/feishu-bridge/internal/config"
	"github.com/null-object-0000/feishu-bridge/internal/conversation"
	"github.com/null-object-0000/feishu-bridge/internal/convlog"
	"github.com/null-object-0000/feishu-bridge/internal/dedupe"
	"github.com/null-object-0000/feishu-bridge/internal/feishu"
	"github.com/null-object-0000/feishu-bridge/internal/relay"
	"github.com/null-object-0000/feishu-bridge/internal/router"
	"github.com/null-object-0000/feishu-bridge/internal/streaming"
)

// maxCallbackBody bounds callback and proxy request bodies.
const maxCallbackBody = 1 << 20

// Gateway orchestrates the feishu-bridge server components.
type Gateway struct {
	config     *config.Config
	feishu     *feishu.Client
	decoder    *feishu.EventDecoder
	router     *router.Router
	relay      *relay.Relay
	streaming  *streaming.Service
	dedupe     *dedupe.Cache
	conn       longConn
	httpServer *http.Server
	logger     *slog.Logger
}

// buildRelay creates the relay with one HTTP sink per configured URL plus
// the optional Redis stream sink.
func buildRelay(cfg config.RelayConfig, logger *slog.Logger) (*relay.Relay, error) {
	var opts []relay.HTTPOption
	if cfg.SigningSecret != "" {
		opts = append(opts, relay.WithSigner(auth.NewSigner([]byte(cfg.SigningSecret))))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, relay.WithHeaders(cfg.Headers))
	}

	var sinks []relay.Sink
	for _, u := range cfg.URLs {
		if u = strings.TrimSpace(u); u != "" {
			sinks = append(sinks, relay.NewHTTPSink(u, opts...))
		}
	}

	if cfg.Redis.Enabled {
		rs, err := relay.NewRedisSink(cfg.Redis.Addr, cfg.Redis.Stream, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, rs)
	}

	logger.Info("relay configured", "destinations", len(sinks))
	return relay.New(sinks, cfg.Timeout, logger), nil
}

// buildStreaming creates the reply pipeline, or nil when streaming is off.
func buildStreaming(cfg config.StreamingConfig, client *feishu.Client, logger *slog.Logger) (*streaming.Service, error) {
	if !cfg.Enabled {
		logger.Info("streaming replies disabled")
		return nil, nil
	}

	provider, err := backend.New(cfg, backend.NewAnchorStore())
	if err != nil {
		return nil, err
	}

	svcCfg := streaming.Config{
		Provider:   provider,
		Messenger:  client,
		HTTPClient: &http.Client{},
		Options: streaming.Options{
			ReplyMode:      cfg.EffectiveReplyMode(),
			MemoryEnabled:  cfg.Memory.Enabled,
			MaxHistory:     cfg.Memory.MaxMessages,
			UpdateInterval: cfg.UpdateInterval,
			CreateTimeout:  cfg.CreateTimeout,
			PatchWait:      cfg.PatchWait,
			RequestTimeout: cfg.RequestTimeout,
			LogInterval:    cfg.LogInterval,
		},
		Logger: logger,
	}
	if cfg.Memory.Enabled {
		svcCfg.History = conversation.NewAssembler(client, logger)
	}
	if cfg.Log.Enabled {
		w, err := convlog.NewWriter(cfg.Log.Dir, cfg.Log.MaxFiles, logger)
		if err != nil {
			return nil, err
		}
		svcCfg.Recorder = w
	}

	logger.Info("streaming replies enabled",
		"provider", provider.Name(),
		"reply_mode", svcCfg.Options.ReplyMode,
		"memory", cfg.Memory.Enabled,
		"max_messages", cfg.Memory.MaxMessages,
	)
	return streaming.NewService(svcCfg), nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	client := feishu.NewClient(feishu.Options{
		AppID:     cfg.Feishu.AppID,
		AppSecret: cfg.Feishu.AppSecret,
		BaseURL:   cfg.Feishu.BaseURL,
		Timeout:   cfg.Feishu.RequestTimeout,
	}, logger)

	rl, err := buildRelay(cfg.Relay, logger)
	if err != nil {
		return nil, fmt.Errorf("creating relay: %w", err)
	}

	svc, err := buildStreaming(cfg.Streaming, client, logger)
	if err != nil {
		_ = rl.Close(context.Background())
		return nil, fmt.Errorf("creating streaming service: %w", err)
	}

	dedupeCache := dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxEntries)

	routerCfg := router.Config{
		Relay:  rl,
		Dedupe: dedupeCache,
		Logger: logger,
	}
	if svc != nil {
		routerCfg.Replier = svc
	}

	gw := &Gateway{
		config:    cfg,
		feishu:    client,
		decoder:   feishu.NewEventDecoder(cfg.Feishu.VerificationToken, cfg.Feishu.EncryptKey),
		router:    router.New(routerCfg),
		relay:     rl,
		streaming: svc,
		dedupe:    dedupeCache,
		logger:    logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", gw.handleHealth)
	if cfg.Feishu.Mode == config.ModeWS {
		gw.conn = gw.newLongConn()
		gw.logger.Info("event intake over long connection", "events", cfg.Feishu.WSEvents)
	} else {
		mux.HandleFunc("/feishu/events", gw.handleEvents)
		mux.HandleFunc("/feishu/card", gw.handleCard)
	}
	gw.registerProxyRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// registerProxyRoutes mounts the Open API pass-through and the token
// endpoint, behind bearer auth when a secret is configured.
func (g *Gateway) registerProxyRoutes(mux *http.ServeMux) {
	if !g.config.Proxy.Enabled {
		return
	}
	if g.config.Proxy.AuthSecret != "" {
		requireBearer := auth.RequireBearer(auth.NewSigner([]byte(g.config.Proxy.AuthSecret)))
		mux.Handle(proxyPrefix+"/", requireBearer(http.HandlerFunc(g.handleProxy)))
		mux.Handle(tokenPath, requireBearer(http.HandlerFunc(g.handleTenantToken)))
		g.logger.Info("proxy enabled with bearer auth", "prefix", proxyPrefix, "token_path", tokenPath)
		return
	}
	mux.HandleFunc(proxyPrefix+"/", g.handleProxy)
	mux.HandleFunc(tokenPath, g.handleTenantToken)
	g.logger.Warn("proxy enabled without auth - no proxy.auth_secret configured", "prefix", proxyPrefix, "token_path", tokenPath)
}

// startServer starts the HTTP server in a goroutine, returning an error channel.
// The channel has room for the long connection's error too.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 2)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the HTTP server, plus the long connection in ws mode, and
// blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := g.startServer(ln)
	if g.conn != nil {
		g.startLongConn(ctx, errCh)
	}
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting callbacks, gives in-flight replies until ctx is
// done to finish, then releases the relay and the dedupe sweeper.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "router close", g.router.Close())

	if g.streaming != nil {
		if err := g.streaming.Wait(ctx); err != nil {
			g.logger.Warn("replies still in flight at shutdown", "error", err)
		}
	}

	errs = appendCloseError(errs, "relay close", g.relay.Close(ctx))
	g.dedupe.Close()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// Handler exposes the HTTP routes for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}
