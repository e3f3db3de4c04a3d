// Package api provides the HTTP surface and the main server wiring for
// bookingflow.
//
// It exposes the GHL webhook endpoint for inbound WhatsApp messages, a
// health check, and a read-only conversation state endpoint. The server
// also pumps messaging channel events into the conversation coordinator.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/palinopr/bookingflow/internal/flow"
	"github.com/palinopr/bookingflow/internal/genai"
	"github.com/palinopr/bookingflow/internal/ghl"
	"github.com/palinopr/bookingflow/internal/messaging"
	"github.com/palinopr/bookingflow/internal/models"
	"github.com/palinopr/bookingflow/internal/store"
	"github.com/palinopr/bookingflow/internal/twiliowhatsapp"
	"github.com/palinopr/bookingflow/internal/whatsapp"
)

// Messaging channel selectors.
const (
	ChannelGHL      = "ghl"
	ChannelTwilio   = "twilio"
	ChannelWhatsApp = "whatsapp"
)

const (
	// DefaultAddr is the default API listen address.
	DefaultAddr = ":8080"
	// DefaultProcessingTimeout bounds webhook message processing, covering
	// extraction, calendar lookups, and the save cycle.
	DefaultProcessingTimeout = 30 * time.Second
	// DefaultShutdownTimeout bounds graceful HTTP server shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr              string
	Channel           string
	GHLStateBackend   bool
	BudgetThreshold   int
	ProcessingTimeout time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the API listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithChannel selects the messaging channel (ghl, twilio, or whatsapp).
func WithChannel(channel string) Option {
	return func(o *Opts) { o.Channel = channel }
}

// WithGHLStateBackend stores conversation state in GHL custom fields
// instead of the database.
func WithGHLStateBackend() Option {
	return func(o *Opts) { o.GHLStateBackend = true }
}

// WithBudgetThreshold overrides the minimum qualifying monthly budget.
func WithBudgetThreshold(threshold int) Option {
	return func(o *Opts) { o.BudgetThreshold = threshold }
}

// WithProcessingTimeout overrides the per-message processing deadline.
func WithProcessingTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ProcessingTimeout = d }
}

// Server handles HTTP requests and channel events for the booking flow.
type Server struct {
	addr              string
	coordinator       *flow.Coordinator
	st                store.ConversationStore
	msgService        messaging.Service
	twilioService     *messaging.TwilioService
	ghlClient         *ghl.Client
	processingTimeout time.Duration
	httpServer        *http.Server
}

// NewServer creates an API server around an already wired coordinator.
func NewServer(coordinator *flow.Coordinator, st store.ConversationStore, msgService messaging.Service, opts ...Option) *Server {
	cfg := applyOptions(opts)
	s := &Server{
		addr:              cfg.Addr,
		coordinator:       coordinator,
		st:                st,
		msgService:        msgService,
		processingTimeout: cfg.ProcessingTimeout,
	}
	if twilioService, ok := msgService.(*messaging.TwilioService); ok {
		s.twilioService = twilioService
	}
	return s
}

func applyOptions(opts []Option) Opts {
	cfg := Opts{
		Addr:              DefaultAddr,
		Channel:           ChannelGHL,
		ProcessingTimeout: DefaultProcessingTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = DefaultProcessingTimeout
	}
	return cfg
}

// Run wires all modules from their options and serves until SIGINT or
// SIGTERM.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, ghlOpts []ghl.Option, waOpts []whatsapp.Option, twilioOpts []twiliowhatsapp.Option, apiOpts []Option) error {
	cfg := applyOptions(apiOpts)

	ghlClient, err := ghl.NewClient(ghlOpts...)
	if err != nil {
		return fmt.Errorf("failed to create GHL client: %w", err)
	}

	var st store.ConversationStore
	if cfg.GHLStateBackend {
		slog.Info("Run using GHL custom fields as state backend")
		st = ghl.NewStore(ghlClient)
	} else {
		st, err = store.NewStore(storeOpts...)
		if err != nil {
			return fmt.Errorf("failed to create conversation store: %w", err)
		}
	}
	defer st.Close()

	genaiClient, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to create GenAI client: %w", err)
	}

	msgService, err := buildMessagingService(cfg.Channel, ghlClient, waOpts, twilioOpts)
	if err != nil {
		return err
	}

	engineCfg := flow.DefaultEngineConfig()
	if cfg.BudgetThreshold > 0 {
		engineCfg.BudgetThreshold = cfg.BudgetThreshold
	}
	renderer := flow.NewRenderer(engineCfg.FallbackLocale)
	engine := flow.NewEngine(engineCfg, renderer)
	extractor := flow.NewExtractor(genaiClient, engineCfg.BusinessDays)
	coordinator := flow.NewCoordinator(st, extractor, engine, renderer, ghlClient, msgService)

	server := NewServer(coordinator, st, msgService, apiOpts...)
	server.ghlClient = ghlClient

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer msgService.Stop()

	go server.pumpResponses(ctx)
	go server.drainReceipts(ctx)

	return server.serve(ctx)
}

func buildMessagingService(channel string, ghlClient *ghl.Client, waOpts []whatsapp.Option, twilioOpts []twiliowhatsapp.Option) (messaging.Service, error) {
	switch channel {
	case ChannelGHL, "":
		return messaging.NewGHLService(ghlClient), nil
	case ChannelTwilio:
		client, err := twiliowhatsapp.NewClient(twilioOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		return messaging.NewTwilioService(client), nil
	case ChannelWhatsApp:
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil
	default:
		return nil, fmt.Errorf("unknown messaging channel %q", channel)
	}
}

// serve runs the HTTP server until the context is cancelled or SIGINT or
// SIGTERM arrives, then shuts down gracefully.
func (s *Server) serve(ctx context.Context) error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		slog.Info("Server received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("Server context cancelled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	slog.Info("Server shut down cleanly")
	return nil
}

// registerRoutes wires the HTTP endpoints.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/state/", s.stateHandler)
	if s.twilioService != nil {
		mux.HandleFunc("/webhook/twilio", s.twilioService.WebhookHandler)
	}
}

// pumpResponses feeds inbound channel messages into the coordinator. Each
// message gets its own processing deadline; failures are logged and the
// pump keeps running.
func (s *Server) pumpResponses(ctx context.Context) {
	responses := s.msgService.Responses()
	for {
		select {
		case <-ctx.Done():
			return
		case response, ok := <-responses:
			if !ok {
				return
			}
			s.handleResponse(ctx, response)
		}
	}
}

func (s *Server) handleResponse(ctx context.Context, response models.Response) {
	msgCtx, cancel := context.WithTimeout(ctx, s.processingTimeout)
	defer cancel()

	msg := models.InboundMessage{
		ContactID: response.From,
		Text:      response.Body,
		MessageID: response.MessageID,
		Timestamp: time.Unix(response.Time, 0),
	}
	if msg.MessageID == "" {
		msg.MessageID = newMessageID()
	}

	if _, err := s.coordinator.HandleInbound(msgCtx, msg); err != nil {
		slog.Error("Server failed to handle channel message", "error", err, "from", response.From)
	}
}

// drainReceipts logs delivery receipts so the channel buffer never fills.
func (s *Server) drainReceipts(ctx context.Context) {
	receipts := s.msgService.Receipts()
	for {
		select {
		case <-ctx.Done():
			return
		case receipt, ok := <-receipts:
			if !ok {
				return
			}
			slog.Debug("Server message receipt", "to", receipt.To, "status", receipt.Status)
		}
	}
}
