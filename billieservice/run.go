// Package billieservice boots the conversation service: configuration,
// storage, the model provider, and the HTTP server.
package billieservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/moative/billie/internal/address"
	"github.com/moative/billie/internal/agent"
	"github.com/moative/billie/internal/api"
	"github.com/moative/billie/internal/config"
	"github.com/moative/billie/internal/factory"
	"github.com/moative/billie/internal/legacy"
	"github.com/moative/billie/internal/llm"
	"github.com/moative/billie/internal/platform/logger"
	"github.com/moative/billie/internal/tools"
	"github.com/moative/billie/internal/verification"
)

// Run starts the service HTTP server and blocks until shutdown or error.
func Run() error {
	log := logger.New("billie-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	ctx, stop := newServerContext()
	defer stop()

	st, err := factory.NewStore(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Store adapter unavailable")
		return err
	}
	if err := st.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("Storage not reachable")
		return err
	}

	if cfg.OpenAIAPIKey == "" {
		return fmt.Errorf("BILLIE_OPENAI_API_KEY is required")
	}
	provider := llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel)

	var validator address.Validator
	if cfg.AddressValidationKey != "" {
		validator = address.NewGoogleValidator(cfg.AddressValidationURL, cfg.AddressValidationKey)
	} else {
		log.Warn().Msg("no address validation key configured, using offline validator")
		validator = address.StaticValidator{}
	}

	gate := verification.NewGate(st, log)
	legacyClient := legacy.NewClient(cfg, log)

	orch := agent.New(cfg, agent.Deps{
		Store:    st,
		Gate:     gate,
		Provider: provider,
		Legacy:   legacyClient,
		Registry: func(sessionID string) *tools.Registry {
			return tools.NewRegistry(tools.Deps{
				Store:     st,
				Gate:      gate,
				LLM:       provider,
				Validator: validator,
				Log:       log,
				SessionID: sessionID,
			})
		},
		Log: log,
	})

	handler := api.NewHandler(orch, gate, st, log)
	server := newHTTPServer(ctx, cfg, handler.Router())
	errCh := serveHTTP(server, log, cfg)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
		return err
	}
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// newServerContext returns a cancellable context that is cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
