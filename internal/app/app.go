package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirecode-server/internal/chat"
	"github.com/vovakirdan/wirecode-server/internal/config"
	"github.com/vovakirdan/wirecode-server/internal/core"
	"github.com/vovakirdan/wirecode-server/internal/executor"
	"github.com/vovakirdan/wirecode-server/internal/log"
	"github.com/vovakirdan/wirecode-server/internal/presence"
	"github.com/vovakirdan/wirecode-server/internal/relay"
	"github.com/vovakirdan/wirecode-server/internal/rooms"
	"github.com/vovakirdan/wirecode-server/internal/store"
	"github.com/vovakirdan/wirecode-server/internal/store/mongo"
	"github.com/vovakirdan/wirecode-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirecode-server/internal/transport/http"
	"github.com/vovakirdan/wirecode-server/internal/utils"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	relay           relay.Relay
	log             *zerolog.Logger
}

// New constructs the application with provided configuration. Failing to
// reach the store or the relay is fatal.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("driver", cfg.Store.Driver).Msg("store initialized")

	origin := utils.ShortID()
	rl, err := openRelay(ctx, cfg, origin, log.Component(logger, "relay"))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init relay: %w", err)
	}
	logger.Info().Str("driver", cfg.Relay.Driver).Str("origin", origin).Msg("relay initialized")

	registry := rooms.NewRegistry(st, rooms.WithDefaultLanguage(cfg.DefaultLanguage))
	chatLog := chat.NewLog(st)

	hub := core.NewHub(core.Options{
		Registry:      registry,
		Chat:          chatLog,
		Presence:      presence.NewTracker(),
		Relay:         rl,
		Logger:        log.Component(logger, "hub"),
		Site:          "srv-" + origin,
		FlushInterval: cfg.Rooms.FlushInterval,
		IdleTTL:       cfg.Rooms.IdleTTL,
		HistoryLimit:  cfg.ChatHistoryLimit,
	})

	server := transporthttp.NewServer(transporthttp.Deps{
		Hub:      hub,
		Registry: registry,
		Chat:     chatLog,
		Executor: executor.NewClient(cfg.Executor.URL, cfg.Executor.Timeout),
	}, cfg, log.Component(logger, "http"))

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		relay:           rl,
		log:             logger,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreMongo:
		return mongo.New(ctx, mongo.Config{
			URI:      cfg.Store.MongoURI,
			Database: cfg.Store.MongoDatabase,
		})
	case config.StoreSQLite, "":
		return sqlite.New(cfg.Store.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func openRelay(ctx context.Context, cfg *config.Config, origin string, logger *zerolog.Logger) (relay.Relay, error) {
	switch cfg.Relay.Driver {
	case config.RelayRedis:
		return relay.NewRedis(ctx, relay.RedisConfig{
			Addr:     cfg.Relay.RedisAddr,
			Password: cfg.Relay.RedisPassword,
			DB:       cfg.Relay.RedisDB,
			Channel:  cfg.Relay.RedisChannel,
			Origin:   origin,
		}, logger)
	case config.RelayNATS:
		return relay.NewNATS(relay.NATSConfig{
			URL:     cfg.Relay.NATSURL,
			Subject: cfg.Relay.NATSSubject,
			Origin:  origin,
			Name:    "wirecode-" + origin,
		}, logger)
	case config.RelayLocal, "":
		return relay.NewLocal(origin), nil
	default:
		return nil, fmt.Errorf("unknown relay driver %q", cfg.Relay.Driver)
	}
}

// Run starts the hub and the HTTP server and blocks until ctx is cancelled
// or either of them fails. Dirty rooms are flushed before the store closes.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.hub.Run(gctx)
	})

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.cleanup()
	return err
}

// cleanup closes the relay and the database.
func (a *App) cleanup() {
	if a.relay != nil {
		if err := a.relay.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close relay")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
