package authc

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"

	"github.com/shardkit/authc/actor"
	"github.com/shardkit/authc/kvstore"
	"github.com/shardkit/authc/queue"
)

// Server assembles the full stack from a Config: durable actor store,
// settings cache, activity queue and pump, authenticator and HTTP surface.
type Server struct {
	App  *fiber.App
	Auth *Authenticator
	Dir  *Directory

	store *actor.BunStore
	queue interface{ Close() }
	nats  *queue.NATS
}

// NewServer builds a ready-to-listen server. The sqlite store is always
// opened; NATS and Redis are wired only when configured, otherwise their
// in-process counterparts serve.
func NewServer(ctx context.Context, cfg Config, logger Logger) (*Server, error) {
	logger = normalizeLogger(logger)

	store, err := actor.OpenSQLiteStore(ctx, cfg.SQLiteDSN)
	if err != nil {
		return nil, err
	}

	tokens := NewTokenService(cfg.IssuerBase).WithLogger(logger)
	dir := NewDirectory(actor.NewRuntime(store), tokens).WithLogger(logger)

	var cache kvstore.Store = kvstore.NewMemory()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryBadInput, "invalid redis url")
		}
		cache = kvstore.NewRedis(redis.NewClient(opts), "authc", 0)
	}

	srv := &Server{Dir: dir, store: store}

	pump := NewActivityPump(dir).WithLogger(logger)
	var sink ActivitySink
	if cfg.NATSURL != "" {
		nq, err := queue.ConnectNATS(queue.NATSConfig{
			URL:     cfg.NATSURL,
			Stream:  cfg.NATSStream,
			Subject: cfg.NATSSubject,
			Durable: cfg.NATSDurable,
		})
		if err != nil {
			return nil, err
		}
		if err := nq.Consume(pump.Handle); err != nil {
			return nil, err
		}
		sink = NewQueueSink(nq).WithLogger(logger)
		srv.nats = nq
	} else {
		mq := queue.NewMemory(3)
		if err := mq.Consume(pump.Handle); err != nil {
			return nil, err
		}
		sink = NewQueueSink(mq).WithLogger(logger)
		srv.queue = mq
	}
	dir.WithActivitySink(sink)

	auth := NewAuthenticator(dir, tokens, cache).
		WithActivitySink(sink).
		WithLogger(logger)

	app := fiber.New()
	NewHTTPController(auth, cfg.TenantHeader).WithLogger(logger).RegisterRoutes(app)

	srv.App = app
	srv.Auth = auth
	return srv, nil
}

// Listen serves HTTP on addr until the app shuts down.
func (s *Server) Listen(addr string) error {
	return s.App.Listen(addr)
}

// Close shuts the HTTP listener and the activity transport down.
func (s *Server) Close() error {
	err := s.App.Shutdown()
	if s.queue != nil {
		s.queue.Close()
	}
	if s.nats != nil {
		if cerr := s.nats.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
