package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/partyquiz/internal/answers"
	"github.com/victornm/partyquiz/internal/api"
	"github.com/victornm/partyquiz/internal/broadcast"
	"github.com/victornm/partyquiz/internal/content"
	"github.com/victornm/partyquiz/internal/event"
	"github.com/victornm/partyquiz/internal/leaderboard"
	"github.com/victornm/partyquiz/internal/ledger"
	"github.com/victornm/partyquiz/internal/lock"
	"github.com/victornm/partyquiz/internal/round"
	"github.com/victornm/partyquiz/internal/session"
	"github.com/victornm/partyquiz/internal/specialist"
	"github.com/victornm/partyquiz/internal/storage/postgres"
	"github.com/victornm/partyquiz/internal/telemetry"
	"github.com/victornm/partyquiz/internal/timer"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Addrs  []string
		Pass   string
		Prefix string
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
	}

	service struct {
		session     *session.Service
		leaderboard *leaderboard.Service
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s",
		s.c.Postgres.User, s.c.Postgres.Pass, s.c.Postgres.Addr, s.c.Postgres.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() {
	store := postgres.New(s.infra.postgres)
	prefix := s.c.Redis.Prefix

	lg := ledger.NewService(ledger.Config{
		Store:    store,
		EventBus: s.eb,
	})

	locks := lock.NewService(lock.Config{
		Redis:  s.infra.redis,
		Prefix: prefix,
	})

	mc := round.NewMultipleChoice(round.MultipleChoiceConfig{
		Store:  store,
		Redis:  s.infra.redis,
		Lock:   locks,
		Source: content.NewStatic(),
		Ledger: lg,
		Prefix: prefix,
	})

	registry := round.NewRegistry(
		round.NewCategoryLetter(round.CategoryLetterConfig{
			Store:  store,
			Ledger: lg,
		}),
		mc,
		round.NewSpecialistHandler(round.SpecialistHandlerConfig{
			Store: store,
		}),
	)

	s.service.session = session.NewService(session.Config{
		Store:    store,
		Registry: registry,
		Buffer: answers.NewBuffer(answers.Config{
			Redis:   s.infra.redis,
			Players: store,
			Prefix:  prefix,
		}),
		Ledger: lg,
		Specialist: specialist.NewService(specialist.Config{
			Store:    store,
			Source:   content.NewStatic(),
			Ledger:   lg,
			EventBus: s.eb,
		}),
		Timer:    timer.NewRunner(timer.Config{EventBus: s.eb}),
		EventBus: s.eb,
		Cache:    mc,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis,
		Prefix:   prefix,
	})

	broadcast.NewGateway(broadcast.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis,
		Prefix:   prefix,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Router:      e,
		Session:     s.service.session,
		Leaderboard: s.service.leaderboard,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	s.infra.postgres.Close()
	if err := s.infra.redis.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close redis failed", "error", err)
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
