/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/jonyboev-wq/calendarv2/internal/api"
	"github.com/jonyboev-wq/calendarv2/internal/archive"
	"github.com/jonyboev-wq/calendarv2/internal/audit"
	"github.com/jonyboev-wq/calendarv2/internal/cache"
	"github.com/jonyboev-wq/calendarv2/internal/calendar"
	"github.com/jonyboev-wq/calendarv2/internal/config"
	"github.com/jonyboev-wq/calendarv2/internal/db"
	"github.com/jonyboev-wq/calendarv2/internal/eventbus"
	"github.com/jonyboev-wq/calendarv2/internal/events"
	"github.com/jonyboev-wq/calendarv2/internal/leadership"
	"github.com/jonyboev-wq/calendarv2/internal/planner"
	"github.com/jonyboev-wq/calendarv2/internal/scheduler"
	schedulerstate "github.com/jonyboev-wq/calendarv2/internal/scheduler/state"
	"github.com/jonyboev-wq/calendarv2/internal/storage"
	"github.com/jonyboev-wq/calendarv2/internal/telemetry"
	"github.com/jonyboev-wq/calendarv2/internal/webhooks"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db         *gorm.DB
	cache      *cache.Cache
	bus        events.Broker
	api        *api.API
	scheduler  *scheduler.Service
	syncSvc    *calendar.SyncService
	leaderSync *calendar.LeaderAwareSync
	archiveSvc *archive.Service
	auditSvc   *audit.Service
	webhookSvc *webhooks.Service

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("calendarv2-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip the request timeout for WebSocket connections, which stay open
	// as long as a client listens for plan events.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:    addr,
		Handler: srv.router,
		// Keep the header deadline to protect against slowloris; read and
		// write deadlines stay off so WebSocket event streams are not cut.
		// The middleware timeout (60s) covers the plain JSON routes.
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return fmt.Errorf("register database callbacks: %w", err)
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	// Redis cache for the schedule read path. Missing Redis is not fatal;
	// every read falls through to the in-memory plan.
	if s.cfg.RedisAddr != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		planCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		} else {
			s.cache = planCache
			s.DeferClose(func() error { return s.cache.Close() })
		}
	}

	s.bus = s.newEventBus()

	dayStart, dayEnd, err := s.cfg.DayBoundsFor(time.Now())
	if err != nil {
		return fmt.Errorf("resolve day bounds: %w", err)
	}
	defaults := planner.DaySettings{DayStart: dayStart, DayEnd: dayEnd}

	sched, err := scheduler.New(database, defaults, s.bus, schedulerstate.NewStore(0), s.logger)
	if err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	s.scheduler = sched
	if s.cache != nil {
		s.scheduler.SetCache(s.cache)
	}

	if s.cfg.SeedFile != "" {
		if err := s.scheduler.SeedFromFile(context.Background(), s.cfg.SeedFile); err != nil {
			return fmt.Errorf("seed from %s: %w", s.cfg.SeedFile, err)
		}
	}

	s.auditSvc = audit.NewService(database, s.bus, s.logger)
	s.webhookSvc = webhooks.NewService(database, s.bus, s.logger)

	store, err := s.newArchiveStore()
	if err != nil {
		return err
	}
	s.archiveSvc = archive.NewService(store, s.scheduler, s.bus, 30*time.Second, 30, s.logger)

	if s.cfg.CalDAVServerURL != "" {
		client, err := calendar.NewClient(calendar.ClientConfig{
			ServerURL:    s.cfg.CalDAVServerURL,
			CalendarID:   s.cfg.CalDAVCalendarID,
			TokenURL:     s.cfg.CalDAVTokenURL,
			ClientID:     s.cfg.CalDAVClientID,
			ClientSecret: s.cfg.CalDAVClientSecret,
			AccessToken:  s.cfg.CalDAVAccessToken,
			RefreshToken: s.cfg.CalDAVRefreshToken,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("create caldav client: %w", err)
		}
		s.syncSvc = calendar.NewSyncService(client, s.scheduler, s.bus, s.cfg.SyncInterval, s.logger)

		// With Redis available, gate the periodic loop behind leader
		// election so only one instance writes to the remote calendar.
		if s.cfg.RedisAddr != "" && s.cfg.SyncInterval > 0 {
			electionCfg := leadership.DefaultConfig()
			electionCfg.RedisAddr = s.cfg.RedisAddr
			electionCfg.RedisPassword = s.cfg.RedisPassword
			electionCfg.RedisDB = s.cfg.RedisDB
			electionCfg.ElectionKey = "calendar:leader:sync"
			if s.cfg.InstanceID != "" {
				electionCfg.InstanceID = s.cfg.InstanceID
			}

			election, err := leadership.NewElection(electionCfg, s.logger)
			if err != nil {
				return fmt.Errorf("create leader election: %w", err)
			}
			s.leaderSync = calendar.NewLeaderAware(s.syncSvc, election, s.logger)
			s.DeferClose(func() error { return s.leaderSync.Stop() })

			s.logger.Info().
				Str("redis_addr", s.cfg.RedisAddr).
				Str("instance_id", electionCfg.InstanceID).
				Msg("leader election enabled for calendar sync")
		}
	}

	s.api = api.New(s.db, []byte(s.cfg.JWTSigningKey), s.scheduler, s.auditSvc, s.bus, s.logger)
	s.api.SetArchiveService(s.archiveSvc)
	s.api.SetWebhookService(s.webhookSvc)
	if s.syncSvc != nil {
		s.api.SetSyncService(s.syncSvc)
	}
	if s.cache != nil {
		s.api.SetCache(s.cache)
	}

	return nil
}

// newEventBus picks the widest bus the configuration allows: NATS, then
// Redis, then in-process only.
func (s *Server) newEventBus() events.Broker {
	if s.cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		natsCfg.Token = s.cfg.NATSToken
		bus, err := eventbus.NewNATSBus(natsCfg, s.cfg.InstanceID, s.logger)
		if err == nil {
			s.DeferClose(bus.Close)
			return bus
		}
		s.logger.Warn().Err(err).Msg("NATS event bus unavailable, falling back")
	}

	if s.cfg.RedisAddr != "" {
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		bus, err := eventbus.NewRedisBus(redisCfg, s.cfg.InstanceID, s.logger)
		if err == nil {
			s.DeferClose(bus.Close)
			return bus
		}
		s.logger.Warn().Err(err).Msg("Redis event bus unavailable, falling back")
	}

	return events.NewBus()
}

// newArchiveStore returns the object store for schedule archives: S3 when a
// bucket is configured, the local filesystem otherwise.
func (s *Server) newArchiveStore() (storage.ObjectStore, error) {
	if s.cfg.S3Bucket != "" {
		store, err := storage.NewS3Store(context.Background(), storage.S3Config{
			AccessKeyID:     s.cfg.S3AccessKeyID,
			SecretAccessKey: s.cfg.S3SecretAccessKey,
			Region:          s.cfg.S3Region,
			Bucket:          s.cfg.S3Bucket,
			Endpoint:        s.cfg.S3Endpoint,
			UsePathStyle:    s.cfg.S3UsePathStyle,
		}, s.logger)
		if err != nil {
			return nil, fmt.Errorf("create S3 archive store: %w", err)
		}
		s.logger.Info().Str("bucket", s.cfg.S3Bucket).Msg("archiving schedules to S3")
		return store, nil
	}

	store, err := storage.NewFSStore(s.cfg.ArchiveDir, s.logger)
	if err != nil {
		return nil, fmt.Errorf("create filesystem archive store: %w", err)
	}
	return store, nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.auditSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.auditSvc.Start(ctx)
		}()
	}

	if s.webhookSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.webhookSvc.Start(ctx)
		}()
	}

	if s.archiveSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.archiveSvc.Start(ctx)
		}()
	}

	// Periodic calendar sync: leader-gated when election is wired,
	// otherwise a plain loop on this instance.
	if s.leaderSync != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.leaderSync.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("leader-aware sync exited")
			}
		}()
	} else if s.syncSvc != nil && s.cfg.SyncInterval > 0 {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.syncSvc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("calendar sync loop exited")
			}
		}()
	}

	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := `{"status":"ok"`
		if s.leaderSync != nil {
			if s.leaderSync.IsLeader() {
				response += `,"leader":true`
			} else {
				response += `,"leader":false`
			}
		}
		response += `}`
		_, _ = w.Write([]byte(response))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
