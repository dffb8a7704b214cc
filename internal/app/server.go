package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"ebslms/internal/accreditation"
	"ebslms/internal/app/observability"
	"ebslms/internal/attempt"
	"ebslms/internal/auth"
	"ebslms/internal/certificate"
	"ebslms/internal/course"
	"ebslms/internal/db"
	"ebslms/internal/enrollment"
	"ebslms/internal/forum"
	"ebslms/internal/notify"
	"ebslms/internal/platform/cache"
	"ebslms/internal/platform/logger"
	"ebslms/internal/preference"
	"ebslms/internal/progress"
	"ebslms/internal/question"
	"ebslms/internal/storage"
	"ebslms/internal/user"

	"golang.org/x/sync/errgroup"
)

// Server owns every long-lived resource: the HTTP listener, the certificate
// workers and the outbound email goroutines.
type Server struct {
	cfg        Config
	log        *logger.Logger
	http       *http.Server
	dispatcher *certificate.Dispatcher
	notifier   *notify.Notifier
	closers    []io.Closer
}

// Build opens the database, optional Redis and object storage, then wires
// services and handlers into a router.
func Build(ctx context.Context, cfg Config, log *logger.Logger) (*Server, error) {
	s := &Server{cfg: cfg, log: log.With("component", "Server")}

	conn, err := db.OpenPostgresWithConfig(ctx, cfg.DBDSN, db.PostgresConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifeMins) * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, conn)

	if cfg.DBAutoMigrate {
		applied, err := db.Migrate(ctx, conn)
		if err != nil {
			s.Close()
			return nil, err
		}
		if len(applied) > 0 {
			s.log.Info("migrations applied", "files", applied)
		}
	}

	// Redis is optional; every consumer accepts a nil interface.
	var (
		shared  auth.SharedCache
		metrics progress.Cache
		locker  certificate.Locker
		health  = map[string]observability.Pinger{}
	)
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedis(log, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, rc)
		shared, metrics, locker = rc, rc, rc
		health["redis"] = rc
	} else {
		s.log.Warn("REDIS_ADDR not set, caches and locks are process-local")
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	if c, ok := store.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}

	var mailer notify.Mailer = notify.NewLogMailer(log)
	if sm := notify.NewSMTPMailer(notify.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	}); sm != nil {
		mailer = sm
	}
	mailer = notify.NewRetryMailer(mailer, cfg.EmailMaxAttempts, time.Second, log)

	prefSvc := preference.NewService(conn, log)
	s.notifier = notify.NewNotifier(mailer, prefSvc, log)

	userSvc := user.NewService(conn, s.notifier, log)
	verifier := auth.NewCognitoVerifier(auth.VerifierConfig{
		Issuer:   cfg.CognitoIssuer(),
		JWKSURL:  cfg.CognitoJWKSURL(),
		ClientID: cfg.CognitoClientID,
		CacheTTL: cfg.JWKSCacheTTL,
	}, nil, shared, log)
	authHandler := auth.NewHandler(verifier, userSvc, auth.CookieConfig{
		Domain: cfg.CookieDomain,
		Secure: cfg.CookieSecure,
	}, log)

	renderer, err := certificate.NewPDFRenderer()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("certificate renderer: %w", err)
	}
	gen := certificate.NewGenerator(conn, store, renderer, certificate.GeneratorOptions{
		Locker:     locker,
		Notifier:   s.notifier,
		PresignTTL: cfg.PresignTTL,
	}, log)
	s.dispatcher = certificate.NewDispatcher(gen, cfg.CertWorkers, cfg.CertQueueSize, log)
	certSvc := certificate.NewService(conn, store, s.dispatcher, cfg.PresignTTL, log)

	collector := observability.NewCollector(conn, log)
	collector.AddGauge("certificate_queue_depth", func() float64 { return float64(s.dispatcher.Depth()) })

	router := NewRouter(cfg, Handlers{
		Collector:     collector,
		Health:        health,
		Auth:          authHandler,
		User:          user.NewHandler(userSvc, authHandler),
		Course:        course.NewHandler(course.NewService(conn, store, cfg.PresignTTL, log)),
		Question:      question.NewHandler(question.NewService(conn, log)),
		Attempt:       attempt.NewHandler(attempt.NewService(conn, certSvc, s.notifier, log)),
		Accreditation: accreditation.NewHandler(accreditation.NewService(conn, log)),
		Enrollment:    enrollment.NewHandler(enrollment.NewService(conn, log)),
		Certificate:   certificate.NewHandler(certSvc),
		Forum:         forum.NewHandler(forum.NewService(conn, log)),
		Preference:    preference.NewHandler(prefSvc),
		Progress:      progress.NewHandler(progress.NewService(conn, metrics, cfg.MetricsCacheTTL, log)),
	})

	s.http = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func openStore(ctx context.Context, cfg Config) (storage.ObjectStore, error) {
	switch cfg.StorageDriver {
	case "gcs":
		return storage.NewGCSStore(ctx, cfg.GCSBucketName)
	default:
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:   cfg.S3BucketName,
			Region:   cfg.AWSRegion,
			Endpoint: cfg.S3Endpoint,
		})
	}
}

// Run serves HTTP and runs certificate workers until ctx is cancelled, then
// shuts both down within ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("http server listening", "addr", s.cfg.HTTPAddr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.dispatcher.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		err := s.http.Shutdown(shutdownCtx)
		s.notifier.Wait(shutdownCtx)
		return err
	})

	return g.Wait()
}

// Close releases the database, Redis and storage clients in reverse order of opening.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.log.Warn("close failed", "error", err)
		}
	}
	s.closers = nil
}
