package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limitermw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/backend-kursus/internal/auth"
	"github.com/noah-isme/backend-kursus/internal/cart"
	"github.com/noah-isme/backend-kursus/internal/catalog"
	"github.com/noah-isme/backend-kursus/internal/common"
	"github.com/noah-isme/backend-kursus/internal/config"
	"github.com/noah-isme/backend-kursus/internal/health"
	"github.com/noah-isme/backend-kursus/internal/lock"
	"github.com/noah-isme/backend-kursus/internal/obs"
	"github.com/noah-isme/backend-kursus/internal/ratelimit"
	"github.com/noah-isme/backend-kursus/internal/store"
	"github.com/noah-isme/backend-kursus/internal/voucher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := obs.NewLogger("json", "info")
		bootLogger.Fatal().Err(err).Msg("load config")
	}

	logger := obs.NewLogger(
		envOrDefault("OBS_LOG_FORMAT", "json"),
		envOrDefault("OBS_LOG_LEVEL", "info"),
	).With().Str("component", "api").Str("env", cfg.AppEnv).Logger()

	metricsEnabled := envBool("OBS_METRICS_ENABLED", true)
	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "kursus")
	if metricsEnabled {
		obs.MustRegisterDomainMetrics(metricsNamespace, nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracingEnabled := envBool("OBS_TRACING_ENABLED", false)
	if tracingEnabled {
		shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   envOrDefault("OBS_SERVICE_NAME", "kursus-api"),
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACE_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACE_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("init tracer")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracer(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("shutdown tracer")
			}
		}()
	}

	if envBool("DB_MIGRATE_ON_START", true) {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "kursus-api"
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()
	if tracingEnabled {
		if err := redisotel.InstrumentTracing(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis tracing")
		}
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	validate := validator.New()
	st := store.New(pool)

	voucherSvc := &voucher.Service{
		Q:               st,
		Courses:         st,
		UOW:             voucher.NewStoreUnitOfWork(st),
		Resolver:        voucher.Resolver{Links: st},
		SelectorWorkers: cfg.SelectorWorkers,
	}
	voucherHandler := &voucher.Handler{Svc: voucherSvc, Validate: validate}

	cartStore := &cart.Store{R: redisClient, TTL: cfg.CartTTL}
	cartSvc := &cart.Service{
		Store:            cartStore,
		Vouchers:         voucherSvc,
		Courses:          st,
		Locker:           &lock.Locker{R: redisClient},
		Log:              logger,
		AutoApplyTimeout: cfg.AutoApplyTimeout,
	}
	cartHandler := &cart.Handler{Svc: cartSvc, Validate: validate}

	catalogSvc := &catalog.Service{
		Queries:      st,
		Vouchers:     voucherSvc,
		Cache:        catalog.NewCache(redisClient, cfg.CatalogCacheTTL),
		DefaultLimit: envInt("CATALOG_DEFAULT_LIMIT", 20),
		MaxLimit:     envInt("CATALOG_MAX_LIMIT", 100),
	}
	catalogHandler := &catalog.Handler{Svc: catalogSvc}

	authSvc, err := auth.NewService(auth.Config{
		Queries:        st,
		Secret:         cfg.JWTSecret,
		AccessTokenTTL: cfg.AccessTokenTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}
	asynqOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for task queue")
	}
	taskClient := asynq.NewClient(asynqOpt)
	defer func() { _ = taskClient.Close() }()

	authHandler := &auth.Handler{Svc: authSvc, Validate: validate, Tasks: taskClient}
	authMiddleware := auth.Middleware{Service: authSvc}

	applyLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:voucher"},
		Config: ratelimit.Config{
			Key:    userRateKey,
			Window: cfg.ApplyRateWindow,
			Max:    cfg.ApplyRateLimit,
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("rate limiter unavailable")
		},
	}

	limiterStore, err := limiterredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
		Prefix: "limiter:kursus",
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise limiter store")
	}
	ipLimit := limitermw.NewMiddleware(limiter.New(limiterStore, limiter.Rate{
		Period: time.Minute,
		Limit:  int64(envInt("HTTP_RATE_LIMIT_PER_MINUTE", 300)),
	}))

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(ipLimit.Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Get("/categories", catalogHandler.Categories)
		v.Get("/courses", catalogHandler.Courses)
		v.Get("/courses/{courseID}", catalogHandler.CourseDetail)
		v.Get("/courses/{courseID}/vouchers", voucherHandler.CourseVouchers)
		v.Get("/vouchers/banner", catalogHandler.Banner)

		v.Route("/auth", func(a chi.Router) {
			a.Post("/register", authHandler.Register)
			a.Post("/login", authHandler.Login)
			a.Group(func(protected chi.Router) {
				protected.Use(authMiddleware.RequireAuth)
				protected.Get("/me", authHandler.Me)
			})
		})

		v.Route("/cart", func(c chi.Router) {
			c.Use(authMiddleware.RequireAuth)
			c.Get("/", cartHandler.Get)
			c.Delete("/", cartHandler.Clear)
			c.Post("/items", cartHandler.AddItem)
			c.Patch("/items/{courseID}", cartHandler.SelectItem)
			c.Delete("/items/{courseID}", cartHandler.RemoveItem)
			c.With(applyLimit.Middleware).Post("/voucher", cartHandler.ApplyVoucher)
			c.Delete("/voucher", cartHandler.RemoveVoucher)
		})

		v.Route("/vouchers", func(m chi.Router) {
			m.Use(authMiddleware.RequireAuth)
			m.With(applyLimit.Middleware).Post("/preview", voucherHandler.Preview)
			m.With(authMiddleware.RequireRole(common.RoleAdmin)).Get("/", voucherHandler.ListAll)
			m.Group(func(manage chi.Router) {
				manage.Use(authMiddleware.RequireRole(common.RoleAdmin, common.RoleInstructor))
				manage.Post("/", voucherHandler.Create)
				manage.Get("/mine", voucherHandler.ListMine)
				manage.Route("/{voucherID}", func(child chi.Router) {
					child.Get("/", voucherHandler.Get)
					child.Patch("/", voucherHandler.Update)
					child.Delete("/", voucherHandler.Delete)
					child.Post("/toggle", voucherHandler.Toggle)
				})
			})
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
		logger.Info().Msg("server shutdown complete")
	}
}

func runMigrations(databaseURL string) error {
	sourceURL := envOrDefault("DB_MIGRATIONS_URL", "file://db/migrations")
	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

// userRateKey scopes the apply-voucher limiter per authenticated user,
// falling back to the remote address for unauthenticated requests.
func userRateKey(r *http.Request) string {
	if userID, ok := common.UserID(r.Context()); ok {
		return "user:" + userID
	}
	return "ip:" + r.RemoteAddr
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
