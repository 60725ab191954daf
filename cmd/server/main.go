// Command server starts the Tarpaulin course management API.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tarpaulin/internal/api"
	"tarpaulin/internal/auth"
	"tarpaulin/internal/blob"
	"tarpaulin/internal/idp"
	"tarpaulin/internal/observability/logging"
	"tarpaulin/internal/server"
	"tarpaulin/internal/serverutil"
	"tarpaulin/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	storageDriver := flag.String("storage-driver", "", "datastore driver (memory or postgres)")
	dataPath := flag.String("data", "", "path to JSON datastore for the memory driver")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	idpDomain := flag.String("idp-domain", "", "identity provider domain (e.g. tenant.auth0.com)")
	idpClientID := flag.String("idp-client-id", "", "identity provider client id, also the expected token audience")
	idpClientSecret := flag.String("idp-client-secret", "", "identity provider client secret for the password grant")
	objectEndpoint := flag.String("object-endpoint", "", "object storage endpoint (e.g. 127.0.0.1:9000)")
	objectRegion := flag.String("object-region", "", "object storage region")
	objectAccessKey := flag.String("object-access-key", "", "object storage access key")
	objectSecretKey := flag.String("object-secret-key", "", "object storage secret key")
	objectBucket := flag.String("object-bucket", "", "object storage bucket for avatars")
	objectPrefix := flag.String("object-prefix", "", "object storage key prefix")
	objectUseSSL := flag.Bool("object-use-ssl", false, "enable TLS for object storage requests")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum login attempts per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting login attempts")
	redisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed login throttling")
	redisPassword := flag.String("rate-redis-password", "", "Redis password for distributed login throttling")
	redisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis operations")
	corsOrigins := flag.String("cors-origins", "", "comma separated origins allowed to call the API")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	shutdownTimeout := flag.Duration("shutdown-timeout", 0, "graceful shutdown timeout")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("TARPAULIN_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("TARPAULIN_LOG_FORMAT")),
	})

	serverMode := modeValue(*mode, os.Getenv("TARPAULIN_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("TARPAULIN_ADDR"))

	idpCfg := idp.Config{
		Domain:       firstNonEmpty(*idpDomain, os.Getenv("TARPAULIN_IDP_DOMAIN")),
		ClientID:     firstNonEmpty(*idpClientID, os.Getenv("TARPAULIN_IDP_CLIENT_ID")),
		ClientSecret: firstNonEmpty(*idpClientSecret, os.Getenv("TARPAULIN_IDP_CLIENT_SECRET")),
	}
	idpClient, err := idp.NewClient(idpCfg)
	if err != nil {
		logger.Error("failed to configure identity provider", "error", err)
		os.Exit(1)
	}

	store, err := openStore(*storageDriver, *dataPath, *postgresDSN, storePoolOptions{
		maxConns:        resolveInt(*postgresMaxConns, "TARPAULIN_POSTGRES_MAX_CONNS"),
		minConns:        resolveInt(*postgresMinConns, "TARPAULIN_POSTGRES_MIN_CONNS"),
		maxConnLifetime: resolveDuration(*postgresMaxConnLifetime, "TARPAULIN_POSTGRES_MAX_CONN_LIFETIME", 0),
		maxConnIdle:     resolveDuration(*postgresMaxConnIdle, "TARPAULIN_POSTGRES_MAX_CONN_IDLE", 0),
		healthInterval:  resolveDuration(*postgresHealthInterval, "TARPAULIN_POSTGRES_HEALTH_INTERVAL", 0),
		acquireTimeout:  resolveDuration(*postgresAcquireTimeout, "TARPAULIN_POSTGRES_ACQUIRE_TIMEOUT", 0),
		appName:         firstNonEmpty(*postgresAppName, os.Getenv("TARPAULIN_POSTGRES_APP_NAME")),
	}, serverMode)
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	blobCfg := blob.Config{
		Endpoint:  firstNonEmpty(*objectEndpoint, os.Getenv("TARPAULIN_OBJECT_ENDPOINT")),
		Region:    firstNonEmpty(*objectRegion, os.Getenv("TARPAULIN_OBJECT_REGION")),
		AccessKey: firstNonEmpty(*objectAccessKey, os.Getenv("TARPAULIN_OBJECT_ACCESS_KEY")),
		SecretKey: firstNonEmpty(*objectSecretKey, os.Getenv("TARPAULIN_OBJECT_SECRET_KEY")),
		Bucket:    firstNonEmpty(*objectBucket, os.Getenv("TARPAULIN_OBJECT_BUCKET")),
		Prefix:    firstNonEmpty(*objectPrefix, os.Getenv("TARPAULIN_OBJECT_PREFIX")),
		UseSSL:    resolveBool(*objectUseSSL, "TARPAULIN_OBJECT_USE_SSL"),
	}
	var blobStore blob.Store
	if blobCfg.Enabled() {
		minioStore, err := blob.NewMinioStore(blobCfg)
		if err != nil {
			logger.Error("failed to configure object storage", "error", err)
			os.Exit(1)
		}
		blobStore = minioStore
	} else {
		logger.Warn("object storage not configured, avatars held in memory only")
		blobStore = blob.NewMemoryStore()
	}

	verifier := auth.NewVerifier(idpClient, idpCfg.Issuer(), idpCfg.ClientID)
	guard := auth.NewGuard(verifier, store)
	handler := api.NewHandler(store, blobStore, guard, idpClient, logging.WithComponent(logger, "api"))

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("TARPAULIN_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("TARPAULIN_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "TARPAULIN_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "TARPAULIN_RATE_GLOBAL_BURST"),
			LoginLimit:    resolveInt(*loginLimit, "TARPAULIN_RATE_LOGIN_LIMIT"),
			LoginWindow:   resolveDuration(*loginWindow, "TARPAULIN_RATE_LOGIN_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*redisAddr, os.Getenv("TARPAULIN_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*redisPassword, os.Getenv("TARPAULIN_RATE_REDIS_PASSWORD")),
			RedisTimeout:  resolveDuration(*redisTimeout, "TARPAULIN_RATE_REDIS_TIMEOUT", 2*time.Second),
		},
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("TARPAULIN_CORS_ORIGINS"))),
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Tarpaulin API listening", "addr", listenAddr, "mode", serverMode)
	runErr := serverutil.Run(ctx, srv, resolveDuration(*shutdownTimeout, "TARPAULIN_SHUTDOWN_TIMEOUT", serverutil.DefaultShutdownTimeout))

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Close(closeCtx); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}

	if runErr != nil {
		logger.Error("server error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

type storePoolOptions struct {
	maxConns        int
	minConns        int
	maxConnLifetime time.Duration
	maxConnIdle     time.Duration
	healthInterval  time.Duration
	acquireTimeout  time.Duration
	appName         string
}

func openStore(flagDriver, flagDataPath, flagDSN string, pool storePoolOptions, mode string) (storage.Repository, error) {
	dsn := strings.TrimSpace(firstNonEmpty(flagDSN, os.Getenv("TARPAULIN_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
	driver := resolveStorageDriver(flagDriver, os.Getenv("TARPAULIN_STORAGE_DRIVER"), dsn)

	switch driver {
	case "postgres":
		if dsn == "" {
			return nil, errMissingDSN
		}
		var opts []storage.Option
		if pool.maxConns > 0 || pool.minConns > 0 {
			opts = append(opts, storage.WithPostgresPoolLimits(int32(pool.maxConns), int32(pool.minConns)))
		}
		if pool.maxConnLifetime > 0 || pool.maxConnIdle > 0 {
			opts = append(opts, storage.WithPostgresConnLifetimes(pool.maxConnLifetime, pool.maxConnIdle))
		}
		if pool.healthInterval > 0 {
			opts = append(opts, storage.WithPostgresHealthInterval(pool.healthInterval))
		}
		if pool.acquireTimeout > 0 {
			opts = append(opts, storage.WithPostgresAcquireTimeout(pool.acquireTimeout))
		}
		if pool.appName != "" {
			opts = append(opts, storage.WithPostgresAppName(pool.appName))
		}
		return storage.NewPostgresRepository(dsn, opts...)
	case "memory":
		if mode == "production" {
			return nil, errMemoryInProduction
		}
		path := strings.TrimSpace(firstNonEmpty(flagDataPath, os.Getenv("TARPAULIN_DATA")))
		return storage.NewMemoryRepository(path)
	default:
		return nil, errUnknownDriver(driver)
	}
}

func resolveStorageDriver(flagValue, envValue, dsn string) string {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver
	}
	if dsn != "" {
		return "postgres"
	}
	return "memory"
}

type configError string

func (e configError) Error() string { return string(e) }

const (
	errMissingDSN         = configError("postgres storage selected without DSN")
	errMemoryInProduction = configError("production mode requires the postgres datastore driver")
)

func errUnknownDriver(driver string) error {
	return configError("unsupported storage driver " + strconv.Quote(driver))
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		if mode == "production" {
			return ":80"
		}
		return ":8080"
	}
	return listenAddr
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
