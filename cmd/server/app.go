package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"memberpass/internal/card/cache"
	"memberpass/internal/card/handler"
	"memberpass/internal/card/hasher"
	"memberpass/internal/card/invalidator"
	cardmetrics "memberpass/internal/card/metrics"
	"memberpass/internal/card/ports"
	"memberpass/internal/card/render"
	"memberpass/internal/card/service"
	"memberpass/internal/card/service/issuer"
	"memberpass/internal/card/service/verifier"
	cardstore "memberpass/internal/card/store/card"
	memberstore "memberpass/internal/card/store/member"
	"memberpass/internal/card/store/mutation"
	"memberpass/internal/card/store/revocation"
	"memberpass/internal/card/warmer"
	jwttoken "memberpass/internal/jwt_token"
	"memberpass/internal/platform/config"
	"memberpass/internal/platform/kafka"
	"memberpass/internal/platform/kafka/consumer"
	httpmetrics "memberpass/internal/platform/metrics"
	"memberpass/internal/platform/postgres"
	redisclient "memberpass/internal/platform/redis"
	ratelimitmw "memberpass/internal/ratelimit/middleware"
	"memberpass/internal/ratelimit/store/bucket"
	id "memberpass/pkg/domain"
	audit "memberpass/pkg/platform/audit"
	"memberpass/pkg/platform/audit/publisher"
	auditmemory "memberpass/pkg/platform/audit/store/memory"
	auditpostgres "memberpass/pkg/platform/audit/store/postgres"
	"memberpass/pkg/platform/circuit"
	"memberpass/pkg/platform/httputil"
	authmw "memberpass/pkg/platform/middleware/auth"
	"memberpass/pkg/platform/middleware/metadata"
	request "memberpass/pkg/platform/middleware/request"
	"memberpass/pkg/platform/middleware/requesttime"
	"memberpass/pkg/platform/tx"
)

const (
	devTokenTTL = 24 * time.Hour
	auditBuffer = 1024
)

type memberSource interface {
	ports.MemberLookup
	ports.MemberLister
}

type revocationStore interface {
	service.Revoker
	ports.RevocationChecker
}

type app struct {
	router       http.Handler
	warmer       *warmer.Warmer
	invalidators []*invalidator.Worker
	closers      []func() error
}

func (a *app) close() error {
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, a.closers[i]())
	}
	return errs
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.close())
		}
	}()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if db != nil {
		a.closers = append(a.closers, db.Close)
		if cfg.Database.Migrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				return nil, err
			}
		}
	}
	rdb, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		a.closers = append(a.closers, rdb.Close)
	}

	reg := prometheus.DefaultRegisterer
	metrics := cardmetrics.New(reg)

	var (
		members   memberSource
		cards     ports.CardStore
		sources   = map[string]ports.MutationSource{}
		devMember *memberstore.InMemoryStore
	)
	if db != nil {
		breaker := circuit.New("members",
			circuit.WithFailureThreshold(cfg.Engine.CircuitFailures),
			circuit.WithCooldown(cfg.Engine.CircuitCooldown),
		)
		members = memberstore.NewGuarded(memberstore.NewPostgres(db), breaker,
			memberstore.WithGuardLogger(log),
			memberstore.WithGuardMetrics(metrics),
		)
		cards = cardstore.NewPostgres(db)
	} else {
		devMember = memberstore.NewInMemoryStore()
		seedDevMembers(devMember)
		members = devMember
		cards = cardstore.NewInMemoryStore()
		sources["memory"] = devMember
		log.Warn("no database configured, using in-memory stores with seed members")
	}

	var revocations revocationStore
	switch {
	case rdb != nil:
		revocations = revocation.NewRedis(rdb.Client)
	case db != nil:
		revocations = revocation.NewPostgres(db)
	default:
		revocations = revocation.NewInMemoryStore()
	}

	if rdb != nil && cfg.Redis.MutationChannel != "" {
		src, err := mutation.NewRedisSource(rdb.Client, cfg.Redis.MutationChannel, mutation.WithRedisLogger(log))
		if err != nil {
			return nil, err
		}
		sources["redis"] = src
	}
	if len(cfg.Kafka.Brokers) > 0 {
		if err := kafka.EnsureTopic(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions); err != nil {
			return nil, err
		}
		src, err := mutation.NewKafkaSource(consumer.Config{
			Brokers: cfg.Kafka.Brokers,
			Group:   cfg.Kafka.Group,
			Topics:  []string{cfg.Kafka.Topic},
		}, mutation.WithKafkaLogger(log))
		if err != nil {
			return nil, err
		}
		sources["kafka"] = src
	}

	secret := cfg.Engine.Secret
	if secret == "" {
		secret = randomHex()
		log.Warn("no engine secret configured, cards issued by this process will not verify after restart")
	}
	h, err := hasher.New(secret)
	if err != nil {
		return nil, err
	}

	memberCache, err := cache.New(members,
		cache.WithTTL(cfg.Engine.CacheTTL),
		cache.WithMaxEntries(cfg.Engine.MaxEntries),
		cache.WithLookupTimeout(cfg.Engine.LookupTimeout),
		cache.WithWarmPacing(cfg.Warm.Concurrency, cfg.Warm.RatePerSecond),
		cache.WithLogger(log),
		cache.WithMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}

	iss, err := issuer.New(members, h,
		issuer.WithLogger(log),
		issuer.WithMetrics(metrics),
		issuer.WithBulkConcurrency(cfg.Engine.BulkConcurrency),
		issuer.WithLookupTimeout(cfg.Engine.LookupTimeout),
	)
	if err != nil {
		return nil, err
	}
	ver, err := verifier.New(memberCache, h,
		verifier.WithLogger(log),
		verifier.WithMetrics(metrics),
		verifier.WithRevocationChecker(revocations),
	)
	if err != nil {
		return nil, err
	}
	qr, err := render.NewQRRenderer()
	if err != nil {
		return nil, err
	}

	var auditStore audit.Store = auditmemory.NewInMemoryStore()
	if db != nil {
		auditStore = auditpostgres.New(db)
	}
	// Revocations audit inline so the event shares their transaction; cache
	// operations queue theirs.
	cardAudit := publisher.NewPublisher(auditStore, publisher.WithLogger(log))
	opsAudit := publisher.NewPublisher(auditStore, publisher.WithAsyncBuffer(auditBuffer), publisher.WithLogger(log))
	a.closers = append(a.closers, opsAudit.Close)

	svcOpts := []service.Option{
		service.WithLogger(log),
		service.WithRenderer(qr),
		service.WithRevoker(revocations),
		service.WithAuditor(cardAudit),
	}
	if db != nil {
		svcOpts = append(svcOpts, service.WithTx(tx.NewRunner(db, 0)))
	}
	svc, err := service.New(iss, cards, svcOpts...)
	if err != nil {
		return nil, err
	}

	a.warmer, err = warmer.New(members, memberCache,
		warmer.WithSchedule(cfg.Warm.Schedule),
		warmer.WithLimit(cfg.Warm.Limit),
		warmer.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	for name, src := range sources {
		w, err := invalidator.New(src, memberCache, invalidator.WithLogger(log), invalidator.WithName(name))
		if err != nil {
			return nil, err
		}
		a.invalidators = append(a.invalidators, w)
	}

	validator, err := adminValidator(cfg, log)
	if err != nil {
		return nil, err
	}

	cardHandler := handler.New(svc, ver, memberCache, log,
		handler.WithDefaultTemplate(id.TemplateID(cfg.Engine.DefaultTemplate)),
		handler.WithWarmer(a.warmer),
		handler.WithAuditLog(opsAudit),
	)

	var buckets ratelimitmw.BucketStore = bucket.NewInMemoryBucketStore()
	if rdb != nil {
		buckets = bucket.NewRedisBucketStore(rdb.Client)
	}
	limiter := ratelimitmw.New(buckets,
		ratelimitmw.WithLogger(log),
		ratelimitmw.WithDisabled(!cfg.RateLimit.Enabled),
	)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.Recoverer(log))
	r.Use(request.Logger(log))
	r.Use(httpmetrics.New(reg).Middleware)

	r.Get("/healthz", healthHandler(db, rdb))
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		r.Use(limiter.RateLimit("verify", cfg.RateLimit.VerifyPerMinute, time.Minute))
		cardHandler.RegisterPublic(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAdmin(validator, log))
		cardHandler.RegisterAdmin(r)
	})
	a.router = r
	return a, nil
}

// adminValidator builds the admin token validator. In dev without a key it
// generates one and logs a ready-made token.
func adminValidator(cfg *config.Config, log *slog.Logger) (*jwttoken.JWTServiceAdapter, error) {
	key := cfg.Server.AdminJWTKey
	if key == "" {
		key = randomHex()
		svc := jwttoken.NewJWTService(key, cfg.Server.AdminJWTIssuer)
		token, err := svc.GenerateToken("dev-admin", authmw.RoleAdmin, devTokenTTL)
		if err != nil {
			return nil, fmt.Errorf("mint dev admin token: %w", err)
		}
		log.Warn("no admin jwt key configured, generated a development token", "token", token)
		return jwttoken.NewJWTServiceAdapter(svc), nil
	}
	return jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(key, cfg.Server.AdminJWTIssuer)), nil
}

func healthHandler(db *sql.DB, rdb *redisclient.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := map[string]string{"status": "ok"}
		code := http.StatusOK
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				status["postgres"] = "unavailable"
				code = http.StatusServiceUnavailable
			}
		}
		if rdb != nil {
			if err := rdb.Health(ctx); err != nil {
				status["redis"] = "unavailable"
				code = http.StatusServiceUnavailable
			}
		}
		if code != http.StatusOK {
			status["status"] = "degraded"
		}
		httputil.WriteJSON(w, code, status)
	}
}

func randomHex() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
