package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"

	"github.com/formbricks/buckets/internal/api/handlers"
	"github.com/formbricks/buckets/internal/api/middleware"
	"github.com/formbricks/buckets/internal/config"
	"github.com/formbricks/buckets/internal/googleai"
	"github.com/formbricks/buckets/internal/httpclient"
	"github.com/formbricks/buckets/internal/jobs"
	"github.com/formbricks/buckets/internal/observability"
	"github.com/formbricks/buckets/internal/openai"
	"github.com/formbricks/buckets/internal/repository"
	"github.com/formbricks/buckets/internal/service"
	"github.com/formbricks/buckets/internal/worker"
	"github.com/formbricks/buckets/internal/workers"
	"github.com/formbricks/buckets/pkg/cache"
)

// App holds all server dependencies and coordinates startup and shutdown.
type App struct {
	cfg            *config.Config
	db             *pgxpool.Pool
	server         *http.Server
	river          *river.Client[pgx.Tx]
	sweeper        *worker.UnbucketedSweeper
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	metrics        *observability.Metrics
}

var errUnsupportedEmbeddingProvider = errors.New("unsupported embedding provider")

const (
	embeddingProviderOpenAI = "openai"
	embeddingProviderGoogle = "google"
)

const riverQueueDepthInterval = 15 * time.Second

// setupMetrics creates the meter provider, the /metrics handler (prometheus only) and the metric instruments.
// When NewMeterProvider returns nil (unsupported exporter), metrics stay disabled.
func setupMetrics(cfg *config.Config) (*sdkmetric.MeterProvider, http.Handler, *observability.Metrics, error) {
	mp, handler, err := observability.NewMeterProvider(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create meter provider: %w", err)
	}

	if mp == nil {
		slog.Warn("metrics disabled: unsupported OTEL_METRICS_EXPORTER", "exporter", cfg.OtelMetricsExporter)

		return nil, nil, nil, nil
	}

	metrics, err := observability.NewMetrics(mp.Meter(observability.MeterScope))
	if err != nil {
		if err2 := observability.ShutdownMeterProvider(context.Background(), mp); err2 != nil {
			slog.Error("shutdown meter provider after metrics error", "error", err2)
		}

		return nil, nil, nil, fmt.Errorf("create metrics: %w", err)
	}

	return mp, handler, metrics, nil
}

// newEmbeddingClient builds the provider client named by EMBEDDING_PROVIDER. It returns nil when
// the provider is unset, which disables classification.
func newEmbeddingClient(cfg *config.Config, httpClient *http.Client) (service.EmbeddingClient, string, error) {
	switch cfg.EmbeddingProvider {
	case "":
		return nil, "", nil
	case embeddingProviderOpenAI:
		c := openai.NewClient(openai.Config{
			APIKey:     cfg.EmbeddingProviderAPIKey,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimensions,
			HTTPClient: httpClient,
		})

		return c, c.Model(), nil
	case embeddingProviderGoogle:
		c, err := googleai.NewClient(context.Background(), googleai.Config{
			APIKey:     cfg.EmbeddingProviderAPIKey,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimensions,
			HTTPClient: httpClient,
		})
		if err != nil {
			return nil, "", fmt.Errorf("create google embedding client: %w", err)
		}

		return c, c.Model(), nil
	default:
		return nil, "", fmt.Errorf("%w: %s", errUnsupportedEmbeddingProvider, cfg.EmbeddingProvider)
	}
}

// NewApp builds and wires all components. It does not start the HTTP server or River;
// call Run to start and block until shutdown or failure.
func NewApp(cfg *config.Config, db *pgxpool.Pool) (*App, error) {
	var (
		err            error
		meterProvider  *sdkmetric.MeterProvider
		metricsHandler http.Handler
		metrics        *observability.Metrics
	)

	if cfg.OtelMetricsExporter == "" {
		slog.Warn("metrics not enabled (OTEL_METRICS_EXPORTER empty or unset)")
	} else {
		meterProvider, metricsHandler, metrics, err = setupMetrics(cfg)
		if err != nil {
			return nil, err
		}
	}

	var (
		clusteringMetrics observability.ClusteringMetrics
		cacheMetrics      observability.CacheMetrics
		apiMetrics        observability.APIMetrics
	)

	if metrics != nil {
		clusteringMetrics = metrics.Clustering
		cacheMetrics = metrics.Cache
		apiMetrics = metrics.API
	}

	var tracerProvider *sdktrace.TracerProvider

	if cfg.OtelTracesExporter == "" {
		slog.Warn("tracing not enabled (OTEL_TRACES_EXPORTER empty or unset)")
	} else {
		tracerProvider, err = observability.NewTracerProvider(cfg)
		if err != nil {
			if err2 := observability.ShutdownMeterProvider(context.Background(), meterProvider); err2 != nil {
				slog.Error("shutdown meter provider after tracer provider error", "error", err2)
			}

			return nil, fmt.Errorf("create tracer provider: %w", err)
		}

		otel.SetTracerProvider(tracerProvider)
	}

	if meterProvider != nil {
		otel.SetMeterProvider(meterProvider)
	}

	requestsRepo := repository.NewFeatureRequestsRepository(db)
	embeddingsRepo := repository.NewEmbeddingsRepository(db)
	bucketsRepo := repository.NewBucketsRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	clusterStore := repository.NewClusterStore(db)

	bucketsService := service.NewBucketsService(bucketsRepo, activityRepo, clusterStore, slog.Default())

	retryMax := cfg.UpstreamMaxRetries
	if retryMax == 0 {
		retryMax = -1 // UPSTREAM_MAX_RETRIES=0 means no retries
	}

	upstreamHTTP := httpclient.New(httpclient.Options{
		Timeout:  cfg.UpstreamTimeout,
		RetryMax: retryMax,
	})

	app := &App{
		cfg:            cfg,
		db:             db,
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		metrics:        metrics,
	}

	var featureRequestsHandler *handlers.FeatureRequestsHandler

	embeddingClient, embeddingModel, err := newEmbeddingClient(cfg, upstreamHTTP)
	if err != nil {
		app.shutdownObservabilityQuietly("embedding client error")

		return nil, err
	}

	if embeddingClient == nil {
		slog.Warn("classification disabled (EMBEDDING_PROVIDER empty or unset)")
	} else {
		clustering, err := newClusteringService(cfg, embeddingClient, embeddingModel, upstreamHTTP, clusteringServiceDeps{
			requests:     requestsRepo,
			embeddings:   embeddingsRepo,
			buckets:      bucketsRepo,
			store:        clusterStore,
			metrics:      clusteringMetrics,
			cacheMetrics: cacheMetrics,
		})
		if err != nil {
			app.shutdownObservabilityQuietly("clustering service error")

			return nil, err
		}

		riverWorkers := river.NewWorkers()
		river.AddWorker(riverWorkers, workers.NewClassificationWorker(clustering, slog.Default()))

		app.river, err = river.NewClient(riverpgxv5.New(db), &river.Config{
			Queues: map[string]river.QueueConfig{
				jobs.ClassificationQueueName: {MaxWorkers: cfg.ClassificationMaxConcurrent},
			},
			Workers:      riverWorkers,
			ErrorHandler: &jobs.ErrorHandler{Logger: slog.Default()},
			MaxAttempts:  cfg.ClassificationMaxAttempts,
		})
		if err != nil {
			app.shutdownObservabilityQuietly("River client error")

			return nil, fmt.Errorf("create River client: %w", err)
		}

		enqueuer := jobs.NewClassificationEnqueuer(app.river, jobs.ClassificationEnqueuerConfig{
			MaxAttempts: cfg.ClassificationMaxAttempts,
			Metrics:     clusteringMetrics,
		})

		if cfg.UnbucketedSweepInterval > 0 {
			app.sweeper = worker.NewUnbucketedSweeper(
				requestsRepo, enqueuer, cfg.UnbucketedSweepInterval, jobs.DefaultBackfillBatchSize, slog.Default(),
			)
		}

		featureRequestsHandler = handlers.NewFeatureRequestsHandler(
			clustering, service.NewClassificationQueue(requestsRepo, enqueuer),
		)

		slog.Info("classification enabled",
			"provider", cfg.EmbeddingProvider,
			"model", embeddingModel,
			"similarity_threshold", cfg.SimilarityThreshold,
		)
	}

	app.server = newHTTPServer(cfg, serverHandlers{
		health:          handlers.NewHealthHandler(db),
		featureRequests: featureRequestsHandler,
		buckets:         handlers.NewBucketsHandler(bucketsService),
		metrics:         metricsHandler,
	}, apiMetrics, meterProvider, tracerProvider)

	return app, nil
}

type clusteringServiceDeps struct {
	requests     *repository.FeatureRequestsRepository
	embeddings   *repository.EmbeddingsRepository
	buckets      *repository.BucketsRepository
	store        *repository.ClusterStore
	metrics      observability.ClusteringMetrics
	cacheMetrics observability.CacheMetrics
}

// newClusteringService wires the embedding generator (rate limited, cached), the optional labeler
// and the resolver into a ClusteringService.
func newClusteringService(
	cfg *config.Config,
	client service.EmbeddingClient,
	model string,
	upstreamHTTP *http.Client,
	deps clusteringServiceDeps,
) (*service.ClusteringService, error) {
	vectorCache, err := cache.NewLoaderCache[string, []float32](cfg.EmbeddingCacheSize, func(k string) string { return k })
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	generator := service.NewEmbeddingGenerator(service.EmbeddingGeneratorParams{
		Client:       client,
		Model:        model,
		Dimensions:   cfg.EmbeddingDimensions,
		Limiter:      rate.NewLimiter(rate.Limit(cfg.EmbeddingRateLimit), 1),
		Cache:        vectorCache,
		CacheMetrics: deps.cacheMetrics,
		Logger:       slog.Default(),
	})

	var labeler service.LabelingClient

	if cfg.LabelingAPIKey != "" {
		labeler = openai.NewLabeler(openai.Config{
			APIKey:     cfg.LabelingAPIKey,
			Model:      cfg.LabelingModel,
			HTTPClient: upstreamHTTP,
		})
	} else {
		slog.Warn("bucket labeling disabled (no LABELING_API_KEY or OPENAI_API_KEY); titles come from request text")
	}

	return service.NewClusteringService(service.ClusteringServiceParams{
		Requests:   deps.requests,
		Embeddings: deps.embeddings,
		Embedder:   generator,
		Labeler:    labeler,
		Resolver:   service.NewResolver(deps.buckets, cfg.SimilarityThreshold, deps.metrics, slog.Default()),
		Store:      deps.store,
		Metrics:    deps.metrics,
		Logger:     slog.Default(),
	}), nil
}

type serverHandlers struct {
	health          *handlers.HealthHandler
	featureRequests *handlers.FeatureRequestsHandler
	buckets         *handlers.BucketsHandler
	metrics         http.Handler
}

// newHTTPServer builds the HTTP server and muxes (no auth on /health and /metrics, API key on /v1/).
// Handler chain: RequestID -> otelhttp(Logging(Metrics(MaxBody(mux)))) so access logs get trace_id/span_id.
func newHTTPServer(
	cfg *config.Config,
	h serverHandlers,
	apiMetrics observability.APIMetrics,
	meterProvider *sdkmetric.MeterProvider,
	tracerProvider *sdktrace.TracerProvider,
) *http.Server {
	public := http.NewServeMux()
	public.HandleFunc("GET /health", h.health.Check)

	if h.metrics != nil {
		public.Handle("GET /metrics", h.metrics)
	}

	protected := http.NewServeMux()

	// Feature request routes are absent when no embedding provider is configured.
	if h.featureRequests != nil {
		protected.HandleFunc("POST /v1/feature-requests/{id}/process-embedding", h.featureRequests.ProcessEmbedding)
		protected.HandleFunc("POST /v1/feature-requests/{id}/process-embedding/async", h.featureRequests.ProcessEmbeddingAsync)
	}

	protected.HandleFunc("GET /v1/feature-buckets", h.buckets.List)
	protected.HandleFunc("POST /v1/feature-buckets", middleware.RequireAdmin(h.buckets.Create))
	protected.HandleFunc("GET /v1/feature-buckets/{id}", h.buckets.Get)
	protected.HandleFunc("PATCH /v1/feature-buckets/{id}", middleware.RequireAdmin(h.buckets.Update))
	protected.HandleFunc("DELETE /v1/feature-buckets/{id}", middleware.RequireAdmin(h.buckets.Delete))

	var protectedHandler http.Handler = protected
	protectedHandler = middleware.Identity(cfg.AdminAPIKey)(protectedHandler)
	protectedHandler = middleware.Auth(cfg.APIKey)(protectedHandler)

	mux := http.NewServeMux()
	mux.Handle("/v1/", protectedHandler)
	mux.Handle("/", public)

	otelOpts := []otelhttp.Option{
		// Skip tracing and HTTP metrics for health checks and scrapes.
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/metrics"
		}),
	}
	if meterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(meterProvider))
	}

	if tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(tracerProvider))
	}

	var inner http.Handler = mux
	inner = middleware.MaxBody(cfg.MaxRequestBodyBytes, apiMetrics)(inner)
	inner = middleware.Metrics(apiMetrics)(inner)

	// Logging runs inside otelhttp so r.Context() has the span when we log.
	inner = middleware.Logging(inner)
	handler := otelhttp.NewHandler(inner, "buckets-api", otelOpts...)
	handler = middleware.RequestID(handler)

	const (
		readTimeout = 15 * time.Second
		// Inline classification waits on the embedding and labeling providers.
		writeTimeout = 90 * time.Second
		idleTimeout  = 60 * time.Second
	)

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

// Run starts the HTTP server, River and the unbucketed sweeper, then blocks until ctx is cancelled
// (e.g. signal) or a component fails. Background loops stop before Run returns. Caller should then call Shutdown.
func (a *App) Run(ctx context.Context) error {
	runErr := make(chan error, 1)

	bgCtx, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()

	if a.river != nil {
		if a.metrics != nil {
			go runRiverQueueDepthPoller(bgCtx, a.db, a.metrics.Clustering)
		}

		go func() {
			if err := a.river.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				select {
				case runErr <- fmt.Errorf("river: %w", err):
				default:
				}
			}
		}()
	}

	if a.sweeper != nil {
		go a.sweeper.Start(bgCtx)
	}

	go func() {
		slog.Info("Starting server", "port", a.cfg.Port)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case runErr <- fmt.Errorf("server: %w", err):
			default:
			}
		}
	}()

	select {
	case err := <-runErr:
		cancelBackground()

		return err
	case <-ctx.Done():
		cancelBackground()

		return nil
	}
}

// runRiverQueueDepthPoller periodically updates the classification queue depth gauge.
func runRiverQueueDepthPoller(ctx context.Context, db *pgxpool.Pool, metrics observability.ClusteringMetrics) {
	ticker := time.NewTicker(riverQueueDepthInterval)
	defer ticker.Stop()

	update := func() {
		var count int

		err := db.QueryRow(ctx,
			`SELECT COUNT(*) FROM river_job WHERE queue = $1 AND state IN ($2, $3, $4)`,
			jobs.ClassificationQueueName,
			rivertype.JobStateAvailable, rivertype.JobStateRetryable, rivertype.JobStateScheduled,
		).Scan(&count)
		if err != nil {
			slog.WarnContext(ctx, "river queue depth poll failed", "error", err)

			return
		}

		metrics.SetRiverQueueDepth(count)
	}

	update()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

// shutdownObservability shuts down tracer and meter providers. Logs secondary errors, returns the first.
func shutdownObservability(ctx context.Context, tracer *sdktrace.TracerProvider, meter *sdkmetric.MeterProvider) error {
	var first error

	if err := observability.ShutdownTracerProvider(ctx, tracer); err != nil {
		first = err
	}

	if err := observability.ShutdownMeterProvider(ctx, meter); err != nil {
		if first == nil {
			first = err
		} else {
			slog.Error("shutdown meter provider", "error", err)
		}
	}

	return first
}

// shutdownObservabilityQuietly is used when NewApp fails after the providers were created.
func (a *App) shutdownObservabilityQuietly(cause string) {
	if err := shutdownObservability(context.Background(), a.tracerProvider, a.meterProvider); err != nil {
		slog.Error("shutdown observability after "+cause, "error", err)
	}
}

// Shutdown stops the server and River in order. Call after Run returns.
// Observability is shut down once via defer; its error is returned only when server and River shut down successfully.
func (a *App) Shutdown(ctx context.Context) (err error) {
	defer func() {
		obsErr := shutdownObservability(ctx, a.tracerProvider, a.meterProvider)
		if err == nil {
			err = obsErr
		} else if obsErr != nil {
			slog.Error("shutdown observability", "error", obsErr)
		}
	}()

	if err = a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.stopRiver(ctx)

		return fmt.Errorf("server shutdown: %w", err)
	}

	if a.river == nil {
		return nil
	}

	// River waits for in-flight classifications to finish.
	if err = a.river.Stop(ctx); err != nil {
		return fmt.Errorf("river stop: %w", err)
	}

	return nil
}

func (a *App) stopRiver(ctx context.Context) {
	if a.river == nil {
		return
	}

	if err := a.river.Stop(ctx); err != nil {
		slog.Error("river stop during server shutdown", "error", err)
	}
}
