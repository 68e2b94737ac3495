package di

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/creatuluw/exploring.fyi-sub000/application/commands"
	"github.com/creatuluw/exploring.fyi-sub000/application/commands/bus"
	commands_handlers "github.com/creatuluw/exploring.fyi-sub000/application/commands/handlers"
	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	"github.com/creatuluw/exploring.fyi-sub000/application/queries"
	querybus "github.com/creatuluw/exploring.fyi-sub000/application/queries/bus"
	queries_handlers "github.com/creatuluw/exploring.fyi-sub000/application/queries/handlers"
	"github.com/creatuluw/exploring.fyi-sub000/application/services"
	domaincfg "github.com/creatuluw/exploring.fyi-sub000/domain/config"
	"github.com/creatuluw/exploring.fyi-sub000/infrastructure/cache"
	"github.com/creatuluw/exploring.fyi-sub000/infrastructure/config"
	"github.com/creatuluw/exploring.fyi-sub000/infrastructure/generation"
	"github.com/creatuluw/exploring.fyi-sub000/infrastructure/messaging"
	"github.com/creatuluw/exploring.fyi-sub000/infrastructure/messaging/eventbridge"
	"github.com/creatuluw/exploring.fyi-sub000/infrastructure/persistence/abstractions"
	"github.com/creatuluw/exploring.fyi-sub000/infrastructure/persistence/dynamodb"
	"github.com/creatuluw/exploring.fyi-sub000/infrastructure/persistence/supabase"
	"github.com/creatuluw/exploring.fyi-sub000/infrastructure/push"
	"github.com/creatuluw/exploring.fyi-sub000/interfaces/http/rest"
	"github.com/creatuluw/exploring.fyi-sub000/interfaces/http/rest/handlers"
	"github.com/creatuluw/exploring.fyi-sub000/interfaces/http/rest/middleware"
	v1 "github.com/creatuluw/exploring.fyi-sub000/interfaces/http/rest/v1"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
	"github.com/creatuluw/exploring.fyi-sub000/pkg/extensions"
	"github.com/creatuluw/exploring.fyi-sub000/pkg/observability"
	"github.com/creatuluw/exploring.fyi-sub000/pkg/ratelimit"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	supa "github.com/supabase-community/supabase-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// queryCacheTTLSeconds bounds how stale a cached read view may be.
const queryCacheTTLSeconds = 5

// ProvideLogger creates the zap logger for the configured environment
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Environment == "production" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	if cfg.LogLevel != "" {
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}

	return zapCfg.Build()
}

// ProvideAWSConfig loads the AWS SDK configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideCloudWatchClient creates a CloudWatch client, or nil when
// metrics are disabled so nothing is pushed.
func ProvideCloudWatchClient(awsCfg aws.Config, cfg *config.Config) *awscloudwatch.Client {
	if !cfg.EnableMetrics {
		return nil
	}
	return awscloudwatch.NewFromConfig(awsCfg)
}

// ProvideMetrics creates the metrics registry
func ProvideMetrics(client *awscloudwatch.Client, cfg *config.Config) *observability.Metrics {
	return observability.NewMetrics(fmt.Sprintf("ExploringFyi/%s", cfg.Environment), client)
}

// ProvideTracer creates the X-Ray tracer
func ProvideTracer(cfg *config.Config) *observability.Tracer {
	return observability.NewTracer("exploring-fyi", cfg.EnableTracing)
}

// ProvideDomainConfig creates the domain limits and layout constants
func ProvideDomainConfig() *domaincfg.DomainConfig {
	return domaincfg.DefaultDomainConfig()
}

// ProvideSupabaseClient creates the PostgREST client when Supabase is
// configured. A nil client routes persistence to DynamoDB instead.
func ProvideSupabaseClient(cfg *config.Config, logger *zap.Logger) (*supa.Client, error) {
	if cfg.SupabaseURL == "" {
		return nil, nil
	}
	client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	logger.Info("persistence backed by supabase")
	return client, nil
}

// ProvideTopicRepository creates a topic repository
func ProvideTopicRepository(
	client *awsdynamodb.Client,
	supaClient *supa.Client,
	metrics *observability.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) ports.TopicRepository {
	var repo ports.TopicRepository
	if supaClient != nil {
		repo = supabase.NewTopicStore(supaClient, logger)
	} else {
		repo = dynamodb.NewTopicRepository(client, cfg.DynamoDBTable, cfg.IndexName, logger)
	}
	if cfg.EnableMetrics {
		repo = abstractions.NewInstrumentedTopicRepository(repo, metrics)
	}
	return repo
}

// ProvideMindMapRepository creates a mind map repository
func ProvideMindMapRepository(
	client *awsdynamodb.Client,
	supaClient *supa.Client,
	metrics *observability.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) ports.MindMapRepository {
	var repo ports.MindMapRepository
	if supaClient != nil {
		repo = supabase.NewMindMapStore(supaClient, logger)
	} else {
		repo = dynamodb.NewMindMapRepository(client, cfg.DynamoDBTable, cfg.IndexName, logger)
	}
	if cfg.EnableMetrics {
		repo = abstractions.NewInstrumentedMindMapRepository(repo, metrics)
	}
	return repo
}

// ProvideContentRepository creates a content repository
func ProvideContentRepository(
	client *awsdynamodb.Client,
	supaClient *supa.Client,
	cfg *config.Config,
	logger *zap.Logger,
) ports.ContentRepository {
	if supaClient != nil {
		return supabase.NewContentStore(supaClient, logger)
	}
	return dynamodb.NewContentRepository(client, cfg.DynamoDBTable, logger)
}

// ProvideCheckRepository creates a check repository
func ProvideCheckRepository(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) ports.CheckRepository {
	return dynamodb.NewCheckRepository(client, cfg.DynamoDBTable, logger)
}

// ProvideConnectionRegistry creates the WebSocket connection registry
func ProvideConnectionRegistry(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) ports.ConnectionRegistry {
	return dynamodb.NewConnectionRegistry(client, cfg.ConnectionsTable, cfg.IndexName, logger)
}

// ProvideGenerationLock creates the per-topic generation lock
func ProvideGenerationLock(
	client *awsdynamodb.Client,
	domainCfg *domaincfg.DomainConfig,
	cfg *config.Config,
	logger *zap.Logger,
) ports.GenerationLock {
	return dynamodb.NewGenerationLock(client, cfg.DynamoDBTable, domainCfg.LockTTL, domainCfg.LockRetryInterval, logger)
}

// ProvideOutboxStore creates the transactional outbox store
func ProvideOutboxStore(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) ports.OutboxStore {
	return dynamodb.NewOutboxStore(client, cfg.DynamoDBTable, logger)
}

// ProvideEventPublisher creates the EventBridge publisher
func ProvideEventPublisher(client *awseventbridge.Client, cfg *config.Config, logger *zap.Logger) *eventbridge.Publisher {
	return eventbridge.NewPublisher(client, cfg.EventBusName, logger)
}

// ProvideOutboxRelay creates the relay that drains the outbox into EventBridge
func ProvideOutboxRelay(store ports.OutboxStore, publisher *eventbridge.Publisher, logger *zap.Logger) *messaging.OutboxRelay {
	return messaging.NewOutboxRelay(store, publisher, logger)
}

// ProvideContentCache creates the LRU cache for sealed graphs
func ProvideContentCache(cfg *config.Config, logger *zap.Logger) ports.ContentCache {
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	return cache.NewLRUContentCache(cfg.CacheCapacity, ttl, logger)
}

// ProvideFrameSource selects the generation backend. A configured base
// URL picks the streaming HTTP service, otherwise frames come from an
// OpenAI chat stream.
func ProvideFrameSource(cfg *config.Config, logger *zap.Logger) ports.FrameSource {
	if cfg.GenerationBaseURL != "" {
		return generation.NewHTTPSource(generation.HTTPSourceConfig{
			BaseURL:             cfg.GenerationBaseURL,
			APIKey:              cfg.GenerationAPIKey,
			Timeout:             time.Duration(cfg.GenerationTimeout) * time.Second,
			BreakerMaxFailures:  cfg.BreakerMaxFailures,
			BreakerOpenInterval: time.Duration(cfg.BreakerOpenInterval) * time.Second,
		}, logger)
	}
	client := generation.NewOpenAIClient(cfg.GenerationAPIKey, "")
	return generation.NewOpenAISource(client, cfg.GenerationModel, nil, logger)
}

// ProvideManagementClient creates the API Gateway management client,
// or nil when no WebSocket endpoint is configured.
func ProvideManagementClient(awsCfg aws.Config, cfg *config.Config) *apigatewaymanagementapi.Client {
	if cfg.WebSocketEndpoint == "" {
		return nil
	}
	return push.NewManagementClient(awsCfg, cfg.WebSocketEndpoint)
}

// ProvideProgressNotifier creates the WebSocket progress notifier
func ProvideProgressNotifier(
	client *apigatewaymanagementapi.Client,
	connections ports.ConnectionRegistry,
	logger *zap.Logger,
) ports.ProgressNotifier {
	if client == nil {
		return nil
	}
	return push.NewWebSocketNotifier(client, connections, logger)
}

// ProvideHookRegistry creates the progress hook registry. Hooks are
// registered only when their backing service is configured.
func ProvideHookRegistry(
	notifier ports.ProgressNotifier,
	metrics *observability.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) *extensions.HookRegistry {
	registry := extensions.NewHookRegistry(logger)
	if notifier != nil {
		registry.Register(extensions.NewNotifierHook(notifier))
	}
	if cfg.EnableMetrics {
		registry.Register(extensions.NewMetricsHook(metrics))
	}
	return registry
}

// ProvideQueryCache creates the in-memory cache backing the query bus
func ProvideQueryCache() ports.Cache {
	return NewInMemoryCache()
}

// ProvideSynchronizer creates the topic and map synchronizer
func ProvideSynchronizer(
	topics ports.TopicRepository,
	maps ports.MindMapRepository,
	domainCfg *domaincfg.DomainConfig,
	logger *zap.Logger,
) *services.Synchronizer {
	return services.NewSynchronizer(topics, maps, domainCfg, logger)
}

// ProvidePipeline creates the frame ingestion pipeline
func ProvidePipeline(sync *services.Synchronizer, domainCfg *domaincfg.DomainConfig, logger *zap.Logger) *services.Pipeline {
	return services.NewPipeline(sync, nil, domainCfg, logger)
}

// ProvideGenerateMindMapOrchestrator creates the generation orchestrator
func ProvideGenerateMindMapOrchestrator(
	synchronizer *services.Synchronizer,
	pipeline *services.Pipeline,
	backend ports.FrameSource,
	contentCache ports.ContentCache,
	maps ports.MindMapRepository,
	content ports.ContentRepository,
	lock ports.GenerationLock,
	outbox ports.OutboxStore,
	domainCfg *domaincfg.DomainConfig,
	logger *zap.Logger,
) *commands_handlers.GenerateMindMapOrchestrator {
	return commands_handlers.NewGenerateMindMapOrchestrator(
		synchronizer,
		pipeline,
		backend,
		contentCache,
		maps,
		content,
		lock,
		outbox,
		domainCfg,
		logger,
	)
}

// ProvideExpandNodeHandler creates the node expansion handler
func ProvideExpandNodeHandler(
	topics ports.TopicRepository,
	maps ports.MindMapRepository,
	backend ports.FrameSource,
	contentCache ports.ContentCache,
	outbox ports.OutboxStore,
	domainCfg *domaincfg.DomainConfig,
	logger *zap.Logger,
) *commands_handlers.ExpandNodeHandler {
	return commands_handlers.NewExpandNodeHandler(topics, maps, backend, contentCache, outbox, domainCfg, logger)
}

// ProvideRecordCheckHandler creates the check recording handler
func ProvideRecordCheckHandler(
	topics ports.TopicRepository,
	checks ports.CheckRepository,
	outbox ports.OutboxStore,
	logger *zap.Logger,
) *commands_handlers.RecordCheckHandler {
	return commands_handlers.NewRecordCheckHandler(topics, checks, outbox, logger)
}

// ProvideDeleteTopicHandler creates the topic deletion handler
func ProvideDeleteTopicHandler(
	topics ports.TopicRepository,
	maps ports.MindMapRepository,
	content ports.ContentRepository,
	contentCache ports.ContentCache,
	outbox ports.OutboxStore,
	logger *zap.Logger,
) *commands_handlers.DeleteTopicHandler {
	return commands_handlers.NewDeleteTopicHandler(topics, maps, content, contentCache, outbox, logger)
}

// ProvideCommandBus creates the command bus with all handlers registered
func ProvideCommandBus(
	orchestrator *commands_handlers.GenerateMindMapOrchestrator,
	expand *commands_handlers.ExpandNodeHandler,
	recordCheck *commands_handlers.RecordCheckHandler,
	deleteTopic *commands_handlers.DeleteTopicHandler,
	metrics *observability.Metrics,
	tracer *observability.Tracer,
	cfg *config.Config,
	logger *zap.Logger,
) (*bus.CommandBus, error) {
	// First middleware ends up outermost.
	middlewares := []bus.Middleware{
		bus.RecoveryMiddleware(logger),
		bus.LoggingMiddleware(logger),
	}
	if cfg.EnableMetrics {
		middlewares = append(middlewares, bus.MetricsMiddleware(metrics.CommandsTotal, metrics.CommandDuration))
	}
	if cfg.EnableTracing {
		middlewares = append(middlewares, commandTracing(tracer))
	}

	commandBus := bus.NewCommandBus(middlewares...)

	// The bus discards handler results. Callers that need them, such
	// as the SSE endpoint, invoke the application handlers directly.
	if err := commandBus.Register(commands.GenerateMindMapCommand{}, bus.CommandHandlerFunc(
		func(ctx context.Context, cmd bus.Command) error {
			generateCmd, ok := cmd.(commands.GenerateMindMapCommand)
			if !ok {
				return fmt.Errorf("invalid command type %T", cmd)
			}
			_, err := orchestrator.Handle(ctx, generateCmd, nil)
			return err
		})); err != nil {
		return nil, err
	}

	if err := commandBus.Register(commands.ExpandNodeCommand{}, bus.CommandHandlerFunc(
		func(ctx context.Context, cmd bus.Command) error {
			expandCmd, ok := cmd.(commands.ExpandNodeCommand)
			if !ok {
				return fmt.Errorf("invalid command type %T", cmd)
			}
			_, err := expand.Handle(ctx, expandCmd)
			return err
		})); err != nil {
		return nil, err
	}

	if err := commandBus.Register(commands.RecordCheckCommand{}, bus.CommandHandlerFunc(
		func(ctx context.Context, cmd bus.Command) error {
			checkCmd, ok := cmd.(commands.RecordCheckCommand)
			if !ok {
				return fmt.Errorf("invalid command type %T", cmd)
			}
			_, err := recordCheck.Handle(ctx, checkCmd)
			return err
		})); err != nil {
		return nil, err
	}

	if err := commandBus.Register(commands.DeleteTopicCommand{}, bus.CommandHandlerFunc(
		func(ctx context.Context, cmd bus.Command) error {
			deleteCmd, ok := cmd.(commands.DeleteTopicCommand)
			if !ok {
				return fmt.Errorf("invalid command type %T", cmd)
			}
			return deleteTopic.Handle(ctx, deleteCmd)
		})); err != nil {
		return nil, err
	}

	return commandBus, nil
}

// ProvideQueryBus creates the query bus with all handlers registered
func ProvideQueryBus(
	topics ports.TopicRepository,
	maps ports.MindMapRepository,
	content ports.ContentRepository,
	checks ports.CheckRepository,
	queryCache ports.Cache,
	metrics *observability.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) (*querybus.QueryBus, error) {
	middlewares := []querybus.Middleware{
		querybus.LoggingMiddleware(logger),
	}
	if cfg.EnableMetrics {
		middlewares = append(middlewares, querybus.MetricsMiddleware(metrics.QueriesTotal, metrics.QueryDuration))
	}
	// Caching sits innermost so hits are still logged and counted.
	middlewares = append(middlewares, querybus.CachingMiddleware(queryCache, queryCacheTTLSeconds))

	queryBus := querybus.NewQueryBus(middlewares...)

	getTopic := queries_handlers.NewGetTopicHandler(topics, maps, logger)
	if err := queryBus.Register(queries.GetTopicQuery{}, querybus.QueryHandlerFunc(
		func(ctx context.Context, query querybus.Query) (interface{}, error) {
			q, ok := query.(queries.GetTopicQuery)
			if !ok {
				return nil, fmt.Errorf("invalid query type %T", query)
			}
			return getTopic.Handle(ctx, q)
		})); err != nil {
		return nil, err
	}

	getMindMap := queries_handlers.NewGetMindMapHandler(topics, maps, logger)
	if err := queryBus.Register(queries.GetMindMapQuery{}, querybus.QueryHandlerFunc(
		func(ctx context.Context, query querybus.Query) (interface{}, error) {
			q, ok := query.(queries.GetMindMapQuery)
			if !ok {
				return nil, fmt.Errorf("invalid query type %T", query)
			}
			return getMindMap.Handle(ctx, q)
		})); err != nil {
		return nil, err
	}

	getSections := queries_handlers.NewGetSectionsHandler(topics, content, checks, logger)
	if err := queryBus.Register(queries.GetSectionsQuery{}, querybus.QueryHandlerFunc(
		func(ctx context.Context, query querybus.Query) (interface{}, error) {
			q, ok := query.(queries.GetSectionsQuery)
			if !ok {
				return nil, fmt.Errorf("invalid query type %T", query)
			}
			return getSections.Handle(ctx, q)
		})); err != nil {
		return nil, err
	}

	listTopics := queries_handlers.NewListTopicsHandler(topics, logger)
	if err := queryBus.Register(queries.ListTopicsQuery{}, querybus.QueryHandlerFunc(
		func(ctx context.Context, query querybus.Query) (interface{}, error) {
			q, ok := query.(queries.ListTopicsQuery)
			if !ok {
				return nil, fmt.Errorf("invalid query type %T", query)
			}
			return listTopics.Handle(ctx, q)
		})); err != nil {
		return nil, err
	}

	return queryBus, nil
}

// ProvideSessionRateLimiter creates the per-session rate limiter.
// Lambda invocations share no process state, so they count requests
// in DynamoDB instead of in memory.
func ProvideSessionRateLimiter(client *awsdynamodb.Client, cfg *config.Config) *ratelimit.SessionRateLimiter {
	perMinute := cfg.SessionRequestsPerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	var limiter ratelimit.Limiter
	if cfg.IsLambda {
		limiter = ratelimit.NewDistributedSessionLimiter(client, cfg.DynamoDBTable, perMinute)
	} else {
		limiter = ratelimit.NewPerMinuteLimiter(perMinute)
	}
	return ratelimit.NewSessionRateLimiter(limiter)
}

// ProvideErrorHandler creates the HTTP error handler
func ProvideErrorHandler(cfg *config.Config, logger *zap.Logger) *pkgerrors.ErrorHandler {
	return pkgerrors.NewErrorHandler(logger, cfg.Environment != "production")
}

// ProvideTopicHandler creates the topic HTTP handler
func ProvideTopicHandler(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	errorHandler *pkgerrors.ErrorHandler,
	logger *zap.Logger,
) *handlers.TopicHandler {
	return handlers.NewTopicHandler(commandBus, queryBus, errorHandler, logger)
}

// ProvideGenerationHandler creates the SSE generation handler
func ProvideGenerationHandler(
	orchestrator *commands_handlers.GenerateMindMapOrchestrator,
	hooks *extensions.HookRegistry,
	metrics *observability.Metrics,
	tracer *observability.Tracer,
	errorHandler *pkgerrors.ErrorHandler,
	logger *zap.Logger,
) *handlers.GenerationHandler {
	return handlers.NewGenerationHandler(orchestrator, hooks, metrics, tracer, errorHandler, logger)
}

// ProvideMindMapHandler creates the mind map HTTP handler
func ProvideMindMapHandler(
	queryBus *querybus.QueryBus,
	expand *commands_handlers.ExpandNodeHandler,
	hooks *extensions.HookRegistry,
	errorHandler *pkgerrors.ErrorHandler,
	logger *zap.Logger,
) *handlers.MindMapHandler {
	return handlers.NewMindMapHandler(queryBus, expand, hooks, errorHandler, logger)
}

// ProvideContentHandler creates the content HTTP handler
func ProvideContentHandler(
	queryBus *querybus.QueryBus,
	recordCheck *commands_handlers.RecordCheckHandler,
	errorHandler *pkgerrors.ErrorHandler,
	logger *zap.Logger,
) *handlers.ContentHandler {
	return handlers.NewContentHandler(queryBus, recordCheck, errorHandler, logger)
}

// ProvideAPIRouter assembles the versioned API router. Rate limiting
// applies to API routes only, not to health or metrics.
func ProvideAPIRouter(
	topicHandler *handlers.TopicHandler,
	generationHandler *handlers.GenerationHandler,
	mindMapHandler *handlers.MindMapHandler,
	contentHandler *handlers.ContentHandler,
	limiter *ratelimit.SessionRateLimiter,
	logger *zap.Logger,
) http.Handler {
	return v1.NewRouter(
		topicHandler,
		generationHandler,
		mindMapHandler,
		contentHandler,
		middleware.RateLimit(limiter, logger),
	)
}

// ProvideRouter creates the top-level HTTP router
func ProvideRouter(api http.Handler, metrics *observability.Metrics, cfg *config.Config, logger *zap.Logger) *rest.Router {
	return rest.NewRouter(api, metrics, cfg, logger)
}

// commandTracing wraps each command in an X-Ray subsegment named
// after its type.
func commandTracing(tracer *observability.Tracer) bus.Middleware {
	return func(next bus.CommandHandler) bus.CommandHandler {
		return bus.CommandHandlerFunc(func(ctx context.Context, cmd bus.Command) error {
			name := "command." + reflect.TypeOf(cmd).Name()
			return tracer.TraceStage(ctx, name, func(ctx context.Context) error {
				return next.Handle(ctx, cmd)
			})
		})
	}
}
