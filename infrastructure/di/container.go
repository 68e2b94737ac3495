// Package di wires the application graph. Providers live in
// providers.go, the injector in wire.go, and the generated
// implementation in wire_gen.go.
package di

import (
	"github.com/creatuluw/exploring.fyi-sub000/application/commands/bus"
	commands_handlers "github.com/creatuluw/exploring.fyi-sub000/application/commands/handlers"
	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	querybus "github.com/creatuluw/exploring.fyi-sub000/application/queries/bus"
	"github.com/creatuluw/exploring.fyi-sub000/infrastructure/config"
	"github.com/creatuluw/exploring.fyi-sub000/infrastructure/messaging"
	"github.com/creatuluw/exploring.fyi-sub000/interfaces/http/rest"
	"github.com/creatuluw/exploring.fyi-sub000/pkg/extensions"
	"github.com/creatuluw/exploring.fyi-sub000/pkg/observability"
	"github.com/creatuluw/exploring.fyi-sub000/pkg/ratelimit"
	"github.com/google/wire"
	"go.uber.org/zap"
)

// Container holds all application dependencies
type Container struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Tracer       *observability.Tracer
	TopicRepo    ports.TopicRepository
	MindMapRepo  ports.MindMapRepository
	ContentRepo  ports.ContentRepository
	CheckRepo    ports.CheckRepository
	Connections  ports.ConnectionRegistry
	ContentCache ports.ContentCache
	FrameSource  ports.FrameSource
	Lock         ports.GenerationLock
	Outbox       ports.OutboxStore
	Relay        *messaging.OutboxRelay
	Notifier     ports.ProgressNotifier
	Hooks        *extensions.HookRegistry
	Orchestrator *commands_handlers.GenerateMindMapOrchestrator
	CommandBus   *bus.CommandBus
	QueryBus     *querybus.QueryBus
	Cache        ports.Cache
	RateLimiter  *ratelimit.SessionRateLimiter
	Router       *rest.Router
}

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideCloudWatchClient,
	ProvideMetrics,
	ProvideTracer,
	ProvideDomainConfig,
	ProvideSupabaseClient,
	ProvideTopicRepository,
	ProvideMindMapRepository,
	ProvideContentRepository,
	ProvideCheckRepository,
	ProvideConnectionRegistry,
	ProvideGenerationLock,
	ProvideOutboxStore,
	ProvideEventPublisher,
	ProvideOutboxRelay,
	ProvideContentCache,
	ProvideFrameSource,
	ProvideManagementClient,
	ProvideProgressNotifier,
	ProvideHookRegistry,
	ProvideQueryCache,
	ProvideSynchronizer,
	ProvidePipeline,
	ProvideGenerateMindMapOrchestrator,
	ProvideExpandNodeHandler,
	ProvideRecordCheckHandler,
	ProvideDeleteTopicHandler,
	ProvideCommandBus,
	ProvideQueryBus,
	ProvideSessionRateLimiter,
	ProvideErrorHandler,
	ProvideTopicHandler,
	ProvideGenerationHandler,
	ProvideMindMapHandler,
	ProvideContentHandler,
	ProvideAPIRouter,
	ProvideRouter,
	wire.Struct(new(Container), "*"),
)
