package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/polychat-dev/polychat/internal/bus"
	"github.com/polychat-dev/polychat/internal/cache"
	"github.com/polychat-dev/polychat/internal/channels"
	"github.com/polychat-dev/polychat/internal/channels/maxmsg"
	"github.com/polychat-dev/polychat/internal/channels/telegram"
	"github.com/polychat-dev/polychat/internal/config"
	"github.com/polychat-dev/polychat/internal/handlers"
	"github.com/polychat-dev/polychat/internal/llm"
	"github.com/polychat-dev/polychat/internal/media"
	"github.com/polychat-dev/polychat/internal/pipeline"
	"github.com/polychat-dev/polychat/internal/providers"
	"github.com/polychat-dev/polychat/internal/ratelimit"
	"github.com/polychat-dev/polychat/internal/scheduler"
	"github.com/polychat-dev/polychat/internal/spam"
	"github.com/polychat-dev/polychat/internal/storage"
	"github.com/polychat-dev/polychat/internal/telemetry"
	"github.com/polychat-dev/polychat/internal/tools"
)

// busOutbound adapts bus.Router.PublishOutgoing (fire-and-forget, no error)
// into the Send(ctx, action) error surface handlers/pipeline/media depend
// on (spec §9 design note 6's cyclic-reference fix). Enqueued actions are
// delivered by channels.Manager's own dispatch loop, which drains the same
// router and routes each action to its named channel's real Send.
type busOutbound struct {
	router bus.Router
}

func (o busOutbound) Send(_ context.Context, action bus.OutgoingAction) error {
	o.router.PublishOutgoing(action)
	return nil
}

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.Load(cfgFile, overrideDir)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Protocol:    cfg.Telemetry.Protocol,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		slog.Error("failed to start telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("error shutting down telemetry", "error", err)
		}
	}()

	msgBus := bus.New()

	router, closeStorage, err := buildRouter(cfg)
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer closeStorage()

	cacheStore := storage.NewCacheAdapter(router, "")
	memCache := cache.New(cacheStore, time.Duration(cfg.Cache.PersistencePeriodSecs)*time.Second)
	memCache.Start()
	defer memCache.Stop(context.Background())

	bayesStore := storage.NewBayesAdapter(router, "")
	spamFilter := spam.New(bayesStore, spam.Config{})

	rlManager := ratelimit.NewManager(cfg.RateLimiterQueues())
	defer rlManager.Shutdown()

	dispatcher := llm.NewDispatcher(rlManager, cfg.DispatcherConfig())
	bindProviders(dispatcher, cfg)

	toolsSvc := tools.New(cfg.ToolsConfig(), memCache, dispatcher)

	sched := scheduler.New(router, scheduler.Config{
		TickInterval: time.Duration(cfg.Scheduler.TickSecs) * time.Second,
	})

	settingsResolver := handlers.NewResolver(router, memCache, cfg.HandlerDefaults(), "")
	authorizer := cfg.NewAuthorizer(nil) // no channel implements ChatAdminChecker yet; AccessChatAdmin falls back to owner-only

	outbound := busOutbound{router: msgBus}

	chanMgr := channels.NewManager(msgBus)
	// No adapter surfaces the bot's own username (neither telego.Bot.GetMe
	// nor the Max client is wired for it), so disambiguation in group chats
	// falls back to explicit @mention text only — see DESIGN.md.
	selfUsername := func(channel string) string { return "" }

	if cfg.Telegram.Enabled {
		tgChannel, err := telegram.New(cfg.TelegramConfig(), msgBus)
		if err != nil {
			slog.Error("failed to initialize telegram channel", "error", err)
		} else {
			chanMgr.Register(tgChannel)
			slog.Info("telegram channel enabled")
		}
	}
	if cfg.Max.Enabled {
		maxChannel := maxmsg.New(cfg.MaxConfig(), msgBus)
		chanMgr.Register(maxChannel)
		slog.Info("max channel enabled")
	}

	mediaSvc := media.New(router, outbound, dispatcher, "", cfg.MediaConfig())
	mediaSvc.Jobs = cfg.ResenderJobs()
	if tgChannel, ok := chanMgr.Get("telegram"); ok {
		if downloader, ok := tgChannel.(media.Downloader); ok {
			mediaSvc.RegisterDownloader("telegram", downloader)
		}
	}
	sched.RegisterCronJob(scheduler.CronJob{
		Name:       "media-tick",
		Expression: "* * * * *",
		Handler:    mediaSvc.Tick,
	})

	handlerSvc := &handlers.Services{
		Store:        router,
		DataSource:   "",
		Settings:     settingsResolver,
		Spam:         spamFilter,
		LLM:          dispatcher,
		Scheduler:    sched,
		Outbound:     outbound,
		Auth:         authorizer,
		Tools:        toolsSvc,
		SelfUsername: selfUsername,
	}
	handlers.RegisterReminderHandler(handlerSvc)

	pipelineSvc := &pipeline.Services{
		Store:        router,
		DataSource:   "",
		Settings:     settingsResolver,
		Spam:         spamFilter,
		LLM:          dispatcher,
		Scheduler:    sched,
		Outbound:     outbound,
		Cache:        memCache,
		Tools:        toolsSvc,
		ToolFlags:    toolFlagsFrom(cfg),
		ModelID:      cfg.Bot.ModelID,
		SelfUsername: selfUsername,
		Rand:         rand.Float64,
	}

	mgr := handlers.NewManager()
	mgr.Register(pipeline.IngestHandler(pipelineSvc))
	mgr.Register(media.IngestHandler(mediaSvc))
	handlers.RegisterBuiltins(mgr, handlerSvc)
	mgr.Register(pipeline.Handler(pipelineSvc))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := chanMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}

	go sched.Run(ctx)
	go mgr.Run(ctx, msgBus, 4)

	slog.Info("polychat gateway starting", "version", Version)

	<-sigCh
	slog.Info("shutdown signal received, draining...")

	grace := time.Duration(cfg.Gateway.ShutdownGraceSecs) * time.Second
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), grace)
	defer shutdownCancel()

	sched.Stop()
	if err := chanMgr.StopAll(shutdownCtx); err != nil {
		slog.Warn("error stopping channels", "error", err)
	}
	cancel()

	slog.Info("polychat gateway stopped")
}

// buildRouter opens every configured database source and wraps them in a
// storage.Router per spec §4.1's source-precedence rules. The returned
// closer closes every pool in one call.
func buildRouter(cfg *config.Config) (*storage.Router, func(), error) {
	sourceConfigs, err := cfg.StorageSources()
	if err != nil {
		return nil, nil, err
	}
	sources := make(map[string]*storage.Source, len(sourceConfigs))
	for _, sc := range sourceConfigs {
		src, err := storage.OpenSource(sc)
		if err != nil {
			return nil, nil, err
		}
		sources[sc.Name] = src
	}

	routerCfg, err := cfg.RouterConfig()
	if err != nil {
		return nil, nil, err
	}
	router := storage.NewRouter(sources, routerCfg)
	return router, func() {
		if err := router.Close(); err != nil {
			slog.Warn("error closing storage sources", "error", err)
		}
	}, nil
}

// bindProviders constructs a concrete llm.Provider per configured entry and
// registers it as a Dispatcher binding, resolving each entry's Fallback
// name to the already-built Binding it names (spec §4.5: "a binding's
// fallback is itself another configured binding"). Bindings are keyed by
// each provider's own model_id, not its providers.<name> config key,
// since Dispatcher.Complete forwards that same key to the provider as the
// literal wire model string (internal/llm.Dispatcher.callProvider).
func bindProviders(dispatcher *llm.Dispatcher, cfg *config.Config) {
	specs := cfg.LLMBindingSpecs()
	bindingsByName := make(map[string]*llm.Binding, len(specs))
	modelIDByName := make(map[string]string, len(specs))

	for _, spec := range specs {
		provider, err := buildProvider(spec.Name, spec.Provider)
		if err != nil {
			slog.Error("skipping provider binding", "name", spec.Name, "error", err)
			continue
		}
		bindingsByName[spec.Name] = &llm.Binding{
			Provider:     provider,
			ProviderName: provider.Name(),
			Retry:        spec.Retry,
		}
		modelIDByName[spec.Name] = spec.Provider.ModelID
	}

	for _, spec := range specs {
		b, ok := bindingsByName[spec.Name]
		if !ok || spec.Fallback == "" {
			continue
		}
		if fb, ok := bindingsByName[spec.Fallback]; ok {
			b.Fallback = fb
		} else {
			slog.Warn("provider binding names unknown fallback", "name", spec.Name, "fallback", spec.Fallback)
		}
	}

	for name, b := range bindingsByName {
		modelID := modelIDByName[name]
		dispatcher.Bind(modelID, *b)
		slog.Info("llm provider bound", "model_id", modelID, "provider", b.ProviderName, "fallback", b.Fallback != nil)
	}
}

// buildProvider constructs the llm.Provider implementation named by
// pc.Type. Only the OpenAI-compatible wire format is implemented so far
// (spec §4.5's provider set is open-ended by design; see DESIGN.md).
func buildProvider(name string, pc config.ProviderConfig) (llm.Provider, error) {
	switch pc.Type {
	case "", "openai-compatible", "openai":
		return providers.NewOpenAI(name, pc.APIKey, pc.Endpoint), nil
	default:
		return nil, fmt.Errorf("unsupported provider type %q for %q", pc.Type, name)
	}
}

// toolFlagsFrom derives which tools buildToolRegistry exposes to the model
// from each tool's enabled switch in the config (and, for summarize, a
// configured model id). API keys are not checked here: a tool enabled
// without its key is still exposed, and its Service method returns an error.
func toolFlagsFrom(cfg *config.Config) pipeline.ToolFlags {
	return pipeline.ToolFlags{
		Weather:     cfg.Tools.OpenWeatherMap.Enabled,
		Search:      cfg.Tools.YandexSearch.Enabled,
		Geocode:     cfg.Tools.Geocode.Enabled,
		Draw:        cfg.Tools.ImageGen.Enabled,
		Summarize:   cfg.Tools.SummarizeModelID != "",
		SetUserData: true,
		SetReminder: true,
	}
}
