package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/agent"
	"github.com/ligolabs/ligo/internal/bus"
	"github.com/ligolabs/ligo/internal/channels"
	"github.com/ligolabs/ligo/internal/channels/playground"
	"github.com/ligolabs/ligo/internal/channels/telegram"
	"github.com/ligolabs/ligo/internal/channels/whatsapp"
	"github.com/ligolabs/ligo/internal/config"
	"github.com/ligolabs/ligo/internal/contacts"
	"github.com/ligolabs/ligo/internal/guard"
	"github.com/ligolabs/ligo/internal/maintenance"
	"github.com/ligolabs/ligo/internal/memory"
	"github.com/ligolabs/ligo/internal/providers"
	"github.com/ligolabs/ligo/internal/router"
	"github.com/ligolabs/ligo/internal/sandbox"
	"github.com/ligolabs/ligo/internal/secrets"
	"github.com/ligolabs/ligo/internal/skills"
	"github.com/ligolabs/ligo/internal/store"
	"github.com/ligolabs/ligo/internal/store/pg"
	"github.com/ligolabs/ligo/internal/thread"
	"github.com/ligolabs/ligo/internal/upgrade"
	"github.com/ligolabs/ligo/internal/vector"
)

// watcherSyncEvery is the DB reconcile cadence for transport watchers.
const watcherSyncEvery = 30 * time.Second

// shellExecTimeout bounds one shell-skill command inside the sandbox.
const shellExecTimeout = 60 * time.Second

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(log)

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.PostgresDSN == "" {
		log.Error("LIGO_POSTGRES_DSN environment variable is not set")
		os.Exit(1)
	}

	db, err := pg.OpenDB(cfg.Database.PostgresDSN)
	if err != nil {
		log.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	status, err := upgrade.CheckSchema(db)
	if err != nil {
		log.Error("schema check failed", "error", err)
		os.Exit(1)
	}
	if !status.Compatible {
		os.Stderr.WriteString(upgrade.FormatError(status))
		os.Exit(1)
	}

	box, err := secrets.NewBox(cfg.Database.EncryptionKey)
	if err != nil {
		log.Error("credential encryption key invalid", "error", err)
		os.Exit(1)
	}
	stores := pg.NewStores(db, box)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if shutdownTracer := initTelemetry(ctx, cfg.Telemetry); shutdownTracer != nil {
		defer func() {
			sdCtx, sdCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer sdCancel()
			if err := shutdownTracer(sdCtx); err != nil {
				log.Warn("trace exporter shutdown failed", "error", err)
			}
		}()
	}

	dataDir := config.ExpandHome(cfg.Gateway.DataDir)
	os.MkdirAll(dataDir, 0o755)

	vectors := vector.NewSQLiteStore(config.ExpandHome(cfg.Memory.VectorDir))
	defer vectors.Close()
	embedder := vector.NewHashEmbedder()

	reg := providers.NewRegistries(cfg.Providers, stores.Credentials)
	agentSvc := agent.NewService(reg, cfg.Guard.ContaminationExtra, log)
	sentinel := guard.NewSentinel(cfg.Guard.SentinelMode)

	// Extractor chat is nil here: the router binds each extraction to
	// the agent's own provider, and nil degrades to regex extraction.
	extractor := memory.NewExtractor(stores.Facts, nil, cfg.Guard.SentinelMode, log)
	mem := memory.NewManager(cfg.Memory, stores, vectors, embedder, extractor, log)

	resolver := contacts.NewResolver(stores.Contacts, log)

	var executor *sandbox.Executor
	if cfg.Sandbox.Enabled {
		runner, runErr := sandbox.NewDockerRunner(cfg.Sandbox, log)
		if runErr != nil {
			log.Warn("sandbox disabled: Docker not available", "error", runErr)
		} else {
			defer runner.Close()
			executor = sandbox.NewExecutor(cfg.Sandbox, runner, stores.Tools, log)
			log.Info("sandbox enabled", "image", cfg.Sandbox.Image, "memory_mb", cfg.Sandbox.MemoryMB)
		}
	}

	threads := thread.NewEngine(cfg.Thread, stores.Threads, stores.Agents, resolver, agentSvc, log)

	pacer := channels.NewPacer(cfg.Gateway.SendRatePerMin)
	var restarter channels.Restarter
	if dr, drErr := channels.NewDockerRestarter(log); drErr != nil {
		log.Warn("watcher health restarts disabled: Docker not available", "error", drErr)
	} else {
		restarter = dr
	}
	keepalive := time.Duration(cfg.Channels.Whatsapp.KeepaliveTimeoutSec) * time.Second
	chanMgr := channels.NewManager(stores.Instances, pacer, restarter, keepalive, log)

	skillMgr := skills.NewManager(log)
	skillMgr.Register(skills.NewAudioTranscription(makeTranscribeFn(cfg, stores), log))
	skillMgr.Register(skills.NewImageDescription(makeVisionFn(stores, agentSvc), log))
	skillMgr.Register(skills.NewKnowledgeSharing(stores.Knowledge, log))
	skillMgr.Register(skills.NewAdaptivePersonality(stores.Facts, log))
	skillMgr.Register(skills.NewWebSearch(reg.Search, log))
	skillMgr.Register(skills.NewFlightSearch(reg.Flights, log))
	if executor != nil {
		skillMgr.Register(skills.NewShell(makeShellExecFn(executor)))
	}

	// Reminders have no originating instance, so delivery falls back to
	// the tenant's running WhatsApp watcher.
	reminders := skills.NewScheduler(func(recipient, text string, mediaPaths []string) error {
		return chanMgr.Send(context.Background(), bus.OutboundMessage{
			Channel:    bus.ChannelWhatsapp,
			Recipient:  recipient,
			Body:       text,
			MediaPaths: mediaPaths,
		})
	}, log)
	skillMgr.Register(skills.NewReminder(reminders, log))

	deps := router.Deps{
		Config:     cfg,
		Stores:     stores,
		Memory:     mem,
		Skills:     skillMgr,
		Agent:      agentSvc,
		Threads:    threads,
		Resolver:   resolver,
		Sentinel:   sentinel,
		Registries: reg,
		Sender:     chanMgr,
		Log:        log,
	}
	if executor != nil {
		deps.Sandbox = executor
	}
	rt := router.New(deps)

	pollInterval := time.Duration(cfg.Channels.PollIntervalMs) * time.Millisecond
	debounce := time.Duration(cfg.Channels.DebounceMs) * time.Millisecond

	if cfg.Channels.Whatsapp.Enabled {
		chanMgr.RegisterFactory(bus.ChannelWhatsapp, func(inst *store.InstanceData) (channels.Watcher, error) {
			return whatsapp.New(whatsapp.Options{
				Instance:     inst,
				Filter:       channels.NewFilter(inst, stores.Agents, cfg.Channels.QAPhoneNumber),
				Handler:      rt.Handle,
				PollInterval: pollInterval,
				Debounce:     debounce,
				FallbackDB:   filepath.Join(dataDir, "whatsapp", inst.ID.String(), "messages.db"),
				Log:          log,
			}), nil
		})
	}
	if cfg.Channels.Telegram.Enabled {
		chanMgr.RegisterFactory(bus.ChannelTelegram, func(inst *store.InstanceData) (channels.Watcher, error) {
			return telegram.New(telegram.Options{
				Instance: inst,
				Filter:   channels.NewFilter(inst, stores.Agents, cfg.Channels.QAPhoneNumber),
				Handler:  rt.Handle,
				Debounce: debounce,
				Proxy:    cfg.Channels.Telegram.Proxy,
				Log:      log,
			})
		})
	}
	if cfg.Channels.Playground.Enabled {
		chanMgr.RegisterFactory(bus.ChannelPlayground, func(inst *store.InstanceData) (channels.Watcher, error) {
			return playground.New(playground.Options{
				Instance: inst,
				Handler:  rt.Handle,
				Listen:   cfg.Channels.Playground.Listen,
				Log:      log,
			}), nil
		})
	}

	maint := maintenance.New(maintenance.Options{
		Stores:           stores,
		Buffer:           mem.ToolBuffer(),
		ThreadInactivity: time.Duration(cfg.Thread.InactivityMinutes) * time.Minute,
		Log:              log,
	})

	// Hot reload covers the hot-safe keys only (maintenance mode/text,
	// contamination extras); watchers and stores keep their wiring.
	stopWatch, err := config.Watch(cfgPath, func(fresh *config.Config) {
		rt.Reload(fresh)
	})
	if err != nil {
		log.Warn("config hot reload unavailable", "error", err)
	} else {
		defer stopWatch()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("graceful shutdown initiated", "signal", sig)
		cancel()
	}()

	go maint.Run(ctx)
	go reminders.Run(ctx)

	log.Info("ligo gateway starting",
		"version", Version,
		"whatsapp", cfg.Channels.Whatsapp.Enabled,
		"telegram", cfg.Channels.Telegram.Enabled,
		"playground", cfg.Channels.Playground.Enabled,
		"sandbox", executor != nil,
	)

	chanMgr.Run(ctx, watcherSyncEvery)
}

// makeTranscribeFn binds the audio-transcription skill to the tenant's
// Whisper credential.
func makeTranscribeFn(cfg *config.Config, stores *store.Stores) skills.TranscribeFn {
	return func(ctx context.Context, tenantID, audioPath string) (string, error) {
		tid, err := uuid.Parse(tenantID)
		if err != nil {
			return "", err
		}
		key, err := stores.Credentials.Get(ctx, tid, "openai")
		if err != nil {
			return "", err
		}
		return providers.NewOpenAIWhisper(key, cfg.TTSTimeout()).Transcribe(ctx, audioPath)
	}
}

// makeVisionFn describes images through the tenant's default agent
// provider.
func makeVisionFn(stores *store.Stores, agentSvc *agent.Service) skills.VisionFn {
	return func(ctx context.Context, tenantID, prompt string, img providers.ImageContent) (string, error) {
		tid, err := uuid.Parse(tenantID)
		if err != nil {
			return "", err
		}
		ag, err := stores.Agents.Default(ctx, tid)
		if err != nil {
			return "", err
		}
		out, err := agentSvc.Chat(ctx, agent.ChatInput{
			TenantID: tid,
			Agent:    ag,
			UserText: prompt,
			Images:   []providers.ImageContent{img},
		})
		if err != nil {
			return "", err
		}
		return out.Text, nil
	}
}

// makeShellExecFn routes the shell skill through the sandbox executor's
// runner so output capping and execution records apply.
func makeShellExecFn(executor *sandbox.Executor) skills.ShellExecFn {
	return func(ctx context.Context, tenantID uuid.UUID, command string) (string, error) {
		return executor.RunShell(ctx, tenantID, command, shellExecTimeout)
	}
}
