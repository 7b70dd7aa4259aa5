// Command orchestrator is the stringwork orchestrator's process entry
// point: it wires the Remote Shell Gateway (C1), Chat Topic Facade,
// Callback Router (C9), Conversation Flow Engine (C10), Task Executor
// (C8), Machine Registry (C5), Repo Host, Env Sync, Memory Store, and the
// JSON status surface into one running daemon, grounded on
// cmd/mcp-server/main.go's component-lifecycle and signal-handling shape.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jaakkos/stringwork-orchestrator/internal/callback"
	"github.com/jaakkos/stringwork-orchestrator/internal/chat"
	"github.com/jaakkos/stringwork-orchestrator/internal/config"
	"github.com/jaakkos/stringwork-orchestrator/internal/difficulty"
	"github.com/jaakkos/stringwork-orchestrator/internal/domain"
	"github.com/jaakkos/stringwork-orchestrator/internal/envsync"
	"github.com/jaakkos/stringwork-orchestrator/internal/executor"
	"github.com/jaakkos/stringwork-orchestrator/internal/flow"
	"github.com/jaakkos/stringwork-orchestrator/internal/memory"
	"github.com/jaakkos/stringwork-orchestrator/internal/registry"
	"github.com/jaakkos/stringwork-orchestrator/internal/repohost"
	"github.com/jaakkos/stringwork-orchestrator/internal/session"
	"github.com/jaakkos/stringwork-orchestrator/internal/shell"
	"github.com/jaakkos/stringwork-orchestrator/internal/status"
	"github.com/jaakkos/stringwork-orchestrator/internal/store"
	"github.com/jaakkos/stringwork-orchestrator/internal/worktree"
)

func main() {
	logger := log.New(os.Stderr, "[orchestrator] ", log.LstdFlags|log.Lshortfile)

	cfgPath := os.Getenv("ORCHESTRATOR_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Printf("Starting orchestrator (executor_id=%s, workspace=%s)", cfg.ExecutorID, cfg.WorkspaceRoot)

	db, err := store.Open(cfg.StoreConfigPath())
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signal.Ignore(syscall.SIGHUP)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	mreg := registry.New(db, cfg.HeartbeatFresh, cfg.HeartbeatStale)

	for _, t := range cfg.Targets {
		maxConcurrent := t.MaxConcurrent
		if maxConcurrent == 0 {
			maxConcurrent = cfg.ExecutorMaxConcurrent
		}
		if err := mreg.Register(ctx, domain.Machine{
			ID:            t.MachineID,
			DisplayName:   t.DisplayName,
			Status:        domain.MachineOnline,
			Projects:      t.Projects,
			MaxConcurrent: maxConcurrent,
		}); err != nil {
			logger.Printf("register machine %s: %v", t.MachineID, err)
		}
	}
	go runHeartbeatLoop(ctx, mreg, cfg.Targets, cfg.PollInterval, logger)

	shellTargets, err := buildShellTargets(cfg.Targets)
	if err != nil {
		logger.Fatalf("build shell targets: %v", err)
	}
	gateway := shell.NewGateway()

	var transport chat.Transport
	if cfg.Chat.BotToken != "" {
		transport, err = chat.NewTelegramTransport(cfg.Chat.BotToken, cfg.Chat.GroupID)
		if err != nil {
			logger.Fatalf("chat transport: %v", err)
		}
	} else {
		logger.Printf("Warning: no chat bot token configured, chat transport disabled")
	}

	suppressor := chat.NewSuppressor()
	var facade *chat.Facade
	if transport != nil {
		facade = chat.New(transport, suppressor)
	}

	sessions := session.NewRegistry()
	questions := callback.NewQuestionStore()
	browseStore := callback.NewBrowseStore()

	repos := &repoLister{gateway: gateway, targets: shellTargets}

	flowEngine := flow.New(
		&machineLister{targets: cfg.Targets},
		repos,
		&projectLister{targets: cfg.Targets},
		&taskCreator{store: db, classifier: difficulty.NoOp{}},
		&sessionSpawner{gateway: gateway, chat: facade, sessions: sessions, targets: shellTargets, chatID: strconv.FormatInt(cfg.Chat.GroupID, 10)},
	)

	var router *callback.Router
	if transport != nil {
		router = &callback.Router{
			Transport: transport,
			AskMsgs:   facade,
			Sessions:  sessions,
			Questions: questions,
			Browse:    browseStore,
			Flow:      flowEngine,
			Lister:    repos,
			Topics:    transport,
			Logger:    logger,
		}
	}

	var repoHost executor.RepoHost
	if cfg.RepoHost.Token != "" {
		repoHost = repohost.New(cfg.RepoHost.Token, cfg.RepoHost.Org)
	}

	envStore := envsync.NewStore(
		filepath.Join(config.GlobalStateDir(), "envsync", "shared"),
		filepath.Join(config.GlobalStateDir(), "envsync", "local"),
		nil,
		logger,
	)
	go envStore.Start(ctx)
	defer envStore.Stop()

	memStore := memory.NewStore(filepath.Join(config.GlobalStateDir(), "memory"), logger)
	defer memStore.Close()

	var targets []executor.MachineTarget
	for _, t := range cfg.ManagedTargets() {
		targets = append(targets, executor.MachineTarget{
			ID:             t.MachineID,
			Shell:          shellTargets[t.MachineID],
			Projects:       t.Projects,
			EnginePriority: t.EnginePriority,
		})
	}

	exec := executor.New(executor.Config{
		WorkerID:       cfg.ExecutorID,
		ChatID:         strconv.FormatInt(cfg.Chat.GroupID, 10),
		Targets:        targets,
		MaxConcurrent:  cfg.ExecutorMaxConcurrent,
		PollInterval:   cfg.PollInterval,
		StaleAfter:     cfg.StaleTaskThreshold,
		DefaultRef:     "main",
		BaseClonesRoot: filepath.Join(cfg.WorkspaceRoot, "clones"),
		WorkspacesRoot: filepath.Join(cfg.WorkspaceRoot, "tasks"),
		Store:          db,
		Workspace:      worktree.NewTaskWorkspace(),
		Repos:          &staticRepoResolver{urls: map[string]string{}},
		RepoHost:       repoHost,
		EnvSync:        envStore,
		Memory:         memStore,
		Chat:           facade,
		RemoteExec:     gateway,
		Sessions:       sessions,
		Questions:      questions,
		NewSession: func(target executor.MachineTarget, task domain.Task) (executor.SessionRunner, session.ChatSink) {
			sup := session.NewSupervisor(session.GatewaySpawner{Gateway: gateway}, facade, alwaysValidProber{})
			return sup, facade
		},
		Logger: logger,
	})

	if cfg.ExecutorEnabled {
		go exec.Start(ctx)
	} else {
		logger.Printf("Executor disabled (executor_enabled=false); queue polling will not run")
	}

	statusHandler := status.NewHandler(db, db)
	mux := http.NewServeMux()
	statusHandler.RegisterRoutes(mux)
	statusSrv := &http.Server{Addr: cfg.StatusAddr, Handler: mux}
	go func() {
		logger.Printf("Status surface listening on %s", cfg.StatusAddr)
		if err := statusSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("status server: %v", err)
		}
	}()

	c := cron.New()
	_, err = c.AddFunc("@every 1m", func() {
		if _, err := db.SweepStaleTasks(ctx, cfg.StaleTaskThreshold); err != nil {
			logger.Printf("sweep stale tasks: %v", err)
		}
		if err := db.SweepStaleMachines(ctx, cfg.HeartbeatStale); err != nil {
			logger.Printf("sweep stale machines: %v", err)
		}
	})
	if err != nil {
		logger.Fatalf("schedule sweep: %v", err)
	}
	c.Start()
	defer c.Stop()

	if transport != nil {
		go runChatLoop(ctx, transport, router, flowEngine, sessions, logger)
	}

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = statusSrv.Shutdown(shutdownCtx)
	logger.Println("Orchestrator stopped")
}
