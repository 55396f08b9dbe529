// Package main is the entry point for the Conductor Engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anthropics/conductor-engine/internal/agent"
	"github.com/anthropics/conductor-engine/internal/config"
	"github.com/anthropics/conductor-engine/internal/ipc"
	"github.com/anthropics/conductor-engine/internal/judge"
	"github.com/anthropics/conductor-engine/internal/notify"
	"github.com/anthropics/conductor-engine/internal/orchestrator"
	"github.com/anthropics/conductor-engine/internal/sandbox"
	"github.com/anthropics/conductor-engine/internal/store"
	"github.com/anthropics/conductor-engine/internal/worker"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to configuration JSON file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("conductor %s (commit=%s, built=%s)\n", version, commit, date)
		os.Exit(0)
	}

	// Resolve config path: --config flag > CONDUCTOR_CONFIG env > auto-discover.
	path := *configPath
	if path == "" {
		path = os.Getenv("CONDUCTOR_CONFIG")
	}
	if path == "" {
		path = discoverConfig()
	}
	if path == "" {
		fatal("no config found. Place config.json next to the exe, use --config <path>, or set CONDUCTOR_CONFIG.")
	}

	cfg, err := config.Load(path)
	if err != nil {
		fatal(fmt.Sprintf("load config: %v", err))
	}

	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// External collaborators.
	j := judge.NewCLIJudge(cfg.Judge.Command, cfg.Judge.Args, cfg.Judge.TimeoutSec)
	runner := agent.NewCLIRunner(cfg.Agent.Command, cfg.Agent.Args)
	provisioner := sandbox.NewLocalProvisioner(cfg.Workspace)
	mailer := notify.LogMailer{}
	texter := notify.LogTexter{}
	dispatcher := notify.NewDispatcher(mailer, texter, cfg.OperatorAddr)

	// Worker lifecycle.
	workers := worker.NewManager(db, provisioner, runner, worker.Config{
		Template:          cfg.WorkerTemplate,
		SpawnTries:        cfg.SpawnTries,
		ProvisionTimeout:  time.Duration(cfg.ProvisionTimeoutSec) * time.Second,
		RetentionWindow:   time.Duration(cfg.RetentionMinutes) * time.Minute,
		ReadinessProbeCmd: cfg.ReadinessProbeCmd,
	})
	janitor := worker.NewJanitor(workers, worker.JanitorConfig{
		CheckInterval: time.Duration(cfg.JanitorIntervalSec) * time.Second,
	})

	// Orchestration engine.
	engine := orchestrator.NewEngine(db, j, workers, dispatcher, mailer, texter, cfg.MaxRetries)

	// Re-drive whatever a previous process left unfinished.
	if err := engine.Resume(context.Background()); err != nil {
		log.Printf("resume: %v", err)
	}

	janitor.Start(context.Background())

	handler := &ipc.Handler{
		Engine:  engine,
		Workers: workers,
	}
	srv := ipc.NewServer(handler, cfg.ListenAddr)

	// Graceful shutdown on interrupt.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("shutting down...")

		janitor.Stop()

		killCtx, killCancel := context.WithTimeout(context.Background(), 10*time.Second)
		for _, id := range workers.ListActive() {
			if err := workers.Kill(killCtx, id); err != nil {
				log.Printf("kill worker %s: %v", id, err)
			}
		}
		killCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	log.Printf("conductor engine listening on %s", ipc.FormatListenURL(cfg.ListenAddr))

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		fatal(fmt.Sprintf("server error: %v", err))
	}
}

// discoverConfig looks for config.json next to the executable, then in the cwd.
func discoverConfig() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "config.json")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if _, err := os.Stat("config.json"); err == nil {
		return "config.json"
	}
	return ""
}

func fatal(msg string) {
	fmt.Fprintf(os.Stderr, "ERROR: %s\n", msg)
	os.Exit(1)
}
