// Package main provides the local offline daemon. The browser UI shell
// talks to it over REST and WebSocket on localhost.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rinafcode/teachLink-web-sub000/cmd/offlined/handlers"
	"github.com/rinafcode/teachLink-web-sub000/internal/config"
	"github.com/rinafcode/teachLink-web-sub000/internal/logging"
	"github.com/rinafcode/teachLink-web-sub000/internal/offline"
	"github.com/rinafcode/teachLink-web-sub000/internal/sync/scheduler"
)

func main() {
	cfg := config.Load()
	logging.Init(os.Stdout, cfg.LogLevel)

	hub := NewWSHub()

	svc := offline.New(cfg, nil)
	svc.SetNotifier(hub)
	if err := svc.Initialize(); err != nil {
		// Degraded mode: the daemon stays up so the UI gets coded errors
		// instead of connection refusals.
		logging.Error("Offline service starting degraded", err, nil)
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sched *scheduler.Scheduler
	if engine := svc.Engine(); engine != nil {
		sched = scheduler.NewScheduler(engine, &scheduler.Config{
			SyncInterval: cfg.SyncInterval,
			SyncTimeout:  cfg.SyncTimeout,
		})
		sched.Start(ctx)
		defer sched.Stop()
	}

	mux := http.NewServeMux()
	registerRoutes(mux, svc, sched, hub)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // course downloads block the request
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Error("Server shutdown failed", err, nil)
		}
	}()

	logging.Info("Offline daemon listening", map[string]interface{}{
		"addr": cfg.ListenAddr,
		"env":  cfg.Env,
	})

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error("Server failed", err, nil)
		os.Exit(1)
	}
}

func registerRoutes(mux *http.ServeMux, svc *offline.Service, sched *scheduler.Scheduler, hub *WSHub) {
	courses := handlers.NewCourseHandler(svc)
	progress := handlers.NewProgressHandler(svc)
	storage := handlers.NewStorageHandler(svc)

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"offlined"}`))
	})

	mux.HandleFunc("GET /api/courses", courses.List)
	mux.HandleFunc("POST /api/courses", courses.Download)
	mux.HandleFunc("GET /api/courses/{id}", courses.Get)
	mux.HandleFunc("DELETE /api/courses/{id}", courses.Delete)
	mux.HandleFunc("GET /api/courses/{id}/available", courses.Availability)
	mux.HandleFunc("GET /api/assets", courses.Asset)

	mux.HandleFunc("PUT /api/courses/{id}/modules/{moduleID}/progress", progress.Save)
	mux.HandleFunc("GET /api/courses/{id}/modules/{moduleID}/progress", progress.Get)
	mux.HandleFunc("GET /api/courses/{id}/progress", progress.ListForCourse)
	mux.HandleFunc("POST /api/mutations", progress.EnqueueMutation)

	mux.HandleFunc("GET /api/storage", storage.Info)
	mux.HandleFunc("PUT /api/storage/quota", storage.SetQuota)
	mux.HandleFunc("DELETE /api/storage", storage.Clear)

	if sched != nil {
		sync := handlers.NewSyncHandler(svc, sched)
		mux.HandleFunc("POST /api/sync/now", sync.TriggerSync)
		mux.HandleFunc("GET /api/sync/status", sync.Status)
		mux.HandleFunc("PUT /api/sync/online", sync.SetOnline)
		mux.HandleFunc("GET /api/sync/conflicts", sync.ListConflicts)
		mux.HandleFunc("POST /api/sync/conflicts/resolve", sync.ResolveAllConflicts)
		mux.HandleFunc("POST /api/sync/conflicts/{id}/resolve", sync.ResolveConflict)
		mux.HandleFunc("GET /api/sync/dead-letters", sync.ListDeadLetters)
		mux.HandleFunc("POST /api/sync/dead-letters/{id}/requeue", sync.RequeueDeadLetter)
	}

	mux.HandleFunc("GET /api/ws", HandleWebSocket(hub))
}
