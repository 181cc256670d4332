package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tilesync/config"
	"tilesync/logging"
	"tilesync/server"
)

// tilesync 入口：启动 HTTP + WebSocket 服务，并运行同步会话
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	var addr string
	flag.StringVar(&addr, "addr", cfg.Addr(), "server listen address, e.g. :8080")
	flag.StringVar(&cfg.LogFile, "log", cfg.LogFile, "log file path, empty for stderr")
	flag.Parse()

	log, err := logging.New(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel})
	if err != nil {
		panic(err)
	}
	defer logging.Sync(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := server.NewSession(log.Named("session"), server.Options{
		TickInterval: cfg.TickInterval(),
		SendQueue:    cfg.SendQueue,
	})
	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		_ = session.Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", session.HandleWS)
	// 静态资源由 web 目录提供
	mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
	mux.HandleFunc("/admin/players", session.HandlePlayers)
	mux.HandleFunc("/metrics", session.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Infof("tilesync listening on %s (tick %v)", addr, cfg.TickInterval())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）
	<-ctx.Done()
	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http shutdown", "err", err)
	}
	<-sessionDone
}
