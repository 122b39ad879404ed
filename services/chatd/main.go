package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"

	"github.com/blogchat/internal/api"
	"github.com/blogchat/internal/auth"
	"github.com/blogchat/internal/chat"
	"github.com/blogchat/internal/config"
	"github.com/blogchat/internal/handler"
	"github.com/blogchat/internal/logger"
	"github.com/blogchat/internal/middleware"
	"github.com/blogchat/internal/notify"
	"github.com/blogchat/internal/retention"
	"github.com/blogchat/internal/startup"
	"github.com/blogchat/internal/transport"
	"github.com/blogchat/internal/ws"
)

func main() {
	logger.SetPrefix("chatd")
	dev := flag.Bool("dev", false, "keep the snapshot cache in an embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting chat agent")
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("config: %v", err)
		logger.Flush(time.Second)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	ident, err := auth.Resolve(cfg.SessionToken, cfg.UserID, time.Now())
	if err != nil {
		logger.Errorf("identity: %v", err)
		logger.Flush(time.Second)
		os.Exit(1)
	}
	logger.Infof("session user=%s token=%s", ident.User.ID, middleware.MaskToken(cfg.SessionToken))

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			logger.Flush(time.Second)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	snapshots, pruners, err := openSnapshotStore(rootCtx, cfg)
	if err != nil {
		logger.Errorf("snapshot store: %v", err)
		logger.Flush(time.Second)
		os.Exit(1)
	}
	defer snapshots.Close()

	hub := ws.NewHub(nil, 0)
	notifiers := notify.Multi{notify.Log{}, hub}
	var pushH *handler.PushHandler
	vapidPublicKey := ""
	if keys, err := notify.EnsureVAPIDKeys(cfg.Push.VAPIDKeysFile); err != nil {
		logger.Errorf("web push disabled: %v", err)
	} else if wp, err := notify.NewWebPush(keys, cfg.Push.Subscriber, cfg.Push.SubscriptionFile); err != nil {
		logger.Errorf("web push disabled: %v", err)
	} else {
		notifiers = append(notifiers, wp)
		pushH = handler.NewPushHandler(wp)
		vapidPublicKey = wp.PublicKey()
	}

	client := api.NewClient(cfg.APIBaseURL, cfg.SessionToken, cfg.HTTPTimeout)
	session := chat.New(client, chat.Options{
		Self:           ident.User,
		TypingIdle:     cfg.TypingIdle,
		TypingThrottle: cfg.TypingThrottle,
		SendTimeout:    cfg.SendTimeout,
		SingleFlight:   cfg.SingleFlight,
		Snapshots:      snapshots,
		SnapshotTTL:    cfg.Cache.TTL(),
		Notifier:       notifiers,
		OnUpdate:       func(u chat.ViewUpdate) { hub.Publish(u) },
	})
	hub.SetCommander(session)
	session.Start(rootCtx)

	scheduler, err := retention.New(cfg.TrashRefreshCron, session, pruners...)
	if err != nil {
		logger.Errorf("retention: %v", err)
		logger.Flush(time.Second)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		hub.Run(rootCtx)
	}()
	go func() {
		defer wg.Done()
		scheduler.Run(rootCtx)
	}()
	go func() {
		defer wg.Done()
		runTransport(rootCtx, cfg, session)
	}()

	router := handler.NewRouter(handler.Deps{
		Chat:           handler.NewChatHandler(session),
		Messages:       handler.NewMessageHandler(session),
		Config:         handler.NewConfigHandler(cfg, vapidPublicKey),
		Push:           pushH,
		WS:             handler.NewWSHandler(hub, cfg.CORSAllowedOrigins),
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AgentSecret:    cfg.AgentSecret,
		WebDist:        cfg.WebDist,
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("agent listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	rootCancel()
	session.Shutdown()
	wg.Wait()
	logger.Info("agent stopped")
	logger.Flush(2 * time.Second)
}

// runTransport keeps one realtime connection alive. After a drop the
// directory is refetched, since events sent while offline are lost.
func runTransport(ctx context.Context, cfg *config.Config, session *chat.Session) {
	opts := transport.Options{URL: cfg.WSURL, Token: cfg.SessionToken, HandshakeTimeout: 10 * time.Second}
	for ctx.Err() == nil {
		conn, err := startup.ConnectTransportWithRetry(ctx, opts, 24*time.Hour, "chatd: ")
		if err != nil {
			logger.Errorf("transport: %v", err)
			continue
		}
		conn.Start(ctx)
		if err := session.Attach(conn); err != nil {
			logger.Errorf("transport join: %v", err)
		}
		logger.Infof("transport connected to %s", cfg.WSURL)

		if err := session.Run(ctx, conn.Events()); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("session run: %v", err)
		}
		conn.Close()
		conn.Wait()
		if ctx.Err() != nil {
			return
		}
		logger.Info("transport disconnected, reconnecting")
		session.Start(ctx)
	}
}
