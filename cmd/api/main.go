package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"siteos/internal/auth"
	"siteos/internal/calls"
	"siteos/internal/config"
	"siteos/internal/credential"
	"siteos/internal/directory"
	"siteos/internal/geo"
	"siteos/internal/history"
	"siteos/internal/httpapi"
	"siteos/internal/presence"
	"siteos/internal/routing"
	"siteos/internal/softphone"
	"siteos/internal/ws"
	"siteos/pkg/logger"
	"siteos/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	var rdb *redis.Client
	if cfg.RedisAddr() != "" {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	repo, err := loadDirectory(cfg)
	if err != nil {
		log.Error("directory load failed", "err", err)
		os.Exit(1)
	}

	hub := ws.NewHub(log)
	defer hub.Close()

	creds := credential.NewManager(cfg.Voice.TokenEndpoint, log)
	controller := softphone.NewController(transportFactory(cfg, log), creds, cfg.Dial.CountryCode, log)
	defer controller.Teardown()

	fence := geo.Fence{Lat: cfg.Site.Lat, Lng: cfg.Site.Lng, RadiusMeters: cfg.Site.RadiusMeters}
	hist := history.NewLog()
	rules := routing.NewStore(routing.DefaultRules())

	service := calls.NewService(calls.Deps{
		Controller:  controller,
		Rules:       rules,
		Directory:   repo,
		History:     hist,
		Hub:         hub,
		Fence:       fence,
		CountryCode: cfg.Dial.CountryCode,
		CallerID:    cfg.Voice.CallerID,
		SiteID:      cfg.Site.Name,
		Log:         log,
	})

	// Register the softphone. A gateway outage at boot is not fatal: the
	// process serves presence and history while dialing stays unavailable.
	if cfg.Voice.GatewayURL == "" {
		log.Warn("voice gateway not configured; dialing disabled")
	} else if cred, err := creds.Fetch(rootCtx, cfg.Voice.Identity); err != nil {
		log.Error("voice credential fetch failed", "err", err)
	} else if err := controller.SetCredential(rootCtx, cred); err != nil {
		log.Error("softphone registration failed", "err", err)
	}

	var feed *presence.Feed
	if rdb != nil {
		feed = presence.NewFeed(rdb, cfg.Redis.PresenceChannel, cfg.Voice.Identity, repo, log)
		feed.Start(rootCtx)
		defer feed.Stop()
	}

	sampler := presence.NewPushSampler()
	tracker := presence.NewTracker(sampler, log)
	err = tracker.Start(rootCtx, presence.Config{
		CenterLat:      cfg.Site.Lat,
		CenterLng:      cfg.Site.Lng,
		RadiusMeters:   cfg.Site.RadiusMeters,
		SampleInterval: cfg.Site.HeartbeatInterval,
	}, func(s presence.Sample) {
		if e, ok := repo.Get(cfg.Voice.Identity); ok {
			repo.SetPresence(e.ID, e.Status, &directory.Location{Lat: s.Lat, Lng: s.Lng})
		}
	}, func(status directory.Status) {
		repo.SetPresence(cfg.Voice.Identity, status, lastLocation(tracker))
		hub.Broadcast(ws.EventPresenceUpdate, gin.H{"user_id": cfg.Voice.Identity, "status": status})
		if feed != nil {
			feed.Publish(rootCtx, status, tracker.State().LastSample)
		}
		log.Info("presence status changed", "user_id", cfg.Voice.Identity, "status", status)
	})
	if err != nil {
		log.Error("presence tracker start failed", "err", err)
		os.Exit(1)
	}
	defer tracker.Stop()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Site: httpapi.SiteInfo{
			Name:            cfg.Site.Name,
			Lat:             cfg.Site.Lat,
			Lng:             cfg.Site.Lng,
			RadiusMeters:    cfg.Site.RadiusMeters,
			EmergencyNumber: cfg.Site.EmergencyNumber,
			CountryCode:     cfg.Dial.CountryCode,
		},
		Auth:      authManager,
		Calls:     service,
		Phone:     controller,
		Creds:     creds,
		Rules:     rules,
		Directory: repo,
		Tracker:   tracker,
		Sampler:   sampler,
		Hub:       hub,
	}
	registerRoutes(r, h, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "site", cfg.Site.Name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

func loadDirectory(cfg config.Config) (*directory.Repo, error) {
	if cfg.Site.ContactsFile != "" {
		return directory.LoadFile(cfg.Site.ContactsFile)
	}
	return directory.NewRepo(nil), nil
}

func transportFactory(cfg config.Config, log *slog.Logger) softphone.TransportFactory {
	return func(cred credential.Credential) (softphone.Transport, error) {
		return softphone.NewWSTransport(cfg.Voice.GatewayURL, cred, log)
	}
}

func lastLocation(t *presence.Tracker) *directory.Location {
	if s := t.State().LastSample; s != nil {
		return &directory.Location{Lat: s.Lat, Lng: s.Lng}
	}
	return nil
}
