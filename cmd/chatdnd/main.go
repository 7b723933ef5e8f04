package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/WolfwithSword/TwitchChatDND/internal/bus"
	"github.com/WolfwithSword/TwitchChatDND/internal/chat"
	"github.com/WolfwithSword/TwitchChatDND/internal/config"
	"github.com/WolfwithSword/TwitchChatDND/internal/dispatch"
	"github.com/WolfwithSword/TwitchChatDND/internal/logging"
	"github.com/WolfwithSword/TwitchChatDND/internal/overlay"
	"github.com/WolfwithSword/TwitchChatDND/internal/server"
	"github.com/WolfwithSword/TwitchChatDND/internal/session"
	"github.com/WolfwithSword/TwitchChatDND/internal/store"
	"github.com/WolfwithSword/TwitchChatDND/internal/tts"
	"github.com/WolfwithSword/TwitchChatDND/internal/twitch"
)

const (
	defaultConfigPath = "settings.ini"
	shutdownTimeout   = 10 * time.Second
	voiceSyncTimeout  = 30 * time.Second
)

func configPath() string {
	if p := os.Getenv("CHATDND_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

func setupConfig() *config.Config {
	cfg, err := config.Load(configPath())
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupStore(cfg *config.Config) *store.Store {
	st, err := store.Open(cfg.Get(config.SectionServer, "db_path"))
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	return st
}

func setupTwitch(cfg *config.Config, clock clockwork.Clock) *twitch.Client {
	clientID, clientSecret, ok := cfg.TwitchAuth()
	if !ok {
		slog.Error("Twitch client id and secret are required; set twitch.client_id and twitch.client_secret")
		os.Exit(1)
	}

	client, err := twitch.NewClient(twitch.Credentials{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		UserToken:    cfg.Get(config.SectionTwitch, "user_token"),
		RefreshToken: cfg.Get(config.SectionTwitch, "refresh_token"),
		BotUserID:    cfg.Get(config.SectionTwitch, "bot_user_id"),
	}, clock)
	if err != nil {
		slog.Error("Failed to create Twitch client", "error", err)
		os.Exit(1)
	}
	return client
}

func main() {
	_ = godotenv.Load()

	clock := clockwork.NewRealClock()
	cfg := setupConfig()

	logging.InitLogger(cfg.Get(config.SectionLog, "level"), cfg.Get(config.SectionLog, "format"))
	slog.Info("Application starting", "port", cfg.GetInt(config.SectionServer, "port"))

	st := setupStore(cfg)
	defer func() { _ = st.Close() }()

	// TTS engines. StreamElements and local are always on; ElevenLabs joins
	// when a key is configured.
	localEngine := tts.NewLocalEngine(tts.LocalOptions{
		Command: cfg.Get(config.SectionTTS, "local_command"),
	})
	streamElements := tts.NewStreamElements(nil)
	elevenLabs := tts.NewElevenLabs(cfg.Get(config.SectionTTS, "elevenlabs_api_key"), nil)
	speakers := tts.NewRegistry(localEngine, streamElements, elevenLabs)

	syncCtx, cancelSync := context.WithTimeout(context.Background(), voiceSyncTimeout)
	tts.SyncVoices(syncCtx, st.Voices(), speakers)
	cancelSync()

	disp := dispatch.New(dispatch.DefaultCapacity)
	events := bus.NewRegistry(disp)

	mgr := session.NewManager(events, st.Members(), disp, session.Options{
		PartySize: cfg.GetInt(config.SectionDnD, "party_size"),
		PartyCap:  cfg.GetInt(config.SectionDnD, "party_cap"),
		Clock:     clock,
	})

	hub := overlay.NewHub(clock)
	bridge := overlay.NewBridge(hub, speakers, st.Voices(), events, mgr.Party, clock)

	twitchClient := setupTwitch(cfg, clock)
	supervisor := twitch.NewSupervisor(twitchClient, cfg.Get(config.SectionTwitch, "channel"), events, clock)

	resolver := tts.NewResolver(streamElements, localEngine, elevenLabs, st.Voices())
	controller := chat.NewController(chat.Options{
		Config:      cfg,
		Session:     mgr,
		Members:     st.Members(),
		Voices:      st.Voices(),
		Profiles:    twitchClient,
		Resolver:    resolver,
		LocalVoices: localEngine,
		Sender:      supervisor,
		Events:      events,
		Clock:       clock,
	})
	supervisor.OnMessage = controller.HandleMessage

	lookupAvatar := func(ctx context.Context, login string) (string, error) {
		user, err := twitchClient.GetUserByName(ctx, login)
		if err != nil {
			return "", err
		}
		return user.ProfileImageURL, nil
	}

	srv := server.NewServer(cfg, mgr, controller, st.Members(), hub, events, lookupAvatar, []server.HealthCheck{
		{Name: "store", Check: st.Ping},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return disp.Run(groupCtx) })
	group.Go(func() error { return bridge.Run(groupCtx) })
	group.Go(func() error { return supervisor.Run(groupCtx) })
	group.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		hub.Stop()
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Application exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}
