package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nstepura/bridge/internal/adapters/audio"
	"github.com/nstepura/bridge/internal/adapters/eventfeed"
	router "github.com/nstepura/bridge/internal/adapters/http"
	"github.com/nstepura/bridge/internal/adapters/prefs"
	"github.com/nstepura/bridge/internal/adapters/rtc"
	"github.com/nstepura/bridge/internal/app/orch"
	"github.com/nstepura/bridge/internal/config"
	"github.com/nstepura/bridge/internal/core"
)

// openPrefs returns a nil interface when the store cannot be opened, so
// the engine runs without persistence instead of carrying a typed-nil
// store.
func openPrefs(path string) core.PreferenceStore {
	store, err := prefs.NewStore(path)
	if err != nil {
		log.Error().Err(err).Msg("failed to open preferences, device choices will not persist")
		return nil
	}
	return store
}

func devices(in []config.Device) []core.MediaDeviceInfo {
	out := make([]core.MediaDeviceInfo, 0, len(in))
	for _, d := range in {
		out = append(out, core.MediaDeviceInfo{ID: d.ID, Label: d.Label})
	}
	return out
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	graph := audio.NewGraph(ctx)
	media := audio.NewProvider(graph, devices(cfg.InputDevices), devices(cfg.OutputDevices))
	playback := audio.NewSinkProvider(graph)

	engine := orch.New(orch.Options{
		Media:    media,
		Playback: playback,
		Graph:    graph,
		Prefs:    openPrefs(cfg.PrefsPath),

		Metrics:        prometheus.DefaultRegisterer,
		TimerInterval:  cfg.TimerInterval,
		MetricsRefresh: cfg.MetricsRefresh,

		MicLevel:      cfg.MicLevel,
		SpeakerVolume: cfg.SpeakerVolume,
		MuteWhenJoin:  cfg.MuteWhenJoin,
		DND:           cfg.DND,
	})

	rtcCfg := webrtc.Configuration{}
	for _, url := range cfg.STUNServers {
		rtcCfg.ICEServers = append(rtcCfg.ICEServers, webrtc.ICEServer{URLs: []string{url}})
	}
	provider := rtc.NewProvider(rtcCfg, engine)
	engine.SetDialer(provider)
	engine.Start(ctx)

	ctl := router.NewController(engine, provider)
	feed := eventfeed.NewController(engine.Events(), cfg.ReadLimit, cfg.PingPeriod)

	r := router.SetupRouter(ctx, cfg, ctl, feed)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Bridge server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	engine.Shutdown()
	log.Info().Msg("Server exited gracefully")
}
