package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/nstepura/bridge/internal/adapters/eventfeed"
	"github.com/nstepura/bridge/internal/config"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *Controller, feed *eventfeed.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("BridgeSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Str("module", "adapters.http").Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws/events", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws events endpoint hit")
		feed.HandleFeed(ctx, c)
	})

	calls := api.Group("/calls")
	calls.GET("", ctl.ListCalls)
	calls.POST("", ctl.PlaceCall)
	calls.GET("/:id", ctl.GetCall)
	calls.DELETE("/:id", ctl.TerminateCall)
	calls.POST("/:id/hold", ctl.HoldCall)
	calls.POST("/:id/resume", ctl.ResumeCall)
	calls.POST("/:id/move", ctl.MoveCall)
	calls.PUT("/:id/flags", ctl.SetCallFlags)
	calls.GET("/:id/elapsed", ctl.CallElapsed)
	calls.GET("/:id/quality", ctl.CallQuality)
	calls.POST("/:id/answer", ctl.AnswerCall)
	calls.POST("/:id/candidate", ctl.AddCandidate)

	api.POST("/webrtc/offer", ctl.HandleOffer)

	rooms := api.Group("/rooms")
	rooms.GET("", ctl.ListRooms)
	rooms.GET("/:id", ctl.GetRoom)

	api.GET("/active-room", ctl.GetActiveRoom)
	api.PUT("/active-room", ctl.SetActiveRoom)

	settings := api.Group("/settings")
	settings.GET("", ctl.GetSettings)
	settings.PUT("/mute", ctl.SetMute)
	settings.PUT("/dnd", ctl.SetDND)
	settings.PUT("/mute-when-join", ctl.SetMuteWhenJoin)
	settings.PUT("/microphone-level", ctl.SetMicrophoneLevel)
	settings.PUT("/speaker-volume", ctl.SetSpeakerVolume)

	devices := api.Group("/devices")
	devices.GET("", ctl.ListDevices)
	devices.PUT("/microphone", ctl.SetMicrophone)
	devices.PUT("/speaker", ctl.SetSpeaker)

	return r
}
