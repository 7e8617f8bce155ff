package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zsazsa/lefauxpain-sub000/internal/adapters/signal"
	"github.com/zsazsa/lefauxpain-sub000/internal/app/sfu"
	"github.com/zsazsa/lefauxpain-sub000/internal/config"
	"github.com/zsazsa/lefauxpain-sub000/internal/domain"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware pins a persistent client identity to the browser
// via the "ct" cookie so reconnects land on the same signaling session.
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

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.Controller, manager *sfu.Manager) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("SFUSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	// Read-only snapshots for late joiners and debugging.
	api.GET("/voice/states/:channel", func(c *gin.Context) {
		channel := domain.ChannelID(c.Param("channel"))
		c.JSON(http.StatusOK, gin.H{
			"channel_id": channel,
			"states":     manager.ListVoiceStates(channel),
		})
	})

	api.GET("/screen/shares", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"shares": manager.ActiveShares()})
	})

	return r
}
