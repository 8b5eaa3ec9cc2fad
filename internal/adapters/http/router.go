package http

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshcall/internal/call"
	"github.com/dkeye/meshcall/internal/config"
)

func genClientToken() string {
	return uuid.NewString()
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

// SetupRouter exposes the local control surface over the running call
// session: state inspection plus mute/video/leave controls.
func SetupRouter(cfg *config.Config, sess *call.Session) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("MeshcallSessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "adapters.http").Int("port", cfg.Port).Msg("router setup")

	api := r.Group("/api")

	api.GET("/status", func(c *gin.Context) {
		info := sess.Info()
		c.JSON(http.StatusOK, gin.H{
			"call_id":  info.ID,
			"group_id": info.Group,
			"status":   info.Status.String(),
		})
	})

	api.GET("/participants", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"participants": sess.Participants()})
	})

	api.POST("/mute", func(c *gin.Context) {
		muted := sess.ToggleMute()
		log.Info().Str("module", "adapters.http").
			Str("sid", c.GetString("client_token")).Bool("muted", muted).Msg("mute toggle")
		c.JSON(http.StatusOK, gin.H{"muted": muted})
	})

	api.POST("/video", func(c *gin.Context) {
		enabled := sess.ToggleVideo()
		log.Info().Str("module", "adapters.http").
			Str("sid", c.GetString("client_token")).Bool("video_enabled", enabled).Msg("video toggle")
		c.JSON(http.StatusOK, gin.H{"video_enabled": enabled})
	})

	api.POST("/leave", func(c *gin.Context) {
		sess.Leave()
		c.JSON(http.StatusOK, gin.H{"status": sess.Status().String()})
	})

	return r
}
