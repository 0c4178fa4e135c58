package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cloakshare/relay/internal/adapters/signal"
	"github.com/cloakshare/relay/internal/app"
	"github.com/cloakshare/relay/internal/config"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware assigns every browser a long-lived token cookie.
// It identifies the client across reconnects, which is what the create
// rate limiter keys on; connection ids are fresh per socket.
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

func SetupRouter(ctx context.Context, cfg *config.Config, relay *app.Relay, ctrl *signal.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RelaySessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	// GET /api/stats reports live counters.
	api.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"sessions":    relay.Directory.Count(),
			"connections": relay.Registry.Count(),
		})
	})

	// GET /api/sessions lists the directory without message contents.
	api.GET("/sessions", func(c *gin.Context) {
		type sessionInfo struct {
			ID      string `json:"id"`
			Kind    string `json:"kind"`
			Status  string `json:"status"`
			Members int    `json:"members"`
		}
		list := relay.Directory.List()
		out := make([]sessionInfo, 0, len(list))
		for _, s := range list {
			out = append(out, sessionInfo{
				ID:      string(s.ID()),
				Kind:    string(s.Kind()),
				Status:  string(s.Status()),
				Members: s.MemberCount(),
			})
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out})
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
