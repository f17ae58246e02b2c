// Package http exposes hub state to UI consumers: thread lists, event lists,
// connection and voice status, sends, and PTT transitions.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dispatchhq/commshub/internal/app"
	"github.com/dispatchhq/commshub/internal/app/voice"
	"github.com/dispatchhq/commshub/internal/config"
	"github.com/dispatchhq/commshub/internal/domain"
)

func SetupRouter(cfg *config.Config, hub *app.Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	log.Info().Str("module", "adapters.http").Msg("router setup")

	api := r.Group("/api")

	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"connection": hub.ConnState(),
			"voice":      hub.Voice.Snapshot(),
		})
	})

	api.GET("/threads", func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.Store.Threads())
	})

	api.GET("/threads/:id/events", func(c *gin.Context) {
		id := domain.ThreadID(c.Param("id"))
		if !hub.Store.HasThread(id) {
			c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"events":  hub.Store.List(id),
			"summary": hub.Store.Summarize(id),
		})
	})

	api.POST("/threads/:id/read", func(c *gin.Context) {
		hub.Store.MarkRead(domain.ThreadID(c.Param("id")))
		c.Status(http.StatusNoContent)
	})

	api.POST("/threads/:id/messages", func(c *gin.Context) {
		var req struct {
			Body    string `json:"body" binding:"required"`
			Channel string `json:"channel"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		channel := domain.Channel(req.Channel)
		if channel == "" {
			channel = domain.ChannelInApp
		}
		ev, err := hub.Dispatcher.SendThreadMessage(c.Request.Context(), domain.ThreadID(c.Param("id")), req.Body, channel)
		if err != nil {
			c.JSON(sendStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, ev)
	})

	api.POST("/send", func(c *gin.Context) {
		var req struct {
			Channel string `json:"channel" binding:"required"`
			Target  string `json:"target" binding:"required"`
			Subject string `json:"subject"`
			Body    string `json:"body"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		err := hub.Dispatcher.SendDirect(c.Request.Context(), domain.Channel(req.Channel), req.Target,
			app.DirectMessage(req.Subject, req.Body))
		if err != nil {
			c.JSON(sendStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusAccepted)
	})

	v := api.Group("/voice")
	v.POST("/join", func(c *gin.Context) {
		if err := hub.JoinVoice(); err != nil {
			c.JSON(voiceStatus(err), gin.H{"error": err.Error(), "voice": hub.Voice.Snapshot()})
			return
		}
		c.JSON(http.StatusOK, hub.Voice.Snapshot())
	})
	v.POST("/leave", func(c *gin.Context) {
		_ = hub.Voice.Leave()
		c.JSON(http.StatusOK, hub.Voice.Snapshot())
	})
	v.POST("/hold", func(c *gin.Context) {
		if err := hub.Voice.HoldStart(); err != nil {
			c.JSON(voiceStatus(err), gin.H{"error": err.Error(), "voice": hub.Voice.Snapshot()})
			return
		}
		c.JSON(http.StatusOK, hub.Voice.Snapshot())
	})
	v.POST("/unhold", func(c *gin.Context) {
		if err := hub.Voice.HoldEnd(); err != nil {
			c.JSON(voiceStatus(err), gin.H{"error": err.Error(), "voice": hub.Voice.Snapshot()})
			return
		}
		c.JSON(http.StatusOK, hub.Voice.Snapshot())
	})

	return r
}

func sendStatus(err error) int {
	switch {
	case errors.Is(err, app.ErrUnknownThread):
		return http.StatusNotFound
	case errors.Is(err, app.ErrUnknownChannel):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func voiceStatus(err error) int {
	switch {
	case errors.Is(err, voice.ErrVoiceUnavailable), errors.Is(err, voice.ErrNoMediaCapability):
		return http.StatusServiceUnavailable
	case errors.Is(err, voice.ErrSessionActive), errors.Is(err, voice.ErrNotReady):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
