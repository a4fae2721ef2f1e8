package routes

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const keepAliveInterval = 15 * time.Second

// EventRoutes streams transfer notifications as server-sent events
func EventRoutes(api *gin.RouterGroup, events EventSourceInterface) {
	api.GET("/events", handleEvents(events))
}

func handleEvents(events EventSourceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ch, cancel := events.Subscribe(ctx)
		defer cancel()

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		log.Debug().Str("client_ip", c.ClientIP()).Msg("event stream opened")
		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case event, ok := <-ch:
				if !ok {
					return false
				}
				c.SSEvent(event.Type, event)
				return true
			case <-keepAlive.C:
				c.SSEvent("ping", gin.H{"time": time.Now().UTC()})
				return true
			}
		})
		log.Debug().Str("client_ip", c.ClientIP()).Msg("event stream closed")
	}
}
