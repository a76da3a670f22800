package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"railway-accident-analytics/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var liveChannels = []string{services.ChannelLive, services.ChannelPredictions, services.ChannelDispatches}

// liveMessage is what a websocket client receives: the source channel and
// the published payload as raw JSON.
type liveMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

func LiveWebSocket(cache *services.CacheService, authService *services.AuthService, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := c.Query("token")
		if tokenStr == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token query parameter"})
			return
		}

		claims, err := authService.ValidateToken(tokenStr)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		if !cache.Available() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live updates unavailable"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.WithError(err).Warn("websocket upgrade failed")
			return
		}
		defer conn.Close()
		log := logger.WithField("user_id", claims.UserID)

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		// Read pump: detect client disconnect
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		pubsub := cache.Subscribe(ctx, liveChannels...)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				data := json.RawMessage(msg.Payload)
				if !json.Valid(data) {
					data, _ = json.Marshal(msg.Payload)
				}
				if err := conn.WriteJSON(liveMessage{Channel: msg.Channel, Data: data}); err != nil {
					log.WithError(err).Debug("ws write failed")
					return
				}
			}
		}
	}
}
