package broadcast

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"crisiswatch/internal/constants"
	"crisiswatch/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from arbitrary origins in dev; auth happens
	// at the gateway in front of this service.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// controlMessage is what a client sends to change its subscriptions.
type controlMessage struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// WebSocketHandler upgrades a connection and wires it into the hub. Initial
// channels come from the `channels` query parameter; unknown channel names
// are silently dropped.
func WebSocketHandler(hub *Hub, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warnw("WebSocket upgrade failed", "error", err)
			return
		}

		channels := parseChannels(c.Query("channels"))
		if len(channels) == 0 {
			channels = hub.cfg.DefaultChannels
		}
		if len(channels) == 0 {
			channels = []string{constants.ChannelAlertsAll}
		}

		sub := NewSubscriber(uuid.NewString(), filterKnown(channels), hub.SendBuffer())
		hub.Register(sub)

		go writePump(conn, sub, hub, log)
		go readPump(conn, sub, hub, log)
	}
}

func parseChannels(raw string) []string {
	if raw == "" {
		return nil
	}

	var channels []string
	for _, c := range strings.Split(raw, ",") {
		c = strings.TrimSpace(c)
		if c != "" {
			channels = append(channels, c)
		}
	}
	return channels
}

func filterKnown(channels []string) []string {
	var known []string
	for _, c := range channels {
		for _, k := range constants.KnownChannels() {
			if c == k {
				known = append(known, c)
				break
			}
		}
	}
	return known
}

// readPump consumes subscription changes and keeps the liveness clock
// ticking. It owns teardown: when the read side ends, the subscriber is
// unregistered and the write pump drains out.
func readPump(conn *websocket.Conn, sub *Subscriber, hub *Hub, log logger.Logger) {
	defer func() {
		hub.Unregister(sub.ID)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		sub.Touch()
		return nil
	})

	for {
		var msg controlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debugw("WebSocket read error",
					"subscriber_id", sub.ID,
					"error", err,
				)
			}
			return
		}

		sub.Touch()

		switch msg.Action {
		case "subscribe":
			for _, c := range filterKnown(msg.Channels) {
				sub.Subscribe(c)
			}
		case "unsubscribe":
			for _, c := range msg.Channels {
				sub.Unsubscribe(c)
			}
		case "ping":
			// liveness only, Touch above already did the work
		default:
			log.Debugw("Ignoring unknown control action",
				"subscriber_id", sub.ID,
				"action", msg.Action,
			)
		}
	}
}

// writePump drains the subscriber outbox onto the wire and pings on the hub
// heartbeat period.
func writePump(conn *websocket.Conn, sub *Subscriber, hub *Hub, log logger.Logger) {
	ticker := time.NewTicker(hub.cfg.HeartbeatPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.Outbox():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debugw("WebSocket write failed",
					"subscriber_id", sub.ID,
					"error", err,
				)
				hub.Unregister(sub.ID)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				hub.Unregister(sub.ID)
				return
			}
		}
	}
}
