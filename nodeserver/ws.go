package nodeserver

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/bartossh/Timesheet/node"
)

const (
	socketWriteWait      = 10 * time.Second
	socketPongWait       = 20 * time.Second
	socketPingPeriod     = (socketPongWait * 4) / 5
	socketMaxMessageSize = 1024
)

const CommandRecorded = "recorded"

// Message is the message pushed to the websocket client for every recorded transition.
type Message struct {
	Command  string         `json:"command"`            // Command is the kind of the pushed information.
	Error    string         `json:"error,omitempty"`    // Error is the error message that is sent to the client.
	Recorded *node.Recorded `json:"recorded,omitempty"` // Recorded is the transition recorded in the vault of the party.
}

func (s *server) upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (s *server) ws() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		sub := s.party.Subscribe()
		defer sub.Cancel()

		ctx, cancel := context.WithCancel(s.ctx)
		defer cancel()

		remote := conn.RemoteAddr().String()
		s.log.Info(fmt.Sprintf("websocket server, new connection from address: %s accepted", remote))

		go s.readPump(conn, remote, cancel)
		s.writePump(ctx, conn, remote, sub.Channel())
	})
}

// readPump only keeps the connection alive, the feed is one way.
func (s *server) readPump(conn *websocket.Conn, remote string, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(socketMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(socketPongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(socketPongWait)) })
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Info(fmt.Sprintf("socket closing connection to the client %s due to unexpected error %s", remote, err))
			}
			return
		}
	}
}

func (s *server) writePump(ctx context.Context, conn *websocket.Conn, remote string, feed <-chan node.Recorded) {
	ticker := time.NewTicker(socketPingPeriod)
	defer func() {
		ticker.Stop()
		conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "party feed stopped"))
		if err != nil {
			s.log.Debug(fmt.Sprintf("socket write closing msg to %s error, %s", remote, err.Error()))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-feed:
			if !ok {
				s.log.Info(fmt.Sprintf("socket closing connection to the client %s due to feed close", remote))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteJSON(Message{Command: CommandRecorded, Recorded: &rec}); err != nil {
				s.log.Error(fmt.Sprintf("socket closing connection to the client %s due to %s", remote, err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.log.Error(fmt.Sprintf("socket closing connection to the client %s due to %s", remote, err))
				return
			}
		}
	}
}
