package http

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/parleyhq/parley/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// TODO: restrict origins before exposing the relay publicly
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one relay connection. Room membership fields are guarded by
// the hub mutex.
type wsClient struct {
	conn        *websocket.Conn
	writeMu     sync.Mutex
	roomID      string
	participant protocol.Participant
}

func (c *wsClient) send(env protocol.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

func (c *wsClient) close() error {
	return c.conn.Close()
}

// ServeWS upgrades the connection and relays envelopes until it drops. The
// first envelope must be join-room; everything before that is ignored.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn}
	l := log.With().Str("remote", conn.RemoteAddr().String()).Logger()
	l.Info().Msg("client connected")

	defer func() {
		l.Info().Msg("client disconnected")
		h.hub.leave(client)
		conn.Close()
	}()

	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("unexpected close error")
			}
			return
		}

		switch env.Type {
		case protocol.TypeJoinRoom:
			if env.Participant == nil || env.RoomID == "" {
				l.Warn().Msg("join-room without participant or room")
				continue
			}
			h.hub.join(client, env.RoomID, *env.Participant)
		case protocol.TypeCallInvite, protocol.TypeCallResponse,
			protocol.TypeWebRTCSignal, protocol.TypeCallEnd:
			h.hub.forward(client, env)
		case protocol.TypeMessageSent:
			h.hub.message(r.Context(), client, env)
		default:
			l.Warn().Str("type", string(env.Type)).Msg("unknown envelope type dropped")
		}
	}
}
