package http

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/parleyhq/parley/internal/core/port"
	"github.com/parleyhq/parley/internal/protocol"
)

// Hub tracks which websocket client sits in which room and fans envelopes
// out to the other members. It routes on envelope fields only; SDP and ICE
// payloads pass through untouched.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*wsClient]struct{}
	repo  port.MessageRepository
}

func NewHub(repo port.MessageRepository) *Hub {
	return &Hub{
		rooms: make(map[string]map[*wsClient]struct{}),
		repo:  repo,
	}
}

// join registers the client under a room and announces it. The newcomer is
// told about the members already present.
func (h *Hub) join(c *wsClient, roomID string, p protocol.Participant) {
	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*wsClient]struct{})
	}
	existing := make([]*wsClient, 0, len(h.rooms[roomID]))
	for member := range h.rooms[roomID] {
		existing = append(existing, member)
	}
	h.rooms[roomID][c] = struct{}{}
	c.roomID = roomID
	c.participant = p
	h.mu.Unlock()

	for _, member := range existing {
		c.send(protocol.Envelope{
			Type:        protocol.TypeUserJoined,
			RoomID:      roomID,
			Participant: &member.participant,
		})
	}
	h.broadcast(c, protocol.Envelope{
		Type:        protocol.TypeUserJoined,
		RoomID:      roomID,
		Participant: &p,
	})
	log.Info().Str("room_id", roomID).Str("client_id", p.ID).Msg("client joined room")
}

// leave unregisters the client and announces its departure.
func (h *Hub) leave(c *wsClient) {
	h.mu.Lock()
	roomID := c.roomID
	if roomID == "" {
		h.mu.Unlock()
		return
	}
	delete(h.rooms[roomID], c)
	if len(h.rooms[roomID]) == 0 {
		delete(h.rooms, roomID)
	}
	c.roomID = ""
	h.mu.Unlock()

	h.broadcastRoom(roomID, c, protocol.Envelope{
		Type:        protocol.TypeUserLeft,
		RoomID:      roomID,
		Participant: &c.participant,
	})
	log.Info().Str("room_id", roomID).Str("client_id", c.participant.ID).Msg("client left room")
}

// forward relays a call or signal envelope to the other room members.
func (h *Hub) forward(c *wsClient, env protocol.Envelope) {
	h.broadcast(c, env)
}

// message persists a chat message and fans it out as message-received.
func (h *Hub) message(ctx context.Context, c *wsClient, env protocol.Envelope) {
	if env.Message == nil {
		log.Warn().Msg("message-sent without message body")
		return
	}
	if h.repo != nil {
		msg, err := env.ToMessage()
		if err == nil {
			if err := h.repo.Save(ctx, msg); err != nil {
				log.Error().Err(err).Msg("failed to persist message")
			}
		}
	}
	env.Type = protocol.TypeMessageReceived
	h.broadcast(c, env)
}

func (h *Hub) broadcast(from *wsClient, env protocol.Envelope) {
	h.mu.Lock()
	roomID := from.roomID
	h.mu.Unlock()
	if roomID == "" {
		log.Warn().Str("type", string(env.Type)).Msg("envelope from client outside any room dropped")
		return
	}
	h.broadcastRoom(roomID, from, env)
}

func (h *Hub) broadcastRoom(roomID string, from *wsClient, env protocol.Envelope) {
	h.mu.Lock()
	members := make([]*wsClient, 0, len(h.rooms[roomID]))
	for member := range h.rooms[roomID] {
		if member != from {
			members = append(members, member)
		}
	}
	h.mu.Unlock()

	for _, member := range members {
		if err := member.send(env); err != nil {
			log.Error().Err(err).Str("client_id", member.participant.ID).Msg("failed to forward envelope")
		}
	}
}

// Stop disconnects every client.
func (h *Hub) Stop() {
	h.mu.Lock()
	var clients []*wsClient
	for _, room := range h.rooms {
		for c := range room {
			clients = append(clients, c)
		}
	}
	h.rooms = make(map[string]map[*wsClient]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.close(); err != nil {
			log.Error().Err(err).Str("client_id", c.participant.ID).Msg("error closing client connection")
		}
	}
}
