package realtime

import (
	"log"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Hub routes events between the presence registry and connected clients over
// three channel kinds: per-identity, per-ride, and role-broadcast. It never
// reorders: the state machine is the single authoritative writer, the hub
// only fans out what it is handed, stamping a per-ride sequence number so
// recipients observe status events in apply order.
type Hub struct {
	presence PresenceStore

	mu        sync.RWMutex
	rideRooms map[string]map[string]bool // rideID -> set of userIDs
	rideSeq   map[string]*atomic.Int64

	delivered atomic.Int64
	dropped   atomic.Int64
}

func NewHub(presence PresenceStore) *Hub {
	return &Hub{
		presence:  presence,
		rideRooms: make(map[string]map[string]bool),
		rideSeq:   make(map[string]*atomic.Int64),
	}
}

func (h *Hub) Presence() PresenceStore {
	return h.presence
}

// Bind attaches an authenticated identity to the hub.
func (h *Hub) Bind(userID, role, vehicleType string, session Sender) {
	h.presence.Set(PresenceEntry{
		UserID:      userID,
		Role:        role,
		VehicleType: vehicleType,
		Session:     session,
	})
}

// Unbind removes the identity's presence entry and its ride-room
// memberships. Persisted ride state is deliberately untouched.
func (h *Hub) Unbind(userID string) {
	h.presence.Remove(userID)

	h.mu.Lock()
	defer h.mu.Unlock()
	for rideID, members := range h.rideRooms {
		delete(members, userID)
		if len(members) == 0 {
			delete(h.rideRooms, rideID)
		}
	}
}

// JoinRide subscribes an identity to a ride's channel. Party membership is
// checked by the caller; the hub only manages the room.
func (h *Hub) JoinRide(rideID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rideRooms[rideID] == nil {
		h.rideRooms[rideID] = make(map[string]bool)
	}
	h.rideRooms[rideID][userID] = true
}

func (h *Hub) LeaveRide(rideID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rideRooms[rideID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(h.rideRooms, rideID)
		}
	}
}

// CloseRide tears down a ride room after a terminal transition.
func (h *Hub) CloseRide(rideID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rideRooms, rideID)
	delete(h.rideSeq, rideID)
}

func (h *Hub) nextSeq(rideID string) int64 {
	h.mu.Lock()
	seq, ok := h.rideSeq[rideID]
	if !ok {
		seq = atomic.NewInt64(0)
		h.rideSeq[rideID] = seq
	}
	h.mu.Unlock()
	return seq.Inc()
}

func (h *Hub) send(entry PresenceEntry, evt Envelope) {
	if err := entry.Session.SendEvent(evt); err != nil {
		h.dropped.Inc()
		log.Printf("realtime: send to %s failed: %v", entry.UserID, err)
		return
	}
	h.delivered.Inc()
}

// ToUser delivers an event on an identity's personal channel. Delivery to a
// disconnected identity is silently skipped; the durable store remains the
// source of truth they resync from.
func (h *Hub) ToUser(userID string, event string, payload interface{}) {
	entry, ok := h.presence.Get(userID)
	if !ok {
		return
	}
	h.send(entry, Envelope{Type: event, At: time.Now(), Data: payload})
}

// ToRide delivers an event to every member of the ride room, stamped with the
// ride's next sequence number.
func (h *Hub) ToRide(rideID string, event string, payload interface{}) {
	seq := h.nextSeq(rideID)

	h.mu.RLock()
	members := make([]string, 0, len(h.rideRooms[rideID]))
	for userID := range h.rideRooms[rideID] {
		members = append(members, userID)
	}
	h.mu.RUnlock()

	evt := Envelope{Type: event, Seq: seq, At: time.Now(), Data: payload}
	for _, userID := range members {
		if entry, ok := h.presence.Get(userID); ok {
			h.send(entry, evt)
		}
	}
}

// ToRole broadcasts an event to every connected identity with the role.
func (h *Hub) ToRole(role string, event string, payload interface{}) {
	evt := Envelope{Type: event, At: time.Now(), Data: payload}
	for _, entry := range h.presence.ListByRole(role) {
		h.send(entry, evt)
	}
}

// Delivered returns the number of successfully pushed events.
func (h *Hub) Delivered() int64 {
	return h.delivered.Load()
}

// Dropped returns the number of events whose push failed.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
