// Package hub keeps the connection registry and the per-workspace rooms.
//
// All registry and room state is owned by the goroutine running Hub.Run.
// Other goroutines talk to it through channels, so no locks guard the maps
// and every join+broadcast is applied atomically with respect to other
// frames. Frames published by one goroutine reach each peer in the order
// they were published.
package hub

import (
	"context"
	"errors"
	"log/slog"

	"github.com/karthikraju391/teamchat-gateway/metrics"
)

// ErrStopped is returned when the hub is no longer running.
var ErrStopped = errors.New("hub stopped")

// Delivery reports the fan-out of one broadcast.
type Delivery struct {
	Delivered int
	Dropped   int
}

type Stats struct {
	Connections int
	Rooms       map[string]int // workspace id -> member count
}

type publishRequest struct {
	workspaceID string
	sender      *Client
	payload     []byte
	reply       chan Delivery
}

type Hub struct {
	clients map[string]*Client
	rooms   map[string]map[string]*Client // workspace id -> client id -> client

	register   chan *Client
	unregister chan *Client
	publish    chan *publishRequest
	query      chan func()
	done       chan struct{}

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Hub. Either argument may be nil.
func New(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		publish:    make(chan *publishRequest, 256),
		query:      make(chan func()),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    m,
	}
}

// Run processes hub operations until ctx is cancelled, then closes every
// client's outbound queue.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down", "connections", len(h.clients))
			for _, c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[string]*Client)
			h.rooms = make(map[string]map[string]*Client)
			h.metrics.SetRooms(0)
			return
		case c := <-h.register:
			h.handleRegister(c)
		case c := <-h.unregister:
			h.handleUnregister(c)
		case req := <-h.publish:
			req.reply <- h.handlePublish(req)
		case fn := <-h.query:
			fn()
		}
	}
}

// Wait blocks until Run has returned.
func (h *Hub) Wait() {
	<-h.done
}

// Admit binds c to the registry. It must be called once, after the client's
// credential has been verified.
func (h *Hub) Admit(c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.done:
		return ErrStopped
	}
}

// Remove drops c from the registry and from every room it joined, and closes
// its outbound queue. Removing an unknown client is a no-op.
func (h *Hub) Remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish joins sender to the room of workspaceID and queues payload to every
// open member of that room, sender included. A closed or saturated peer is
// skipped without affecting the others.
func (h *Hub) Publish(workspaceID string, sender *Client, payload []byte) (Delivery, error) {
	req := &publishRequest{
		workspaceID: workspaceID,
		sender:      sender,
		payload:     payload,
		reply:       make(chan Delivery, 1),
	}
	select {
	case h.publish <- req:
	case <-h.done:
		return Delivery{}, ErrStopped
	}
	select {
	case d := <-req.reply:
		return d, nil
	case <-h.done:
		return Delivery{}, ErrStopped
	}
}

// IdentityOf returns the user bound to the connection id.
func (h *Hub) IdentityOf(clientID string) (string, bool) {
	var (
		id string
		ok bool
	)
	h.do(func() {
		var c *Client
		if c, ok = h.clients[clientID]; ok {
			id = c.UserID
		}
	})
	return id, ok
}

// CurrentWorkspace returns the workspace the connection last broadcast into.
func (h *Hub) CurrentWorkspace(clientID string) string {
	var ws string
	h.do(func() {
		if c, ok := h.clients[clientID]; ok {
			ws = c.workspace
		}
	})
	return ws
}

// Stats snapshots registry and room sizes.
func (h *Hub) Stats() Stats {
	s := Stats{Rooms: make(map[string]int)}
	h.do(func() {
		s.Connections = len(h.clients)
		for ws, members := range h.rooms {
			s.Rooms[ws] = len(members)
		}
	})
	return s
}

func (h *Hub) do(fn func()) {
	finished := make(chan struct{})
	select {
	case h.query <- func() { fn(); close(finished) }:
		<-finished
	case <-h.done:
	}
}

func (h *Hub) handleRegister(c *Client) {
	if _, ok := h.clients[c.ID]; ok {
		h.logger.Warn("client already registered", "conn", c.ID)
		return
	}
	h.clients[c.ID] = c
	h.metrics.ConnectionOpened()
	h.logger.Debug("client registered", "conn", c.ID, "user", c.UserID)
}

func (h *Hub) handleUnregister(c *Client) {
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	delete(h.clients, c.ID)
	for ws := range c.rooms {
		h.leave(ws, c)
	}
	c.rooms = make(map[string]struct{})
	close(c.send)
	h.metrics.ConnectionClosed()
	h.metrics.SetRooms(len(h.rooms))
	h.logger.Debug("client unregistered", "conn", c.ID, "user", c.UserID)
}

func (h *Hub) handlePublish(req *publishRequest) Delivery {
	var d Delivery
	sender := req.sender
	if _, ok := h.clients[sender.ID]; !ok {
		// Removed while its frame was being persisted.
		h.logger.Debug("publish from unregistered client", "conn", sender.ID)
	} else {
		h.join(req.workspaceID, sender)
		sender.workspace = req.workspaceID
	}

	for _, c := range h.rooms[req.workspaceID] {
		if c.closed() {
			d.Dropped++
			continue
		}
		select {
		case c.send <- req.payload:
			d.Delivered++
		default:
			d.Dropped++
			h.logger.Warn("outbound queue full, dropping frame", "conn", c.ID, "user", c.UserID, "workspace", req.workspaceID)
		}
	}
	h.metrics.Delivered(d.Delivered)
	h.metrics.Dropped(d.Dropped)
	return d
}

func (h *Hub) join(workspaceID string, c *Client) {
	room, ok := h.rooms[workspaceID]
	if !ok {
		room = make(map[string]*Client)
		h.rooms[workspaceID] = room
		h.metrics.SetRooms(len(h.rooms))
	}
	room[c.ID] = c
	c.rooms[workspaceID] = struct{}{}
}

func (h *Hub) leave(workspaceID string, c *Client) {
	room := h.rooms[workspaceID]
	delete(room, c.ID)
	if len(room) == 0 {
		delete(h.rooms, workspaceID)
	}
}
