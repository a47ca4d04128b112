// Package router manages room membership for live connections and delivers
// outbound events by room address or by participant identity.
package router

import (
	"sort"
	"sync"

	"github.com/npezzotti/go-polyglot/internal/presence"
	"github.com/sirupsen/logrus"
)

// Conn is a live connection the router can emit events to. Send must not
// block; it reports false when the event was dropped.
type Conn interface {
	Handle() presence.Handle
	Send(event string, data any) bool
}

// Directory resolves identities to their current record. presence.Registry
// satisfies it.
type Directory interface {
	Lookup(identity presence.Identity) (presence.Participant, error)
}

type Router struct {
	log       *logrus.Logger
	directory Directory

	mu          sync.RWMutex
	conns       map[presence.Handle]Conn
	rooms       map[Address]map[presence.Handle]struct{}
	memberships map[presence.Handle]map[Address]struct{}
}

func NewRouter(logger *logrus.Logger, directory Directory) *Router {
	if logger == nil {
		logger = logrus.New()
	}

	return &Router{
		log:         logger,
		directory:   directory,
		conns:       make(map[presence.Handle]Conn),
		rooms:       make(map[Address]map[presence.Handle]struct{}),
		memberships: make(map[presence.Handle]map[Address]struct{}),
	}
}

// Attach makes conn reachable by its handle.
func (r *Router) Attach(conn Conn) {
	r.mu.Lock()
	r.conns[conn.Handle()] = conn
	r.mu.Unlock()
}

// Detach forgets handle and removes it from every room it joined. It returns
// the addresses that were left.
func (r *Router) Detach(handle presence.Handle) []Address {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []Address
	for addr := range r.memberships[handle] {
		left = append(left, addr)
		r.leaveLocked(handle, addr)
	}
	delete(r.memberships, handle)
	delete(r.conns, handle)

	sort.Slice(left, func(i, j int) bool { return left[i].key < left[j].key })
	return left
}

// Join subscribes handle to address, creating the room on first use. Joining
// with a handle that is not attached is ignored.
func (r *Router) Join(handle presence.Handle, address Address) bool {
	r.mu.Lock()
	if _, ok := r.conns[handle]; !ok {
		r.mu.Unlock()
		r.log.WithFields(logrus.Fields{
			"handle": handle,
			"room":   address,
		}).WithError(presence.ErrOrphanedHandle).Warn("join from detached handle")
		return false
	}

	room := r.rooms[address]
	if room == nil {
		room = make(map[presence.Handle]struct{})
		r.rooms[address] = room
	}
	room[handle] = struct{}{}

	joined := r.memberships[handle]
	if joined == nil {
		joined = make(map[Address]struct{})
		r.memberships[handle] = joined
	}
	joined[address] = struct{}{}
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"handle": handle, "room": address}).Debug("joined room")
	return true
}

// Leave unsubscribes handle from address. It reports false when handle was
// not a member.
func (r *Router) Leave(handle presence.Handle, address Address) bool {
	r.mu.Lock()
	_, member := r.rooms[address][handle]
	if member {
		r.leaveLocked(handle, address)
	}
	r.mu.Unlock()

	fields := logrus.Fields{"handle": handle, "room": address}
	if !member {
		r.log.WithFields(fields).WithError(presence.ErrOrphanedHandle).Debug("leave for non-member")
		return false
	}

	r.log.WithFields(fields).Debug("left room")
	return true
}

func (r *Router) leaveLocked(handle presence.Handle, address Address) {
	if room := r.rooms[address]; room != nil {
		delete(room, handle)
		if len(room) == 0 {
			delete(r.rooms, address)
		}
	}
	if joined := r.memberships[handle]; joined != nil {
		delete(joined, address)
		if len(joined) == 0 {
			delete(r.memberships, handle)
		}
	}
}

// Deliver sends the event to every handle joined to address and returns how
// many accepted it. An empty room is not an error.
func (r *Router) Deliver(address Address, event string, data any) int {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.rooms[address]))
	for handle := range r.rooms[address] {
		if conn, ok := r.conns[handle]; ok {
			targets = append(targets, conn)
		}
	}
	r.mu.RUnlock()

	return send(targets, event, data)
}

// DeliverDirect sends the event to the handle currently bound to identity.
// Unknown or unbound identities receive nothing.
func (r *Router) DeliverDirect(identity presence.Identity, event string, data any) int {
	p, err := r.directory.Lookup(identity)
	if err != nil || !p.Online() {
		return 0
	}

	r.mu.RLock()
	conn, ok := r.conns[p.Handle]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	return send([]Conn{conn}, event, data)
}

// Broadcast sends the event to every attached connection.
func (r *Router) Broadcast(event string, data any) int {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	return send(targets, event, data)
}

// Members returns the handles joined to address in sorted order.
func (r *Router) Members(address Address) []presence.Handle {
	r.mu.RLock()
	handles := make([]presence.Handle, 0, len(r.rooms[address]))
	for handle := range r.rooms[address] {
		handles = append(handles, handle)
	}
	r.mu.RUnlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}

// NumRooms returns the number of non-empty rooms.
func (r *Router) NumRooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func send(targets []Conn, event string, data any) int {
	delivered := 0
	for _, conn := range targets {
		if conn.Send(event, data) {
			delivered++
		}
	}
	return delivered
}
