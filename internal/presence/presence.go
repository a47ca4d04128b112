// Package presence tracks which participants are known to the relay and
// which connection handle, if any, currently reaches each of them.
package presence

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/npezzotti/go-polyglot/internal/language"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound        = errors.New("participant not found")
	ErrOrphanedHandle  = errors.New("orphaned connection handle")
	ErrInvalidIdentity = errors.New("identity cannot be empty")
)

// Identity is the stable external key of a participant, usually an email.
type Identity string

// ParseIdentity trims surrounding whitespace so every entry point keys the
// registry the same way.
func ParseIdentity(s string) Identity {
	return Identity(strings.TrimSpace(s))
}

// Handle identifies one live transport connection.
type Handle string

// Participant is a copy of a registry record. Handle is empty while the
// participant has no bound connection.
type Participant struct {
	Identity Identity      `json:"email"`
	Name     string        `json:"name"`
	Language language.Code `json:"language"`
	Handle   Handle        `json:"-"`
}

func (p Participant) Online() bool {
	return p.Handle != ""
}

// RosterEntry is the public view of a participant.
type RosterEntry struct {
	Name     string   `json:"name"`
	Identity Identity `json:"email"`
}

type RosterSnapshot []RosterEntry

type ChangeKind int

const (
	Joined ChangeKind = iota + 1
	Left
)

func (k ChangeKind) String() string {
	switch k {
	case Joined:
		return "joined"
	case Left:
		return "left"
	default:
		return "unknown"
	}
}

// RosterChange is emitted to listeners after every connect and disconnect.
type RosterChange struct {
	Kind        ChangeKind
	Participant Participant
	Roster      RosterSnapshot
}

type Listener func(RosterChange)

// Registry is the single owner of participant records. All methods are safe
// for concurrent use; listeners run after the registry lock is released.
type Registry struct {
	log       *logrus.Logger
	languages *language.Resolver

	mu           sync.RWMutex
	participants map[Identity]Participant

	listenersMu  sync.Mutex
	listeners    map[int]Listener
	nextListener int
}

// NewRegistry creates an empty registry. When languages is nil any language
// code is accepted.
func NewRegistry(logger *logrus.Logger, languages *language.Resolver) *Registry {
	if logger == nil {
		logger = logrus.New()
	}

	return &Registry{
		log:          logger,
		languages:    languages,
		participants: make(map[Identity]Participant),
		listeners:    make(map[int]Listener),
	}
}

// Connect registers identity if it is new and returns the stored record with
// the current roster. An existing record keeps the name and language it was
// first created with.
func (r *Registry) Connect(identity Identity, name string, code language.Code) (Participant, RosterSnapshot, error) {
	identity = ParseIdentity(string(identity))
	if identity == "" {
		return Participant{}, nil, ErrInvalidIdentity
	}
	if r.languages != nil && !r.languages.Supported(code) {
		return Participant{}, nil, fmt.Errorf("%w: %q", language.ErrUnsupportedLanguage, code)
	}

	r.mu.Lock()
	p, ok := r.participants[identity]
	if !ok {
		p = Participant{
			Identity: identity,
			Name:     name,
			Language: code,
		}
		r.participants[identity] = p
	}
	roster := r.rosterLocked()
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"identity": identity,
		"language": p.Language,
		"existing": ok,
	}).Info("participant connected")

	r.notify(RosterChange{Kind: Joined, Participant: p, Roster: roster})
	return p, roster, nil
}

// BindConnection records that identity is reachable at handle, replacing any
// previous handle. An unknown identity is logged and ignored; it usually means
// the client joined before completing connect.
func (r *Registry) BindConnection(identity Identity, handle Handle) bool {
	identity = ParseIdentity(string(identity))
	if handle == "" {
		r.log.WithField("identity", identity).Warn("refusing to bind empty connection handle")
		return false
	}

	r.mu.Lock()
	p, ok := r.participants[identity]
	if ok {
		p.Handle = handle
		r.participants[identity] = p
	}
	r.mu.Unlock()

	fields := logrus.Fields{"identity": identity, "handle": handle}
	if !ok {
		r.log.WithFields(fields).WithError(ErrOrphanedHandle).Warn("bind for unknown participant")
		return false
	}

	r.log.WithFields(fields).Infof("%s has joined their room", p.Name)
	return true
}

// Lookup returns a copy of the participant record.
func (r *Registry) Lookup(identity Identity) (Participant, error) {
	identity = ParseIdentity(string(identity))
	r.mu.RLock()
	p, ok := r.participants[identity]
	r.mu.RUnlock()

	if !ok {
		return Participant{}, fmt.Errorf("%w: %q", ErrNotFound, identity)
	}
	return p, nil
}

// LookupHandle returns the participant currently bound to handle.
func (r *Registry) LookupHandle(handle Handle) (Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.findLocked(handle); ok && handle != "" {
		return p, nil
	}
	return Participant{}, fmt.Errorf("%w: handle %q", ErrNotFound, handle)
}

// Disconnect removes the participant bound to handle. Should more than one
// identity share the handle, the lexicographically first one is removed.
func (r *Registry) Disconnect(handle Handle) (Participant, bool) {
	if handle == "" {
		return Participant{}, false
	}

	r.mu.Lock()
	p, ok := r.findLocked(handle)
	if ok {
		delete(r.participants, p.Identity)
	}
	roster := r.rosterLocked()
	r.mu.Unlock()

	if !ok {
		r.log.WithField("handle", handle).WithError(ErrOrphanedHandle).Debug("disconnect for untracked handle")
		return Participant{}, false
	}

	r.log.WithFields(logrus.Fields{
		"identity": p.Identity,
		"handle":   handle,
	}).Infof("User %s has disconnected", p.Name)

	r.notify(RosterChange{Kind: Left, Participant: p, Roster: roster})
	return p, true
}

// Roster returns every known participant ordered by identity.
func (r *Registry) Roster() RosterSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rosterLocked()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// Subscribe registers fn for roster changes. The returned func removes it.
func (r *Registry) Subscribe(fn Listener) func() {
	r.listenersMu.Lock()
	id := r.nextListener
	r.nextListener++
	r.listeners[id] = fn
	r.listenersMu.Unlock()

	return func() {
		r.listenersMu.Lock()
		delete(r.listeners, id)
		r.listenersMu.Unlock()
	}
}

func (r *Registry) notify(change RosterChange) {
	r.listenersMu.Lock()
	ids := make([]int, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.listeners[id])
	}
	r.listenersMu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}

func (r *Registry) sortedIdentitiesLocked() []Identity {
	ids := make([]Identity, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) findLocked(handle Handle) (Participant, bool) {
	for _, id := range r.sortedIdentitiesLocked() {
		if p := r.participants[id]; p.Handle == handle {
			return p, true
		}
	}
	return Participant{}, false
}

func (r *Registry) rosterLocked() RosterSnapshot {
	ids := r.sortedIdentitiesLocked()
	roster := make(RosterSnapshot, 0, len(ids))
	for _, id := range ids {
		p := r.participants[id]
		roster = append(roster, RosterEntry{Name: p.Name, Identity: p.Identity})
	}
	return roster
}
