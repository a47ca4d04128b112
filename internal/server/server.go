package server

import (
	"context"
	"fmt"

	"github.com/npezzotti/go-polyglot/internal/language"
	"github.com/npezzotti/go-polyglot/internal/pipeline"
	"github.com/npezzotti/go-polyglot/internal/presence"
	"github.com/npezzotti/go-polyglot/internal/router"
	"github.com/npezzotti/go-polyglot/internal/stats"
	"github.com/sirupsen/logrus"
)

const (
	MetricActiveClients = "NumActiveClients"
	MetricParticipants  = "NumParticipants"
	MetricRooms         = "NumRooms"
)

// Gateway translates message text and reports on the health of the
// translation backend.
type Gateway interface {
	pipeline.Translator
	CheckHealth(ctx context.Context) error
}

type ChatServer struct {
	log            *logrus.Logger
	languages      *language.Resolver
	registry       *presence.Registry
	router         *router.Router
	pipeline       *pipeline.Pipeline
	gateway        Gateway
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	registerChan   chan *Client
	deregisterChan chan *Client
	unsubscribe    func()
	ctx            context.Context
	cancel         context.CancelFunc
	stop           chan struct{}
	done           chan struct{}
}

func NewChatServer(logger *logrus.Logger, languages *language.Resolver, gateway Gateway, su stats.StatsProvider) (*ChatServer, error) {
	if languages == nil {
		return nil, fmt.Errorf("language resolver is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("translation gateway is required")
	}

	registry := presence.NewRegistry(logger, languages)
	rt := router.NewRouter(logger, registry)

	ctx, cancel := context.WithCancel(context.Background())
	cs := &ChatServer{
		log:            logger,
		languages:      languages,
		registry:       registry,
		router:         rt,
		pipeline:       pipeline.NewPipeline(logger, registry, gateway, rt, su),
		gateway:        gateway,
		stats:          su,
		clients:        make(map[*Client]struct{}),
		registerChan:   make(chan *Client),
		deregisterChan: make(chan *Client),
		ctx:            ctx,
		cancel:         cancel,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	su.RegisterMetric(MetricActiveClients)
	su.RegisterFunc(MetricParticipants, func() any { return registry.Len() })
	su.RegisterFunc(MetricRooms, func() any { return rt.NumRooms() })

	cs.unsubscribe = registry.Subscribe(cs.rosterChanged)
	return cs, nil
}

func (cs *ChatServer) Run() {
	defer close(cs.done)

	for {
		select {
		case c := <-cs.registerChan:
			cs.addClient(c)
		case c := <-cs.deregisterChan:
			cs.removeClient(c)
		case <-cs.stop:
			cs.log.Info("stopping chat server")
			cs.unsubscribe()
			cs.cancel()
			for c := range cs.clients {
				cs.removeClient(c)
				c.stopClient()
			}
			return
		}
	}
}

// Shutdown stops the Run loop and disconnects every client. It returns the
// context's error if the loop does not finish in time.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	select {
	case cs.stop <- struct{}{}:
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterClient makes the client reachable and hands it to the Run loop.
// The client is attached before this returns so its first join cannot race
// the loop.
func (cs *ChatServer) RegisterClient(c *Client) bool {
	cs.router.Attach(c)
	select {
	case cs.registerChan <- c:
		return true
	case <-cs.done:
		cs.router.Detach(c.handle)
		return false
	}
}

func (cs *ChatServer) DeregisterClient(c *Client) {
	select {
	case cs.deregisterChan <- c:
	case <-cs.done:
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clients[c] = struct{}{}
	cs.stats.Incr(MetricActiveClients)
	cs.log.WithField("handle", c.handle).Debug("client registered")
}

// removeClient detaches the client from every room and removes the
// participant bound to its handle, if any.
func (cs *ChatServer) removeClient(c *Client) {
	if _, ok := cs.clients[c]; !ok {
		return
	}

	delete(cs.clients, c)
	rooms := cs.router.Detach(c.handle)
	cs.stats.Decr(MetricActiveClients)

	entry := cs.log.WithFields(logrus.Fields{
		"handle": c.handle,
		"rooms":  len(rooms),
	})
	if p, ok := cs.registry.Disconnect(c.handle); ok {
		entry.WithField("identity", p.Identity).Info("participant disconnected")
		return
	}
	entry.Debug("client deregistered")
}

func (cs *ChatServer) rosterChanged(change presence.RosterChange) {
	n := cs.router.Broadcast(EventUpdateUsers, change.Roster)
	cs.log.WithFields(logrus.Fields{
		"change":     change.Kind,
		"identity":   change.Participant.Identity,
		"recipients": n,
	}).Debug("roster update broadcast")
}

// Connect registers a participant under the language named by label and
// returns the roster that includes them.
func (cs *ChatServer) Connect(identity presence.Identity, name, label string) (presence.RosterSnapshot, error) {
	code, err := cs.languages.Resolve(label)
	if err != nil {
		return nil, err
	}

	_, roster, err := cs.registry.Connect(identity, name, code)
	if err != nil {
		return nil, err
	}
	return roster, nil
}

func (cs *ChatServer) Roster() presence.RosterSnapshot {
	return cs.registry.Roster()
}

func (cs *ChatServer) Languages() []language.Language {
	return cs.languages.Languages()
}

func (cs *ChatServer) CheckHealth(ctx context.Context) error {
	return cs.gateway.CheckHealth(ctx)
}
