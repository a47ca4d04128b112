package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-polyglot/internal/pipeline"
	"github.com/npezzotti/go-polyglot/internal/presence"
	"github.com/npezzotti/go-polyglot/internal/router"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

type Client struct {
	handle     presence.Handle
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *logrus.Logger
	send       chan *ServerMessage
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(conn *websocket.Conn, cs *ChatServer, l *logrus.Logger) (*Client, error) {
	id, err := shortid.Generate()
	if err != nil {
		return nil, err
	}

	return &Client{
		handle:     presence.Handle(id),
		conn:       conn,
		chatServer: cs,
		log:        l,
		send:       make(chan *ServerMessage, sendBufferSize),
		stop:       make(chan struct{}),
	}, nil
}

func (c *Client) Handle() presence.Handle {
	return c.handle
}

// Send queues an event for the write pump. It reports false when the
// client's buffer is full and the event was dropped.
func (c *Client) Send(event string, data any) bool {
	return c.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Event:       event,
		Data:        data,
	})
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.WithField("handle", c.handle).Debug("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.WithError(err).Error("failed to serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.WithField("handle", c.handle).Debug("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("ws: read")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.WithError(err).Debug("error parsing message")
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	switch msg.Event {
	case EventJoin:
		c.join(msg)
	case EventJoinPrivateRoom:
		c.joinPrivateRoom(msg)
	case EventLeavePrivateRoom:
		c.leavePrivateRoom(msg)
	case EventSendPersonalMessage:
		c.sendPersonalMessage(msg)
	case EventSendPrivateMessage:
		c.sendPrivateMessage(msg)
	default:
		c.log.WithField("event", msg.Event).Debug("unknown event")
		c.queueMessage(ErrUnknownEvent(msg.Id))
	}
}

// decode unmarshals the message data into v, answering the client with a
// bad request response when that fails.
func (c *Client) decode(msg *ClientMessage, v any) bool {
	if len(msg.Data) == 0 {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return false
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		c.log.WithError(err).WithField("event", msg.Event).Debug("error parsing message data")
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return false
	}
	return true
}

func (c *Client) join(msg *ClientMessage) {
	var join Join
	if !c.decode(msg, &join) {
		return
	}
	identity := presence.ParseIdentity(join.Email)
	if identity == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	if prev, err := c.chatServer.registry.LookupHandle(c.handle); err == nil && prev.Identity != identity {
		c.log.WithFields(logrus.Fields{
			"handle":   c.handle,
			"previous": prev.Identity,
			"identity": identity,
		}).Info("connection joined as another participant")
	}

	if !c.chatServer.registry.BindConnection(identity, c.handle) {
		c.queueMessage(ErrParticipantNotFound(msg.Id))
		return
	}

	c.chatServer.router.Join(c.handle, router.PersonalAddress(identity))
	c.queueMessage(NoErrOK(msg.Id, nil))
}

// pairAddress decodes a private room request into the pair's address.
func (c *Client) pairAddress(msg *ClientMessage) (router.Address, bool) {
	var req PrivateRoom
	if !c.decode(msg, &req) {
		return router.Address{}, false
	}

	sender, recipient := presence.ParseIdentity(req.Email), presence.ParseIdentity(req.RecipientEmail)
	if sender == "" || recipient == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return router.Address{}, false
	}
	return router.PairAddress(sender, recipient), true
}

func (c *Client) joinPrivateRoom(msg *ClientMessage) {
	addr, ok := c.pairAddress(msg)
	if !ok {
		return
	}

	c.chatServer.router.Join(c.handle, addr)
	c.queueMessage(NoErrOK(msg.Id, nil))
}

func (c *Client) leavePrivateRoom(msg *ClientMessage) {
	addr, ok := c.pairAddress(msg)
	if !ok {
		return
	}

	c.chatServer.router.Leave(c.handle, addr)
	c.queueMessage(NoErrOK(msg.Id, nil))
}

// accept acknowledges a chat message, or refuses it once the server has
// begun shutting down.
func (c *Client) accept(msg *ClientMessage) bool {
	if c.chatServer.ctx.Err() != nil {
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		return false
	}

	c.queueMessage(NoErrAccepted(msg.Id))
	return true
}

// Messages are acknowledged as accepted before they are processed; the
// sender learns nothing about the delivery outcome.
func (c *Client) sendPersonalMessage(msg *ClientMessage) {
	var req PersonalMessage
	if !c.decode(msg, &req) || !c.accept(msg) {
		return
	}

	c.chatServer.pipeline.SendPersonal(c.chatServer.ctx, pipeline.Message{
		Sender:    presence.ParseIdentity(req.SenderEmail),
		Recipient: presence.ParseIdentity(req.RecipientEmail),
		Text:      req.Message,
	})
}

// The client's timestamp is relayed exactly as sent.
func (c *Client) sendPrivateMessage(msg *ClientMessage) {
	var req PrivateMessage
	if !c.decode(msg, &req) || !c.accept(msg) {
		return
	}

	c.chatServer.pipeline.SendRoom(c.chatServer.ctx, pipeline.Message{
		Sender:    presence.ParseIdentity(req.Sender),
		Recipient: presence.ParseIdentity(req.Recipient),
		Text:      req.Content,
		Timestamp: req.Timestamp,
	})
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.WithField("handle", c.handle).Warn("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.WithError(err).Warn("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.chatServer.DeregisterClient(c)
	c.stopClient()
}
