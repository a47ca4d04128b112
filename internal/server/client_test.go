package server

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/npezzotti/go-polyglot/internal/pipeline"
	"github.com/npezzotti/go-polyglot/internal/presence"
	"github.com/npezzotti/go-polyglot/internal/router"
	"github.com/npezzotti/go-polyglot/internal/stats"
	"github.com/npezzotti/go-polyglot/internal/testutil"
	"github.com/npezzotti/go-polyglot/internal/translate"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, cs *ChatServer, handle presence.Handle) *Client {
	return &Client{
		handle:     handle,
		chatServer: cs,
		log:        testutil.TestLogger(t),
		send:       make(chan *ServerMessage, sendBufferSize),
		stop:       make(chan struct{}),
	}
}

// nextMessage returns the next queued message or fails the test.
func nextMessage(t *testing.T, c *Client) *ServerMessage {
	t.Helper()

	select {
	case msg := <-c.send:
		return msg
	default:
		t.Fatal("expected a message to be sent to the client, but none was sent")
		return nil
	}
}

func clientMessage(t *testing.T, id int, event string, data any) *ClientMessage {
	t.Helper()

	msg := &ClientMessage{Id: id, Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		msg.Data = raw
	}
	return msg
}

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg, "expected a message to be sent to the client")
		default:
			t.Error("expected a message to be sent to the client, but none was sent")
		}
	})
	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		c.send <- &ServerMessage{} // Pre-fill the send channel to simulate a full channel
		res := c.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func TestClient_Send(t *testing.T) {
	c := &Client{
		handle: "h1",
		send:   make(chan *ServerMessage, 1),
		log:    testutil.TestLogger(t),
	}

	assert.Equal(t, presence.Handle("h1"), c.Handle())
	assert.True(t, c.Send(EventUpdateUsers, presence.RosterSnapshot{}))

	msg := nextMessage(t, c)
	assert.Equal(t, EventUpdateUsers, msg.Event)
	assert.Equal(t, presence.RosterSnapshot{}, msg.Data)
	assert.WithinDuration(t, Now(), msg.Timestamp, time.Second)

	c.send <- &ServerMessage{}
	assert.False(t, c.Send(EventUpdateUsers, nil), "expected Send to report a full buffer")
}

func Test_serializeMessage(t *testing.T) {
	message := NoErrOK(1, "test data")

	// Ensure the timestamp is in the expected format
	expected := `{"id":1,"timestamp":"` + message.Timestamp.Format(time.RFC3339Nano) +
		`","event":"response","data":{"response_code":200,"data":"test data"}}`

	bytes, err := serializeMessage(message)
	assert.NoError(t, err, "expected no error during serialization")
	assert.Equal(t, expected, string(bytes), "expected serialized message to match the expected format")
}

func Test_stopClient(t *testing.T) {
	c := &Client{
		stop: make(chan struct{}),
	}

	c.stopClient()
	assert.NotPanics(t, c.stopClient, "expected stopping twice to be safe")

	select {
	case <-c.stop:
		// Channel is closed as expected
	default:
		t.Error("expected stop channel to be closed")
	}
}

func Test_dispatch(t *testing.T) {
	tcases := []struct {
		name     string
		msg      func(t *testing.T) *ClientMessage
		code     int
		errorMsg string
	}{
		{
			name: "join known participant",
			msg: func(t *testing.T) *ClientMessage {
				return clientMessage(t, 1, EventJoin, Join{Email: "alice@example.com"})
			},
			code: http.StatusOK,
		},
		{
			name: "join unknown participant",
			msg: func(t *testing.T) *ClientMessage {
				return clientMessage(t, 1, EventJoin, Join{Email: "carol@example.com"})
			},
			code:     http.StatusNotFound,
			errorMsg: "participant not found",
		},
		{
			name: "join without email",
			msg: func(t *testing.T) *ClientMessage {
				return clientMessage(t, 1, EventJoin, Join{})
			},
			code:     http.StatusBadRequest,
			errorMsg: "invalid message format",
		},
		{
			name: "join without data",
			msg: func(t *testing.T) *ClientMessage {
				return clientMessage(t, 1, EventJoin, nil)
			},
			code:     http.StatusBadRequest,
			errorMsg: "invalid message format",
		},
		{
			name: "join with malformed data",
			msg: func(t *testing.T) *ClientMessage {
				return &ClientMessage{Id: 1, Event: EventJoin, Data: json.RawMessage(`"alice"`)}
			},
			code:     http.StatusBadRequest,
			errorMsg: "invalid message format",
		},
		{
			name: "private room without recipient",
			msg: func(t *testing.T) *ClientMessage {
				return clientMessage(t, 1, EventJoinPrivateRoom, PrivateRoom{Email: "alice@example.com"})
			},
			code:     http.StatusBadRequest,
			errorMsg: "invalid message format",
		},
		{
			name: "leave room never joined",
			msg: func(t *testing.T) *ClientMessage {
				return clientMessage(t, 1, EventLeavePrivateRoom, PrivateRoom{Email: "alice@example.com", RecipientEmail: "bob@example.com"})
			},
			code: http.StatusOK,
		},
		{
			name: "unknown event",
			msg: func(t *testing.T) *ClientMessage {
				return clientMessage(t, 1, "subscribe", Join{Email: "alice@example.com"})
			},
			code:     http.StatusBadRequest,
			errorMsg: "unknown event",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cs := newTestChatServer(t, &translate.MockTranslator{}, &stats.MockStatsUpdater{})
			_, err := cs.Connect("alice@example.com", "Alice", "English")
			require.NoError(t, err)

			c := newTestClient(t, cs, "h1")
			cs.router.Attach(c)

			c.dispatch(tc.msg(t))

			resp := responseOf(t, nextMessage(t, c))
			assert.Equal(t, tc.code, resp.ResponseCode)
			assert.Equal(t, tc.errorMsg, resp.Error)
		})
	}
}

func TestClient_join(t *testing.T) {
	cs := newTestChatServer(t, &translate.MockTranslator{}, &stats.MockStatsUpdater{})
	_, err := cs.Connect("alice@example.com", "Alice", "English")
	require.NoError(t, err)

	c := newTestClient(t, cs, "h1")
	cs.router.Attach(c)

	c.dispatch(clientMessage(t, 1, EventJoin, Join{Email: "alice@example.com"}))
	resp := responseOf(t, nextMessage(t, c))
	require.Equal(t, http.StatusOK, resp.ResponseCode)

	p, err := cs.registry.Lookup("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, presence.Handle("h1"), p.Handle, "expected join to bind the connection")
	assert.Equal(t, []presence.Handle{"h1"}, cs.router.Members(router.PersonalAddress("alice@example.com")))
}

func TestClient_join_trimsIdentity(t *testing.T) {
	cs := newTestChatServer(t, &translate.MockTranslator{}, &stats.MockStatsUpdater{})
	_, err := cs.Connect("alice@example.com", "Alice", "English")
	require.NoError(t, err)

	c := newTestClient(t, cs, "h1")
	cs.router.Attach(c)

	c.dispatch(clientMessage(t, 1, EventJoin, Join{Email: " alice@example.com "}))
	assert.Equal(t, http.StatusOK, responseOf(t, nextMessage(t, c)).ResponseCode)
	assert.Equal(t, []presence.Handle{"h1"}, cs.router.Members(router.PersonalAddress("alice@example.com")))

	c.dispatch(clientMessage(t, 2, EventJoinPrivateRoom, PrivateRoom{Email: "alice@example.com ", RecipientEmail: " bob@example.com"}))
	assert.Equal(t, http.StatusOK, responseOf(t, nextMessage(t, c)).ResponseCode)
	assert.Equal(t, []presence.Handle{"h1"}, cs.router.Members(router.PairAddress("alice@example.com", "bob@example.com")))
}

func TestClient_join_rebind(t *testing.T) {
	cs := newTestChatServer(t, &translate.MockTranslator{}, &stats.MockStatsUpdater{})
	_, err := cs.Connect("alice@example.com", "Alice", "English")
	require.NoError(t, err)
	_, err = cs.Connect("bob@example.com", "Bob", "Hindi")
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	c := newTestClient(t, cs, "h1")
	c.log = logger
	cs.router.Attach(c)

	c.dispatch(clientMessage(t, 1, EventJoin, Join{Email: "alice@example.com"}))
	require.Equal(t, http.StatusOK, responseOf(t, nextMessage(t, c)).ResponseCode)
	assert.Empty(t, hook.AllEntries(), "expected a first join to log nothing")

	c.dispatch(clientMessage(t, 2, EventJoin, Join{Email: "bob@example.com"}))
	require.Equal(t, http.StatusOK, responseOf(t, nextMessage(t, c)).ResponseCode)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "connection joined as another participant", entry.Message)
	assert.Equal(t, presence.Identity("alice@example.com"), entry.Data["previous"])
	assert.Equal(t, presence.Identity("bob@example.com"), entry.Data["identity"])
}

func TestClient_sendAfterShutdown(t *testing.T) {
	tcases := []struct {
		name  string
		event string
		data  any
	}{
		{
			name:  "personal message",
			event: EventSendPersonalMessage,
			data:  PersonalMessage{SenderEmail: "alice@example.com", RecipientEmail: "bob@example.com", Message: "hi"},
		},
		{
			name:  "private message",
			event: EventSendPrivateMessage,
			data:  PrivateMessage{Sender: "alice@example.com", Recipient: "bob@example.com", Content: "hi"},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			su := &stats.MockStatsUpdater{}
			cs := newTestChatServer(t, &translate.MockTranslator{}, su)
			cs.cancel()

			c := newTestClient(t, cs, "h1")
			cs.router.Attach(c)

			c.dispatch(clientMessage(t, 4, tc.event, tc.data))

			resp := responseOf(t, nextMessage(t, c))
			assert.Equal(t, http.StatusServiceUnavailable, resp.ResponseCode)
			assert.Equal(t, "service unavailable", resp.Error)
			su.AssertNotCalled(t, "Incr", mock.Anything)
		})
	}
}

func TestClient_privateRoom(t *testing.T) {
	cs := newTestChatServer(t, &translate.MockTranslator{}, &stats.MockStatsUpdater{})
	c := newTestClient(t, cs, "h1")
	cs.router.Attach(c)

	addr := router.PairAddress("alice@example.com", "bob@example.com")
	room := PrivateRoom{Email: "alice@example.com", RecipientEmail: "bob@example.com"}

	c.dispatch(clientMessage(t, 1, EventJoinPrivateRoom, room))
	assert.Equal(t, http.StatusOK, responseOf(t, nextMessage(t, c)).ResponseCode)
	assert.Equal(t, []presence.Handle{"h1"}, cs.router.Members(addr))

	c.dispatch(clientMessage(t, 2, EventLeavePrivateRoom, room))
	assert.Equal(t, http.StatusOK, responseOf(t, nextMessage(t, c)).ResponseCode)
	assert.Empty(t, cs.router.Members(addr))
	assert.Zero(t, cs.router.NumRooms(), "expected the empty room to be removed")
}

func TestClient_sendPersonalMessage(t *testing.T) {
	t.Run("same language is delivered untranslated", func(t *testing.T) {
		mt := &translate.MockTranslator{}
		defer mt.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		su.On("Incr", "MessagesDelivered").Once()
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, mt, su)
		_, err := cs.Connect("alice@example.com", "Alice", "English")
		require.NoError(t, err)
		_, err = cs.Connect("dave@example.com", "Dave", "English")
		require.NoError(t, err)

		sender := newTestClient(t, cs, "h1")
		recipient := newTestClient(t, cs, "h2")
		cs.router.Attach(sender)
		cs.router.Attach(recipient)
		require.True(t, cs.registry.BindConnection("dave@example.com", recipient.handle))

		sender.dispatch(clientMessage(t, 7, EventSendPersonalMessage, PersonalMessage{
			SenderEmail:    "alice@example.com",
			RecipientEmail: "dave@example.com",
			Message:        "Hi Dave",
		}))

		resp := responseOf(t, nextMessage(t, sender))
		assert.Equal(t, http.StatusAccepted, resp.ResponseCode)

		msg := nextMessage(t, recipient)
		assert.Equal(t, pipeline.EventReceiveMessage, msg.Event)
		assert.Equal(t, "Hi Dave", msg.Data.(pipeline.PersonalMessage).Message)
		mt.AssertNotCalled(t, "Translate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown recipient is dropped but still accepted", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Incr", "MessagesDropped").Once()
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, &translate.MockTranslator{}, su)
		_, err := cs.Connect("alice@example.com", "Alice", "English")
		require.NoError(t, err)

		sender := newTestClient(t, cs, "h1")
		cs.router.Attach(sender)

		sender.dispatch(clientMessage(t, 8, EventSendPersonalMessage, PersonalMessage{
			SenderEmail:    "alice@example.com",
			RecipientEmail: "nobody@example.com",
			Message:        "Hello?",
		}))

		resp := responseOf(t, nextMessage(t, sender))
		assert.Equal(t, http.StatusAccepted, resp.ResponseCode)
		assert.Empty(t, sender.send, "expected no delivery error to reach the sender")
	})
}
