// Package pipeline runs each chat message through validation, conditional
// translation and delivery, and emits one delivery record per attempt.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-polyglot/internal/language"
	"github.com/npezzotti/go-polyglot/internal/presence"
	"github.com/npezzotti/go-polyglot/internal/router"
	"github.com/npezzotti/go-polyglot/internal/stats"
	"github.com/npezzotti/go-polyglot/internal/translate"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownParticipant   = errors.New("unknown participant")
	ErrRecipientUnreachable = errors.New("recipient unreachable")
	ErrEmptyMessage         = errors.New("empty message")
)

const (
	EventReceiveMessage = "receive_message"
	EventPrivateMessage = "private_message"

	MetricMessagesDelivered   = "MessagesDelivered"
	MetricMessagesDropped     = "MessagesDropped"
	MetricTranslationFailures = "TranslationFailures"
)

type Kind string

const (
	// KindPersonal is delivered to the recipient's bound connection.
	KindPersonal Kind = "personal"
	// KindRoom is delivered to every connection in the pair's room.
	KindRoom Kind = "room"
)

type Outcome string

const (
	Delivered Outcome = "delivered"
	Dropped   Outcome = "dropped"
)

type Message struct {
	Sender    presence.Identity
	Recipient presence.Identity
	Text      string
	// Timestamp is the client's value, relayed byte for byte. Empty or null
	// means the server stamps the message.
	Timestamp json.RawMessage
}

// Record describes one message attempt. It is logged and returned, never stored.
type Record struct {
	ID                string
	Kind              Kind
	Sender            presence.Identity
	Recipient         presence.Identity
	Original          string
	Text              string
	Translated        bool
	TranslationFailed bool
	TranslationErr    error
	Outcome           Outcome
	Reason            error
	Recipients        int
	// Timestamp is when the relay received the message.
	Timestamp         time.Time
	ClientTimestamp   json.RawMessage
}

// PersonalMessage is the receive_message payload.
type PersonalMessage struct {
	Sender            string    `json:"sender"`
	SenderEmail       string    `json:"sender_email"`
	Recipient         string    `json:"recipient"`
	Message           string    `json:"message"`
	OriginalMessage   string    `json:"original_message"`
	Translated        bool      `json:"translated"`
	TranslationFailed bool      `json:"translation_failed,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// PrivateMessage is the private_message payload.
type PrivateMessage struct {
	Sender            string          `json:"sender"`
	Recipient         string          `json:"recipient"`
	OriginalContent   string          `json:"original_content"`
	TranslatedContent string          `json:"translated_content"`
	TranslationFailed bool            `json:"translation_failed,omitempty"`
	Timestamp         json.RawMessage `json:"timestamp"`
}

type Directory interface {
	Lookup(identity presence.Identity) (presence.Participant, error)
}

type Translator interface {
	Translate(ctx context.Context, text string, source, target language.Code) translate.Result
}

type Deliverer interface {
	Deliver(address router.Address, event string, data any) int
	DeliverDirect(identity presence.Identity, event string, data any) int
}

type Pipeline struct {
	log        *logrus.Logger
	directory  Directory
	translator Translator
	router     Deliverer
	stats      stats.StatsProvider
}

func NewPipeline(logger *logrus.Logger, directory Directory, translator Translator, router Deliverer, su stats.StatsProvider) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}

	su.RegisterMetric(MetricMessagesDelivered)
	su.RegisterMetric(MetricMessagesDropped)
	su.RegisterMetric(MetricTranslationFailures)

	return &Pipeline{
		log:        logger,
		directory:  directory,
		translator: translator,
		router:     router,
		stats:      su,
	}
}

// SendPersonal delivers msg to the recipient's current connection.
func (p *Pipeline) SendPersonal(ctx context.Context, msg Message) Record {
	return p.process(ctx, KindPersonal, msg)
}

// SendRoom delivers msg to the conversation room of sender and recipient.
func (p *Pipeline) SendRoom(ctx context.Context, msg Message) Record {
	return p.process(ctx, KindRoom, msg)
}

func (p *Pipeline) process(ctx context.Context, kind Kind, msg Message) Record {
	rec := Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		Original:  msg.Text,
		Timestamp: Now(),
	}
	if len(msg.Timestamp) > 0 && string(msg.Timestamp) != "null" {
		rec.ClientTimestamp = msg.Timestamp
	}

	p.deliver(ctx, &rec)
	p.emit(rec)
	return rec
}

func (p *Pipeline) deliver(ctx context.Context, rec *Record) {
	sender, err := p.directory.Lookup(rec.Sender)
	if err != nil {
		rec.drop(fmt.Errorf("%w: sender %q", ErrUnknownParticipant, rec.Sender))
		return
	}
	recipient, err := p.directory.Lookup(rec.Recipient)
	if err != nil {
		rec.drop(fmt.Errorf("%w: recipient %q", ErrUnknownParticipant, rec.Recipient))
		return
	}
	if strings.TrimSpace(rec.Original) == "" {
		rec.drop(ErrEmptyMessage)
		return
	}

	// sender and recipient are copies, so the registry lock is not held here
	rec.Text = rec.Original
	if sender.Language != recipient.Language {
		res := p.translator.Translate(ctx, rec.Original, sender.Language, recipient.Language)
		rec.Text = res.Text
		rec.Translated = res.Translated
		rec.TranslationFailed = res.Failed
		rec.TranslationErr = res.Err
	}

	switch rec.Kind {
	case KindPersonal:
		rec.Recipients = p.router.DeliverDirect(recipient.Identity, EventReceiveMessage, PersonalMessage{
			Sender:            sender.Name,
			SenderEmail:       string(sender.Identity),
			Recipient:         recipient.Name,
			Message:           rec.Text,
			OriginalMessage:   rec.Original,
			Translated:        rec.Translated,
			TranslationFailed: rec.TranslationFailed,
			Timestamp:         rec.Timestamp,
		})
	case KindRoom:
		rec.Recipients = p.router.Deliver(router.PairAddress(sender.Identity, recipient.Identity), EventPrivateMessage, PrivateMessage{
			Sender:            string(sender.Identity),
			Recipient:         string(recipient.Identity),
			OriginalContent:   rec.Original,
			TranslatedContent: rec.Text,
			TranslationFailed: rec.TranslationFailed,
			Timestamp:         rec.stamp(),
		})
	}

	if rec.Recipients == 0 {
		rec.drop(fmt.Errorf("%w: %q", ErrRecipientUnreachable, rec.Recipient))
		return
	}
	rec.Outcome = Delivered
}

// stamp is the client's timestamp when one was sent, otherwise the receive
// time in RFC 3339.
func (r *Record) stamp() json.RawMessage {
	if len(r.ClientTimestamp) > 0 {
		return r.ClientTimestamp
	}

	b, _ := json.Marshal(r.Timestamp)
	return b
}

func (r *Record) drop(reason error) {
	r.Outcome = Dropped
	r.Reason = reason
}

func (p *Pipeline) emit(rec Record) {
	entry := p.log.WithFields(logrus.Fields{
		"record_id":          rec.ID,
		"kind":               rec.Kind,
		"sender":             rec.Sender,
		"recipient":          rec.Recipient,
		"original":           rec.Original,
		"delivered":          rec.Text,
		"translated":         rec.Translated,
		"translation_failed": rec.TranslationFailed,
		"outcome":            rec.Outcome,
		"recipients":         rec.Recipients,
		"timestamp":          rec.Timestamp.Format(time.RFC3339Nano),
	})

	if len(rec.ClientTimestamp) > 0 {
		entry = entry.WithField("client_timestamp", string(rec.ClientTimestamp))
	}

	if rec.TranslationFailed {
		p.stats.Incr(MetricTranslationFailures)
		entry = entry.WithField("translation_error", rec.TranslationErr)
	}

	if rec.Outcome == Dropped {
		p.stats.Incr(MetricMessagesDropped)
		entry.WithError(rec.Reason).Warn("message dropped")
		return
	}

	p.stats.Incr(MetricMessagesDelivered)
	entry.Info("message delivered")
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
