// Package canon maps provider-shaped message records onto the canonical
// message schema persisted by the importer. Mapping is total: malformed
// payloads degrade to placeholders, they never produce an error.
package canon

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Direction values for Message.Direction
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Sender role values
const (
	RoleContact = "contact"
	RoleAgent   = "agent"
)

// Party identifies one side of a message
type Party struct {
	ChannelID   string `json:"channelId" bson:"channel_id" validate:"required"`
	Role        string `json:"role" bson:"role" validate:"required,oneof=contact agent"`
	DisplayName string `json:"displayName,omitempty" bson:"display_name,omitempty"`
}

// Context carries optional conversational linkage
type Context struct {
	ReplyTo string `json:"replyTo,omitempty" bson:"reply_to,omitempty"`
}

// Annotation is a derived, non-canonical fact about a message
type Annotation struct {
	Kind  string `json:"kind" bson:"kind" validate:"required"`
	Value string `json:"value" bson:"value"`
}

// Message is the canonical provider-agnostic record. Immutable once mapped
type Message struct {
	TenantID   string       `json:"tenantId" bson:"tenant_id" validate:"required"`
	MessageID  string       `json:"messageId" bson:"message_id" validate:"required"`
	ChatID     string       `json:"chatId" bson:"chat_id" validate:"required"`
	Direction  string       `json:"direction" bson:"direction" validate:"required,oneof=inbound outbound"`
	CreatedAt  string       `json:"createdAt" bson:"created_at" validate:"required"`
	Sender     Party        `json:"sender" bson:"sender" validate:"required"`
	Recipients []Party      `json:"recipients" bson:"recipients" validate:"dive"`
	Content    string       `json:"content" bson:"content"`
	Context    *Context     `json:"context,omitempty" bson:"context,omitempty"`
	Raw        string       `json:"raw" bson:"raw"`
	Derived    []Annotation `json:"derived" bson:"derived" validate:"dive"`
}

// Meta is the helper projection the importer keys and advances cursors on.
// NaturalID is the provider's raw id; Message.MessageID may be normalized
type Meta struct {
	NaturalID        string
	ConversationID   string
	SenderIdentity   string
	TimestampISO     string
	TsSeconds        int64
	SourceInstanceID string
	ChannelID        string
	ContactID        string
}

// RowInput is the row-shaped provider variant: structured columns with an
// explicit from-me flag
type RowInput struct {
	ID         string
	InstanceID string
	ChatID     string
	SenderID   string
	FromMe     bool
	TsSeconds  int64
	PushName   string
	Payload    json.RawMessage
}

// EventInput is the event-shaped provider variant: a nested envelope whose
// direction is inferred from a role marker in the event type
type EventInput struct {
	EventID    string
	InstanceID string
	EventType  string
	ChatID     string
	CreatedAt  time.Time
	Payload    json.RawMessage
}

// InputKind tags the mapper input union
type InputKind uint8

// Input kinds
const (
	KindRow InputKind = iota
	KindEvent
)

// Input is the tagged union dispatched by Map. Exactly one of Row or Event
// is set, selected by Kind
type Input struct {
	Kind  InputKind
	Row   *RowInput
	Event *EventInput
}

// RowOf wraps a row-shaped record as a mapper input
func RowOf(r RowInput) Input { return Input{Kind: KindRow, Row: &r} }

// EventOf wraps an event-shaped record as a mapper input
func EventOf(e EventInput) Input { return Input{Kind: KindEvent, Event: &e} }

// MapContext carries run-scoped inputs the mapper cannot derive from a row
type MapContext struct {
	TenantID string

	// Now supplies the last-resort timestamp when the source omits one.
	// nil means time.Now
	Now func() time.Time
}

func (mc MapContext) now() time.Time {
	if mc.Now != nil {
		return mc.Now()
	}
	return time.Now()
}

// Map transforms one provider record into the canonical message plus the
// helper projection. It never fails; missing or malformed fields degrade
func Map(in Input, mc MapContext) (Message, Meta) {
	switch in.Kind {
	case KindEvent:
		if in.Event != nil {
			return mapEvent(*in.Event, mc)
		}
	default:
		if in.Row != nil {
			return mapRow(*in.Row, mc)
		}
	}
	// empty union: synthesize a placeholder record so the caller can still
	// skip it through validation rather than crash
	return mapRow(RowInput{}, mc)
}

func mapRow(r RowInput, mc MapContext) (Message, Meta) {
	naturalID := strings.TrimSpace(r.ID)
	msgID := naturalID
	if msgID == "" {
		msgID = uuid.NewString()
	}

	createdAt, ts := isoFromSeconds(r.TsSeconds, mc)

	dir := DirectionInbound
	senderRole := RoleContact
	if r.FromMe {
		dir = DirectionOutbound
		senderRole = RoleAgent
	}

	text, kind, reply := ExtractContent(r.Payload)

	sender := Party{
		ChannelID:   strings.TrimSpace(r.SenderID),
		Role:        senderRole,
		DisplayName: displayName(r.PushName),
	}
	if sender.ChannelID == "" {
		sender.ChannelID = strings.TrimSpace(r.ChatID)
	}

	recipientRole := RoleContact
	if !r.FromMe {
		recipientRole = RoleAgent
	}

	msg := Message{
		TenantID:   mc.TenantID,
		MessageID:  msgID,
		ChatID:     r.ChatID,
		Direction:  dir,
		CreatedAt:  createdAt,
		Sender:     sender,
		Recipients: []Party{{ChannelID: r.ChatID, Role: recipientRole}},
		Content:    text,
		Context:    contextOf(reply),
		Raw:        string(r.Payload),
		Derived:    derivedOf(kind),
	}

	contactID := r.SenderID
	if r.FromMe {
		contactID = r.ChatID
	}

	return msg, Meta{
		NaturalID:        naturalKey(r.ID, msgID),
		ConversationID:   r.ChatID,
		SenderIdentity:   sender.ChannelID,
		TimestampISO:     createdAt,
		TsSeconds:        ts,
		SourceInstanceID: r.InstanceID,
		ChannelID:        r.InstanceID,
		ContactID:        contactID,
	}
}

// eventEnvelope models only the payload fields the mapper extracts.
// Everything is optional; decode failures leave the zero value
type eventEnvelope struct {
	Message struct {
		ID       string          `json:"id"`
		From     string          `json:"from"`
		To       string          `json:"to"`
		PushName string          `json:"pushName"`
		Content  json.RawMessage `json:"content"`
	} `json:"message"`
}

func mapEvent(e EventInput, mc MapContext) (Message, Meta) {
	var env eventEnvelope
	_ = json.Unmarshal(e.Payload, &env) // lenient: partial or zero on error

	naturalID := strings.TrimSpace(env.Message.ID)
	if naturalID == "" {
		naturalID = strings.TrimSpace(e.EventID)
	}
	msgID := naturalID
	if msgID == "" {
		msgID = uuid.NewString()
	}

	var createdAt string
	var ts int64
	if e.CreatedAt.IsZero() {
		now := mc.now().UTC()
		createdAt = now.Format(time.RFC3339)
		ts = now.Unix()
	} else {
		createdAt = e.CreatedAt.UTC().Format(time.RFC3339)
		ts = e.CreatedAt.Unix()
	}

	dir := directionFromEventType(e.EventType)
	senderRole := RoleContact
	recipientRole := RoleAgent
	if dir == DirectionOutbound {
		senderRole, recipientRole = RoleAgent, RoleContact
	}

	text, kind, reply := ExtractContent(env.Message.Content)

	senderID := strings.TrimSpace(env.Message.From)
	if senderID == "" {
		senderID = strings.TrimSpace(e.ChatID)
	}
	recipientID := strings.TrimSpace(env.Message.To)
	if recipientID == "" {
		recipientID = strings.TrimSpace(e.ChatID)
	}

	msg := Message{
		TenantID:  mc.TenantID,
		MessageID: msgID,
		ChatID:    e.ChatID,
		Direction: dir,
		CreatedAt: createdAt,
		Sender: Party{
			ChannelID:   senderID,
			Role:        senderRole,
			DisplayName: displayName(env.Message.PushName),
		},
		Recipients: []Party{{ChannelID: recipientID, Role: recipientRole}},
		Content:    text,
		Context:    contextOf(reply),
		Raw:        string(e.Payload),
		Derived:    derivedOf(kind),
	}

	contactID := senderID
	if dir == DirectionOutbound {
		contactID = recipientID
	}

	return msg, Meta{
		NaturalID:        naturalKey(env.Message.ID, msgID),
		ConversationID:   e.ChatID,
		SenderIdentity:   senderID,
		TimestampISO:     createdAt,
		TsSeconds:        ts,
		SourceInstanceID: e.InstanceID,
		ChannelID:        e.InstanceID,
		ContactID:        contactID,
	}
}

// directionFromEventType reads the role marker carried in the event type
// tag, e.g. "message.agent.sent" vs "message.contact.received"
func directionFromEventType(t string) string {
	l := strings.ToLower(t)
	if strings.Contains(l, "agent") || strings.Contains(l, "outbound") {
		return DirectionOutbound
	}
	return DirectionInbound
}

// isoFromSeconds derives the canonical timestamp deterministically from the
// source's seconds value; wall clock is the last resort for an absent one
func isoFromSeconds(sec int64, mc MapContext) (string, int64) {
	if sec <= 0 {
		now := mc.now().UTC()
		return now.Format(time.RFC3339), now.Unix()
	}
	return time.Unix(sec, 0).UTC().Format(time.RFC3339), sec
}

func displayName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func contextOf(reply string) *Context {
	if reply == "" {
		return nil
	}
	return &Context{ReplyTo: reply}
}

func derivedOf(kind string) []Annotation {
	if kind == "" || kind == ContentKindText {
		return nil
	}
	return []Annotation{{Kind: "content_kind", Value: kind}}
}

// naturalKey prefers the provider's raw id and falls back to the
// (possibly synthesized) message id
func naturalKey(raw, msgID string) string {
	if v := strings.TrimSpace(raw); v != "" {
		return v
	}
	return msgID
}
