// Package message is the store for every message the platform sees: inbound
// webhook payloads, outbound sends, system annotations and agent notes.
package message

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Direction of a message relative to the platform.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// Origin records who produced a message.
type Origin string

const (
	OriginContact Origin = "CONTACT"
	OriginUser    Origin = "USER"
	OriginSystem  Origin = "SYSTEM"
)

// Category separates conversational messages from lifecycle annotations.
type Category string

const (
	CategoryChat     Category = "CHAT"
	CategoryNote     Category = "NOTE"
	CategoryTransfer Category = "TRANSFER"
	CategorySystem   Category = "SYSTEM"
	CategoryClosure  Category = "CLOSURE"
)

// Type is the WhatsApp content type.
type Type string

const (
	TypeText     Type = "text"
	TypeImage    Type = "image"
	TypeAudio    Type = "audio"
	TypeVideo    Type = "video"
	TypeDocument Type = "document"
)

// Status is the delivery state of a message.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusReceived  Status = "RECEIVED"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
	StatusFailed    Status = "FAILED"
)

// MapProviderStatus translates the provider's status vocabulary. Unknown
// values collapse to PENDING rather than failing the task.
func MapProviderStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sent":
		return StatusSent
	case "delivered":
		return StatusDelivered
	case "read", "seen", "message_read":
		return StatusRead
	case "failed":
		return StatusFailed
	default:
		return StatusPending
	}
}

// Message is one stored message row.
type Message struct {
	ID                uuid.UUID
	ChannelID         uuid.UUID
	TicketID          *uuid.UUID
	ProviderMessageID *string
	Direction         Direction
	Origin            Origin
	Category          Category
	Type              Type
	Content           string
	Status            Status
	FromPhone         string
	Timestamp         time.Time
	Metadata          []byte
	CreatedAt         time.Time
}

// DecodedContent returns text content verbatim and best-effort JSON for media
// types. Rows written before the media blob format settled hold plain
// strings, so decode failures fall back to the raw content.
func (m *Message) DecodedContent() any {
	if m.Type == TypeText || m.Content == "" {
		return m.Content
	}
	var decoded json.RawMessage
	if err := json.Unmarshal([]byte(m.Content), &decoded); err != nil {
		return m.Content
	}
	return decoded
}

// SyntheticProviderID builds the provider-id stand-in used for rows the
// provider never saw (system messages and notes).
func SyntheticProviderID(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), uuid.NewString()[:8])
}
