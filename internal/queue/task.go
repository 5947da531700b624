// Package queue carries webhook work from the HTTP layer to the worker
// processes over a pluggable at-least-once broker.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/atendelab/zapdesk/internal/provider"
)

// Task kinds the worker dispatches on.
const (
	KindReceive  = "receive"
	KindStatus   = "status"
	KindMarkRead = "mark_read"
)

// Task is the queue envelope. Exactly one payload pointer matching Kind is
// set. Attempts counts deliveries already consumed, so retries survive broker
// backends without native receive counts.
type Task struct {
	ID       string        `json:"id"`
	Kind     string        `json:"kind"`
	Attempts int           `json:"attempts"`
	Receive  *ReceiveTask  `json:"receive,omitempty"`
	Status   *StatusTask   `json:"status,omitempty"`
	MarkRead *MarkReadTask `json:"markRead,omitempty"`
}

// ReceiveTask processes one inbound webhook message.
type ReceiveTask struct {
	TenantID    uuid.UUID                `json:"tenantId"`
	ChannelID   uuid.UUID                `json:"channelId"`
	Message     provider.InboundMessage  `json:"message"`
	ProfileName string                   `json:"profileName,omitempty"`
}

// StatusTask applies one delivery-state change.
type StatusTask struct {
	TenantID  uuid.UUID            `json:"tenantId"`
	ChannelID uuid.UUID            `json:"channelId"`
	Event     provider.StatusEvent `json:"event"`
}

// MarkReadTask bulk-marks a contact's inbound backlog as read.
type MarkReadTask struct {
	TenantID  uuid.UUID `json:"tenantId"`
	ChannelID uuid.UUID `json:"channelId"`
	Phone     string    `json:"phone"`
}

func NewReceiveTask(tenantID, channelID uuid.UUID, msg provider.InboundMessage, profileName string) *Task {
	return &Task{
		ID:      uuid.NewString(),
		Kind:    KindReceive,
		Receive: &ReceiveTask{TenantID: tenantID, ChannelID: channelID, Message: msg, ProfileName: profileName},
	}
}

func NewStatusTask(tenantID, channelID uuid.UUID, event provider.StatusEvent) *Task {
	return &Task{
		ID:     uuid.NewString(),
		Kind:   KindStatus,
		Status: &StatusTask{TenantID: tenantID, ChannelID: channelID, Event: event},
	}
}

func NewMarkReadTask(tenantID, channelID uuid.UUID, phone string) *Task {
	return &Task{
		ID:       uuid.NewString(),
		Kind:     KindMarkRead,
		MarkRead: &MarkReadTask{TenantID: tenantID, ChannelID: channelID, Phone: phone},
	}
}

// Encode serializes the task for the broker.
func (t *Task) Encode() (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("queue: encode task: %w", err)
	}
	return string(raw), nil
}

// DecodeTask parses a broker message body back into a task.
func DecodeTask(body string) (*Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return nil, fmt.Errorf("queue: decode task: %w", err)
	}
	if t.Kind == "" {
		return nil, fmt.Errorf("queue: task missing kind")
	}
	return &t, nil
}
