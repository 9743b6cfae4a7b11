package models

import "time"

// ConversationState is the coarse step a customer is at in the chat.
type ConversationState string

const (
	StateIdle    ConversationState = "idle"
	StateQuote   ConversationState = "quote"
	StateBooking ConversationState = "booking"
)

// User is a customer identified by phone number.
type User struct {
	ID             int64             `json:"id"`
	Phone          string            `json:"phone"`
	Name           string            `json:"name"`
	State          ConversationState `json:"conversation_state"`
	ActiveNode     string            `json:"active_node,omitempty"`
	NeedsAttention bool              `json:"needs_attention"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Conversation is the per-user routing state carried between inbound messages.
type Conversation struct {
	State      ConversationState `json:"state"`
	ActiveNode string            `json:"active_node"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Conversation returns the routing state stored on the user record.
func (u *User) Conversation() Conversation {
	state := u.State
	if state == "" {
		state = StateIdle
	}
	return Conversation{State: state, ActiveNode: u.ActiveNode, UpdatedAt: u.UpdatedAt}
}
