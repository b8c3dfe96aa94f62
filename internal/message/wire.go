package message

import "time"

// Record is the JSON form of a persisted message exchanged with the backend.
type Record struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Message converts r into a persisted Message.
func (r Record) Message() Message {
	return Message{
		ID:             PersistedID(r.ID),
		ConversationID: r.ConversationID,
		Role:           r.Role,
		Content:        r.Content,
		CreatedAt:      r.CreatedAt,
	}
}

// FromRecords converts a list of records, keeping their order.
func FromRecords(rs []Record) []Message {
	out := make([]Message, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Message())
	}
	return out
}

// ChatRequest asks the backend for an assistant reply to Message.
type ChatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	Model          string `json:"model,omitempty"`
	VoiceProfileID string `json:"voice_profile_id,omitempty"`
}

// ChatResponse is the non-streaming reply.
type ChatResponse struct {
	Response string `json:"response"`
}

// AppendRequest is the body of an append-message call.
type AppendRequest struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ErrorResponse is the body of every non-2xx backend response.
type ErrorResponse struct {
	Error string `json:"error"`
}
