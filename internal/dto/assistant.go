package dto

// ChatMessage is one turn of the conversation sent by the client.
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"max=4000"`
}

// ChatRequest captures POST /assistant/chat payload. Only the last user message is
// answered; identity and tenant never come from this body.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages" validate:"required,min=1,max=50,dive"`
}

// ChatReply is the assistant answer returned under data.
type ChatReply struct {
	Content string `json:"content"`
}

// ChatMeta accompanies every assistant reply.
type ChatMeta struct {
	CorrelationID string `json:"correlation_id"`
}
