package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation vive del lado del cliente; el relay no la conoce.
type Conversation struct {
	ID        string        `json:"id"`
	Mode      DomainMode    `json:"mode"`
	Messages  []ChatMessage `json:"messages"`
	CreatedAt time.Time     `json:"created_at"`
}

// LastAssistant devuelve el indice del ultimo mensaje si es del asistente.
func (c *Conversation) LastAssistant() (int, bool) {
	if len(c.Messages) == 0 {
		return -1, false
	}
	idx := len(c.Messages) - 1
	return idx, c.Messages[idx].Role == RoleAssistant
}
