package agent

import (
	"github.com/furisto/dispatch/backend/model"
)

const DefaultHistoryLimit = 100

// History is the conversation of one agent. When full, the oldest messages
// are evicted first. It is owned by the agent loop and not safe for
// concurrent use.
type History struct {
	limit    int
	messages []*model.Message
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{
		limit:    limit,
		messages: make([]*model.Message, 0, limit),
	}
}

func (h *History) Append(message *model.Message) {
	if len(h.messages) == h.limit {
		copy(h.messages, h.messages[1:])
		h.messages = h.messages[:h.limit-1]
	}
	h.messages = append(h.messages, message)
}

// Messages returns the stored messages oldest first.
func (h *History) Messages() []*model.Message {
	messages := make([]*model.Message, len(h.messages))
	copy(messages, h.messages)
	return messages
}

func (h *History) Len() int {
	return len(h.messages)
}

func (h *History) Limit() int {
	return h.limit
}
