package agent

import (
	"sync"
)

// Mailbox holds user input that arrived while the agent loop was busy. The
// loop moves it into the history before each model call.
type Mailbox struct {
	mu       sync.Mutex
	messages []string
}

func NewMailbox() *Mailbox {
	return &Mailbox{
		messages: []string{},
	}
}

func (m *Mailbox) Enqueue(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, message)
}

// Dequeue removes and returns every queued message in arrival order.
func (m *Mailbox) Dequeue() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	messages := m.messages
	m.messages = []string{}

	return messages
}

func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.messages)
}
