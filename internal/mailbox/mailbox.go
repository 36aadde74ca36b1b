// Package mailbox provides the in-memory queue of inter-agent messages.
package mailbox

import (
	"sync"

	"github.com/ShayCichocki/sleuth/pkg/models"
)

// Mailbox is an append-only queue of AgentMessages. Any component may
// enqueue; the coordinator drains. Drained messages stay in History.
// Nothing is persisted.
type Mailbox struct {
	mu      sync.Mutex
	log     []models.AgentMessage
	drained int
	limit   int
}

// New creates a mailbox. A positive historyLimit caps how many drained
// messages are retained; pending messages are never discarded.
func New(historyLimit int) *Mailbox {
	return &Mailbox{limit: historyLimit}
}

// Enqueue appends a message.
func (m *Mailbox) Enqueue(msg models.AgentMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, msg)
}

// Drain returns the pending messages in arrival order and marks them drained.
func (m *Mailbox) Drain() []models.AgentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := append([]models.AgentMessage(nil), m.log[m.drained:]...)
	m.drained = len(m.log)
	m.trimLocked()
	return out
}

// Pending returns a copy of the undrained messages without draining them.
func (m *Mailbox) Pending() []models.AgentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AgentMessage(nil), m.log[m.drained:]...)
}

// History returns every retained message, drained or not, in arrival order.
func (m *Mailbox) History() []models.AgentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AgentMessage(nil), m.log...)
}

// Len returns the number of pending messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.log) - m.drained
}

// ForConversation returns the retained messages of one conversation.
func (m *Mailbox) ForConversation(conversationID string) []models.AgentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AgentMessage
	for _, msg := range m.log {
		if msg.Metadata.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out
}

func (m *Mailbox) trimLocked() {
	if m.limit <= 0 || m.drained <= m.limit {
		return
	}
	drop := m.drained - m.limit
	m.log = append([]models.AgentMessage(nil), m.log[drop:]...)
	m.drained -= drop
}
