package models

import "time"

// MessageType is the envelope kind of an AgentMessage.
type MessageType string

const (
	MessageRequest  MessageType = "request"
	MessageResponse MessageType = "response"
	MessageError    MessageType = "error"
)

// MessageMetadata carries routing and correlation data for a message.
type MessageMetadata struct {
	Priority       Priority  `json:"priority"`
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversation_id"`
	RequestID      string    `json:"request_id"`
}

// Body is the closed set of message contents: RequestBody, ResponseBody
// and ErrorBody.
type Body interface {
	messageType() MessageType
}

// RequestBody asks a worker to execute a task.
type RequestBody struct {
	TaskID   string   `json:"task_id"`
	TaskType TaskType `json:"task_type"`
	Title    string   `json:"title"`
	Payload  Payload  `json:"payload"`
	// Upstream holds the effective results of the task's dependencies.
	Upstream map[string]*TaskResult `json:"upstream,omitempty"`
}

// ResponseBody carries a worker's result.
type ResponseBody struct {
	TaskID string      `json:"task_id"`
	Result *TaskResult `json:"result"`
}

// ErrorBody carries a worker-reported failure.
type ErrorBody struct {
	TaskID    string `json:"task_id"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
}

func (RequestBody) messageType() MessageType  { return MessageRequest }
func (ResponseBody) messageType() MessageType { return MessageResponse }
func (ErrorBody) messageType() MessageType    { return MessageError }

// AgentMessage is the envelope exchanged between the coordinator and workers.
type AgentMessage struct {
	ID        string          `json:"id"`
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Metadata  MessageMetadata `json:"metadata"`
	Body      Body            `json:"content"`
}

// Type derives the message type from the body variant.
func (m AgentMessage) Type() MessageType {
	if m.Body == nil {
		return ""
	}
	return m.Body.messageType()
}

// Reply builds a message addressed back to the sender of m, echoing its
// correlation identifiers.
func (m AgentMessage) Reply(id string, body Body) AgentMessage {
	meta := m.Metadata
	meta.Timestamp = time.Now()
	return AgentMessage{
		ID:        id,
		Sender:    m.Recipient,
		Recipient: m.Sender,
		Metadata:  meta,
		Body:      body,
	}
}
