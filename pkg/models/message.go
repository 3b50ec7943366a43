// Package models defines the wire and storage types shared across the
// orchestrator, session memory, and chat server.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType discriminates the five message variants. The registry is
// closed: an unrecognized tag is a fatal decode error, not a silent no-op.
type MessageType string

const (
	MessageTypeSystem     MessageType = "system"
	MessageTypeUser       MessageType = "user"
	MessageTypeAssistant  MessageType = "assistant"
	MessageTypeToolCall   MessageType = "tool_call"
	MessageTypeToolResult MessageType = "tool_result"
)

// ErrUnknownMessageType is returned when a stored or transmitted message
// carries a type tag outside the closed registry above.
var ErrUnknownMessageType = errors.New("models: unknown message type")

// FinishReason explains why an assistant turn stopped generating.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishError     FinishReason = "error"
)

// ContentFormat tags the encoding of a media content block.
type ContentFormat string

const (
	FormatText  ContentFormat = "text"
	FormatImage ContentFormat = "image"
	FormatAudio ContentFormat = "audio"
	FormatVideo ContentFormat = "video"
	FormatFile  ContentFormat = "file"
	FormatError ContentFormat = "error"
)

// ContentBlock is one item of multimodal content. For non-text formats,
// Data holds base64-encoded bytes and MediaType the source MIME type.
type ContentBlock struct {
	Format    ContentFormat `json:"format"`
	Text      string        `json:"text,omitempty"`
	Data      string        `json:"data,omitempty"`
	MediaType string        `json:"media_type,omitempty"`
	Name      string        `json:"name,omitempty"`
}

// Usage carries token accounting for a single model call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolCallIntent is one tool invocation requested by the model.
type ToolCallIntent struct {
	ID        string          `json:"id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
}

// SessionEnvelope is the discriminated-union record every tiered-memory
// tier and the chat server persist and stream: exactly one of the typed
// payload fields is populated, matching Type. This is distinct from the
// orchestrator's native Message (below), which the ReAct loop works with
// turn-by-turn; the chat server converts between the two at the session
// boundary (see internal/chatserver).
type SessionEnvelope struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id,omitempty"`
	Type      MessageType `json:"type"`
	CreatedAt time.Time   `json:"created_at"`

	System     *SystemMessage     `json:"system,omitempty"`
	User       *UserMessage       `json:"user,omitempty"`
	Assistant  *AssistantMessage  `json:"assistant,omitempty"`
	ToolCall   *ToolCallMessage   `json:"tool_call,omitempty"`
	ToolResult *ToolResultMessage `json:"tool_result,omitempty"`
}

// SystemMessage carries a fixed instruction.
type SystemMessage struct {
	Text string `json:"text"`
}

// UserMessage carries an ordered list of media content supplied by the
// human side of the conversation.
type UserMessage struct {
	Content []ContentBlock `json:"content"`
}

// AssistantMessage carries the model's turn: optional reasoning, optional
// multimodal content, zero or more tool-call intents, and usage.
type AssistantMessage struct {
	Reasoning string           `json:"reasoning,omitempty"`
	Content   []ContentBlock   `json:"content,omitempty"`
	ToolCalls []ToolCallIntent `json:"tool_calls,omitempty"`
	Finish    FinishReason     `json:"finish_reason"`
	Usage     Usage            `json:"usage"`
}

// ToolCallMessage persists a single tool-call intent as its own log entry,
// used when the hot/cold tiers record tool calls independently of the
// assistant turn that produced them (e.g. after heuristic detection).
type ToolCallMessage struct {
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResultMessage carries the output of executing a ToolCall. CallID
// must reference an earlier ToolCall/ToolCallIntent in the same session.
type ToolResultMessage struct {
	CallID  string         `json:"call_id"`
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"is_error,omitempty"`
}

// NewSystemMessage builds a System message with a generated id and
// timestamp left for the caller/store to assign.
func NewSystemMessage(text string) *SessionEnvelope {
	return &SessionEnvelope{Type: MessageTypeSystem, System: &SystemMessage{Text: text}}
}

// NewUserMessage builds a User message from one or more content blocks.
func NewUserMessage(content ...ContentBlock) *SessionEnvelope {
	return &SessionEnvelope{Type: MessageTypeUser, User: &UserMessage{Content: content}}
}

// NewUserText is a convenience constructor for a plain-text user turn.
func NewUserText(text string) *SessionEnvelope {
	return NewUserMessage(ContentBlock{Format: FormatText, Text: text})
}

// NewAssistantMessage builds an Assistant message.
func NewAssistantMessage(a AssistantMessage) *SessionEnvelope {
	return &SessionEnvelope{Type: MessageTypeAssistant, Assistant: &a}
}

// NewToolResult builds an error or success ToolResult message.
func NewToolResult(callID string, isError bool, content ...ContentBlock) *SessionEnvelope {
	return &SessionEnvelope{
		Type:       MessageTypeToolResult,
		ToolResult: &ToolResultMessage{CallID: callID, Content: content, IsError: isError},
	}
}

// Text returns the flattened text of whichever payload is populated, for
// logging and for providers that need a plain-string view of a turn. It is
// lossy for multimodal and multi-tool-call messages by design.
func (m *SessionEnvelope) Text() string {
	switch m.Type {
	case MessageTypeSystem:
		if m.System != nil {
			return m.System.Text
		}
	case MessageTypeUser:
		if m.User != nil {
			return flattenBlocks(m.User.Content)
		}
	case MessageTypeAssistant:
		if m.Assistant != nil {
			if len(m.Assistant.Content) > 0 {
				return flattenBlocks(m.Assistant.Content)
			}
			return m.Assistant.Reasoning
		}
	case MessageTypeToolResult:
		if m.ToolResult != nil {
			return flattenBlocks(m.ToolResult.Content)
		}
	}
	return ""
}

func flattenBlocks(blocks []ContentBlock) string {
	out := ""
	for _, b := range blocks {
		if b.Format == FormatText {
			out += b.Text
		}
	}
	return out
}

// MarshalJSON implements the discriminated-union wire format: the type
// tag plus the flat fields of whichever payload is set, rather than a
// nested envelope, matching how the original union-typed implementation
// this was ported from serializes messages.
func (m SessionEnvelope) MarshalJSON() ([]byte, error) {
	type alias struct {
		ID        string      `json:"id"`
		SessionID string      `json:"session_id,omitempty"`
		Type      MessageType `json:"type"`
		CreatedAt time.Time   `json:"created_at"`
		Payload   any         `json:"payload"`
	}
	a := alias{ID: m.ID, SessionID: m.SessionID, Type: m.Type, CreatedAt: m.CreatedAt}
	switch m.Type {
	case MessageTypeSystem:
		a.Payload = m.System
	case MessageTypeUser:
		a.Payload = m.User
	case MessageTypeAssistant:
		a.Payload = m.Assistant
	case MessageTypeToolCall:
		a.Payload = m.ToolCall
	case MessageTypeToolResult:
		a.Payload = m.ToolResult
	default:
		return nil, fmt.Errorf("models: marshal message %q: %w", m.Type, ErrUnknownMessageType)
	}
	return json.Marshal(a)
}

// UnmarshalJSON decodes the tagged envelope produced by MarshalJSON,
// dispatching through the closed type registry. An unrecognized Type is a
// fatal error (fail-closed), never silently ignored.
func (m *SessionEnvelope) UnmarshalJSON(data []byte) error {
	var a struct {
		ID        string          `json:"id"`
		SessionID string          `json:"session_id,omitempty"`
		Type      MessageType     `json:"type"`
		CreatedAt time.Time       `json:"created_at"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("models: decode message envelope: %w", err)
	}
	m.ID, m.SessionID, m.Type, m.CreatedAt = a.ID, a.SessionID, a.Type, a.CreatedAt

	switch a.Type {
	case MessageTypeSystem:
		m.System = &SystemMessage{}
		return unmarshalPayload(a.Payload, m.System)
	case MessageTypeUser:
		m.User = &UserMessage{}
		return unmarshalPayload(a.Payload, m.User)
	case MessageTypeAssistant:
		m.Assistant = &AssistantMessage{}
		return unmarshalPayload(a.Payload, m.Assistant)
	case MessageTypeToolCall:
		m.ToolCall = &ToolCallMessage{}
		return unmarshalPayload(a.Payload, m.ToolCall)
	case MessageTypeToolResult:
		m.ToolResult = &ToolResultMessage{}
		return unmarshalPayload(a.Payload, m.ToolResult)
	default:
		return fmt.Errorf("models: message type %q: %w", a.Type, ErrUnknownMessageType)
	}
}

func unmarshalPayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("models: decode payload: %w", err)
	}
	return nil
}

// Direction indicates whether a legacy orchestrator Message originated
// from the human side of a conversation or was produced in reply.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Role indicates the author of a legacy orchestrator Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ChannelType identifies the transport a legacy orchestrator Message was
// exchanged over. The chat server is the only channel this spec wires
// up end to end; the type survives because internal/agent's history and
// branch stores key on it.
type ChannelType string

const ChannelChatServer ChannelType = "chat"

// ToolCall represents the orchestrator's request to execute a tool.
// Distinct from ToolCallIntent: this is the loop's in-flight working
// type, matched by ID against a ToolResult once the tool returns.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the orchestrator's record of one executed ToolCall.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message is the ReAct loop's native, flat turn representation: one
// role, one content string, and whatever tool calls/results accompany
// it. The loop converts to/from SessionEnvelope only at the tiered
// session memory boundary (internal/chatserver), since the loop itself
// needs cheap field access on every iteration rather than a tagged
// union.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Channel     ChannelType    `json:"channel,omitempty"`
	ChannelID   string         `json:"channel_id,omitempty"`
	Direction   Direction      `json:"direction,omitempty"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	BranchID    string         `json:"branch_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Attachment represents a file or media attachment referenced by a
// ContentBlock in a chat-server request/response (as opposed to the
// base64-embedded form used inside stored messages).
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Session represents a conversation tracked by the tiered memory store.
type Session struct {
	ID           string         `json:"id"`
	AgentName    string         `json:"agent_name"`
	UserID       string         `json:"user_id,omitempty"`
	Status       SessionStatus  `json:"status"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	MessageCount int            `json:"message_count"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	IsHot        bool           `json:"is_hot"`
}

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionClosed   SessionStatus = "closed"
	SessionArchived SessionStatus = "archived"
)

// User represents an authenticated caller of the chat server.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Agent represents a configured agent definition (model, provider, tools).
type Agent struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Model        string         `json:"model"`
	Provider     string         `json:"provider"`
	Tools        []string       `json:"tools,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// APIKey represents a bearer credential for programmatic access.
type APIKey struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	Prefix     string    `json:"prefix"`
	Scopes     []string  `json:"scopes,omitempty"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
