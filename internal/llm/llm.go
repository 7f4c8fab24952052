package llm

import (
	"context"
	"encoding/json"
)

// Role 标识对话消息的发送方。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message 是一轮对话中的单条消息。
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall 是模型请求执行的一次工具调用，Arguments 为 JSON 文本。
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool 描述一个可供模型调用的工具，Parameters 为 JSON Schema。
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request 描述一次推理调用。
type Request struct {
	Messages    []Message
	Tools       []Tool
	Temperature float64
}

// Response 是模型返回的助手消息。ToolCalls 为空表示本轮推理结束。
type Response struct {
	Message      Message
	FinishReason string
}

// Done 判断模型是否不再请求工具。
func (r *Response) Done() bool {
	return r == nil || len(r.Message.ToolCalls) == 0
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}

// ToolResult 构造回填给模型的工具结果消息。
func ToolResult(callID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Content: content}
}
