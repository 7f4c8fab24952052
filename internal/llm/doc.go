// Package llm contains adapters for invoking tool-calling language models. It
// abstracts away provider-specific APIs so the decision agent only deals with
// messages, tool definitions and tool calls.
package llm
