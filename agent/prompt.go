// Package agent runs the tool-calling loop: render the transcript, ask the
// gateway for one tool call, validate and execute it, record the outcome.
package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/linanwx/supportbot/tools"
)

// PlaybookFile is an optional workspace file appended to the system prompt.
const PlaybookFile = "PLAYBOOK.md"

// PromptOptions tune BuildSystemPrompt.
type PromptOptions struct {
	Workspace    string
	TerminalTool string
	Now          time.Time
}

// BuildSystemPrompt assembles the identity, the optional workspace playbook,
// the serialized tool registry and the JSON-only response contract.
func BuildSystemPrompt(reg *tools.Registry, opts PromptOptions) string {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	terminal := opts.TerminalTool
	if terminal == "" {
		terminal = tools.Finalize
	}

	var parts []string

	parts = append(parts, fmt.Sprintf(`# supportbot

You are supportbot, an assistant working a customer-support helpdesk thread.
You act one step at a time. Each step you pick exactly one tool; its outcome is
appended to the conversation and you are asked again.

## Current Time
%s

## Guidelines
- Read the whole conversation before acting.
- Prefer searching the knowledge base before drafting a reply to a technical problem.
- If a tool returns an error, read it and adjust your arguments or choose another tool.
- Flag the thread for a human when you cannot resolve it safely.
- Call %s when no further action is useful.`, now.Format("2006-01-02 15:04 (Monday)"), terminal))

	if opts.Workspace != "" {
		path := filepath.Join(opts.Workspace, PlaybookFile)
		content, err := os.ReadFile(path)
		if err == nil && len(content) > 0 {
			parts = append(parts, fmt.Sprintf("## Playbook\n\n%s", strings.TrimSpace(string(content))))
		}
	}

	parts = append(parts, fmt.Sprintf("## Available Tools\n\n%s", reg.Serialize()))

	parts = append(parts, `## Response Format

Respond with a single JSON object and nothing else:

{"name": "<tool name>", "args": { ... }}

"name" must be one of the tools above. "args" must match that tool's args schema.`)

	return strings.Join(parts, "\n\n---\n\n")
}
