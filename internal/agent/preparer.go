package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// PreparerConfig tunes the Message Preparer's behavior. MaxHistoryMessages
// mirrors MAX_HISTORY_MESSAGES from internal/config.
type PreparerConfig struct {
	MaxHistoryMessages int
}

// DefaultPreparerConfig returns the baseline default of the last 10
// history messages.
func DefaultPreparerConfig() PreparerConfig {
	return PreparerConfig{MaxHistoryMessages: 10}
}

func (c PreparerConfig) sanitized() PreparerConfig {
	if c.MaxHistoryMessages <= 0 {
		c.MaxHistoryMessages = 10
	}
	return c
}

// Preparer builds the prompt sent to the LLM on each iteration of the
// conversation agent's loop.
type Preparer struct {
	config PreparerConfig
}

// NewPreparer creates a Preparer, filling zero-valued config with defaults.
func NewPreparer(config PreparerConfig) *Preparer {
	return &Preparer{config: config.sanitized()}
}

// BuildMessages assembles the ordered message sequence for one iteration:
// (system, system_prompt?) · (system, "Conversation summary: ...") ·
// recent_history · (human, user_input) · (system, format_instructions).
func (p *Preparer) BuildMessages(state *ConversationState, tools []Tool) []MessageEntry {
	messages := make([]MessageEntry, 0, len(state.History)+4)

	if prompt := strings.TrimSpace(state.SystemPrompt); prompt != "" {
		messages = append(messages, MessageEntry{Role: RoleSystem, Content: prompt})
	}

	if summary := strings.TrimSpace(state.Summary); summary != "" {
		messages = append(messages, MessageEntry{Role: RoleSystem, Content: "Conversation summary: " + summary})
	}

	messages = append(messages, recentHistory(state.History, p.config.MaxHistoryMessages)...)

	messages = append(messages, MessageEntry{Role: RoleHuman, Content: state.UserInput})

	messages = append(messages, MessageEntry{Role: RoleSystem, Content: FormatInstructions(tools)})

	return messages
}

// recentHistory returns the last n entries of history, preserving order.
// Role-system entries (continuation messages) are kept: they must remain
// visible to the model across iterations.
func recentHistory(history []MessageEntry, n int) []MessageEntry {
	if len(history) <= n {
		out := make([]MessageEntry, len(history))
		copy(out, history)
		return out
	}
	out := make([]MessageEntry, n)
	copy(out, history[len(history)-n:])
	return out
}

// FormatInstructions renders the static system prompt enumerating the tag
// grammar and available tools' argument schemas.
func FormatInstructions(tools []Tool) string {
	var b strings.Builder

	b.WriteString("Respond using the following tagged sections, in any order, each opened with [NAME] and closed with [/NAME]:\n")
	b.WriteString("- [PLAN]: a JSON object {\"steps\": [...], \"current_step\": int, \"total_steps\": int} describing your plan for this request.\n")
	b.WriteString("- [REASONING]: a JSON object {\"thought\": string, \"user_notification\": string (1-5 words)} describing your current reasoning step.\n")
	b.WriteString("- [TEXT]: the reply text to show the user, streamed as you produce it.\n")
	b.WriteString("- [TOOL]: a JSON object {\"name\": string, \"arguments\": object, \"user_notification\": string} to invoke a tool. Omit unless you are invoking a tool.\n")
	b.WriteString("- [STATUS]: a JSON object {\"status\": \"continue\"|\"clarify\"|\"complete\", \"reason\": string (optional)} declaring the outcome of this turn.\n")
	b.WriteString("- [SUMMARY]: a short text summarizing the conversation so far.\n")
	b.WriteString("Every response must include plan, reasoning, text, status, and summary. Include tool only when invoking a tool.\n")

	b.WriteString("\nAvailable tools:\n")
	rendered := renderToolSchemas(tools)
	if len(rendered) == 0 {
		b.WriteString("(none registered)\n")
	} else {
		for _, line := range rendered {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return strings.TrimSpace(b.String())
}

type schemaProperty struct {
	Description string `json:"description"`
	Type        string `json:"type"`
}

type toolSchemaDoc struct {
	Properties map[string]schemaProperty `json:"properties"`
}

// renderToolSchemas renders each tool as "name: description / Arguments:
// <arg>: <desc>, ..." or "name: description / Arguments: none", sorted by
// name for deterministic prompt output.
func renderToolSchemas(tools []Tool) []string {
	sorted := make([]Tool, len(tools))
	copy(sorted, tools)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })

	lines := make([]string, 0, len(sorted))
	for _, t := range sorted {
		lines = append(lines, fmt.Sprintf("%s: %s / Arguments: %s", t.Name(), t.Description(), renderArguments(t.Schema())))
	}
	return lines
}

func renderArguments(schema json.RawMessage) string {
	var doc toolSchemaDoc
	if len(schema) == 0 {
		return "none"
	}
	if err := json.Unmarshal(schema, &doc); err != nil || len(doc.Properties) == 0 {
		return "none"
	}

	names := make([]string, 0, len(doc.Properties))
	for name := range doc.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		desc := doc.Properties[name].Description
		if desc == "" {
			desc = doc.Properties[name].Type
		}
		parts = append(parts, fmt.Sprintf("%s: %s", name, desc))
	}
	return strings.Join(parts, ", ")
}
