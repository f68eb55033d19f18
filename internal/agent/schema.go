package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Role identifies who authored a MessageEntry.
type Role string

const (
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
	RoleSystem Role = "system"
)

// MessageEntry is one turn of conversation history.
type MessageEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConversationContext is the durable, client-facing shape: what a client
// sends in on a request and receives back on the terminal updated_context
// event. Role-system entries are internal bookkeeping and must never
// appear here.
type ConversationContext struct {
	History []MessageEntry `json:"history"`
	Summary string         `json:"summary"`
}

// StepStatus is the lifecycle state of one Plan Step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// Step is one unit of work inside a Plan.
type Step struct {
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
	Tools       []string   `json:"tools,omitempty"`
}

// Plan is the buffered payload of a [PLAN] tag section.
type Plan struct {
	Steps       []Step `json:"steps"`
	CurrentStep int    `json:"current_step"`
	TotalSteps  int    `json:"total_steps"`
}

// Reasoning is the buffered payload of a [REASONING] tag section. Only
// UserNotification is ever surfaced outward; Thought is retained
// internally as reasoning history fed back into future prompts.
type Reasoning struct {
	Thought          string `json:"thought"`
	UserNotification string `json:"user_notification"`
}

// ToolUse is the buffered payload of a [TOOL] tag section: one requested
// tool invocation.
type ToolUse struct {
	ID               string          `json:"id,omitempty"`
	Name             string          `json:"name"`
	Arguments        json.RawMessage `json:"arguments"`
	UserNotification string          `json:"user_notification,omitempty"`
}

// Status is the buffered payload of a [STATUS] tag section: the agent's
// declared iteration outcome.
type Status struct {
	Status string `json:"status"` // continue, clarify, complete
	Reason string `json:"reason,omitempty"`
}

const (
	StatusContinue = "continue"
	StatusClarify  = "clarify"
	StatusComplete = "complete"
)

// ToolResultEntry records the outcome of one dispatched tool call: either
// a successful Result or an Error message, never both.
type ToolResultEntry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// IsError reports whether this entry represents a failed tool call.
func (e ToolResultEntry) IsError() bool {
	return e.Error != ""
}

// ConversationState is the mutable, core-internal record threaded through
// every iteration of the conversation agent's loop. It is created once per
// request from the incoming ConversationContext, owned exclusively by the
// Conversation Agent for the request's lifetime, and consumed once to
// produce the outgoing ConversationContext.
type ConversationState struct {
	SystemPrompt string
	UserInput    string
	History      []MessageEntry
	Summary      string

	CurrentPlan     *Plan
	ReasoningHistory []string
	ToolQueue       []ToolUse
	ToolResults     []ToolResultEntry
	LatestSummary   *string
	Status          *Status

	MaxIterations   int
	ExtraIterations int
}

// NewConversationState seeds a ConversationState for a new request from the
// incoming message and prior context.
func NewConversationState(message, systemPrompt string, ctx ConversationContext) *ConversationState {
	history := make([]MessageEntry, len(ctx.History), len(ctx.History)+1)
	copy(history, ctx.History)
	history = append(history, MessageEntry{Role: RoleHuman, Content: message})

	return &ConversationState{
		SystemPrompt:    systemPrompt,
		UserInput:       message,
		History:         history,
		Summary:         ctx.Summary,
		MaxIterations:   DefaultMaxIterations,
		ExtraIterations: DefaultExtraIterations,
	}
}

// DefaultMaxIterations and DefaultExtraIterations are the baseline
// iteration-budget constants; internal/config overrides them from
// MAX_ITERATIONS / EXTRA_ITERATIONS when set.
const (
	DefaultMaxIterations   = 3
	DefaultExtraIterations = 1
)

// GrowIterationBudgetForPlan enlarges MaxIterations once a plan is known:
// if the plan's total steps plus the configured extra-iteration allowance
// exceeds the current budget, the budget is raised to fit. This only
// grows the budget; it never shrinks it.
func (s *ConversationState) GrowIterationBudgetForPlan() {
	if s.CurrentPlan == nil {
		return
	}
	needed := s.CurrentPlan.TotalSteps + s.ExtraIterations
	if needed > s.MaxIterations {
		s.MaxIterations = needed
	}
}

// ToContext produces the outgoing ConversationContext: history with role
// system entries removed, and the composed summary.
func (s *ConversationState) ToContext() ConversationContext {
	out := make([]MessageEntry, 0, len(s.History))
	for _, m := range s.History {
		if m.Role == RoleSystem {
			continue
		}
		out = append(out, m)
	}

	summary := s.Summary
	if s.LatestSummary != nil {
		summary = *s.LatestSummary
	} else if s.CurrentPlan != nil || s.Status != nil {
		summary = s.composedSummary()
	}

	return ConversationContext{History: out, Summary: summary}
}

func (s *ConversationState) composedSummary() string {
	var b strings.Builder
	b.WriteString(s.Summary)
	if s.CurrentPlan != nil {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "Plan: step %d of %d.", s.CurrentPlan.CurrentStep, s.CurrentPlan.TotalSteps)
	}
	if s.Status != nil {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "Status: %s.", s.Status.Status)
	}
	return b.String()
}

// schemas holds the compiled JSON Schemas used to validate buffered tag
// payloads before they are unmarshaled into their Go structs. Compiling
// once at package init avoids re-parsing the schema text on every tag.
var (
	planSchema      *jsonschema.Schema
	reasoningSchema *jsonschema.Schema
	toolUseSchema   *jsonschema.Schema
	statusSchema    *jsonschema.Schema
)

func init() {
	planSchema = mustCompile("plan.json", planSchemaText)
	reasoningSchema = mustCompile("reasoning.json", reasoningSchemaText)
	toolUseSchema = mustCompile("tool.json", toolUseSchemaText)
	statusSchema = mustCompile("status.json", statusSchemaText)
}

func mustCompile(name, text string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(text)); err != nil {
		panic(fmt.Sprintf("agent: invalid built-in schema %s: %v", name, err))
	}
	s, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("agent: failed to compile built-in schema %s: %v", name, err))
	}
	return s
}

const planSchemaText = `{
	"type": "object",
	"required": ["steps", "current_step", "total_steps"],
	"properties": {
		"steps": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["description", "status"],
				"properties": {
					"description": {"type": "string"},
					"status": {"type": "string", "enum": ["pending", "in_progress", "completed", "failed"]},
					"tools": {"type": "array", "items": {"type": "string"}}
				}
			}
		},
		"current_step": {"type": "integer", "minimum": 1},
		"total_steps": {"type": "integer", "minimum": 1}
	}
}`

const reasoningSchemaText = `{
	"type": "object",
	"required": ["thought", "user_notification"],
	"properties": {
		"thought": {"type": "string"},
		"user_notification": {"type": "string"}
	}
}`

const toolUseSchemaText = `{
	"type": "object",
	"required": ["name", "arguments"],
	"properties": {
		"id": {"type": "string"},
		"name": {"type": "string", "minLength": 1},
		"arguments": {"type": "object"},
		"user_notification": {"type": "string"}
	}
}`

const statusSchemaText = `{
	"type": "object",
	"required": ["status"],
	"properties": {
		"status": {"type": "string", "enum": ["continue", "clarify", "complete"]},
		"reason": {"type": "string"}
	}
}`

// ParsePlan validates and decodes a buffered [PLAN] payload.
func ParsePlan(raw string) (*Plan, error) {
	var p Plan
	if err := validateAndDecode(planSchema, raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ParseReasoning validates and decodes a buffered [REASONING] payload.
func ParseReasoning(raw string) (*Reasoning, error) {
	var r Reasoning
	if err := validateAndDecode(reasoningSchema, raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ParseToolUse validates and decodes a buffered [TOOL] payload, assigning a
// fresh ID via google/uuid when the model omitted one.
func ParseToolUse(raw string) (*ToolUse, error) {
	var t ToolUse
	if err := validateAndDecode(toolUseSchema, raw, &t); err != nil {
		return nil, err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return &t, nil
}

// ParseStatus validates and decodes a buffered [STATUS] payload.
func ParseStatus(raw string) (*Status, error) {
	var s Status
	if err := validateAndDecode(statusSchema, raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func validateAndDecode(schema *jsonschema.Schema, raw string, out any) error {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return &ValidationError{Raw: raw, Cause: err}
	}
	if err := schema.Validate(doc); err != nil {
		return &ValidationError{Raw: raw, Cause: err}
	}
	return json.Unmarshal([]byte(raw), out)
}
