// Package clock implements the agent.Tool interface for reporting the
// current time in a requested (or the host) timezone, falling back to UTC
// when the requested zone can't be loaded.
package clock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chatd-agent/chatd/internal/agent"
)

// Tool implements agent.Tool: it reports the current time in a requested
// IANA timezone, defaulting to UTC when none is given or the given zone is
// invalid.
type Tool struct {
	now func() time.Time
}

// New creates the current_time tool. now defaults to time.Now; tests
// override it for deterministic output.
func New() *Tool {
	return &Tool{now: time.Now}
}

func (t *Tool) Name() string { return "current_time" }

func (t *Tool) Description() string {
	return "Returns the current date and time, optionally in a specific IANA timezone."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"timezone": {"type": "string", "description": "IANA timezone name, e.g. America/New_York. Defaults to UTC."}
		}
	}`)
}

type params struct {
	Timezone string `json:"timezone"`
}

// Execute resolves params.Timezone against the IANA database and returns
// the current time formatted as RFC3339. An unknown timezone is not fatal:
// it is reported back to the model as part of the result so it can retry
// with a corrected name, per the dispatcher's error-shape contract.
func (t *Tool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	var p params
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return &agent.ToolResult{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
		}
	}

	tz := strings.TrimSpace(p.Timezone)
	if tz == "" {
		tz = "UTC"
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return &agent.ToolResult{
			Content: fmt.Sprintf("unknown timezone %q: %v. Try an IANA zone name such as \"UTC\" or \"America/New_York\".", tz, err),
			IsError: true,
		}, nil
	}

	now := t.now().In(loc)
	payload := map[string]string{
		"timezone": loc.String(),
		"time":     now.Format(time.RFC3339),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to format result: %v", err), IsError: true}, nil
	}

	return &agent.ToolResult{Content: string(encoded)}, nil
}
