package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/chatd-agent/chatd/internal/agent"
)

const maxChatBodyBytes = 1 << 20 // 1MB: request bodies are a message plus echoed context, not file uploads.

// chatRequest is the POST /openai/chat body.
type chatRequest struct {
	Message      string                     `json:"message"`
	SystemPrompt string                     `json:"system_prompt"`
	Context      *agent.ConversationContext `json:"context"`
}

// sseEvent is the wire shape of one `data: <json>` line: {"type": "...",
// "content": ...}.
type sseEvent struct {
	Type    string `json:"type"`
	Content any    `json:"content"`
}

// toolStartContent is tool_start's content shape: {id, name, description,
// user_notification}.
type toolStartContent struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	UserNotification string `json:"user_notification,omitempty"`
}

// toolEndContent is tool_end's content shape: {id, name, result} or
// {id, name, error}.
type toolEndContent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleChat streams process_message's outbound events as server-sent
// events: `data: <json>\n\n` per event, terminated with a literal
// `data: [DONE]\n\n`. The HTTP status is always 200 once the stream has
// started; pre-stream validation errors are returned as 4xx JSON.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	defer r.Body.Close()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "request too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "message is required"})
		return
	}

	convCtx := agent.ConversationContext{}
	if req.Context != nil {
		convCtx = *req.Context
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan agent.OutboundEvent, 16)
	sink := agent.NewChanSink(events)
	conv := s.newAgent()

	go func() {
		defer close(events)
		_, _ = conv.ProcessMessage(ctx, req.Message, req.SystemPrompt, convCtx, sink)
	}()

	for ev := range events {
		line, ok := s.encodeEvent(ev)
		if !ok {
			continue
		}
		if _, err := w.Write(line); err != nil {
			cancel()
			return
		}
		flusher.Flush()
	}

	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// encodeEvent renders one OutboundEvent as an SSE `data: <json>\n\n` line.
// It returns ok=false for event types the wire contract does not surface
// (there are none at present, but this keeps future additions to
// agent.OutboundEventType from silently corrupting the stream).
func (s *Server) encodeEvent(ev agent.OutboundEvent) ([]byte, bool) {
	var frame sseEvent

	switch ev.Type {
	case agent.EventReasoning:
		frame = sseEvent{Type: "reasoning", Content: ev.Text}
	case agent.EventText:
		frame = sseEvent{Type: "text", Content: ev.Text}
	case agent.EventToolStart:
		if ev.ToolUse == nil {
			return nil, false
		}
		frame = sseEvent{Type: "tool_start", Content: toolStartContent{
			ID:               ev.ToolUse.ID,
			Name:             ev.ToolUse.Name,
			Description:      s.toolInfo[ev.ToolUse.Name].Description,
			UserNotification: ev.ToolUse.UserNotification,
		}}
	case agent.EventToolEnd:
		if ev.ToolUse == nil || ev.ToolResult == nil {
			return nil, false
		}
		frame = sseEvent{Type: "tool_end", Content: toolEndContent{
			ID:     ev.ToolUse.ID,
			Name:   ev.ToolUse.Name,
			Result: ev.ToolResult.Result,
			Error:  ev.ToolResult.Error,
		}}
	case agent.EventUpdatedContext:
		if ev.Context == nil {
			return nil, false
		}
		frame = sseEvent{Type: "updated_context", Content: ev.Context}
	case agent.EventError:
		msg := "unknown error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		frame = sseEvent{Type: "error", Content: msg}
	default:
		return nil, false
	}

	encoded, err := json.Marshal(frame)
	if err != nil {
		return nil, false
	}
	return append(append([]byte("data: "), encoded...), []byte("\n\n")...), true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
