package hook

import (
	"encoding/json"
	"io"
)

// maxPayloadBytes bounds the stdin read per spec.md §4.7; an oversized
// payload is treated as truncated and the pipeline no-ops.
const maxPayloadBytes = 1 << 20 // 1 MiB

// Payload is the stdin JSON contract for the post-tool-use pipeline.
type Payload struct {
	ToolName       string         `json:"tool_name"`
	ToolInput      map[string]any `json:"tool_input"`
	ToolResponse   any            `json:"tool_response"`
	SessionID      string         `json:"session_id"`
	ToolUseID      string         `json:"tool_use_id"`
	StartedAt      string         `json:"started_at"`
	EndedAt        string         `json:"ended_at"`
	DurationMs     *float64       `json:"duration_ms"`
	DurationMsCamel *float64      `json:"durationMs"`
	Timing         map[string]any `json:"timing"`
}

// ReadPayload reads and parses stdin JSON, bounded to maxPayloadBytes. ok
// is false (no error) when the payload is empty, overflows the bound, or
// fails to parse — each of those is a pipeline no-op per spec.md §4.7, not
// a propagated error.
func ReadPayload(r io.Reader) (Payload, bool) {
	limited := io.LimitReader(r, maxPayloadBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil || len(data) == 0 || len(data) > maxPayloadBytes {
		return Payload{}, false
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, false
	}
	return p, true
}
