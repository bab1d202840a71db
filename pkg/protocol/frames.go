// Package protocol models the agent's response stream: tagged JSON frames
// arriving over a long-lived request, and the state machine that folds them
// into narration, answer text and a terminal result.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Frame kinds. Every known step discriminator maps to one variant; anything
// else is KindProgress.
type Kind int

const (
	KindToolsStream Kind = iota
	KindReflectionEnd
	KindReflectionSkip
	KindAssistantStream
	KindEnd
	KindError
	KindProgress
)

// Step discriminator values on the wire.
const (
	StepToolsStream     = "tools_stream"
	StepReflectionEnd   = "reflection_end"
	StepReflectionSkip  = "reflection_skip"
	StepAssistantStream = "assistant_stream"
	StepEnd             = "end"
	StepError           = "error"
)

// Output is the payload of a terminal end frame.
type Output struct {
	Success            bool     `json:"success"`
	Answer             string   `json:"answer,omitempty"`
	AgentResponseID    int64    `json:"agent_response_id,omitempty"`
	ThreadID           int64    `json:"thread_id,omitempty"`
	ChatThreadName     string   `json:"chat_thread_name,omitempty"`
	FollowupQuestions  []string `json:"followup_questions,omitempty"`
	References         []string `json:"references,omitempty"`
	GuardrailTriggered bool     `json:"guardrail_triggered,omitempty"`
	Blocked            bool     `json:"blocked,omitempty"`
	Message            string   `json:"message,omitempty"`
}

// ThreadIDString returns the server thread id as the engine's decimal
// string encoding, or "" when the server sent none.
func (o *Output) ThreadIDString() string {
	if o == nil || o.ThreadID == 0 {
		return ""
	}
	return strconv.FormatInt(o.ThreadID, 10)
}

// Frame is one decoded stream event.
type Frame struct {
	Kind    Kind
	Step    string
	Delta   string
	Message string
	// Output is set only on end frames.
	Output *Output
}

// wireFrame is the raw shape of a frame as sent by the agent.
type wireFrame struct {
	Step    string  `json:"step"`
	Delta   string  `json:"delta,omitempty"`
	Message string  `json:"message,omitempty"`
	Output  *Output `json:"output,omitempty"`
}

// DecodeFrame parses one JSON frame into the closed union.
func DecodeFrame(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	f := Frame{Step: w.Step, Delta: w.Delta, Message: w.Message, Output: w.Output}
	switch w.Step {
	case StepToolsStream:
		f.Kind = KindToolsStream
	case StepReflectionEnd:
		f.Kind = KindReflectionEnd
	case StepReflectionSkip:
		f.Kind = KindReflectionSkip
	case StepAssistantStream:
		f.Kind = KindAssistantStream
	case StepEnd:
		f.Kind = KindEnd
	case StepError:
		f.Kind = KindError
	default:
		f.Kind = KindProgress
	}
	return f, nil
}
