package protocol

import (
	"strings"

	"threadsync/pkg/telemetry"
)

// ShortAnswerThreshold is the accumulated-answer length below which a
// stream that dies without a terminal frame is reported as truncated
// rather than treated as a genuine short answer.
const ShortAnswerThreshold = 50

// Completion is the semantic result of a successful stream.
type Completion struct {
	Answer      string
	ResponseID  int64
	ThreadID    string // decimal string, "" when the server sent none
	ThreadName  string
	Followups   []string
	References  []string
	Reflections []string
	Guardrail   bool
	Blocked     bool
}

// Sink receives the parser's semantic events. Callbacks run synchronously
// on the goroutine feeding the parser.
type Sink interface {
	// Thinking delivers a narration delta while the agent is reflecting.
	Thinking(delta string)
	// Progress surfaces a transient status line from a non-core step.
	Progress(message string)
	// Completed fires once, on a successful terminal frame.
	Completed(c Completion)
	// Failed fires once, on an error frame or a non-success end frame.
	Failed(message string)
	// Warning surfaces a non-blocking problem (truncated stream).
	Warning(message string)
}

// State of the parser.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateClosed
)

// Parser folds the frame stream into narration and answer accumulators and
// emits semantic events. Not safe for concurrent use; one stream feeds one
// parser from one goroutine.
type Parser struct {
	state State
	sink  Sink

	// narrationBuf accumulates tools_stream deltas for the reflection in
	// progress; narration is the ordered log of finished entries.
	narrationBuf strings.Builder
	narration    []string
	answer       strings.Builder
	isReflecting bool

	// poisoned is set by a terminal error frame; everything after it on the
	// same stream is dropped.
	poisoned bool
	terminal bool
}

// NewParser returns a parser delivering events to sink.
func NewParser(sink Sink) *Parser {
	return &Parser{sink: sink}
}

// State returns the current machine state.
func (p *Parser) State() State { return p.state }

// Narration returns the finished narration log accumulated so far.
func (p *Parser) Narration() []string {
	out := make([]string, len(p.narration))
	copy(out, p.narration)
	return out
}

// Answer returns the answer text accumulated so far.
func (p *Parser) Answer() string { return p.answer.String() }

// Feed consumes one frame. Frames after a terminal transition are dropped.
func (p *Parser) Feed(f Frame) {
	if p.state == StateClosed || p.poisoned {
		return
	}
	if p.state == StateIdle {
		p.state = StateStreaming
	}
	telemetry.FramesTotal.WithLabelValues(f.Step).Inc()

	switch f.Kind {
	case KindToolsStream:
		p.narrationBuf.WriteString(f.Delta)
		p.isReflecting = true
		p.sink.Thinking(f.Delta)

	case KindReflectionEnd, KindReflectionSkip:
		if f.Message != "" {
			p.narration = append(p.narration, f.Message)
		}
		p.narrationBuf.Reset()
		p.isReflecting = false

	case KindAssistantStream:
		// Narration must land in the log before the answer text it preceded.
		if p.isReflecting {
			p.flushNarration()
		}
		p.answer.WriteString(f.Delta)

	case KindEnd:
		p.terminal = true
		p.state = StateClosed
		out := f.Output
		if out == nil || !out.Success {
			msg := ""
			if out != nil {
				msg = out.Message
			}
			telemetry.StreamsTotal.WithLabelValues("error").Inc()
			p.sink.Failed(msg)
			return
		}
		if p.isReflecting {
			p.flushNarration()
		}
		answer := out.Answer
		if answer == "" {
			answer = p.answer.String()
		}
		telemetry.StreamsTotal.WithLabelValues("ok").Inc()
		p.sink.Completed(Completion{
			Answer:      answer,
			ResponseID:  out.AgentResponseID,
			ThreadID:    out.ThreadIDString(),
			ThreadName:  out.ChatThreadName,
			Followups:   out.FollowupQuestions,
			References:  out.References,
			Reflections: p.Narration(),
			Guardrail:   out.GuardrailTriggered,
			Blocked:     out.Blocked,
		})

	case KindError:
		p.terminal = true
		p.poisoned = true
		p.state = StateClosed
		telemetry.StreamsTotal.WithLabelValues("error").Inc()
		p.sink.Failed(f.Message)

	case KindProgress:
		if f.Message != "" {
			p.narration = append(p.narration, f.Message)
			p.sink.Progress(f.Message)
		}
	}
}

// Finish tells the parser the transport closed. Streams that die without a
// terminal frame are reported: short accumulated content almost always
// means a truncated connection, not a short answer. Partial content is
// discarded either way.
func (p *Parser) Finish() {
	if p.terminal {
		return
	}
	p.state = StateClosed
	telemetry.StreamsTotal.WithLabelValues("truncated").Inc()
	if p.answer.Len() < ShortAnswerThreshold {
		p.sink.Warning("the connection closed before the response completed; please retry")
		return
	}
	p.sink.Warning("the connection closed mid-response; the partial answer was discarded")
}

// Cancel marks the stream aborted by the caller. Buffers are discarded and
// no further events fire.
func (p *Parser) Cancel() {
	if p.terminal {
		return
	}
	p.terminal = true
	p.state = StateClosed
	telemetry.StreamsTotal.WithLabelValues("canceled").Inc()
}

func (p *Parser) flushNarration() {
	if p.narrationBuf.Len() > 0 {
		p.narration = append(p.narration, p.narrationBuf.String())
		p.narrationBuf.Reset()
	}
	p.isReflecting = false
}
