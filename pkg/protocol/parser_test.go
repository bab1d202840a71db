package protocol

import (
	"strings"
	"testing"
)

type recSink struct {
	thinking  []string
	progress  []string
	completed []Completion
	failed    []string
	warnings  []string
}

func (r *recSink) Thinking(d string)     { r.thinking = append(r.thinking, d) }
func (r *recSink) Progress(m string)     { r.progress = append(r.progress, m) }
func (r *recSink) Completed(c Completion) { r.completed = append(r.completed, c) }
func (r *recSink) Failed(m string)       { r.failed = append(r.failed, m) }
func (r *recSink) Warning(m string)      { r.warnings = append(r.warnings, m) }

func mustFrame(t *testing.T, raw string) Frame {
	t.Helper()
	f, err := DecodeFrame([]byte(raw))
	if err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return f
}

func TestDecodeFrameKinds(t *testing.T) {
	cases := []struct {
		raw  string
		kind Kind
	}{
		{`{"step":"tools_stream","delta":"x"}`, KindToolsStream},
		{`{"step":"reflection_end","message":"done"}`, KindReflectionEnd},
		{`{"step":"reflection_skip"}`, KindReflectionSkip},
		{`{"step":"assistant_stream","delta":"a"}`, KindAssistantStream},
		{`{"step":"end","output":{"success":true}}`, KindEnd},
		{`{"step":"error","message":"boom"}`, KindError},
		{`{"step":"something_new","message":"hi"}`, KindProgress},
	}
	for _, c := range cases {
		if f := mustFrame(t, c.raw); f.Kind != c.kind {
			t.Fatalf("frame %q: got kind %d want %d", c.raw, f.Kind, c.kind)
		}
	}
	if _, err := DecodeFrame([]byte("not json")); err == nil {
		t.Fatalf("expected decode error for garbage input")
	}
}

func TestNarrationPrecedesAnswer(t *testing.T) {
	sink := &recSink{}
	p := NewParser(sink)
	p.Feed(mustFrame(t, `{"step":"tools_stream","delta":"checking "}`))
	p.Feed(mustFrame(t, `{"step":"tools_stream","delta":"sources"}`))
	// no reflection_end: the assistant text starts while reflecting
	p.Feed(mustFrame(t, `{"step":"assistant_stream","delta":"the answer"}`))
	p.Feed(mustFrame(t, `{"step":"end","output":{"success":true,"agent_response_id":7,"thread_id":42}}`))

	if len(sink.completed) != 1 {
		t.Fatalf("expected 1 completion, got %d", len(sink.completed))
	}
	c := sink.completed[0]
	if len(c.Reflections) != 1 || c.Reflections[0] != "checking sources" {
		t.Fatalf("narration not flushed before answer: %#v", c.Reflections)
	}
	if c.Answer != "the answer" {
		t.Fatalf("answer = %q", c.Answer)
	}
	if c.ThreadID != "42" || c.ResponseID != 7 {
		t.Fatalf("ids not carried: thread=%q resp=%d", c.ThreadID, c.ResponseID)
	}
}

func TestReflectionEndSupersedesDeltas(t *testing.T) {
	sink := &recSink{}
	p := NewParser(sink)
	p.Feed(mustFrame(t, `{"step":"tools_stream","delta":"raw deltas"}`))
	p.Feed(mustFrame(t, `{"step":"reflection_end","message":"summary"}`))
	p.Feed(mustFrame(t, `{"step":"end","output":{"success":true,"answer":"ok"}}`))
	c := sink.completed[0]
	if len(c.Reflections) != 1 || c.Reflections[0] != "summary" {
		t.Fatalf("reflection message should replace buffered deltas, got %#v", c.Reflections)
	}
}

func TestOutputAnswerWinsOverAccumulated(t *testing.T) {
	sink := &recSink{}
	p := NewParser(sink)
	p.Feed(mustFrame(t, `{"step":"assistant_stream","delta":"partial"}`))
	p.Feed(mustFrame(t, `{"step":"end","output":{"success":true,"answer":"final"}}`))
	if sink.completed[0].Answer != "final" {
		t.Fatalf("answer = %q, want final", sink.completed[0].Answer)
	}
}

func TestNonSuccessEndFails(t *testing.T) {
	sink := &recSink{}
	p := NewParser(sink)
	p.Feed(mustFrame(t, `{"step":"end","output":{"success":false,"message":"nope"}}`))
	if len(sink.failed) != 1 || sink.failed[0] != "nope" {
		t.Fatalf("failed = %#v", sink.failed)
	}
	if len(sink.completed) != 0 {
		t.Fatalf("unexpected completion")
	}
}

func TestErrorFramePoisonsStream(t *testing.T) {
	sink := &recSink{}
	p := NewParser(sink)
	p.Feed(mustFrame(t, `{"step":"error","message":"boom"}`))
	// anything after the error must be dropped
	p.Feed(mustFrame(t, `{"step":"assistant_stream","delta":"late"}`))
	p.Feed(mustFrame(t, `{"step":"end","output":{"success":true,"answer":"late"}}`))
	if len(sink.failed) != 1 || sink.failed[0] != "boom" {
		t.Fatalf("failed = %#v", sink.failed)
	}
	if len(sink.completed) != 0 {
		t.Fatalf("completion after poison")
	}
	p.Finish()
	if len(sink.warnings) != 0 {
		t.Fatalf("finish after terminal should be silent, got %#v", sink.warnings)
	}
}

func TestUnknownStepRetainedAsProgress(t *testing.T) {
	sink := &recSink{}
	p := NewParser(sink)
	p.Feed(mustFrame(t, `{"step":"rate_limit_wait","message":"slowing down"}`))
	p.Feed(mustFrame(t, `{"step":"end","output":{"success":true,"answer":"x"}}`))
	if len(sink.progress) != 1 || sink.progress[0] != "slowing down" {
		t.Fatalf("progress = %#v", sink.progress)
	}
	c := sink.completed[0]
	if len(c.Reflections) != 1 || c.Reflections[0] != "slowing down" {
		t.Fatalf("unknown-step message should land in the narration log: %#v", c.Reflections)
	}
}

func TestTruncationShortAnswerWarnsRetry(t *testing.T) {
	sink := &recSink{}
	p := NewParser(sink)
	p.Feed(mustFrame(t, `{"step":"assistant_stream","delta":"tiny"}`))
	p.Finish()
	if len(sink.warnings) != 1 || !strings.Contains(sink.warnings[0], "retry") {
		t.Fatalf("warnings = %#v", sink.warnings)
	}
	if len(sink.completed)+len(sink.failed) != 0 {
		t.Fatalf("truncation must not complete or fail the turn")
	}
}

func TestTruncationLongAnswerDiscarded(t *testing.T) {
	sink := &recSink{}
	p := NewParser(sink)
	long := strings.Repeat("words ", 20)
	p.Feed(mustFrame(t, `{"step":"assistant_stream","delta":"`+long+`"}`))
	p.Finish()
	if len(sink.warnings) != 1 || !strings.Contains(sink.warnings[0], "discarded") {
		t.Fatalf("warnings = %#v", sink.warnings)
	}
}

func TestCancelSilencesParser(t *testing.T) {
	sink := &recSink{}
	p := NewParser(sink)
	p.Feed(mustFrame(t, `{"step":"assistant_stream","delta":"x"}`))
	p.Cancel()
	p.Feed(mustFrame(t, `{"step":"end","output":{"success":true,"answer":"x"}}`))
	p.Finish()
	if len(sink.completed)+len(sink.failed)+len(sink.warnings) != 0 {
		t.Fatalf("cancelled parser emitted events: %#v", sink)
	}
	if p.State() != StateClosed {
		t.Fatalf("state = %d", p.State())
	}
}
