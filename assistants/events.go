package assistants

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"sync"
)

// EventKind is the closed set of stream event kinds this backend reacts to.
// Anything the provider adds later decodes as EventOther and is ignored.
type EventKind int

const (
	EventOther EventKind = iota
	EventMessageDelta
	EventRunCompleted
	EventRunRequiresAction
	EventRunFailed
	EventRunCancelled
	EventRunExpired
	EventDone
)

func kindForEventName(name string) EventKind {
	switch name {
	case "thread.message.delta":
		return EventMessageDelta
	case "thread.run.completed":
		return EventRunCompleted
	case "thread.run.requires_action":
		return EventRunRequiresAction
	case "thread.run.failed":
		return EventRunFailed
	case "thread.run.cancelled":
		return EventRunCancelled
	case "thread.run.expired":
		return EventRunExpired
	case "done":
		return EventDone
	default:
		return EventOther
	}
}

// StreamEvent is one decoded server-sent event from a streaming run.
type StreamEvent struct {
	Kind EventKind
	Name string
	Data json.RawMessage
}

// RunStream delivers the events of one streaming run. Events is closed when
// the stream ends; Err reports a transport failure observed before the end.
type RunStream struct {
	events    chan StreamEvent
	body      io.ReadCloser
	err       error
	done      chan struct{}
	quit      chan struct{}
	closeOnce sync.Once
}

// NewRunStream decodes server-sent events from body. Used by the client and
// by tests that feed canned streams.
func NewRunStream(body io.ReadCloser) *RunStream {
	s := &RunStream{
		events: make(chan StreamEvent, 16),
		body:   body,
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}
	go s.consume()
	return s
}

// Events returns the channel of decoded events.
func (s *RunStream) Events() <-chan StreamEvent { return s.events }

// Err returns the transport error that ended the stream, if any. Valid after
// Events is closed.
func (s *RunStream) Err() error {
	<-s.done
	return s.err
}

// Close tears the stream down early; pending events are discarded and the
// consumer goroutine is released even if nobody drains Events.
func (s *RunStream) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	return s.body.Close()
}

// consume parses the SSE wire format: "event:" and "data:" lines separated by
// blank lines, terminated by a "done" event or EOF.
func (s *RunStream) consume() {
	defer close(s.done)
	defer close(s.events)
	defer s.body.Close()

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName string
	var data strings.Builder

	flush := func() bool {
		if eventName == "" && data.Len() == 0 {
			return true
		}
		name := eventName
		payload := data.String()
		eventName = ""
		data.Reset()

		kind := kindForEventName(name)
		if kind == EventDone || payload == "[DONE]" {
			return false
		}
		select {
		case s.events <- StreamEvent{
			Kind: kind,
			Name: name,
			Data: json.RawMessage(payload),
		}:
			return true
		case <-s.quit:
			return false
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if !flush() {
				return
			}
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	flush()
	s.err = scanner.Err()
}
