package assistants

import (
	"io"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, raw string) []StreamEvent {
	t.Helper()
	stream := NewRunStream(io.NopCloser(strings.NewReader(raw)))
	var events []StreamEvent
	for event := range stream.Events() {
		events = append(events, event)
	}
	require.NoError(t, stream.Err())
	return events
}

func TestRunStreamDecodesKnownEvents(t *testing.T) {
	raw := "event: thread.run.created\n" +
		"data: {\"id\":\"run_1\"}\n\n" +
		"event: thread.message.delta\n" +
		"data: {\"delta\":{}}\n\n" +
		"event: thread.run.completed\n" +
		"data: {\"id\":\"run_1\"}\n\n" +
		"event: done\n" +
		"data: [DONE]\n\n"

	events := collect(t, raw)
	require.Len(t, events, 3)
	require.Equal(t, EventOther, events[0].Kind)
	require.Equal(t, "thread.run.created", events[0].Name)
	require.Equal(t, EventMessageDelta, events[1].Kind)
	require.Equal(t, EventRunCompleted, events[2].Kind)
}

func TestRunStreamTerminalKinds(t *testing.T) {
	cases := map[string]EventKind{
		"thread.run.requires_action": EventRunRequiresAction,
		"thread.run.failed":          EventRunFailed,
		"thread.run.cancelled":       EventRunCancelled,
		"thread.run.expired":         EventRunExpired,
	}
	for name, kind := range cases {
		raw := "event: " + name + "\ndata: {}\n\n"
		events := collect(t, raw)
		require.Len(t, events, 1)
		require.Equal(t, kind, events[0].Kind)
	}
}

func TestRunStreamStopsAtDone(t *testing.T) {
	raw := "event: thread.message.delta\n" +
		"data: {\"delta\":{}}\n\n" +
		"event: done\n" +
		"data: [DONE]\n\n" +
		"event: thread.message.delta\n" +
		"data: {\"delta\":{}}\n\n"

	events := collect(t, raw)
	require.Len(t, events, 1)
}

func TestRunStreamJoinsMultiLineData(t *testing.T) {
	raw := "event: thread.message.delta\n" +
		"data: {\"delta\":\n" +
		"data: {}}\n\n"

	events := collect(t, raw)
	require.Len(t, events, 1)
	require.JSONEq(t, `{"delta":{}}`, string(events[0].Data))
}

func TestRunStreamHandlesEOFWithoutDone(t *testing.T) {
	raw := "event: thread.message.delta\n" +
		"data: {\"delta\":{}}\n\n" +
		"event: thread.run.completed\n" +
		"data: {\"id\":\"run_1\"}\n"
	// Note: no trailing blank line and no done event.

	events := collect(t, raw)
	require.Len(t, events, 2)
	require.Equal(t, EventRunCompleted, events[1].Kind)
}

func TestRunStreamCloseReleasesUndrainedConsumer(t *testing.T) {
	// Far more events than the channel buffers, so the consumer is parked on
	// a send when Close arrives.
	var raw strings.Builder
	for i := 0; i < 100; i++ {
		raw.WriteString("event: thread.message.delta\n")
		raw.WriteString("data: {\"delta\":{}}\n\n")
	}

	before := runtime.NumGoroutine()

	stream := NewRunStream(io.NopCloser(strings.NewReader(raw.String())))
	require.NoError(t, stream.Close())

	// Err blocks until the consumer goroutine exits.
	require.NoError(t, stream.Err())
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, time.Second, 10*time.Millisecond, "consumer goroutine should exit after Close")
}

func TestRunStreamIgnoresCommentsAndBlankBlocks(t *testing.T) {
	raw := "\n\n" +
		"event: thread.message.delta\n" +
		"data: {\"delta\":{}}\n\n\n"

	events := collect(t, raw)
	require.Len(t, events, 1)
}
