package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/tashilapathum/hazle-backend/assistants"
	"github.com/tashilapathum/hazle-backend/identity"
)

// NoContentPlaceholder is returned when a run completes without producing any
// reply text. A completed-but-empty run is unexpected, not an error.
const NoContentPlaceholder = "Something went wrong."

// Orchestrator drives one conversational turn: append the user message, start
// a run, wait for a terminal state and extract the reply.
type Orchestrator struct {
	store   identity.Store
	remote  RemoteClient
	threads *ThreadManager
	cfg     Config
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(store identity.Store, remote RemoteClient, threads *ThreadManager, cfg Config) *Orchestrator {
	return &Orchestrator{store: store, remote: remote, threads: threads, cfg: cfg.withDefaults()}
}

// ValidateMessage rejects blank or oversized message text.
func (o *Orchestrator) ValidateMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Reason: "Please provide a message."}
	}
	if len(text) > o.cfg.MaxMessageLength {
		return &ValidationError{
			Reason: fmt.Sprintf("Message exceeds maximum allowed length of %d characters.", o.cfg.MaxMessageLength),
		}
	}
	return nil
}

// Respond appends text as a user message on the thread, runs the assistant
// and returns the reply. onDelta, when non-nil, receives each reply fragment
// as it arrives on the streaming strategy.
//
// Ownership is checked before any remote call: the thread must belong to the
// caller and must reference the caller's current assistant record.
func (o *Orchestrator) Respond(ctx context.Context, userID, externalThreadID, text string, onDelta func(string)) (string, error) {
	if err := o.ValidateMessage(text); err != nil {
		return "", err
	}

	thread, err := o.threads.ResolveThread(ctx, userID, externalThreadID)
	if err != nil {
		return "", err
	}

	assistant, err := o.store.FindAssistantByUser(ctx, userID)
	if errors.Is(err, identity.ErrNotFound) {
		log.Printf("Denied access to thread %s: user %s has no assistant record", externalThreadID, userID)
		return "", ErrAccessDenied
	}
	if err != nil {
		return "", err
	}
	if assistant.ID != thread.AssistantRecordID {
		log.Printf("Denied access to thread %s: linked to assistant record %s, user %s owns %s",
			externalThreadID, thread.AssistantRecordID, userID, assistant.ID)
		return "", ErrAccessDenied
	}

	// One deadline covers the append, the run and the wait.
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RunWait)
	defer cancel()

	if err := o.remote.AppendMessage(ctx, thread.ExternalThreadID, "user", text); err != nil {
		if assistants.IsActiveRunConflict(err) {
			return "", ErrConcurrentRun
		}
		return "", &UpstreamError{Op: "append message", ThreadID: thread.ExternalThreadID, Err: err}
	}

	if o.cfg.Strategy == StrategyPoll {
		return o.respondByPolling(ctx, thread, assistant)
	}
	return o.respondByStreaming(ctx, thread, assistant, onDelta)
}

// respondByPolling starts a run and re-fetches its status at a fixed interval
// until it reaches a terminal state or the deadline expires.
func (o *Orchestrator) respondByPolling(ctx context.Context, thread *identity.ThreadRecord, assistant *identity.AssistantRecord) (string, error) {
	run, err := o.remote.StartRun(ctx, thread.ExternalThreadID, assistant.ExternalAssistantID)
	if err != nil {
		if assistants.IsActiveRunConflict(err) {
			return "", ErrConcurrentRun
		}
		return "", &UpstreamError{Op: "start run", ThreadID: thread.ExternalThreadID, Err: err}
	}

	// requires_action cannot progress here: assistants are provisioned
	// without tools, so nothing will ever submit the outputs it waits for.
	// It is handled as a failure-class terminal rather than waited out.
	for !run.Status.Terminal() && run.Status != assistants.RunRequiresAction {
		select {
		case <-ctx.Done():
			log.Printf("Gave up waiting for run %s on thread %s: %v", run.ID, thread.ExternalThreadID, ctx.Err())
			return "", mapContextErr(ctx)
		case <-time.After(o.cfg.PollInterval):
		}

		run, err = o.remote.GetRun(ctx, thread.ExternalThreadID, run.ID)
		if err != nil {
			if ctx.Err() != nil {
				return "", mapContextErr(ctx)
			}
			return "", &UpstreamError{Op: "poll run", ThreadID: thread.ExternalThreadID, RunID: run.ID, Err: err}
		}
	}

	if run.Status != assistants.RunCompleted {
		log.Printf("Run %s on thread %s finished with status %s", run.ID, thread.ExternalThreadID, run.Status)
		return "", &RunIncompleteError{Status: run.Status}
	}
	return o.latestAssistantText(ctx, thread.ExternalThreadID)
}

// respondByStreaming starts a streaming run and feeds message deltas through
// the aggregator until a terminal event or stream closure.
func (o *Orchestrator) respondByStreaming(ctx context.Context, thread *identity.ThreadRecord, assistant *identity.AssistantRecord, onDelta func(string)) (string, error) {
	stream, err := o.remote.StreamRun(ctx, thread.ExternalThreadID, assistant.ExternalAssistantID)
	if err != nil {
		if assistants.IsActiveRunConflict(err) {
			return "", ErrConcurrentRun
		}
		return "", &UpstreamError{Op: "start streaming run", ThreadID: thread.ExternalThreadID, Err: err}
	}
	defer stream.Close()

	aggregator := NewDeltaAggregator()
	var terminal assistants.RunStatus

consume:
	for {
		select {
		case <-ctx.Done():
			log.Printf("Gave up consuming run stream on thread %s: %v", thread.ExternalThreadID, ctx.Err())
			return "", mapContextErr(ctx)
		case event, ok := <-stream.Events():
			if !ok {
				break consume
			}
			switch event.Kind {
			case assistants.EventMessageDelta:
				if fragment, ok := aggregator.Consume(event.Data); ok && onDelta != nil {
					onDelta(fragment)
				}
			case assistants.EventRunCompleted:
				terminal = assistants.RunCompleted
			case assistants.EventRunRequiresAction:
				terminal = assistants.RunRequiresAction
			case assistants.EventRunFailed:
				terminal = assistants.RunFailed
			case assistants.EventRunCancelled:
				terminal = assistants.RunCancelled
			case assistants.EventRunExpired:
				terminal = assistants.RunExpired
			default:
				// Unknown event kinds are ignored for forward compatibility.
			}
		}
	}

	if err := stream.Err(); err != nil {
		return "", &UpstreamError{Op: "consume run stream", ThreadID: thread.ExternalThreadID, Err: err}
	}

	switch terminal {
	case assistants.RunRequiresAction, assistants.RunFailed, assistants.RunCancelled, assistants.RunExpired:
		log.Printf("Streaming run on thread %s finished with status %s", thread.ExternalThreadID, terminal)
		return "", &RunIncompleteError{Status: terminal}
	}

	// Completed, or the stream closed without a terminal event; either way
	// the buffer is the reply.
	text, ok := aggregator.Result()
	if !ok {
		log.Printf("Streaming run on thread %s completed with no content (%d events skipped)", thread.ExternalThreadID, aggregator.Skipped())
		return NoContentPlaceholder, nil
	}
	return text, nil
}

// latestAssistantText fetches the thread's messages and extracts the primary
// text block of the newest assistant-authored one.
func (o *Orchestrator) latestAssistantText(ctx context.Context, externalThreadID string) (string, error) {
	messages, err := o.remote.ListMessages(ctx, externalThreadID)
	if err != nil {
		return "", &UpstreamError{Op: "list messages", ThreadID: externalThreadID, Err: err}
	}

	fromAssistant := messages[:0:0]
	for _, message := range messages {
		if message.Role == "assistant" {
			fromAssistant = append(fromAssistant, message)
		}
	}
	if len(fromAssistant) == 0 {
		log.Printf("Run completed on thread %s but no assistant message was found", externalThreadID)
		return NoContentPlaceholder, nil
	}

	sort.Slice(fromAssistant, func(i, j int) bool {
		return fromAssistant[i].CreatedAt > fromAssistant[j].CreatedAt
	})

	latest := fromAssistant[0]
	for _, block := range latest.Content {
		if block.Type == "text" {
			if text := strings.TrimSpace(block.Text.Value); text != "" {
				return text, nil
			}
			break
		}
	}
	log.Printf("Run completed on thread %s but message %s has no text content", externalThreadID, latest.ID)
	return NoContentPlaceholder, nil
}

func mapContextErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrRunTimeout
	}
	return ctx.Err()
}
