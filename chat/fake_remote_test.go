package chat

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tashilapathum/hazle-backend/assistants"
)

// fakeRemote is an in-memory stand-in for the provider API.
type fakeRemote struct {
	mu sync.Mutex

	assistantCreates   int
	createdAssistants  []string
	deletedAssistants  []string
	createAssistantErr error

	threadCreates   int
	createThreadErr error

	appends   []string
	appendErr error

	startRunErr error
	runStatuses []assistants.RunStatus
	statusIndex int

	streamBody string
	streamErr  error

	messages []assistants.Message
	listErr  error
}

func (f *fakeRemote) CreateAssistant(_ context.Context, name, instructions, model string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createAssistantErr != nil {
		return "", f.createAssistantErr
	}
	f.assistantCreates++
	id := fmt.Sprintf("asst_%d", f.assistantCreates)
	f.createdAssistants = append(f.createdAssistants, id)
	return id, nil
}

func (f *fakeRemote) DeleteAssistant(_ context.Context, assistantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedAssistants = append(f.deletedAssistants, assistantID)
	return nil
}

func (f *fakeRemote) CreateThread(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createThreadErr != nil {
		return "", f.createThreadErr
	}
	f.threadCreates++
	return fmt.Sprintf("thr_%d", f.threadCreates), nil
}

func (f *fakeRemote) AppendMessage(_ context.Context, threadID, role, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appends = append(f.appends, fmt.Sprintf("%s/%s: %s", threadID, role, text))
	return nil
}

func (f *fakeRemote) StartRun(_ context.Context, threadID, assistantID string) (assistants.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startRunErr != nil {
		return assistants.Run{}, f.startRunErr
	}
	return assistants.Run{ID: "run_1", ThreadID: threadID, Status: assistants.RunQueued}, nil
}

func (f *fakeRemote) GetRun(_ context.Context, threadID, runID string) (assistants.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := assistants.RunInProgress
	if len(f.runStatuses) > 0 {
		if f.statusIndex >= len(f.runStatuses) {
			status = f.runStatuses[len(f.runStatuses)-1]
		} else {
			status = f.runStatuses[f.statusIndex]
			f.statusIndex++
		}
	}
	return assistants.Run{ID: runID, ThreadID: threadID, Status: status}, nil
}

func (f *fakeRemote) StreamRun(_ context.Context, threadID, assistantID string) (*assistants.RunStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return assistants.NewRunStream(io.NopCloser(strings.NewReader(f.streamBody))), nil
}

func (f *fakeRemote) ListMessages(_ context.Context, threadID string) ([]assistants.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.messages, nil
}

func (f *fakeRemote) remoteCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assistantCreates + f.threadCreates + len(f.appends)
}

func textMessage(id, role string, createdAt int64, value string) assistants.Message {
	msg := assistants.Message{ID: id, Role: role, CreatedAt: createdAt}
	var block assistants.MessageContent
	block.Type = "text"
	block.Text.Value = value
	msg.Content = append(msg.Content, block)
	return msg
}

// sse builds a wire-format stream from (event, data) pairs.
func sse(pairs ...string) string {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		fmt.Fprintf(&b, "event: %s\n", pairs[i])
		fmt.Fprintf(&b, "data: %s\n\n", pairs[i+1])
	}
	b.WriteString("event: done\ndata: [DONE]\n\n")
	return b.String()
}

func deltaPayload(text string) string {
	return fmt.Sprintf(`{"delta":{"content":[{"type":"text","text":{"value":%q}}]}}`, text)
}
