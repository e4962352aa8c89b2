package assistants

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient("test-key", server.URL, 5*time.Second)
}

func TestCreateAssistantSendsAuthAndBetaHeaders(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/assistants", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.Equal(t, "assistants=v2", r.Header.Get("OpenAI-Beta"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"id":"asst_123"}`)
	}))

	id, err := client.CreateAssistant(context.Background(), "Hazle for u1", "be helpful", "gpt-4o")
	require.NoError(t, err)
	require.Equal(t, "asst_123", id)
	require.Equal(t, "Hazle for u1", got["name"])
	require.Equal(t, "gpt-4o", got["model"])
}

func TestCreateThreadAndAppendMessage(t *testing.T) {
	var appendBody map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/threads":
			fmt.Fprint(w, `{"id":"thread_1"}`)
		case "/threads/thread_1/messages":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&appendBody))
			fmt.Fprint(w, `{"id":"msg_1"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	threadID, err := client.CreateThread(context.Background())
	require.NoError(t, err)
	require.Equal(t, "thread_1", threadID)

	require.NoError(t, client.AppendMessage(context.Background(), threadID, "user", "hi"))
	require.Equal(t, "user", appendBody["role"])
	require.Equal(t, "hi", appendBody["content"])
}

func TestStartAndGetRun(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/threads/thread_1/runs":
			fmt.Fprint(w, `{"id":"run_1","thread_id":"thread_1","status":"queued"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/threads/thread_1/runs/run_1":
			fmt.Fprint(w, `{"id":"run_1","thread_id":"thread_1","status":"completed"}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	run, err := client.StartRun(context.Background(), "thread_1", "asst_1")
	require.NoError(t, err)
	require.Equal(t, RunQueued, run.Status)
	require.False(t, run.Status.Terminal())

	run, err = client.GetRun(context.Background(), "thread_1", run.ID)
	require.NoError(t, err)
	require.Equal(t, RunCompleted, run.Status)
	require.True(t, run.Status.Terminal())
}

func TestListMessages(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/threads/thread_1/messages", r.URL.Path)
		fmt.Fprint(w, `{"data":[
			{"id":"msg_2","role":"assistant","created_at":200,"content":[{"type":"text","text":{"value":"hello"}}]},
			{"id":"msg_1","role":"user","created_at":100,"content":[{"type":"text","text":{"value":"hi"}}]}
		]}`)
	}))

	messages, err := client.ListMessages(context.Background(), "thread_1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "assistant", messages[0].Role)
	require.Equal(t, "hello", messages[0].Content[0].Text.Value)
}

func TestAPIErrorDecoding(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"Thread thread_1 already has an active run."}}`)
	}))

	_, err := client.StartRun(context.Background(), "thread_1", "asst_1")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.Contains(t, apiErr.Message, "active run")
	require.True(t, IsActiveRunConflict(err))
}

func TestIsActiveRunConflict(t *testing.T) {
	require.True(t, IsActiveRunConflict(&APIError{StatusCode: 409, Message: "busy"}))
	require.True(t, IsActiveRunConflict(&APIError{StatusCode: 400, Message: "Thread already has an active run"}))
	require.False(t, IsActiveRunConflict(&APIError{StatusCode: 500, Message: "boom"}))
	require.False(t, IsActiveRunConflict(fmt.Errorf("plain error")))
}

func TestStreamRunConsumesSSE(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/threads/thread_1/runs", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, true, body["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: thread.message.delta\n")
		fmt.Fprint(w, "data: {\"delta\":{\"content\":[{\"type\":\"text\",\"text\":{\"value\":\"hi\"}}]}}\n\n")
		fmt.Fprint(w, "event: thread.run.completed\n")
		fmt.Fprint(w, "data: {\"id\":\"run_1\"}\n\n")
		fmt.Fprint(w, "event: done\ndata: [DONE]\n\n")
	}))

	stream, err := client.StreamRun(context.Background(), "thread_1", "asst_1")
	require.NoError(t, err)
	defer stream.Close()

	var kinds []EventKind
	for event := range stream.Events() {
		kinds = append(kinds, event.Kind)
	}
	require.NoError(t, stream.Err())
	require.Equal(t, []EventKind{EventMessageDelta, EventRunCompleted}, kinds)
}

func TestStreamRunErrorStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error":{"message":"already has an active run"}}`)
	}))

	_, err := client.StreamRun(context.Background(), "thread_1", "asst_1")
	require.True(t, IsActiveRunConflict(err))
}
