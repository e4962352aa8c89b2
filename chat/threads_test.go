package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, remote *fakeRemote, cfg Config) *Service {
	t.Helper()
	return NewService(newTestStore(t), remote, cfg)
}

func TestCreateThreadLinksCallerAssistant(t *testing.T) {
	remote := &fakeRemote{}
	svc := newTestService(t, remote, Config{})
	ctx := context.Background()

	thread, err := svc.Threads.CreateThread(ctx, "u1", "groceries")
	require.NoError(t, err)
	require.Equal(t, "thr_1", thread.ExternalThreadID)
	require.Equal(t, "groceries", thread.Name)

	assistant, err := svc.Resolver.EnsureAssistant(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, assistant.ID, thread.AssistantRecordID)

	// The implicit EnsureAssistant provisioned exactly one assistant.
	require.Equal(t, 1, remote.assistantCreates)
}

func TestResolveThreadEnforcesOwnership(t *testing.T) {
	remote := &fakeRemote{}
	svc := newTestService(t, remote, Config{})
	ctx := context.Background()

	thread, err := svc.Threads.CreateThread(ctx, "userA", "")
	require.NoError(t, err)

	resolved, err := svc.Threads.ResolveThread(ctx, "userA", thread.ExternalThreadID)
	require.NoError(t, err)
	require.Equal(t, thread.ID, resolved.ID)

	_, err = svc.Threads.ResolveThread(ctx, "userB", thread.ExternalThreadID)
	require.ErrorIs(t, err, ErrAccessDenied)
}

func TestResolveThreadMissing(t *testing.T) {
	svc := newTestService(t, &fakeRemote{}, Config{})

	_, err := svc.Threads.ResolveThread(context.Background(), "u1", "thr_nope")
	require.ErrorIs(t, err, ErrThreadNotFound)
}

func TestListThreads(t *testing.T) {
	svc := newTestService(t, &fakeRemote{}, Config{})
	ctx := context.Background()

	_, err := svc.Threads.CreateThread(ctx, "u1", "first")
	require.NoError(t, err)
	_, err = svc.Threads.CreateThread(ctx, "u1", "second")
	require.NoError(t, err)
	_, err = svc.Threads.CreateThread(ctx, "u2", "other")
	require.NoError(t, err)

	records, err := svc.Threads.ListThreads(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, record := range records {
		require.Equal(t, "u1", record.UserID)
	}
}

func TestRenameThread(t *testing.T) {
	svc := newTestService(t, &fakeRemote{}, Config{})
	ctx := context.Background()

	thread, err := svc.Threads.CreateThread(ctx, "u1", "old")
	require.NoError(t, err)

	renamed, err := svc.Threads.RenameThread(ctx, "u1", thread.ExternalThreadID, "new")
	require.NoError(t, err)
	require.Equal(t, "new", renamed.Name)

	_, err = svc.Threads.RenameThread(ctx, "u2", thread.ExternalThreadID, "stolen")
	require.ErrorIs(t, err, ErrAccessDenied)
}
