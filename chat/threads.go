package chat

import (
	"context"
	"errors"
	"log"

	"github.com/tashilapathum/hazle-backend/identity"
)

// ThreadManager creates external conversation threads bound to a user's
// assistant and resolves caller-asserted thread ids back to their owner.
type ThreadManager struct {
	store    identity.Store
	remote   RemoteClient
	resolver *AssistantResolver
}

// NewThreadManager creates a thread manager.
func NewThreadManager(store identity.Store, remote RemoteClient, resolver *AssistantResolver) *ThreadManager {
	return &ThreadManager{store: store, remote: remote, resolver: resolver}
}

// CreateThread provisions a new external thread for the user and persists its
// linkage to the user's assistant. The assistant link is fixed at creation.
func (m *ThreadManager) CreateThread(ctx context.Context, userID, name string) (*identity.ThreadRecord, error) {
	assistant, err := m.resolver.EnsureAssistant(ctx, userID)
	if err != nil {
		return nil, err
	}

	externalThreadID, err := m.remote.CreateThread(ctx)
	if err != nil {
		return nil, &RemoteProvisioningError{Resource: "thread", Err: err}
	}

	record, err := m.store.CreateThread(ctx, identity.ThreadCreate{
		UserID:            userID,
		AssistantRecordID: assistant.ID,
		ExternalThreadID:  externalThreadID,
		Name:              name,
	})
	if err != nil {
		log.Printf("Thread %s orphaned for user %s: persist failed: %v", externalThreadID, userID, err)
		return nil, &RemoteProvisioningError{Resource: "thread", Err: err}
	}

	log.Printf("Created thread %s for user %s (assistant %s)", externalThreadID, userID, assistant.ExternalAssistantID)
	return record, nil
}

// ResolveThread looks up a caller-asserted thread id and enforces ownership.
// A thread owned by someone else is reported as ErrAccessDenied, not as
// missing, so authorization failures stay visible in the logs.
func (m *ThreadManager) ResolveThread(ctx context.Context, callerID, externalThreadID string) (*identity.ThreadRecord, error) {
	record, err := m.store.FindThreadByExternalID(ctx, externalThreadID)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, err
	}

	if record.UserID != callerID {
		log.Printf("Denied access to thread %s: owned by user %s, requested by user %s", externalThreadID, record.UserID, callerID)
		return nil, ErrAccessDenied
	}
	return record, nil
}

// ListThreads returns all of the user's threads, newest first.
func (m *ThreadManager) ListThreads(ctx context.Context, userID string) ([]identity.ThreadRecord, error) {
	return m.store.FindThreadsByUser(ctx, userID)
}

// RenameThread sets the display name of a thread the caller owns.
func (m *ThreadManager) RenameThread(ctx context.Context, callerID, externalThreadID, name string) (*identity.ThreadRecord, error) {
	record, err := m.ResolveThread(ctx, callerID, externalThreadID)
	if err != nil {
		return nil, err
	}

	record.Name = name
	return m.store.UpdateThread(ctx, record)
}
