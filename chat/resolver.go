package chat

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/tashilapathum/hazle-backend/identity"
)

// AssistantResolver guarantees each user exactly one external assistant
// identity, creating and persisting it lazily on first contact.
type AssistantResolver struct {
	store  identity.Store
	remote RemoteClient
	cfg    Config
}

// NewAssistantResolver creates a resolver.
func NewAssistantResolver(store identity.Store, remote RemoteClient, cfg Config) *AssistantResolver {
	return &AssistantResolver{store: store, remote: remote, cfg: cfg.withDefaults()}
}

// EnsureAssistant returns the user's assistant record, provisioning a remote
// assistant and persisting the linkage on first call. Repeat calls return the
// stored record without any remote traffic.
//
// Concurrent first calls race on the store's create-if-absent insert: both
// may provision a remote assistant, but only one insert wins. The loser
// re-reads the winner's record and discards its own remote assistant, so
// every caller observes the same external id.
func (r *AssistantResolver) EnsureAssistant(ctx context.Context, userID string) (*identity.AssistantRecord, error) {
	record, err := r.store.FindAssistantByUser(ctx, userID)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return nil, err
	}

	externalID, err := r.remote.CreateAssistant(
		ctx,
		fmt.Sprintf("%s for %s", r.cfg.AssistantName, userID),
		r.cfg.AssistantInstructions,
		r.cfg.Model,
	)
	if err != nil {
		return nil, &RemoteProvisioningError{Resource: "assistant", Err: err}
	}

	created, err := r.store.CreateAssistant(ctx, identity.AssistantCreate{
		UserID:              userID,
		ExternalAssistantID: externalID,
	})
	if errors.Is(err, identity.ErrAlreadyExists) {
		// Lost the first-contact race. Return the winner and clean up the
		// assistant this call provisioned.
		winner, findErr := r.store.FindAssistantByUser(ctx, userID)
		if findErr != nil {
			log.Printf("Assistant %s orphaned for user %s: lost create race and re-read failed: %v", externalID, userID, findErr)
			return nil, findErr
		}
		if delErr := r.remote.DeleteAssistant(ctx, externalID); delErr != nil {
			log.Printf("Assistant %s orphaned for user %s: delete after lost race failed: %v", externalID, userID, delErr)
		} else {
			log.Printf("Discarded duplicate assistant %s for user %s after lost create race", externalID, userID)
		}
		return winner, nil
	}
	if err != nil {
		// The remote assistant exists but its linkage was never stored. Keep
		// the id in the log so it can be reconciled by hand.
		log.Printf("Assistant %s orphaned for user %s: persist failed: %v", externalID, userID, err)
		return nil, &RemoteProvisioningError{Resource: "assistant", Err: err}
	}

	log.Printf("Provisioned assistant %s for user %s", externalID, userID)
	return created, nil
}
