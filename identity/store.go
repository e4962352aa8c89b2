package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a record does not exist. It is a normal
// outcome, distinct from a StoreError.
var ErrNotFound = errors.New("identity: record not found")

// ErrAlreadyExists is returned by the create operations when another writer
// inserted a record for the same key first.
var ErrAlreadyExists = errors.New("identity: record already exists")

// StoreError wraps a persistence-layer failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("identity store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// AssistantRecord links a user to their external assistant. One per user.
type AssistantRecord struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id"`
	ExternalAssistantID string    `json:"external_assistant_id"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// AssistantCreate carries the fields for a new AssistantRecord.
type AssistantCreate struct {
	UserID              string
	ExternalAssistantID string
}

// ThreadRecord links an external conversation thread to its owning user and
// assistant. Many per user.
type ThreadRecord struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	AssistantRecordID string    `json:"assistant_record_id"`
	ExternalThreadID  string    `json:"external_thread_id"`
	Name              string    `json:"name,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ThreadCreate carries the fields for a new ThreadRecord.
type ThreadCreate struct {
	UserID            string
	AssistantRecordID string
	ExternalThreadID  string
	Name              string
}

// Store is the repository surface the chat service depends on.
type Store interface {
	FindAssistantByUser(ctx context.Context, userID string) (*AssistantRecord, error)
	CreateAssistant(ctx context.Context, create AssistantCreate) (*AssistantRecord, error)
	FindThreadByExternalID(ctx context.Context, externalThreadID string) (*ThreadRecord, error)
	FindThreadsByUser(ctx context.Context, userID string) ([]ThreadRecord, error)
	CreateThread(ctx context.Context, create ThreadCreate) (*ThreadRecord, error)
	UpdateThread(ctx context.Context, record *ThreadRecord) (*ThreadRecord, error)
}

// RedisStore persists identity records as JSON values in Redis. Creates use
// SETNX so that concurrent first writers for the same key race safely: the
// loser gets ErrAlreadyExists instead of clobbering the winner.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed identity store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func assistantKey(userID string) string {
	return fmt.Sprintf("assistant:user:%s", userID)
}

func threadKey(externalThreadID string) string {
	return fmt.Sprintf("thread:%s", externalThreadID)
}

func threadIndexKey(userID string) string {
	return fmt.Sprintf("threads:user:%s", userID)
}

// FindAssistantByUser returns the user's assistant record or ErrNotFound.
func (s *RedisStore) FindAssistantByUser(ctx context.Context, userID string) (*AssistantRecord, error) {
	data, err := s.client.Get(ctx, assistantKey(userID)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, &StoreError{Op: "find assistant", Err: err}
	}

	var record AssistantRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, &StoreError{Op: "decode assistant", Err: err}
	}
	return &record, nil
}

// CreateAssistant inserts a new assistant record if and only if the user has
// none yet. A lost race returns ErrAlreadyExists.
func (s *RedisStore) CreateAssistant(ctx context.Context, create AssistantCreate) (*AssistantRecord, error) {
	now := time.Now().UTC()
	record := &AssistantRecord{
		ID:                  uuid.NewString(),
		UserID:              create.UserID,
		ExternalAssistantID: create.ExternalAssistantID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, &StoreError{Op: "encode assistant", Err: err}
	}

	set, err := s.client.SetNX(ctx, assistantKey(create.UserID), data, 0).Result()
	if err != nil {
		return nil, &StoreError{Op: "create assistant", Err: err}
	}
	if !set {
		return nil, ErrAlreadyExists
	}
	return record, nil
}

// FindThreadByExternalID returns the thread record or ErrNotFound.
func (s *RedisStore) FindThreadByExternalID(ctx context.Context, externalThreadID string) (*ThreadRecord, error) {
	data, err := s.client.Get(ctx, threadKey(externalThreadID)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, &StoreError{Op: "find thread", Err: err}
	}

	var record ThreadRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, &StoreError{Op: "decode thread", Err: err}
	}
	return &record, nil
}

// FindThreadsByUser returns all thread records for a user, newest first.
func (s *RedisStore) FindThreadsByUser(ctx context.Context, userID string) ([]ThreadRecord, error) {
	ids, err := s.client.SMembers(ctx, threadIndexKey(userID)).Result()
	if err != nil {
		return nil, &StoreError{Op: "list threads", Err: err}
	}

	records := make([]ThreadRecord, 0, len(ids))
	for _, id := range ids {
		record, err := s.FindThreadByExternalID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Index entry without a record; skip rather than fail the listing.
			continue
		} else if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	sortThreadsNewestFirst(records)
	return records, nil
}

// CreateThread inserts a new thread record keyed by its external thread id
// and adds it to the owner's index.
func (s *RedisStore) CreateThread(ctx context.Context, create ThreadCreate) (*ThreadRecord, error) {
	now := time.Now().UTC()
	record := &ThreadRecord{
		ID:                uuid.NewString(),
		UserID:            create.UserID,
		AssistantRecordID: create.AssistantRecordID,
		ExternalThreadID:  create.ExternalThreadID,
		Name:              create.Name,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, &StoreError{Op: "encode thread", Err: err}
	}

	set, err := s.client.SetNX(ctx, threadKey(create.ExternalThreadID), data, 0).Result()
	if err != nil {
		return nil, &StoreError{Op: "create thread", Err: err}
	}
	if !set {
		return nil, ErrAlreadyExists
	}

	if err := s.client.SAdd(ctx, threadIndexKey(create.UserID), create.ExternalThreadID).Err(); err != nil {
		// Unwind the record so a half-created thread never lingers outside
		// the owner's index.
		s.client.Del(ctx, threadKey(create.ExternalThreadID))
		return nil, &StoreError{Op: "index thread", Err: err}
	}
	return record, nil
}

// UpdateThread overwrites an existing thread record. The record must already
// exist; the external thread id and ownership fields are never changed here.
func (s *RedisStore) UpdateThread(ctx context.Context, record *ThreadRecord) (*ThreadRecord, error) {
	current, err := s.FindThreadByExternalID(ctx, record.ExternalThreadID)
	if err != nil {
		return nil, err
	}

	updated := *record
	updated.ID = current.ID
	updated.UserID = current.UserID
	updated.AssistantRecordID = current.AssistantRecordID
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(&updated)
	if err != nil {
		return nil, &StoreError{Op: "encode thread", Err: err}
	}
	if err := s.client.Set(ctx, threadKey(updated.ExternalThreadID), data, 0).Err(); err != nil {
		return nil, &StoreError{Op: "update thread", Err: err}
	}
	return &updated, nil
}

func sortThreadsNewestFirst(records []ThreadRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
