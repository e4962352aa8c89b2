// Package chat holds the conversation-orchestration core: resolving a user's
// durable assistant and thread identities, driving remote runs to completion
// and reconstructing the reply text.
package chat

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tashilapathum/hazle-backend/assistants"
	"github.com/tashilapathum/hazle-backend/identity"
)

// RemoteClient is the slice of the provider API the chat core depends on.
// *assistants.Client satisfies it.
type RemoteClient interface {
	CreateAssistant(ctx context.Context, name, instructions, model string) (string, error)
	DeleteAssistant(ctx context.Context, assistantID string) error
	CreateThread(ctx context.Context) (string, error)
	AppendMessage(ctx context.Context, threadID, role, text string) error
	StartRun(ctx context.Context, threadID, assistantID string) (assistants.Run, error)
	GetRun(ctx context.Context, threadID, runID string) (assistants.Run, error)
	StreamRun(ctx context.Context, threadID, assistantID string) (*assistants.RunStream, error)
	ListMessages(ctx context.Context, threadID string) ([]assistants.Message, error)
}

// Strategy selects how a run is driven to its terminal state.
type Strategy string

const (
	// StrategyStream consumes the provider's event stream.
	StrategyStream Strategy = "stream"
	// StrategyPoll re-fetches run status at a fixed interval.
	StrategyPoll Strategy = "poll"
)

// Config tunes the chat service.
type Config struct {
	AssistantName         string
	AssistantInstructions string
	Model                 string
	MaxMessageLength      int
	PollInterval          time.Duration
	RunWait               time.Duration
	Strategy              Strategy
}

const (
	defaultModel            = "gpt-4o"
	defaultMaxMessageLength = 20000
	defaultPollInterval     = 1500 * time.Millisecond
	defaultRunWait          = 2 * time.Minute
)

// ConfigFromEnv reads the chat configuration from the environment, applying
// defaults for anything unset.
func ConfigFromEnv() Config {
	cfg := Config{
		AssistantName:         strings.TrimSpace(os.Getenv("ASSISTANT_NAME")),
		AssistantInstructions: strings.TrimSpace(os.Getenv("ASSISTANT_INSTRUCTIONS")),
		Model:                 strings.TrimSpace(os.Getenv("ASSISTANT_MODEL")),
		Strategy:              Strategy(strings.TrimSpace(os.Getenv("CHAT_RUN_STRATEGY"))),
	}
	if cfg.AssistantName == "" {
		cfg.AssistantName = "Hazle"
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if raw := strings.TrimSpace(os.Getenv("CHAT_MAX_MESSAGE_LENGTH")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.MaxMessageLength = n
		}
	}
	if raw := strings.TrimSpace(os.Getenv("CHAT_POLL_INTERVAL")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.PollInterval = d
		}
	}
	if raw := strings.TrimSpace(os.Getenv("CHAT_RUN_WAIT")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.RunWait = d
		}
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = defaultMaxMessageLength
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.RunWait <= 0 {
		c.RunWait = defaultRunWait
	}
	if c.Strategy != StrategyPoll {
		c.Strategy = StrategyStream
	}
	return c
}

// Service bundles the identity managers and the run orchestrator behind one
// surface for the HTTP layer.
type Service struct {
	Resolver     *AssistantResolver
	Threads      *ThreadManager
	Orchestrator *Orchestrator
}

// NewService wires the chat core against a store and a remote client.
func NewService(store identity.Store, remote RemoteClient, cfg Config) *Service {
	cfg = cfg.withDefaults()
	resolver := NewAssistantResolver(store, remote, cfg)
	threads := NewThreadManager(store, remote, resolver)
	orchestrator := NewOrchestrator(store, remote, threads, cfg)
	return &Service{
		Resolver:     resolver,
		Threads:      threads,
		Orchestrator: orchestrator,
	}
}

// Send handles one inbound chat request end to end: validate the text, reuse
// the referenced thread or create a fresh one, then run the turn. It returns
// the reply and the thread it landed on.
func (s *Service) Send(ctx context.Context, userID, threadRef, text string, onDelta func(string)) (string, *identity.ThreadRecord, error) {
	if err := s.Orchestrator.ValidateMessage(text); err != nil {
		return "", nil, err
	}

	var thread *identity.ThreadRecord
	var err error
	if threadRef == "" {
		thread, err = s.Threads.CreateThread(ctx, userID, "")
	} else {
		thread, err = s.Threads.ResolveThread(ctx, userID, threadRef)
	}
	if err != nil {
		return "", nil, err
	}

	reply, err := s.Orchestrator.Respond(ctx, userID, thread.ExternalThreadID, text, onDelta)
	if err != nil {
		return "", nil, err
	}
	return reply, thread, nil
}
