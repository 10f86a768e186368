// Package agents holds the read-only configuration a call runs with: the
// agent, its persona, knowledge excerpts, and escalation target.
package agents

import (
	"context"
	"errors"
	"strings"
)

// ErrAgentNotFound is returned by a Loader when the agent id does not
// resolve.
var ErrAgentNotFound = errors.New("agent not found")

type Agent struct {
	ID                 string
	WorkspaceID        string
	Name               string
	Goals              string
	BusinessDomain     string
	PersonaID          string
	KnowledgeSourceIDs []string
	Model              string
	Temperature        float64
	VoiceID            string
}

type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneFriendly     Tone = "friendly"
	ToneCasual       Tone = "casual"
	ToneFormal       Tone = "formal"
)

type FallbackPolicy string

const (
	FallbackApologize FallbackPolicy = "apologize"
	FallbackEscalate  FallbackPolicy = "escalate"
	FallbackRetry     FallbackPolicy = "retry"
	FallbackTransfer  FallbackPolicy = "transfer"
)

type Persona struct {
	ID                   string
	Name                 string
	RoleTitle            string
	Tone                 Tone
	GreetingScript       string
	StyleNotes           string
	ProhibitedBehaviours []string
	FallbackPolicy       FallbackPolicy
	EscalationRules      string
}

// Snapshot is everything a session needs from the store, loaded once when
// the call connects.
type Snapshot struct {
	Agent            Agent
	Persona          *Persona
	Knowledge        []string
	EscalationNumber string
}

// EscalationEnabled reports whether the call can be handed to a human.
func (s *Snapshot) EscalationEnabled() bool {
	return s != nil && s.EscalationNumber != ""
}

// Greeting is the opening line spoken when the stream starts.
func (s *Snapshot) Greeting() string {
	if s == nil {
		return ""
	}
	if s.Persona != nil {
		if script := strings.TrimSpace(s.Persona.GreetingScript); script != "" {
			return script
		}
	}
	return "Hello! Thanks for calling " + s.Agent.Name + ". How can I help you today?"
}

// VoiceID returns the agent's voice, empty for the process default.
func (s *Snapshot) VoiceID() string {
	if s == nil {
		return ""
	}
	return s.Agent.VoiceID
}

// Loader resolves an agent id to its snapshot.
type Loader interface {
	Load(ctx context.Context, agentID string) (*Snapshot, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, agentID string) (*Snapshot, error)

func (f LoaderFunc) Load(ctx context.Context, agentID string) (*Snapshot, error) {
	return f(ctx, agentID)
}
