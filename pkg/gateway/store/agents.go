package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/vango-go/vai-phone/pkg/core/agents"
)

var _ agents.Loader = (*Store)(nil)

// Load resolves an agent and the optional persona, knowledge excerpts, and
// escalation number that go with it. Only a missing agent is an error;
// failed optional lookups are logged and left empty.
func (s *Store) Load(ctx context.Context, agentID string) (*agents.Snapshot, error) {
	agent, err := s.agent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	snap := &agents.Snapshot{Agent: agent}

	if agent.PersonaID != "" {
		persona, err := s.persona(ctx, agent.PersonaID)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			s.logger.Warn("load persona", "agent_id", agentID, "persona_id", agent.PersonaID, "error", err)
		default:
			snap.Persona = persona
		}
	}

	if len(agent.KnowledgeSourceIDs) > 0 {
		excerpts, err := s.knowledge(ctx, agent.KnowledgeSourceIDs)
		if err != nil {
			s.logger.Warn("load knowledge", "agent_id", agentID, "error", err)
		} else {
			snap.Knowledge = excerpts
		}
	}

	number, err := s.escalationNumber(ctx, agentID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		s.logger.Warn("load escalation number", "agent_id", agentID, "error", err)
	default:
		snap.EscalationNumber = number
	}
	return snap, nil
}

func (s *Store) agent(ctx context.Context, agentID string) (agents.Agent, error) {
	var (
		a         agents.Agent
		personaID *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, workspace_id, name, goals, business_domain, persona_id,
		       knowledge_source_ids, model, temperature, voice_id
		FROM agents
		WHERE id = $1`, agentID,
	).Scan(
		&a.ID, &a.WorkspaceID, &a.Name, &a.Goals, &a.BusinessDomain, &personaID,
		&a.KnowledgeSourceIDs, &a.Model, &a.Temperature, &a.VoiceID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return agents.Agent{}, fmt.Errorf("%w: %s", agents.ErrAgentNotFound, agentID)
	}
	if err != nil {
		return agents.Agent{}, fmt.Errorf("load agent %s: %w", agentID, err)
	}
	if personaID != nil {
		a.PersonaID = *personaID
	}
	return a, nil
}

func (s *Store) persona(ctx context.Context, personaID string) (*agents.Persona, error) {
	var (
		p        agents.Persona
		tone     string
		fallback string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, role_title, tone, greeting_script, style_notes,
		       prohibited_behaviours, fallback_policy, escalation_rules
		FROM personas
		WHERE id = $1`, personaID,
	).Scan(
		&p.ID, &p.Name, &p.RoleTitle, &tone, &p.GreetingScript, &p.StyleNotes,
		&p.ProhibitedBehaviours, &fallback, &p.EscalationRules,
	)
	if err != nil {
		return nil, err
	}
	p.Tone = agents.Tone(tone)
	p.FallbackPolicy = agents.FallbackPolicy(fallback)
	return &p, nil
}

// knowledge returns chunk text in the agent's source order, then chunk
// order within each source.
func (s *Store) knowledge(ctx context.Context, sourceIDs []string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT content
		FROM knowledge_chunks
		WHERE source_id = ANY($1)
		ORDER BY array_position($1, source_id), chunk_index
		LIMIT $2`, sourceIDs, s.knowledgeLimit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) escalationNumber(ctx context.Context, agentID string) (string, error) {
	var number string
	err := s.pool.QueryRow(ctx,
		`SELECT phone_number FROM escalation_numbers WHERE agent_id = $1`, agentID,
	).Scan(&number)
	return number, err
}
