// Package prompt assembles the system instruction for a voice agent.
package prompt

import (
	"strings"

	"github.com/vango-go/vai-phone/pkg/core/agents"
)

// TransferMarkerFormat is the marker the model embeds to request a handoff.
const TransferMarkerFormat = "[TRANSFER:<reason>]"

// KnowledgeDelimiter separates knowledge excerpts.
const KnowledgeDelimiter = "\n---\n"

var toneSentences = map[agents.Tone]string{
	agents.ToneProfessional: "Speak in a professional, courteous, and efficient manner.",
	agents.ToneFriendly:     "Speak in a warm, friendly, and approachable manner.",
	agents.ToneCasual:       "Speak in a relaxed, casual, conversational manner.",
	agents.ToneFormal:       "Speak in a formal and respectful manner, avoiding slang and contractions.",
}

var fallbackSentences = map[agents.FallbackPolicy]string{
	agents.FallbackApologize: "If you cannot help with something, apologize politely and explain what you can help with instead.",
	agents.FallbackEscalate:  "If you cannot help with something, offer to escalate the caller to a human team member.",
	agents.FallbackRetry:     "If you cannot help with something, ask a clarifying question and try again before giving up.",
	agents.FallbackTransfer:  "If you cannot help with something, transfer the caller to a human agent.",
}

const voiceConstraints = `This is a live phone call. Follow these rules:
- Keep every reply to one to three short sentences.
- Never use markdown, bullet points, numbered lists, emojis, or any other formatting. Your words are read aloud.
- If the caller asks for a human or the conversation needs one, include the marker ` + TransferMarkerFormat + ` in your reply, with a short reason in place of <reason>.
- If you did not understand the caller, ask them to repeat themselves.`

const leadCapture = "If the caller asks for a quote, an appointment, or pricing, ask once for their name, phone number, and email address so the team can follow up. If they decline, do not ask again."

const knowledgeIntro = "Use the following knowledge to answer questions. If the answer is not in the knowledge, say you are not sure rather than guessing."

// ToneSentence returns the instruction for tone, defaulting to professional.
func ToneSentence(tone agents.Tone) string {
	if s, ok := toneSentences[agents.Tone(strings.ToLower(strings.TrimSpace(string(tone))))]; ok {
		return s
	}
	return toneSentences[agents.ToneProfessional]
}

// FallbackSentence returns the instruction for policy, defaulting to
// apologize.
func FallbackSentence(policy agents.FallbackPolicy) string {
	if s, ok := fallbackSentences[agents.FallbackPolicy(strings.ToLower(strings.TrimSpace(string(policy))))]; ok {
		return s
	}
	return fallbackSentences[agents.FallbackApologize]
}

// Build returns the system prompt. Sections whose input is empty are left
// out; the output depends only on the arguments.
func Build(agent agents.Agent, persona *agents.Persona, excerpts []string) string {
	var sections []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			sections = append(sections, s)
		}
	}

	add(identity(agent, persona))

	if domain := strings.TrimSpace(agent.BusinessDomain); domain != "" && !strings.EqualFold(domain, "other") {
		add("You specialize in " + domain + ".")
	}

	if goals := strings.TrimSpace(agent.Goals); goals != "" {
		add("Your goals: " + goals)
	}

	var tone agents.Tone
	if persona != nil {
		tone = persona.Tone
	}
	add(ToneSentence(tone))

	if persona != nil {
		add(persona.StyleNotes)
		if greeting := strings.TrimSpace(persona.GreetingScript); greeting != "" {
			add("When the call begins you greeted the caller with: \"" + greeting + "\"")
		}
		add(prohibited(persona.ProhibitedBehaviours))
		add(FallbackSentence(persona.FallbackPolicy))
		if rules := strings.TrimSpace(persona.EscalationRules); rules != "" {
			add("Escalation rules: " + rules)
		}
	}

	add(voiceConstraints)
	add(leadCapture)
	add(knowledge(excerpts))

	return strings.Join(sections, "\n\n")
}

func identity(agent agents.Agent, persona *agents.Persona) string {
	if persona != nil && strings.TrimSpace(persona.Name) != "" {
		name := strings.TrimSpace(persona.Name)
		if role := strings.TrimSpace(persona.RoleTitle); role != "" {
			return "You are " + name + ", " + role + " for " + agent.Name + "."
		}
		return "You are " + name + " for " + agent.Name + "."
	}
	return "You are " + agent.Name + ", an AI voice assistant."
}

func prohibited(items []string) string {
	var b strings.Builder
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Never do the following:")
		}
		b.WriteString("\n- ")
		b.WriteString(item)
	}
	return b.String()
}

func knowledge(excerpts []string) string {
	kept := make([]string, 0, len(excerpts))
	for _, e := range excerpts {
		if e = strings.TrimSpace(e); e != "" {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	return knowledgeIntro + "\n\n" + strings.Join(kept, KnowledgeDelimiter)
}
