package prompt

import (
	"strings"
	"testing"

	"github.com/vango-go/vai-phone/pkg/core/agents"
)

func testAgent() agents.Agent {
	return agents.Agent{
		ID:             "agent-1",
		Name:           "Acme Roofing",
		Goals:          "Book inspections and answer questions about roof repair.",
		BusinessDomain: "roofing",
	}
}

func TestBuild_Deterministic(t *testing.T) {
	persona := &agents.Persona{
		Name:                 "Sam",
		RoleTitle:            "the front desk assistant",
		Tone:                 agents.ToneFriendly,
		GreetingScript:       "Hi, this is Sam from Acme.",
		StyleNotes:           "Use the caller's name when you know it.",
		ProhibitedBehaviours: []string{"Quote exact prices", "Discuss competitors"},
		FallbackPolicy:       agents.FallbackEscalate,
		EscalationRules:      "Transfer emergencies immediately.",
	}
	excerpts := []string{"We are open 8am to 6pm.", "Inspections are free."}

	a := Build(testAgent(), persona, excerpts)
	b := Build(testAgent(), persona, excerpts)
	if a != b {
		t.Fatalf("Build is not deterministic")
	}
}

func TestBuild_ToneExclusive(t *testing.T) {
	persona := &agents.Persona{Name: "Sam", Tone: agents.ToneFriendly}
	out := Build(testAgent(), persona, nil)

	if !strings.Contains(out, toneSentences[agents.ToneFriendly]) {
		t.Fatalf("missing friendly sentence:\n%s", out)
	}
	for tone, sentence := range toneSentences {
		if tone == agents.ToneFriendly {
			continue
		}
		if strings.Contains(out, sentence) {
			t.Fatalf("prompt contains %s sentence:\n%s", tone, out)
		}
	}
}

func TestToneSentence_DefaultsToProfessional(t *testing.T) {
	for _, tone := range []agents.Tone{"", "sarcastic", "  "} {
		if got := ToneSentence(tone); got != toneSentences[agents.ToneProfessional] {
			t.Fatalf("ToneSentence(%q)=%q", tone, got)
		}
	}
	if got := ToneSentence("Formal"); got != toneSentences[agents.ToneFormal] {
		t.Fatalf("ToneSentence(Formal)=%q", got)
	}
	if got := FallbackSentence("unknown"); got != fallbackSentences[agents.FallbackApologize] {
		t.Fatalf("FallbackSentence(unknown)=%q", got)
	}
}

func TestBuild_SectionOrder(t *testing.T) {
	persona := &agents.Persona{
		Name:                 "Sam",
		RoleTitle:            "the front desk assistant",
		Tone:                 agents.ToneCasual,
		GreetingScript:       "Hi, this is Sam.",
		StyleNotes:           "Keep it light.",
		ProhibitedBehaviours: []string{"Quote exact prices"},
		FallbackPolicy:       agents.FallbackRetry,
		EscalationRules:      "Transfer emergencies.",
	}
	out := Build(testAgent(), persona, []string{"Open 8 to 6."})

	order := []string{
		"You are Sam, the front desk assistant for Acme Roofing.",
		"You specialize in roofing.",
		"Your goals: Book inspections",
		toneSentences[agents.ToneCasual],
		"Keep it light.",
		`When the call begins you greeted the caller with: "Hi, this is Sam."`,
		"Never do the following:\n- Quote exact prices",
		fallbackSentences[agents.FallbackRetry],
		"Escalation rules: Transfer emergencies.",
		"[TRANSFER:<reason>]",
		"ask once for their name",
		knowledgeIntro + "\n\nOpen 8 to 6.",
	}
	last := -1
	for _, want := range order {
		idx := strings.Index(out, want)
		if idx < 0 {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
		if idx <= last {
			t.Fatalf("%q out of order in:\n%s", want, out)
		}
		last = idx
	}
	if !strings.HasSuffix(out, "Open 8 to 6.") {
		t.Fatalf("knowledge must come last:\n%s", out)
	}
}

func TestBuild_OmitsAbsentSections(t *testing.T) {
	agent := agents.Agent{Name: "Acme", BusinessDomain: "other"}
	out := Build(agent, nil, nil)

	if !strings.HasPrefix(out, "You are Acme, an AI voice assistant.") {
		t.Fatalf("identity=%q", strings.SplitN(out, "\n", 2)[0])
	}
	for _, unwanted := range []string{"You specialize", "Your goals", "Never do the following", "Escalation rules", knowledgeIntro} {
		if strings.Contains(out, unwanted) {
			t.Fatalf("unexpected %q in:\n%s", unwanted, out)
		}
	}
	for _, s := range fallbackSentences {
		if strings.Contains(out, s) {
			t.Fatalf("fallback sentence without persona:\n%s", out)
		}
	}
	if !strings.Contains(out, toneSentences[agents.ToneProfessional]) {
		t.Fatalf("default tone missing:\n%s", out)
	}
	if strings.Contains(out, "\n\n\n") {
		t.Fatalf("empty section left a gap:\n%q", out)
	}
}

func TestBuild_KnowledgeDelimiter(t *testing.T) {
	out := Build(testAgent(), nil, []string{"one", " ", "two"})
	if !strings.HasSuffix(out, "one\n---\ntwo") {
		t.Fatalf("knowledge=%q", out[strings.LastIndex(out, "\n\n"):])
	}
}

func TestBuild_PersonaWithoutRole(t *testing.T) {
	out := Build(testAgent(), &agents.Persona{Name: "Sam"}, nil)
	if !strings.HasPrefix(out, "You are Sam for Acme Roofing.") {
		t.Fatalf("identity=%q", strings.SplitN(out, "\n", 2)[0])
	}
}
