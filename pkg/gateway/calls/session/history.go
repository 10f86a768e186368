package session

import (
	"time"

	"github.com/vango-go/vai-phone/pkg/core/completion"
	"github.com/vango-go/vai-phone/pkg/gateway/calls/callrecord"
)

// historyManager keeps the two append-only views of a call: the messages
// sent to the model and the transcript persisted at the end.
type historyManager struct {
	messages   []completion.Message
	transcript []callrecord.Entry
}

func newHistoryManager() *historyManager {
	return &historyManager{
		messages:   make([]completion.Message, 0, 16),
		transcript: make([]callrecord.Entry, 0, 16),
	}
}

func (h *historyManager) appendUser(text string, at time.Time) {
	h.messages = append(h.messages, completion.Message{Role: completion.RoleUser, Content: text})
	h.transcript = append(h.transcript, callrecord.Entry{Role: callrecord.RoleUser, Text: text, Timestamp: at})
}

// appendGreeting records the opening lines in the transcript only, so the
// model's history always starts with the caller.
func (h *historyManager) appendGreeting(entries []callrecord.Entry) {
	h.transcript = append(h.transcript, entries...)
}

// appendSpoken records assistant lines in the order they were spoken.
func (h *historyManager) appendSpoken(entries []callrecord.Entry) {
	for _, e := range entries {
		h.messages = append(h.messages, completion.Message{Role: completion.RoleAssistant, Content: e.Text})
		h.transcript = append(h.transcript, e)
	}
}

func (h *historyManager) messagesSnapshot() []completion.Message {
	out := make([]completion.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

func (h *historyManager) transcriptSnapshot() []callrecord.Entry {
	out := make([]callrecord.Entry, len(h.transcript))
	copy(out, h.transcript)
	return out
}
