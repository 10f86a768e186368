package session

import (
	"regexp"
	"strings"
)

// DefaultTransferReason is recorded when the model asks for a handoff
// without saying why.
const DefaultTransferReason = "Caller requested a human agent"

var transferMarker = regexp.MustCompile(`(?i)\[TRANSFER:([^\]]*)\]`)

// ExtractTransfer finds a [TRANSFER:<reason>] marker in a model reply. It
// returns the reply with every marker removed, the reason from the first
// marker, and whether a marker was present.
func ExtractTransfer(reply string) (text, reason string, ok bool) {
	m := transferMarker.FindStringSubmatch(reply)
	if m == nil {
		return strings.TrimSpace(reply), "", false
	}
	reason = strings.TrimSpace(m[1])
	if reason == "" {
		reason = DefaultTransferReason
	}
	text = transferMarker.ReplaceAllString(reply, "")
	return strings.Join(strings.Fields(text), " "), reason, true
}
