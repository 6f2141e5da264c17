package providers

import (
	"strings"

	"github.com/haasonsaas/conduit/pkg/models"
)

// flatten collapses a message's part array into a plain string, for
// backends that want string content when nothing structured is present.
//
// Reasoning parts on assistant messages are stripped rather than
// concatenated: mixing reasoning text into string content corrupts the
// transcript on backends that have no reasoning slot. Any image, file, or
// tool part blocks flattening entirely and the caller must emit structured
// content instead. Returns ok=false when flattening does not apply.
func flatten(msg *models.Message) (string, bool) {
	if len(msg.Parts) == 0 {
		return "", false
	}
	if msg.AllText() {
		var b strings.Builder
		for _, p := range msg.Parts {
			b.WriteString(p.Text)
		}
		return b.String(), true
	}
	// Assistant messages may still flatten with reasoning parts stripped;
	// anything else structured blocks flattening.
	if msg.Role != models.RoleAssistant {
		return "", false
	}
	var b strings.Builder
	for _, p := range msg.Parts {
		switch p.Type {
		case models.PartText:
			b.WriteString(p.Text)
		case models.PartReasoning:
			// Stripped, not concatenated.
		default:
			return "", false
		}
	}
	return b.String(), true
}
