package agent

import (
	"strings"

	"github.com/hupe1980/groupmesh/core"
)

// DefaultTerminationMarker is the conventional end-of-conversation token.
const DefaultTerminationMarker = "TERMINATE"

// ContainsMarker returns a predicate matching messages whose content contains
// marker anywhere.
func ContainsMarker(marker string) func(msg core.Message) bool {
	return func(msg core.Message) bool {
		return marker != "" && strings.Contains(msg.Content, marker)
	}
}

// HasSuffixMarker returns a predicate matching messages whose trimmed content
// ends with marker.
func HasSuffixMarker(marker string) func(msg core.Message) bool {
	return func(msg core.Message) bool {
		return marker != "" && strings.HasSuffix(strings.TrimSpace(msg.Content), marker)
	}
}

// AnyOf combines predicates with a logical OR.
func AnyOf(preds ...func(msg core.Message) bool) func(msg core.Message) bool {
	return func(msg core.Message) bool {
		for _, p := range preds {
			if p != nil && p(msg) {
				return true
			}
		}
		return false
	}
}
