package nip46

import (
	"slices"
	"strconv"
	"strings"
)

const permSignEvent = "sign_event"

// FilterPerms intersects the permissions a counterpart requested against the
// operator-configured allow-list. An empty allow-list grants nothing. The
// literal entry "sign_event" additionally admits any kind-scoped
// "sign_event:<kind>" request; the reverse implication never holds. Request
// order is preserved and duplicates are dropped.
func FilterPerms(requested, allowed []string) []string {
	if len(allowed) == 0 {
		return nil
	}

	blanketSign := slices.Contains(allowed, permSignEvent)

	var granted []string
	for _, perm := range requested {
		if slices.Contains(granted, perm) {
			continue
		}
		if slices.Contains(allowed, perm) {
			granted = append(granted, perm)
			continue
		}
		if blanketSign && strings.HasPrefix(perm, permSignEvent+":") {
			granted = append(granted, perm)
		}
	}
	return granted
}

// SignEventAllowed reports whether perms admit signing events of the given
// kind, either through the blanket "sign_event" grant or the exact
// kind-scoped one.
func SignEventAllowed(perms []string, kind int) bool {
	return slices.Contains(perms, permSignEvent) ||
		slices.Contains(perms, permSignEvent+":"+strconv.Itoa(kind))
}

// HasPerm reports whether the literal permission string was granted.
func HasPerm(perms []string, perm string) bool {
	return slices.Contains(perms, perm)
}
