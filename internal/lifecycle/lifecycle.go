// Package lifecycle enforces the forward-only job-card stage progression.
package lifecycle

import (
	"github.com/wrenchdesk/wrenchdesk/internal/domain"
)

// Apply resolves a requested stage change against the current stage.
//
// Any later (or equal) stage is accepted, including skips — the responder
// may determine that several stages were satisfied in one turn. A request
// for an earlier stage is rejected and the current stage is kept. The
// second return value reports whether the request was rejected as a
// regression; callers log it, the user never sees it.
//
// Apply is idempotent: re-applying a stage that is already current is a
// no-op with no regression reported.
func Apply(current, requested domain.Status) (domain.Status, bool) {
	if !requested.Valid() {
		return current, true
	}
	if requested < current {
		return current, true
	}
	return requested, false
}
