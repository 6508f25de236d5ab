package ledger

import "strings"

// Sequence-conflict markers in node rejection messages. Nodes report a
// stale or reused sequence value with one of these phrases.
var sequenceConflictMarkers = []string{
	"sequence number too low",
	"sequence conflict",
	"invalid sequence",
	"nonce too low",
	"replacement transaction",
	"already known",
}

// IsSequenceConflict reports whether err is a ledger rejection caused by a
// stale or duplicated sequence value. Conflicts are repairable by resyncing
// the local counter from the ledger; every other rejection is terminal for
// the attempt.
func IsSequenceConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range sequenceConflictMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
