package reconciler

import "github.com/ethpandaops/resultoor/pkg/outcome"

// Remote status vocabulary.
const (
	RemotePassed  = "passed"
	RemoteFailed  = "failed"
	RemoteSkipped = "skipped"
)

var remoteStatuses = map[outcome.Status]string{
	outcome.StatusPassed:  RemotePassed,
	outcome.StatusFailed:  RemoteFailed,
	outcome.StatusSkipped: RemoteSkipped,
}

// MapStatus maps an internal status onto the remote vocabulary. Statuses
// without an exact counterpart, failed_core_dump included, map to skipped.
func MapStatus(status outcome.Status) string {
	if remote, ok := remoteStatuses[status]; ok {
		return remote
	}

	return RemoteSkipped
}
