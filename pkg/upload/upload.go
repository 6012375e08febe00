package upload

import "context"

// Uploader uploads formatted scan reports to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// UploadReport uploads the report file at localPath under
	// prefix/variant/basename and returns the object key.
	UploadReport(ctx context.Context, variant, localPath string) (string, error)
}
