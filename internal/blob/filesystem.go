package blob

import "groupcore/internal/infra/blob/fs"

// NewFilesystem constructs a filesystem-backed blob.Store rooted at the
// provided path. Call sites depend on the interface, not the backend type.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}
