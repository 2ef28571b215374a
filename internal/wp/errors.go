package wp

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrPluginNotFound  = errors.New("plugin not found")
	ErrUploadNotFound  = errors.New("upload not found")
	ErrUploadNotFailed = errors.New("upload has not failed")
	ErrPostNotSaved    = errors.New("post has no ID")
)

// MutationError records a plugin change that the remote rejected, or that
// could not be sent at all. The optimistic change has already been undone
// by the time it is recorded.
type MutationError struct {
	Site     SiteRef
	PluginID string
	Op       string
	Err      error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s %s on %s: %v", e.Op, e.PluginID, e.Site, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }
