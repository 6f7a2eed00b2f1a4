package launcher

import (
	"errors"
	"fmt"
)

var (
	// ErrLaunchTimeout means the process started but its debug endpoint never answered.
	ErrLaunchTimeout = errors.New("browser did not become ready in time")
	// ErrProcessExited means the process died before its debug endpoint answered.
	ErrProcessExited = errors.New("browser process exited during startup")
	// ErrBinaryNotFound means no usable browser executable could be located.
	ErrBinaryNotFound = errors.New("browser executable not found")
)

// LaunchError describes a failed launch for one profile.
type LaunchError struct {
	ProfileID string
	Op        string
	Err       error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %q: %s: %v", e.ProfileID, e.Op, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

func launchErr(profileID, op string, err error) *LaunchError {
	return &LaunchError{ProfileID: profileID, Op: op, Err: err}
}
