package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy. Components wrap these with fmt.Errorf("%w: ...") so callers
// can branch with errors.Is.
var (
	ErrNetwork           = errors.New("network error")
	ErrTimeout           = errors.New("timeout")
	ErrParse             = errors.New("parse error")
	ErrFilesystem        = errors.New("filesystem error")
	ErrAccessDenied      = errors.New("access denied: subscription required")
	ErrMissingComponents = errors.New("missing components")
	ErrSpawn             = errors.New("spawn error")
	ErrElevationRequired = errors.New("elevated privileges required")
	ErrExtraction        = errors.New("extraction error")
	ErrUpdateFailed      = errors.New("update failed")
	ErrUpdateInProgress  = errors.New("update already in progress")
	ErrHandedOff         = errors.New("update handed off to installer")
	ErrNotSubscribed     = errors.New("not subscribed")
	ErrInvalidCode       = errors.New("invalid code")
	ErrUnknownMode       = errors.New("unknown mode")
	ErrTooManyRedirects  = errors.New("too many redirects")
)

// MissingComponentsError lists required helper files that are absent.
type MissingComponentsError struct {
	Files []string
}

func (e *MissingComponentsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingComponents, strings.Join(e.Files, ", "))
}

// Is makes errors.Is(err, ErrMissingComponents) match.
func (e *MissingComponentsError) Is(target error) bool {
	return target == ErrMissingComponents
}

// UserMessage maps an error to the remediation text shown to the user.
func UserMessage(err error) string {
	var missing *MissingComponentsError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &missing):
		return "Missing files: " + strings.Join(missing.Files, ", ")
	case errors.Is(err, ErrAccessDenied):
		return "Subscription confirmation required"
	case errors.Is(err, ErrElevationRequired):
		return "Failed to start the helper. Check administrator rights."
	case errors.Is(err, ErrNotSubscribed):
		return "You are not subscribed to the channel"
	case errors.Is(err, ErrInvalidCode):
		return "Invalid code"
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrNetwork):
		return "Connection error. Check your internet connection."
	case errors.Is(err, ErrUpdateFailed):
		return "Update failed. Retry to continue."
	default:
		return err.Error()
	}
}
