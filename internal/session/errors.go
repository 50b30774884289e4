package session

import "errors"

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("session: controller closed")

	ErrMissingCredentials  = errors.New("session: access key id, access key secret and user id are required")
	ErrNotConnected        = errors.New("session: not signed in")
	ErrCallInProgress      = errors.New("session: a call is already in progress")
	ErrDestinationRequired = errors.New("session: destination required")
	ErrCallerIDRequired    = errors.New("session: caller id required")
	ErrSelfCall            = errors.New("session: destination must differ from the caller")
	ErrUnsupportedKind     = errors.New("session: unsupported destination kind")
	ErrNoIncomingCall      = errors.New("session: no pending incoming call")
	ErrNoCurrentCall       = errors.New("session: no current call")
)

var validationErrs = []error{
	ErrMissingCredentials,
	ErrDestinationRequired,
	ErrCallerIDRequired,
	ErrSelfCall,
	ErrUnsupportedKind,
}

// IsValidation reports whether err is a synchronous input-validation failure,
// as opposed to a state conflict or an internal error.
func IsValidation(err error) bool {
	for _, e := range validationErrs {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// IsConflict reports whether err means the operation is not valid in the
// session's current state.
func IsConflict(err error) bool {
	for _, e := range []error{ErrNotConnected, ErrCallInProgress, ErrNoIncomingCall, ErrNoCurrentCall} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
