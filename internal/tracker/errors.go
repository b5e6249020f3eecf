package tracker

// duplicateKeyError signals a register call for an already tracked (type,id).
type duplicateKeyError struct{ key string }

func (e duplicateKeyError) Error() string { return "resource already tracked: " + e.key }

// ErrDuplicateKey constructs a duplicateKeyError for the given resource key.
func ErrDuplicateKey(key string) error { return duplicateKeyError{key: key} }

// IsDuplicateKey reports whether err indicates a duplicate registration.
func IsDuplicateKey(err error) bool {
	_, ok := err.(duplicateKeyError)
	return ok
}

// notTrackedError signals an operation on a key that is not in the registry.
type notTrackedError struct{ key string }

func (e notTrackedError) Error() string { return "resource not tracked: " + e.key }

// ErrNotTracked constructs a notTrackedError.
func ErrNotTracked(key string) error { return notTrackedError{key: key} }

// IsNotTracked reports whether the error indicates a missing resource key.
func IsNotTracked(err error) bool {
	_, ok := err.(notTrackedError)
	return ok
}

// transientReleaseError wraps a release callback failure that may succeed on
// a later attempt (e.g., a momentarily busy handle).
type transientReleaseError struct {
	key   string
	cause error
}

func (e transientReleaseError) Error() string {
	return "transient release failure for " + e.key + ": " + e.cause.Error()
}

func (e transientReleaseError) Unwrap() error { return e.cause }

// ErrTransientRelease constructs a transientReleaseError.
func ErrTransientRelease(key string, cause error) error {
	return transientReleaseError{key: key, cause: cause}
}

// IsTransientRelease reports whether err is a retryable release failure.
func IsTransientRelease(err error) bool {
	_, ok := err.(transientReleaseError)
	return ok
}
