package memory

import "errors"

var (
	// ErrEmptyID is returned when an agent or session id is required but blank.
	ErrEmptyID = errors.New("memory: empty id")

	// ErrInvalidTimestamp is returned when a snapshot timestamp is not a
	// timestamp, such as one carrying path separators.
	ErrInvalidTimestamp = errors.New("memory: invalid snapshot timestamp")

	// ErrContextTooLarge is returned before any I/O when an encoded context
	// write exceeds the configured size limit.
	ErrContextTooLarge = errors.New("memory: context exceeds size limit")

	// ErrInvalidEntry is returned when a history entry fails schema validation.
	ErrInvalidEntry = errors.New("memory: history entry rejected by schema")

	// ErrStatusTransition is returned when strict session status is enabled
	// and an update tries to write the status field directly.
	ErrStatusTransition = errors.New("memory: session status can only change through CloseSession")

	// ErrSessionNotFound is returned by session operations that require an
	// existing record.
	ErrSessionNotFound = errors.New("memory: session not found")

	// ErrFlushDisabled is returned by FlushAll unless store.allow_flush is set.
	ErrFlushDisabled = errors.New("memory: flush is disabled by configuration")

	// ErrFlushNotConfirmed is returned by FlushAll without the confirmation token.
	ErrFlushNotConfirmed = errors.New("memory: flush requires explicit confirmation")
)
