package production

import "errors"

var (
	// ErrUpstream is returned when the estimation service answers with an
	// error payload or a body the client cannot use.
	ErrUpstream = errors.New("upstream estimation error")

	// ErrConfiguration is returned when a required credential or setting is missing.
	ErrConfiguration = errors.New("configuration error")

	// ErrStorage is returned when an upload or a record update fails.
	ErrStorage = errors.New("storage error")

	// ErrNotFound is returned when the installation id is unknown.
	ErrNotFound = errors.New("installation not found")

	// ErrInconsistent marks a run whose artifact was uploaded but whose
	// installation record could not be updated. It is always joined with ErrStorage.
	ErrInconsistent = errors.New("artifact uploaded but installation record not updated")

	// ErrInvalidInstallation is returned when an installation lacks the
	// attributes needed to compute production.
	ErrInvalidInstallation = errors.New("invalid installation")

	// ErrInvalidParameters is returned when array overrides are out of range.
	ErrInvalidParameters = errors.New("invalid system parameters")

	// ErrBusy is returned when the caller gave up waiting for another run on
	// the same installation.
	ErrBusy = errors.New("a run is already in progress for this installation")

	// ErrSuperseded is returned by RunLedger.CommitRun when a newer run for the
	// same installation is already committed. The older run is not applied.
	ErrSuperseded = errors.New("run superseded by a newer committed run")
)

// inconsistentError reports both ErrStorage and ErrInconsistent to errors.Is.
type inconsistentError struct {
	cause error
}

func (e *inconsistentError) Error() string {
	return ErrInconsistent.Error() + ": " + e.cause.Error()
}

func (e *inconsistentError) Unwrap() []error {
	return []error{ErrStorage, ErrInconsistent, e.cause}
}
