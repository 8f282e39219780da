package errors

import sterrors "errors"

var (
	ErrAlreadyInitialized = sterrors.New("semo: supervisor already initialized")
	ErrNotInitialized     = sterrors.New("semo: supervisor not initialized")
	ErrComponentNotFound  = sterrors.New("semo: component not registered")
	ErrComponentCycle     = sterrors.New("semo: circular component dependency")
	ErrInvalidPriority    = sterrors.New("semo: invalid component priority")
	ErrFactoryRequired    = sterrors.New("semo: component factory is required")
	ErrNameRequired       = sterrors.New("semo: component name is required")
	ErrComponentBuilt     = sterrors.New("semo: component already built")
	ErrConfigRequired     = sterrors.New("semo: configuration is required")
	ErrLoggerRequired     = sterrors.New("semo: logger is required")
	ErrRouteInvalid       = sterrors.New("semo: route method, pattern and handler are required")
	ErrServerStopped      = sterrors.New("semo: http server already stopped")
)

// ConfigValidationError wraps configuration problems found at boot.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "semo: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil for a nil err.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
