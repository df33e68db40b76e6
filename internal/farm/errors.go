package farm

import "fmt"

// ConfigurationError is returned when local configuration or the shape of a
// remote device pool does not allow a run to start.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration: %s: %v", e.Reason, e.Err)
	}
	return "configuration: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// RemoteProcessingError is returned when the service reports that it failed to
// process an uploaded artifact.
type RemoteProcessingError struct {
	Ref     string
	Name    string
	Message string
}

func (e *RemoteProcessingError) Error() string {
	return fmt.Sprintf("upload %s failed processing: %s", e.Name, e.Message)
}

// ScheduleError is returned when the service rejects or fails to create a run.
type ScheduleError struct {
	Name string
	Code string // vendor error code, may be empty
	Err  error
}

func (e *ScheduleError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("schedule run %s: %s: %v", e.Name, e.Code, e.Err)
	}
	return fmt.Sprintf("schedule run %s: %v", e.Name, e.Err)
}

func (e *ScheduleError) Unwrap() error { return e.Err }
