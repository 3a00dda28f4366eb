package llm

import "fmt"

// UnknownModelError is returned when a model name is not in the registry.
type UnknownModelError struct {
	Name string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("llm: unknown model %q", e.Name)
}

// InferenceFailure is returned once the retry policy gives up on a call.
// StatusCode is 0 when the last attempt failed below HTTP (connection
// refused, timeout).
type InferenceFailure struct {
	Model      string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *InferenceFailure) Error() string {
	return fmt.Sprintf("llm: inference on %q failed after %d attempt(s), status %d: %v",
		e.Model, e.Attempts, e.StatusCode, e.Err)
}

func (e *InferenceFailure) Unwrap() error {
	return e.Err
}

// ResponseDecodeError is returned when a successful response body cannot be
// decoded. It is never retried.
type ResponseDecodeError struct {
	Model string
	Err   error
}

func (e *ResponseDecodeError) Error() string {
	return fmt.Sprintf("llm: decode response from %q: %v", e.Model, e.Err)
}

func (e *ResponseDecodeError) Unwrap() error {
	return e.Err
}

// ParamsError is returned when the merged inference parameters cannot be
// decoded. No request is sent and it is never retried.
type ParamsError struct {
	Model string
	Err   error
}

func (e *ParamsError) Error() string {
	return fmt.Sprintf("llm: invalid parameters for %q: %v", e.Model, e.Err)
}

func (e *ParamsError) Unwrap() error {
	return e.Err
}

// StatusError carries a non-2xx HTTP status from a backend.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Message)
}
