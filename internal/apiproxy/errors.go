package apiproxy

import "fmt"

// Each dispatch failure is a distinct typed error, propagated to the caller
// and never silently swallowed.

type CallNotFoundError struct {
	Service string
	Method  string
}

func (e *CallNotFoundError) Error() string {
	return fmt.Sprintf("The API package '%s' or call '%s()' was not found.", e.Service, e.Method)
}

type RequestTooLargeError struct {
	Service string
	Method  string
}

func (e *RequestTooLargeError) Error() string {
	return fmt.Sprintf("The request to API call %s.%s() was too large.", e.Service, e.Method)
}

type ResponseTooLargeError struct {
	Service string
	Method  string
}

func (e *ResponseTooLargeError) Error() string {
	return fmt.Sprintf("The response from API call %s.%s() was too large.", e.Service, e.Method)
}

// DeadlineExceededError is a distinct error class, not a generic timeout.
type DeadlineExceededError struct {
	Service string
	Method  string
	Seconds float64
}

func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("The API call %s.%s() took too long to respond and was cancelled after %.1f seconds.",
		e.Service, e.Method, e.Seconds)
}

type CancelledError struct {
	Service string
	Method  string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("The API call %s.%s() was explicitly cancelled.", e.Service, e.Method)
}

type CapabilityDisabledError struct {
	Service string
	Method  string
	Status  string
}

func (e *CapabilityDisabledError) Error() string {
	return fmt.Sprintf("The API call %s.%s() is temporarily unavailable: %s", e.Service, e.Method, e.Status)
}

// ApplicationError carries a service-level error code back to the caller.
type ApplicationError struct {
	Code   int
	Detail string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("ApplicationError: %d %s", e.Code, e.Detail)
}

// UnknownError wraps an unexpected failure of the service implementation.
type UnknownError struct {
	Service string
	Method  string
	Cause   error
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("An error occurred for the API request %s.%s(): %v", e.Service, e.Method, e.Cause)
}

func (e *UnknownError) Unwrap() error {
	return e.Cause
}
