package app

import "fmt"

// DomainError is a rules-of-order rejection: the meeting or motion refused
// the request, as opposed to the server failing. mapError copies its fields
// into the HTTP error envelope untouched, so Message and Details are written
// for the client. Details typically carries the blocking state, like the
// parent's status or the number of undecided sub-motions.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// domainError keeps call sites in the service layer on one line.
func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
