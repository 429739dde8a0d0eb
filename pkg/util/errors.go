package util

import (
	"net/url"
	"strings"
)

// CleanedUpError wraps an error for display: transport noise such as the
// `Get "https://...":` prefix of url.Error is dropped and the message is
// folded onto one line.
type CleanedUpError struct {
	Err error
}

func (e CleanedUpError) Error() string {
	if e.Err == nil {
		return ""
	}
	err := e.Err
	if uerr, ok := err.(*url.Error); ok && uerr.Err != nil {
		err = uerr.Err
	}
	return strings.Join(strings.Fields(err.Error()), " ")
}

func (e CleanedUpError) Unwrap() error { return e.Err }
