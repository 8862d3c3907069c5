// ABOUTME: Error types returned by the API client
// ABOUTME: RemoteError carries status and the backend's detail message

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrUnauthorized matches any 401 answer from the backend.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound matches any 404 answer from the backend.
	ErrNotFound = errors.New("not found")
	// ErrNoToken is returned by token sources that have no token stored.
	ErrNoToken = errors.New("no session token")
)

// RemoteError is a failed call to the backend: either a transport error or a
// non-success status.
type RemoteError struct {
	Method string
	Path   string
	Status int
	Detail string
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
}

func (e *RemoteError) Unwrap() error {
	switch {
	case e.Err != nil:
		return e.Err
	case e.Status == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// Message is the text to show an operator.
func (e *RemoteError) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Err != nil {
		return "could not reach the server"
	}
	return http.StatusText(e.Status)
}

// newRemoteError pulls the "detail" field out of the body. The backend sends
// either a string or a list of validation errors with "msg" fields.
func newRemoteError(method, path string, status int, body []byte) *RemoteError {
	e := &RemoteError{Method: method, Path: path, Status: status}
	if !gjson.ValidBytes(body) {
		return e
	}
	detail := gjson.GetBytes(body, "detail")
	switch {
	case detail.IsArray():
		var msgs []string
		for _, m := range detail.Get("#.msg").Array() {
			msgs = append(msgs, m.String())
		}
		e.Detail = strings.Join(msgs, "; ")
	case detail.Exists():
		e.Detail = detail.String()
	default:
		e.Detail = gjson.GetBytes(body, "message").String()
	}
	return e
}

// MessageOf returns an operator-facing message for err.
func MessageOf(err error) string {
	var rerr *RemoteError
	if errors.As(err, &rerr) {
		return rerr.Message()
	}
	return err.Error()
}
