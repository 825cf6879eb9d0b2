package content

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAccessToken is returned when a request is attempted before SetAccessToken.
	ErrNoAccessToken = errors.New("no access token available; user must be authenticated")
	// ErrContainerNotFound is returned when the configured site path does not resolve.
	ErrContainerNotFound = errors.New("content site not found")
)

// APIError describes a non-2xx response from the content API.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("content api: %s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("content api: %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
