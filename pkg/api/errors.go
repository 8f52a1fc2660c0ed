package api

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

var (
	ErrUnavailable  = errors.New("backend unavailable")
	ErrStreamClosed = errors.New("transcript stream closed before completion")
)

type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: backend returned status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: backend returned status %d: %s", e.Op, e.Code, e.Body)
}

func asStatus(err error, target **StatusError) bool {
	return errors.As(err, target)
}

// IsUnavailable reports whether err means the backend could not be reached
// or is temporarily refusing work.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
