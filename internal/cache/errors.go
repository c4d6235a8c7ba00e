package cache

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a referenced record does not exist
var ErrNotFound = errors.New("not found")

// ErrConnectionLost is returned when the database connection failed and
// could not be re-established
var ErrConnectionLost = errors.New("database connection lost")

// ValidationError reports a record rejected before it was saved
type ValidationError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s %s", e.Entity, e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

func notFound(entity string, id interface{}) error {
	return fmt.Errorf("%s %v: %w", entity, id, ErrNotFound)
}

// connectionLostSignatures are the driver messages that mean the handle is unusable
var connectionLostSignatures = []string{
	"sql: database is closed",
	"driver: bad connection",
	"disk i/o error",
	"sqlite_ioerr",
	"unable to open database file",
}

// isConnectionLost checks an error against the driver's connection-failure signatures
func isConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range connectionLostSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
