package connection

import (
	"errors"
	"fmt"

	"github.com/bgunnarsson/sqlfixture/internal/db"
)

var (
	ErrNotConnected      = errors.New("connection: not connected")
	ErrUnsupportedDriver = errors.New("connection: unsupported driver")
)

// ConnectionError reports a failure to open or verify the connection.
type ConnectionError struct {
	Op     string
	Driver db.Driver
	Addr   string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection: %s %s %s: %v", e.Op, e.Driver, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError reports a failed statement. Query holds a shortened copy of
// the SQL text; arguments are never included.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %q: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

const maxExcerpt = 120

func newQueryError(query string, err error) error {
	if err == nil {
		return nil
	}
	var qe *QueryError
	if errors.As(err, &qe) || errors.Is(err, ErrNotConnected) {
		return err
	}
	return &QueryError{Query: excerpt(query), Err: err}
}

func excerpt(query string) string {
	r := []rune(query)
	if len(r) <= maxExcerpt {
		return query
	}
	return string(r[:maxExcerpt-3]) + "..."
}
