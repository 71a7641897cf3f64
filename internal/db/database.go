// Package db is the relational (Postgres) store layer: connections, run
// records, the flattened field-value index, and raw search query execution.
package db

import (
	"github.com/pkg/errors"
)

// ErrNotFound is returned if nothing is found.
var ErrNotFound = errors.New("not found")

const (
	// uniqueViolation is the error code that Postgres uses to indicate that an
	// attempted insert/update violates a uniqueness constraint. Obtained from:
	// https://www.postgresql.org/docs/current/errcodes-appendix.html
	uniqueViolation = "23505"
)
