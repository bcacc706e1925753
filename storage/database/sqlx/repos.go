// Package sqlxrepos implements the repositories on Postgres with sqlx.
package sqlxrepos

import (
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const (
	uniqueViolation           = "23505"
	invalidTextRepresentation = "22P02" // eg. a malformed uuid
)

// isUniqueViolation reports whether err is a unique constraint violation on constraint.
func isUniqueViolation(err error, constraint string) bool {
	pqErr, ok := errors.Cause(err).(*pq.Error)
	return ok && pqErr.Code == uniqueViolation && pqErr.Constraint == constraint
}

// isInvalidInput reports whether psql rejected a parameter it could not parse for its column type.
func isInvalidInput(err error) bool {
	pqErr, ok := errors.Cause(err).(*pq.Error)
	return ok && pqErr.Code == invalidTextRepresentation
}

// trapNoRowsErr maps psql "no rows" err, and ids psql cannot parse, to notFound
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows || isInvalidInput(err) {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func trapDeleteErr(res sql.Result, err error, notFound error, msg string) error {
	if isInvalidInput(err) {
		return notFound
	}
	if err != nil {
		return errors.Wrap(err, msg)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, msg)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
