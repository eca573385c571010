package rundb

import (
	"github.com/jswidler/tenantrun/errors"
	"github.com/lib/pq"
)

var (
	ErrConflict                 = errors.Sentinel("uniqueness conflict")
	ErrInvalidForeignKey        = errors.Sentinel("invalid foreign key")
	ErrDeleteViolatesForeignKey = errors.Sentinel("delete violates foreign key")
	ErrDatabaseError            = errors.Sentinel("database error")
	ErrNotFound                 = errors.Sentinel("not found")
	ErrNotUpdateable            = errors.Sentinel("not updateable")
	ErrInvalidMetadata          = errors.Sentinel("invalid metadata")
)

const (
	uniqueViolationErr   = pq.ErrorCode("23505")
	invalidForeignKeyErr = pq.ErrorCode("23503")
)

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

// classify maps a driver error onto one of the package sentinels.
func classify(err error, opts ...errors.Wrapper) error {
	switch pqCode(err) {
	case uniqueViolationErr:
		return errors.Wrap(ErrConflict, append(opts, errors.WithCause(err))...)
	case invalidForeignKeyErr:
		return errors.Wrap(ErrInvalidForeignKey, append(opts, errors.WithCause(err))...)
	}
	return errors.Wrap(ErrDatabaseError, append(opts, errors.WithCause(err))...)
}
