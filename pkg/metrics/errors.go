// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package metrics

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageUnavailable wraps every failure of the underlying database.
	ErrStorageUnavailable = errors.New("metrics storage unavailable")

	// ErrAggregation is returned when an aggregate has no rows to work on,
	// or names a column that cannot be aggregated.
	ErrAggregation = errors.New("aggregation failed")

	// ErrInvalidFilter is returned for filters on unknown columns.
	ErrInvalidFilter = errors.New("invalid metrics filter")

	// ErrUnknownTable is returned for table names outside the schema.
	ErrUnknownTable = errors.New("unknown metrics table")

	// ErrInvalidRecord is returned for records that cannot be encoded,
	// such as metadata holding NaN. The database is not involved.
	ErrInvalidRecord = errors.New("invalid metrics record")
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// writeErr wraps a failed insert. Encoding errors stay ErrInvalidRecord.
func writeErr(op string, err error) error {
	if errors.Is(err, ErrInvalidRecord) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return unavailable(op, err)
}
