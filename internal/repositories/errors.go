package repositories

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStale is returned by conditional updates whose guard no longer holds,
	// e.g. the row already moved past the expected status.
	ErrStale = errors.New("row changed concurrently")
)

func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
