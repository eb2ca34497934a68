package db

import (
	"errors"
	"fmt"

	"github.com/omni/htlc-bridge/entity"
)

var ErrNotFound = fmt.Errorf("record %w", entity.ErrNotFound)

func IgnoreErrNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
