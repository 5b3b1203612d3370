package usecase

import (
	"errors"
	"fmt"
	"strconv"

	"streamgate/internal/domain"
)

var (
	ErrEngine     = errors.New("engine error")
	ErrRepository = errors.New("repository error")
)

func wrapEngine(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrEngine, err)
}

func wrapRepo(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrRepository, err)
}

// RangeError reports an unsatisfiable Range header together with the size of
// the resource, which the 416 response must carry.
type RangeError struct {
	Total int64
}

func (e *RangeError) Error() string {
	return domain.ErrRangeNotSatisfiable.Error() + " (resource size " + strconv.FormatInt(e.Total, 10) + ")"
}

func (e *RangeError) Unwrap() error {
	return domain.ErrRangeNotSatisfiable
}
