package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidQuery         = errors.New("invalid query")
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	ErrBackendTimeout       = errors.New("backend timeout")
	ErrRerankTimeout        = errors.New("rerank timeout")
	ErrCacheUnavailable     = errors.New("cache unavailable")
	ErrTemporary            = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
