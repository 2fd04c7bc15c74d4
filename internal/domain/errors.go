package domain

import "errors"

var (
	ErrNotFound           = errors.New("record not found")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
	ErrUnknownType        = errors.New("unknown record type")
	ErrInvalidRecord      = errors.New("invalid record")
	ErrInvalidTopK        = errors.New("top_k must be positive")
	ErrEmptyQuery         = errors.New("query is empty")
)
