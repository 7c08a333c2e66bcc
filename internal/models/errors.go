package models

import "errors"

var (
	ErrIndexCorrupt      = errors.New("vector index is corrupt")
	ErrIndexNotFound     = errors.New("vector index not found")
	ErrEmbeddingMismatch = errors.New("embedding model does not match the index")
	ErrIndexMismatch     = errors.New("vector index was built for another collection or corpus")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotInDialog       = errors.New("user is not in a dialog")
	ErrUnknownUser       = errors.New("unknown user")
	ErrGeneration        = errors.New("generation failed")
	ErrUnknownMode       = errors.New("unknown dialog mode")
)
