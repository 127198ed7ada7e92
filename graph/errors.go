package graph

import "github.com/pkg/errors"

// Build-time failures. All builder methods wrap one of these with context.
var (
	ErrArityMismatch   = errors.New("arity mismatch")
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrUnknownRef      = errors.New("unknown node reference")
	ErrUnknownOp       = errors.New("unknown operation")
	ErrUnknownMapping  = errors.New("unknown mapping")
	ErrUnknownResource = errors.New("unknown resource")
	ErrUnknownMethod   = errors.New("unknown method")
	ErrSealed          = errors.New("graph is sealed")
)

// Serialization failures.
var (
	ErrCorruptArtifact = errors.New("corrupt artifact")
	ErrVersionMismatch = errors.New("artifact version mismatch")
)
