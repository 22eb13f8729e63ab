package model

import "errors"

var (
	// ErrInvalidGraph is returned for graphs that reference unknown variables or ops
	ErrInvalidGraph = errors.New("invalid graph")
	// ErrUnsupportedOp is returned when an op type has no kernel
	ErrUnsupportedOp = errors.New("unsupported op")
	// ErrShapeMismatch is returned when tensor shapes are incompatible
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrParamNotFound is returned when a parameter is missing from a scope or params file
	ErrParamNotFound = errors.New("parameter not found")
	// ErrBadParamsFile is returned for corrupt or unknown params files
	ErrBadParamsFile = errors.New("bad params file")
	// ErrMissingFeed is returned when a feed variable is not provided
	ErrMissingFeed = errors.New("missing feed")
)
