package model

import "errors"

var (
	// ErrFormatMismatch marks buffers that cannot be compared sample by sample.
	ErrFormatMismatch = errors.New("format mismatch")
	// ErrInvalidChromosomeLength marks chromosomes that do not fit their layout
	// or each other.
	ErrInvalidChromosomeLength = errors.New("invalid chromosome length")
	ErrEmptyPopulation         = errors.New("empty population")
	// ErrInterrupted is recovered by the controller and never fails a run.
	ErrInterrupted   = errors.New("interrupted")
	ErrInvalidConfig = errors.New("invalid config")
)
