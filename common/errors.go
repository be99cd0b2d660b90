package common

import "github.com/pkg/errors"

// Errors returned by the detection pipeline. They are wrapped with context by the
// stage that raises them, so compare with errors.Is.
var (
	// ErrNotInitialized is returned by Detect before a successful Initialize.
	ErrNotInitialized = errors.New("detector not initialized")
	// ErrModelLoad is returned when the model artifact cannot be read or parsed.
	ErrModelLoad = errors.New("model load failed")
	// ErrInvalidInput is returned for rasters with a zero dimension or unreadable pixels.
	ErrInvalidInput = errors.New("invalid input raster")
	// ErrMalformedOutput is returned when the engine output length does not match 5*numBoxes.
	ErrMalformedOutput = errors.New("malformed inference output")
)
