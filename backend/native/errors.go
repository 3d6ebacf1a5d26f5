package native

import "errors"

// Package errors for the native backend.
var (
	// ErrNilDevice is returned when creating a factory without a device.
	ErrNilDevice = errors.New("native: device is nil")

	// ErrNoHALDevice is returned when a device provider does not expose a
	// HAL device.
	ErrNoHALDevice = errors.New("native: provider does not expose a HAL device")

	// ErrUnsupportedProfile is returned for a shader profile the compiler
	// cannot target.
	ErrUnsupportedProfile = errors.New("native: unsupported shader profile")

	// ErrInvalidBinary is returned when a shader binary cannot be loaded.
	ErrInvalidBinary = errors.New("native: invalid shader binary")

	// ErrFactoryClosed is returned after Close.
	ErrFactoryClosed = errors.New("native: pipeline factory closed")
)
