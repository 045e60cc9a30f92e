// Package core defines sentinel errors.
package core

import "errors"

var (
	// Build errors
	ErrNoInterface     = errors.New("psniff: no interface configured")
	ErrNoSenders       = errors.New("psniff: no channel senders configured")
	ErrNoReceiver      = errors.New("psniff: no channel receiver configured")
	ErrNoRegistry      = errors.New("psniff: no state registry configured")
	ErrUnknownCategory = errors.New("psniff: unknown category")

	// Capture errors
	ErrDeviceOpen        = errors.New("psniff: device open failed")
	ErrInterfaceNotFound = errors.New("psniff: interface not found")
	ErrCaptureTimeout    = errors.New("psniff: capture poll timeout")
	ErrEngineUnsupported = errors.New("psniff: capture engine unsupported")
	ErrLinkType          = errors.New("psniff: unsupported link type")

	// Decode errors
	ErrMalformedFrame = errors.New("psniff: malformed frame")
	ErrNoTransport    = errors.New("psniff: no transport layer")

	// Registry errors
	ErrInterfaceExists  = errors.New("psniff: interface already registered")
	ErrInterfaceUnknown = errors.New("psniff: interface not registered")

	// Orchestrator errors
	ErrNothingToRun    = errors.New("psniff: no task built")
	ErrNoCaptureEngine = errors.New("psniff: no capture engine built")
	ErrTaskPanic       = errors.New("psniff: task panicked")

	// Configuration errors
	ErrConfigInvalid = errors.New("psniff: invalid configuration")
)
