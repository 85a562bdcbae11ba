package domain

import "errors"

// Sentinel errors for the error catalog. Each is recoverable or terminal
// per its doc comment; callers branch on errors.Is, never on message text.
var (
	// ErrDeviceNotInitialized means local identity/pre-key setup has not
	// run yet. Recoverable: run setup and retry.
	ErrDeviceNotInitialized = errors.New("device not initialized")

	// ErrDeviceNotTrusted means the peer device has not been verified
	// out-of-band. Recoverable: trust the device explicitly.
	ErrDeviceNotTrusted = errors.New("device not trusted")

	// ErrBadBundle means a pre-key bundle's signature failed to verify.
	// Terminal: do not proceed with this bundle.
	ErrBadBundle = errors.New("pre-key bundle signature invalid")

	// ErrPQUnavailable means a post-quantum path was required by policy
	// but could not be negotiated or failed. Recoverability depends on
	// the active NegotiationMode.
	ErrPQUnavailable = errors.New("post-quantum algorithm unavailable")

	// ErrHandshakeTimeout means a handshake round did not complete in
	// time. Recoverable: retry.
	ErrHandshakeTimeout = errors.New("handshake timed out")

	// ErrInvalidHeader means a ratchet header failed to parse or is
	// internally inconsistent. Terminal: drop the envelope.
	ErrInvalidHeader = errors.New("invalid ratchet header")

	// ErrTooOld means a message falls outside the configured age window.
	// Terminal.
	ErrTooOld = errors.New("message outside age window")

	// ErrReplay means the message's hash was already processed. Terminal.
	ErrReplay = errors.New("message already processed")

	// ErrTooManySkipped means accepting the message would require
	// skipping more than MaxSkip keys. Terminal; treat as likely
	// malicious or a denial-of-service attempt.
	ErrTooManySkipped = errors.New("too many skipped message keys")

	// ErrKeyMismatch means a conversation's bound session key does not
	// match the device fingerprint now presenting. Recoverable via the
	// device-recovery flow.
	ErrKeyMismatch = errors.New("conversation key bound to a different device")

	// ErrStorageError wraps a local persistence failure. Terminal for
	// the operation in progress.
	ErrStorageError = errors.New("local storage error")

	// ErrDirectoryError wraps a failure talking to the relay/directory
	// service. Recoverable: retry with backoff.
	ErrDirectoryError = errors.New("directory service error")

	// ErrUnimplemented is a generic not-implemented sentinel; no code path
	// in this module returns it.
	ErrUnimplemented = errors.New("not implemented")
)
