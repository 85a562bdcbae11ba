package interfaces

import (
	"context"
	"time"

	domaintypes "ciphera/internal/domain/types"
)

// SessionManager owns the explicit state machine governing a peer's
// session lifecycle (NONE -> HANDSHAKE_PENDING -> ESTABLISHED -> {rotated,
// EXPIRED, FAILED}). It owns ratchet state by value through an opaque
// handle; implementations must never hand back a reference the caller can
// use to reach back into the manager.
type SessionManager interface {
	// Open transitions a peer from NONE/EXPIRED/FAILED to
	// HANDSHAKE_PENDING and then ESTABLISHED, running X3DH as needed.
	Open(ctx context.Context, peer domaintypes.Username) error

	// State reports the current lifecycle state for peer.
	State(peer domaintypes.Username) (domaintypes.SessionState, error)

	// Rotate forces a fresh DH ratchet step, remaining in ESTABLISHED.
	Rotate(ctx context.Context, peer domaintypes.Username) error

	// Fail transitions a peer to FAILED with the given reason; it is
	// idempotent and never re-enters the encrypt/decrypt path.
	Fail(peer domaintypes.Username, reason string) error

	// Expire transitions idle-too-long sessions to EXPIRED; called on a
	// schedule, not from inside message handling.
	Expire(olderThanUTC int64) (int, error)

	// RotateQuantumEpochs advances the coarse wall-clock epoch of every
	// conversation whose epochDuration has elapsed since its last
	// rotation, returning the count rotated. Called on a schedule, not
	// from inside message handling.
	RotateQuantumEpochs(nowUTC int64, epochDuration time.Duration) (int, error)
}
