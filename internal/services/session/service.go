package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ciphera/internal/domain"
	"ciphera/internal/protocol/negotiate"
	"ciphera/internal/protocol/x3dh"
)

// Service performs X3DH initiation and persists sessions.
//
// A session represents the shared root key and associated metadata needed
// for establishing a Double Ratchet conversation with a peer.
// This service handles:
//   - Retrieving our own identity keys.
//   - Fetching the peer's prekey bundle from the relay.
//   - Negotiating the key-agreement algorithm against the peer's advertised
//     capabilities under the configured policy mode.
//   - Running the X3DH key agreement as the initiator.
//   - Persisting the resulting session for later message encryption.
type Service struct {
	idStore      domain.IdentityStore
	prekeyStore  domain.PreKeyBundleStore
	sessionStore domain.SessionStore
	relayClient  domain.RelayClient
	negotiator   domain.AlgorithmNegotiator
	mode         domain.NegotiationMode
	logger       *slog.Logger
}

// New constructs a Session Service with the given stores and relay client.
// mode constrains which negotiated algorithms InitiateSession will accept;
// the zero value is domain.ModeStandard. logger receives one audit record
// per negotiation; a nil logger falls back to slog.Default().
func New(
	idStore domain.IdentityStore,
	prekeyStore domain.PreKeyBundleStore,
	sessionStore domain.SessionStore,
	relayClient domain.RelayClient,
	mode domain.NegotiationMode,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		idStore:      idStore,
		prekeyStore:  prekeyStore,
		sessionStore: sessionStore,
		relayClient:  relayClient,
		negotiator:   negotiate.New(),
		mode:         mode,
		logger:       logger,
	}
}

// Initiate runs X3DH against the peer's prekey bundle and stores the resulting session.
//
// Steps:
//  1. Load our own identity key pair from the identity store.
//  2. Fetch the peer's pre-key bundle from the relay (contains identity key,
//     Signed Pre-Key, and optionally a One-Time Pre-Key).
//  3. Run X3DH as the initiator to derive the root key and record which pre-keys
//     were used.
//  4. Create a Session record and persist it to the session store for future
//     message exchanges.
func (s *Service) InitiateSession(
	ctx context.Context,
	passphrase string,
	peer domain.Username,
) (domain.Session, error) {
	// Load our identity from secure storage.
	id, err := s.idStore.LoadIdentity(passphrase)
	if err != nil {
		return domain.Session{}, err
	}

	// Get the peer's current prekey bundle from the relay.
	bundle, err := s.relayClient.FetchPreKeyBundle(ctx, peer)
	if err != nil {
		return domain.Session{}, err
	}

	// Resolve which algorithm this handshake runs under before any DH or
	// KEM value is computed, so a policy violation (quantum_only against a
	// classical-only peer, hybrid against a peer missing the PQ leg) is
	// rejected instead of silently downgrading.
	negotiation, err := s.negotiator.Negotiate(s.mode, s.localCapabilities(id), bundle.Capabilities)
	if err != nil {
		s.logger.Warn("algorithm negotiation rejected",
			"peer", peer,
			"mode", s.mode,
			"chosen", negotiation.Chosen,
			"local", negotiation.Local,
			"remote", negotiation.Remote,
			"error", err,
		)
		return domain.Session{}, fmt.Errorf("negotiating algorithm with %s: %w", peer, err)
	}
	s.logger.Info("algorithm negotiated",
		"peer", peer,
		"mode", s.mode,
		"chosen", negotiation.Chosen,
		"fallback_used", negotiation.FallbackUsed,
		"local", negotiation.Local,
		"remote", negotiation.Remote,
	)

	// Perform X3DH as the initiator to derive the shared root key and identify
	// which SPK/OPK were used.
	rootKey,
		signedPreKeyIdentifier,
		oneTimePreKeyIdentifier,
		initiatorEphemeralPublicKey,
		quantumCiphertext,
		err := x3dh.InitiatorRoot(negotiation.Chosen, id, bundle)
	if err != nil {
		return domain.Session{}, err
	}

	// Build the session record.
	session := domain.Session{
		PeerUsername:          peer,
		RootKey:               rootKey,
		PeerSignedPreKey:      bundle.SignedPreKey,
		PeerIdentityKey:       bundle.IdentityKey,
		CreatedUTC:            time.Now().Unix(),
		SignedPreKeyID:        signedPreKeyIdentifier,
		OneTimePreKeyID:       oneTimePreKeyIdentifier,
		InitiatorEphemeralKey: initiatorEphemeralPublicKey,
		Algorithm:             negotiation.Chosen,
		FallbackUsed:          negotiation.FallbackUsed,
		QuantumCiphertext:     quantumCiphertext,
	}

	// Persist the session for later retrieval.
	if err := s.sessionStore.SaveSession(peer, session); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

// localCapabilities reports the algorithms this identity can run a
// handshake under, in the same shape LoadPreKeyBundle advertises to peers:
// plain Curve25519 always, with the quantum algorithm prepended when this
// identity carries a KEM key pair.
func (s *Service) localCapabilities(id domain.Identity) domain.Capabilities {
	caps := domain.Capabilities{Algorithms: []domain.Algorithm{domain.AlgCurve25519}}
	if len(id.KEMPub) > 0 {
		caps.Algorithms = append([]domain.Algorithm{domain.AlgMLKEM768}, caps.Algorithms...)
	}
	return caps
}

// Get retrieves a stored session for the given peer from the session store.
func (s *Service) GetSession(peer domain.Username) (domain.Session, bool, error) {
	return s.sessionStore.LoadSession(peer)
}

// Compile-time assertion that Service implements domain.SessionService.
var _ domain.SessionService = (*Service)(nil)
