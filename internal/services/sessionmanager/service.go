// Package sessionmanager implements the explicit session lifecycle state
// machine (NONE -> HANDSHAKE_PENDING -> ESTABLISHED -> {rotated, EXPIRED,
// FAILED}) that session/service.go's X3DH handshake and message/service.go's
// ratchet traffic sit underneath.
package sessionmanager

import (
	"context"
	"fmt"
	"time"

	"ciphera/internal/crypto"
	"ciphera/internal/domain"
	"ciphera/internal/protocol/ratchet"
)

// Service owns one unlocked identity's session lifecycle across peers. A
// Service is bound to a single passphrase at construction, the way a CLI
// invocation unlocks one identity for its whole run.
type Service struct {
	passphrase   string
	sessionSvc   domain.SessionService
	ratchetStore domain.RatchetStore
	records      domain.SessionRecordStore
}

// New constructs a Service bound to passphrase.
func New(
	passphrase string,
	sessionSvc domain.SessionService,
	ratchetStore domain.RatchetStore,
	records domain.SessionRecordStore,
) *Service {
	return &Service{
		passphrase:   passphrase,
		sessionSvc:   sessionSvc,
		ratchetStore: ratchetStore,
		records:      records,
	}
}

// Open transitions peer from NONE/EXPIRED/FAILED to HANDSHAKE_PENDING and
// then ESTABLISHED, running X3DH as needed. Calling Open on an already
// ESTABLISHED or HANDSHAKE_PENDING peer is a no-op.
func (s *Service) Open(ctx context.Context, peer domain.Username) error {
	rec, found, err := s.records.LoadSessionRecord(peer)
	if err != nil {
		return fmt.Errorf("loading session record: %w", err)
	}
	if found && (rec.State == domain.SessionEstablished || rec.State == domain.SessionHandshakePending) {
		return nil
	}

	now := time.Now().Unix()
	rec = domain.SessionRecord{State: domain.SessionHandshakePending, LastActivityUTC: now}
	if err := s.records.SaveSessionRecord(peer, rec); err != nil {
		return fmt.Errorf("persisting handshake_pending: %w", err)
	}

	session, err := s.sessionSvc.InitiateSession(ctx, s.passphrase, peer)
	if err != nil {
		_ = s.Fail(peer, err.Error())
		return err
	}

	rec = domain.SessionRecord{
		Session:         session,
		State:           domain.SessionEstablished,
		EstablishedUTC:  now,
		LastActivityUTC: now,
	}
	if err := s.records.SaveSessionRecord(peer, rec); err != nil {
		return fmt.Errorf("persisting established: %w", err)
	}
	return nil
}

// State reports the current lifecycle state for peer. A peer never opened
// reports SessionNone.
func (s *Service) State(peer domain.Username) (domain.SessionState, error) {
	rec, found, err := s.records.LoadSessionRecord(peer)
	if err != nil {
		return "", err
	}
	if !found {
		return domain.SessionNone, nil
	}
	return rec.State, nil
}

// Rotate forces a fresh local Diffie-Hellman ratchet key for peer's
// conversation, remaining in ESTABLISHED. The next message sent carries the
// new public key, driving the peer's DH ratchet step on receipt.
func (s *Service) Rotate(ctx context.Context, peer domain.Username) error {
	rec, found, err := s.records.LoadSessionRecord(peer)
	if err != nil {
		return fmt.Errorf("loading session record: %w", err)
	}
	if !found || rec.State != domain.SessionEstablished {
		return fmt.Errorf("rotate %s: session not established", peer)
	}

	convID := domain.ConversationID(peer.String())
	conv, found, err := s.ratchetStore.LoadConversation(convID)
	if err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}
	if !found {
		return fmt.Errorf("rotate %s: no ratchet state yet, send a message first", peer)
	}

	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return fmt.Errorf("generating rotation key: %w", err)
	}
	conv.State.DiffieHellmanPrivate = priv
	conv.State.DiffieHellmanPublic = pub
	conv.State.SendChainKey = nil
	conv.State.SendMessageIndex = 0
	if err := s.ratchetStore.SaveConversation(convID, conv); err != nil {
		return fmt.Errorf("saving rotated conversation: %w", err)
	}

	rec.LastActivityUTC = time.Now().Unix()
	return s.records.SaveSessionRecord(peer, rec)
}

// Fail transitions peer to FAILED with reason. Idempotent; a peer already
// FAILED just has its reason refreshed.
func (s *Service) Fail(peer domain.Username, reason string) error {
	rec, _, err := s.records.LoadSessionRecord(peer)
	if err != nil {
		return fmt.Errorf("loading session record: %w", err)
	}
	rec.State = domain.SessionFailed
	rec.FailureReason = reason
	rec.LastActivityUTC = time.Now().Unix()
	return s.records.SaveSessionRecord(peer, rec)
}

// Expire transitions every ESTABLISHED session idle since before
// olderThanUTC to EXPIRED, returning the count transitioned. It is meant to
// run on a schedule, not from inside message handling.
func (s *Service) Expire(olderThanUTC int64) (int, error) {
	all, err := s.records.AllSessionRecords()
	if err != nil {
		return 0, fmt.Errorf("listing session records: %w", err)
	}

	count := 0
	for peer, rec := range all {
		if rec.State != domain.SessionEstablished {
			continue
		}
		if rec.LastActivityUTC >= olderThanUTC {
			continue
		}
		rec.State = domain.SessionExpired
		if err := s.records.SaveSessionRecord(peer, rec); err != nil {
			return count, fmt.Errorf("expiring %s: %w", peer, err)
		}
		count++
	}
	return count, nil
}

// RotateQuantumEpochs advances the coarse wall-clock epoch of every stored
// conversation that is due, independent of the per-step DH-ratchet
// Epoch bump in Encrypt/Decrypt.
func (s *Service) RotateQuantumEpochs(nowUTC int64, epochDuration time.Duration) (int, error) {
	all, err := s.ratchetStore.AllConversations()
	if err != nil {
		return 0, fmt.Errorf("listing conversations: %w", err)
	}

	count := 0
	for peer, conv := range all {
		if !ratchet.RotateQuantumEpoch(&conv.State, nowUTC, epochDuration) {
			continue
		}
		if err := s.ratchetStore.SaveConversation(peer, conv); err != nil {
			return count, fmt.Errorf("saving rotated conversation %s: %w", peer, err)
		}
		count++
	}
	return count, nil
}

// Compile-time assertion that Service implements domain.SessionManager.
var _ domain.SessionManager = (*Service)(nil)
