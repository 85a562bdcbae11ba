package multidevice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ciphera/internal/domain"
)

// IsKeyMismatch reports whether binding's recorded device fingerprint no
// longer matches localFingerprint ("not mine"). The other way a mismatch
// surfaces — an AEAD failure of the specific device-identity kind — is
// detected by the ratchet/session layer itself via domain.ErrKeyMismatch.
func IsKeyMismatch(binding domain.ConversationBinding, localFingerprint domain.Fingerprint) bool {
	return binding.DeviceFingerprint != "" && binding.DeviceFingerprint != localFingerprint
}

// RecoverAndRetry implements key-mismatch recovery as an explicit, bounded
// state machine rather than a nested try/catch re-entering the encryption
// path. send performs the original operation (e.g. a conversation send);
// it is only ever called from this loop, never from inside an error
// handler of its own.
//
// On a non-mismatch error, RecoverAndRetry returns it unchanged. On a
// mismatch, it runs: clear cache -> ensure/force registration -> re-setup
// conversation -> retry, up to maxRecoveryRetries times with linear
// backoff, escalating to CompleteDeviceReset if every retry still
// mismatches.
func (s *Service) RecoverAndRetry(
	ctx context.Context,
	owner domain.Username,
	peer domain.Username,
	conv domain.ConversationID,
	localDevice domain.DeviceID,
	localFingerprint domain.Fingerprint,
	passphrase string,
	send func(ctx context.Context) error,
) error {
	err := send(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrKeyMismatch) {
		return err
	}

	for attempt := 1; attempt <= maxRecoveryRetries; attempt++ {
		s.logger.Info("key-mismatch recovery attempt",
			"conversation", conv.String(), "device", localDevice.String(), "attempt", attempt)

		// Step 1: clear cached conversation keys and session state.
		if err := s.bindings.SaveBindings(conv, nil); err != nil {
			return fmt.Errorf("clearing cached bindings for %s: %w", conv, err)
		}

		// Step 2: confirm registration, forcing a full re-key if the
		// directory still does not recognise this device.
		rec := domain.DeviceRecord{
			Owner:       owner,
			Device:      localDevice,
			Fingerprint: localFingerprint,
		}
		if ensureErr := s.EnsureDeviceRegistration(ctx, owner, rec); ensureErr != nil {
			if forceErr := s.ForceReregistration(ctx, owner, localDevice, passphrase); forceErr != nil {
				return fmt.Errorf("force re-registration after mismatch: %w", forceErr)
			}
		}

		// Step 3: retry conversation setup against the (possibly new)
		// device identity.
		if _, err := s.SetupConversationEncryption(ctx, conv, peer); err != nil {
			return fmt.Errorf("re-setting up conversation %s: %w", conv, err)
		}

		// Step 4: retry the original operation.
		retryErr := send(ctx)
		if retryErr == nil {
			s.logger.Info("key-mismatch recovery succeeded",
				"conversation", conv.String(), "attempt", attempt)
			return nil
		}
		if !errors.Is(retryErr, domain.ErrKeyMismatch) {
			return retryErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * recoveryBackoffUnit):
		}
	}

	s.logger.Warn("key-mismatch recovery exhausted retries; resetting device",
		"conversation", conv.String(), "device", localDevice.String())
	if err := s.CompleteDeviceReset(owner, localDevice); err != nil {
		return fmt.Errorf("complete device reset after exhausted recovery: %w", err)
	}
	return domain.ErrKeyMismatch
}
