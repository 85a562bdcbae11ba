package multidevice_test

import (
	"context"
	"errors"
	"testing"

	"ciphera/internal/domain"
)

func TestRecoverAndRetry_NonMismatchErrorPassesThrough(t *testing.T) {
	svc, _ := newTestService(t, &fakeRelay{})
	wantErr := errors.New("network down")

	err := svc.RecoverAndRetry(
		context.Background(), "alice", "bob", "alice:bob", domain.DeviceID("d1"), "fp1", "pw",
		func(context.Context) error { return wantErr },
	)
	if !errors.Is(err, wantErr) {
		t.Fatalf("want %v, got %v", wantErr, err)
	}
}

func TestRecoverAndRetry_SucceedsOnFirstRetry(t *testing.T) {
	relay := &fakeRelay{}
	svc, _ := newTestService(t, relay)
	owner, peer := domain.Username("alice"), domain.Username("bob")
	conv := domain.ConversationID("alice:bob")

	calls := 0
	send := func(context.Context) error {
		calls++
		if calls == 1 {
			return domain.ErrKeyMismatch
		}
		return nil
	}

	err := svc.RecoverAndRetry(context.Background(), owner, peer, conv, domain.DeviceID("d1"), "fp1", "pw", send)
	if err != nil {
		t.Fatalf("RecoverAndRetry: %v", err)
	}
	if calls != 2 {
		t.Fatalf("send called %d times, want 2 (initial + one retry)", calls)
	}

	devices, err := svc.ListDevices(owner)
	if err != nil || len(devices) != 1 {
		t.Fatalf("expected device re-registered during recovery: %+v, err=%v", devices, err)
	}
}

