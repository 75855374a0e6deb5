package state

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/five82/beacon/internal/push"
	"github.com/five82/beacon/internal/torrentino"
)

func TestStore_RecordSuccess(t *testing.T) {
	var s Store

	before := time.Now()
	s.Record(nil)

	snap := s.Snapshot()
	if !snap.HasData {
		t.Fatal("HasData = false, want true after a successful call")
	}
	if snap.LastUpdated.Before(before) {
		t.Fatalf("LastUpdated = %v, want >= %v", snap.LastUpdated, before)
	}
	if snap.LastError != nil {
		t.Fatalf("LastError = %v, want nil", snap.LastError)
	}
}

func TestStore_SnapshotClonesError(t *testing.T) {
	var s Store

	origErr := errors.New("boom")
	s.Record(origErr)

	snap := s.Snapshot()
	if snap.LastError == nil || snap.LastError.Error() != "boom" {
		t.Fatalf("LastError = %v, want boom", snap.LastError)
	}
	if reflect.ValueOf(snap.LastError).Pointer() == reflect.ValueOf(origErr).Pointer() {
		t.Fatalf("Snapshot should clone error instance")
	}
	if !errors.Is(snap.LastError, origErr) {
		t.Fatalf("cloned error should wrap the original")
	}
}

func TestStore_ConsecutiveFailures(t *testing.T) {
	var s Store

	snap := s.Snapshot()
	if snap.ConsecutiveFailures != 0 {
		t.Fatalf("ConsecutiveFailures = %d, want 0", snap.ConsecutiveFailures)
	}
	if snap.IsOffline() {
		t.Fatal("IsOffline() = true, want false with 0 failures")
	}

	s.Record(errors.New("fail 1"))
	snap = s.Snapshot()
	if snap.ConsecutiveFailures != 1 {
		t.Fatalf("ConsecutiveFailures = %d, want 1", snap.ConsecutiveFailures)
	}
	if snap.IsOffline() {
		t.Fatal("IsOffline() = true, want false with 1 failure")
	}

	s.Record(errors.New("fail 2"))
	snap = s.Snapshot()
	if !snap.IsOffline() {
		t.Fatal("IsOffline() = false, want true with 2 failures")
	}
	if snap.Mode() != ModeOffline {
		t.Fatalf("Mode() = %v, want offline", snap.Mode())
	}

	s.Record(nil)
	snap = s.Snapshot()
	if snap.ConsecutiveFailures != 0 {
		t.Fatalf("ConsecutiveFailures = %d, want 0 after success", snap.ConsecutiveFailures)
	}
	if snap.IsOffline() {
		t.Fatal("IsOffline() = true, want false after success")
	}
}

func TestStore_APIErrorsProveReachability(t *testing.T) {
	var s Store

	s.Record(errors.New("dial tcp: connection refused"))
	s.Record(errors.New("dial tcp: connection refused"))
	s.Record(fmt.Errorf("pause torrent: %w", &torrentino.APIError{Status: 503, Message: "Torrent client not configured"}))

	snap := s.Snapshot()
	if snap.IsOffline() {
		t.Fatal("IsOffline() = true, want false after an HTTP response")
	}
}

func TestStore_AuthInvalidIsDistinctFromOffline(t *testing.T) {
	var s Store

	s.Record(fmt.Errorf("list tickets: %w", &torrentino.APIError{Status: 401, Message: "bad key"}))
	snap := s.Snapshot()
	if !snap.AuthInvalid {
		t.Fatal("AuthInvalid = false, want true after a 401")
	}
	if snap.IsOffline() {
		t.Fatal("IsOffline() = true, want false after a 401")
	}
	if snap.Mode() != ModeAuthInvalid {
		t.Fatalf("Mode() = %v, want auth invalid", snap.Mode())
	}

	// Network trouble does not hide the credential problem.
	s.Record(errors.New("timeout"))
	s.Record(errors.New("timeout"))
	if got := s.Snapshot().Mode(); got != ModeAuthInvalid {
		t.Fatalf("Mode() = %v, want auth invalid while offline", got)
	}

	s.ClearAuth()
	if got := s.Snapshot().Mode(); got != ModeOffline {
		t.Fatalf("Mode() = %v, want offline after ClearAuth", got)
	}
}

func TestStore_IgnoresCancellation(t *testing.T) {
	var s Store

	s.Record(fmt.Errorf("poll: %w", context.Canceled))
	snap := s.Snapshot()
	if snap.ConsecutiveFailures != 0 || snap.LastError != nil {
		t.Fatalf("cancellation recorded as failure: %#v", snap)
	}
}

func TestSnapshot_Mode(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
		want Mode
	}{
		{"nothing yet", Snapshot{}, ModeStarting},
		{"live", Snapshot{HasData: true, Push: push.Status{State: push.Connected, Opens: 1}}, ModeLive},
		{"retrying", Snapshot{HasData: true, Push: push.Status{State: push.ReconnectScheduled, Attempts: 2, Opens: 1}}, ModeReconnecting},
		{"connecting with data", Snapshot{HasData: true, Push: push.Status{State: push.Connecting}}, ModeReconnecting},
		{"push exhausted", Snapshot{HasData: true, Push: push.Status{State: push.Disconnected, Exhausted: true}}, ModePolling},
		{"offline beats exhausted", Snapshot{ConsecutiveFailures: 3, Push: push.Status{Exhausted: true}}, ModeOffline},
		{"auth beats all", Snapshot{AuthInvalid: true, ConsecutiveFailures: 3}, ModeAuthInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.snap.Mode(); got != tt.want {
				t.Errorf("Mode() = %v, want %v", got, tt.want)
			}
		})
	}
}
