package location

import (
	"testing"
	"time"
)

func TestGetNonExistentAoRReturnsEmptyRecordCasZero(t *testing.T) {
	s := New(Config{})
	rec, token := s.Get("sip:alice@example.com")
	if token != 0 {
		t.Fatalf("expected cas=0, got %d", token)
	}
	if len(rec.Bindings) != 0 {
		t.Fatalf("expected empty record, got %d bindings", len(rec.Bindings))
	}
}

func TestSetEstablishesThenConflictsOnStaleToken(t *testing.T) {
	s := New(Config{})
	aor := "sip:alice@example.com"

	rec, token := s.Get(aor)
	rec.Bindings["b1"] = &Binding{ID: "b1", ContactURI: "sip:alice@192.0.2.1", ExpiresAt: time.Now().Add(time.Hour)}
	outcome := s.Set(aor, rec, token, false)
	if outcome.Result != SetOK {
		t.Fatalf("expected ok, got %v", outcome.Result)
	}

	// A second writer using the same stale token must conflict (invariant 2).
	staleRec, _ := s.Get(aor)
	staleRec.Bindings["b2"] = &Binding{ID: "b2", ContactURI: "sip:alice@192.0.2.2", ExpiresAt: time.Now().Add(time.Hour)}
	conflictOutcome := s.Set(aor, staleRec, token, false)
	if conflictOutcome.Result != SetConflict {
		t.Fatalf("expected conflict on stale token, got %v", conflictOutcome.Result)
	}
}

func TestSetReapsExpiredAndSetsAllBindingsExpired(t *testing.T) {
	s := New(Config{})
	aor := "sip:alice@example.com"

	rec, token := s.Get(aor)
	rec.Bindings["b1"] = &Binding{ID: "b1", ContactURI: "sip:alice@192.0.2.1", ExpiresAt: time.Now().Add(-time.Second)}
	outcome := s.Set(aor, rec, token, false)
	if !outcome.AllBindingsExpired {
		t.Fatalf("expected all_bindings_expired=true, got outcome %+v", outcome)
	}

	rec2, _ := s.Get(aor)
	if len(rec2.Bindings) != 0 {
		t.Fatalf("expected reaped bindings, found %d", len(rec2.Bindings))
	}
}

func TestNotifyCSeqStrictlyIncreasing(t *testing.T) {
	s := New(Config{})
	aor := "sip:alice@example.com"

	var last uint32
	for i := 0; i < 5; i++ {
		rec, token := s.Get(aor)
		rec.Bindings["b1"] = &Binding{ID: "b1", ContactURI: "sip:alice@192.0.2.1", ExpiresAt: time.Now().Add(time.Hour)}
		outcome := s.Set(aor, rec, token, false)
		if outcome.Result != SetOK {
			t.Fatalf("unexpected result on iteration %d: %v", i, outcome.Result)
		}
		committed, _ := s.Get(aor)
		if committed.NotifyCSeq <= last {
			t.Fatalf("notify_cseq did not strictly increase: last=%d now=%d", last, committed.NotifyCSeq)
		}
		last = committed.NotifyCSeq
	}
}

func TestWildcardDeregisterNeverRemovesEmergencyBindings(t *testing.T) {
	s := New(Config{})
	aor := "sip:alice@example.com"

	rec, token := s.Get(aor)
	rec.Bindings["sos1"] = &Binding{ID: "sos1", ContactURI: "sip:alice@192.0.2.1", Emergency: true, ExpiresAt: time.Now().Add(time.Hour)}
	rec.Bindings["b1"] = &Binding{ID: "b1", ContactURI: "sip:alice@192.0.2.2", ExpiresAt: time.Now().Add(time.Hour)}
	s.Set(aor, rec, token, false)

	rec2, token2 := s.Get(aor)
	for _, id := range rec2.NonEmergencyBindingIDs() {
		delete(rec2.Bindings, id)
	}
	s.Set(aor, rec2, token2, false)

	rec3, _ := s.Get(aor)
	if _, ok := rec3.Bindings["sos1"]; !ok {
		t.Fatal("emergency binding was removed by wildcard de-register")
	}
	if _, ok := rec3.Bindings["b1"]; ok {
		t.Fatal("non-emergency binding survived wildcard de-register")
	}
}

type fakeBackup struct {
	rec *Record
}

func (f *fakeBackup) Get(aor string) (*Record, bool) {
	if f.rec == nil {
		return nil, false
	}
	return f.rec, true
}

func TestBackupWarmUpOnEmptyLocalRecord(t *testing.T) {
	backupRec := NewRecord("sip:bob@example.com")
	backupRec.Bindings["b1"] = &Binding{ID: "b1", ContactURI: "sip:bob@192.0.2.9", ExpiresAt: time.Now().Add(time.Hour)}

	s := New(Config{Backup: &fakeBackup{rec: backupRec}})
	rec, token := s.Get("sip:bob@example.com")
	if token != 0 {
		t.Fatalf("expected cas=0 despite warm-up, got %d", token)
	}
	if len(rec.Bindings) != 1 {
		t.Fatalf("expected warmed-up binding, got %d", len(rec.Bindings))
	}
}
