package location

import (
	"log/slog"
	"time"

	"github.com/sebas/imscscf/internal/store"
)

// SetResult is the outcome of a Store.Set call.
type SetResult int

const (
	SetOK SetResult = iota
	SetConflict
	SetStoreError
)

// SetOutcome is the result of a store write, per spec.md §4.A.
type SetOutcome struct {
	Result             SetResult
	AllBindingsExpired bool
}

// BackupReader is a read-only geo-redundant peer the local store warms up
// from when it finds no record for an AoR.
type BackupReader interface {
	Get(aor string) (*Record, bool)
}

// Store is the Registration Store: per-AoR binding and subscription state
// under the compare-and-swap protocol of spec.md §4.A, backed by
// internal/store's generic CAS layer.
type Store struct {
	kv       *store.CASStore[string, *Record]
	backup   BackupReader
	notifier NotifySender
	timers   TimerScheduler
	logger   *slog.Logger
}

// Config configures a Store.
type Config struct {
	Backup   BackupReader   // optional geo-redundant read-fallback
	Notifier NotifySender   // optional; noop if nil
	Timers   TimerScheduler // optional; no scheduling if nil
	Logger   *slog.Logger
}

// New creates a Registration Store.
func New(cfg Config) *Store {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = noopNotifySender{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		kv:       store.NewCASStore[string, *Record](),
		backup:   cfg.Backup,
		notifier: notifier,
		timers:   cfg.Timers,
		logger:   logger.With("subsystem", "location"),
	}
}

// Get returns a mutable copy of the AoR's record and the CAS token it was
// read at. A non-existent AoR returns an empty record with token 0; if a
// backup store is configured and holds a record, its bindings and
// subscriptions are copied in (geo-redundant warm-up) without affecting
// the local CAS token.
func (s *Store) Get(aor string) (*Record, uint64) {
	rec, token := s.kv.Get(aor)
	if rec == nil {
		rec = NewRecord(aor)
		if s.backup != nil {
			if backupRec, ok := s.backup.Get(aor); ok {
				rec = backupRec.Clone()
				rec.AoR = aor
			}
		}
		return rec, token
	}
	return rec.Clone(), token
}

// Set commits rec for aor if casToken still matches the store's current
// token for that AoR. Before the compare-and-swap it reaps expired
// bindings from rec (cancelling their timers) and increments notify_cseq.
// On success, if sendNotify is true, it emits NOTIFYs to every
// subscription whose expiry has not yet passed, carrying an EXPIRED delta
// for each binding reaped here; other binding changes are reported through
// NotifyDeltas. Emergency bindings are never reported in NOTIFYs triggered
// by their own expiry.
func (s *Store) Set(aor string, rec *Record, casToken uint64, sendNotify bool) SetOutcome {
	now := time.Now()

	var expired []*Binding
	allExpired := rec.ReapExpired(now, func(b *Binding) {
		if !b.Emergency {
			expired = append(expired, b)
		}
		if s.timers != nil && b.TimerHandle != "" {
			s.timers.Cancel(b.TimerHandle)
		}
	})

	rec.NotifyCSeq++

	result, _ := s.kv.CompareAndSwap(aor, rec, casToken)
	if result == store.CASConflict {
		return SetOutcome{Result: SetConflict}
	}

	if sendNotify {
		s.fanOutExpiry(rec, expired)
	}

	s.logger.Debug("record committed",
		"aor", aor,
		"bindings", len(rec.Bindings),
		"notify_cseq", rec.NotifyCSeq,
		"all_expired", allExpired,
	)

	return SetOutcome{Result: SetOK, AllBindingsExpired: allExpired}
}

// fanOutExpiry notifies every live subscription of bindings reaped by this
// write.
func (s *Store) fanOutExpiry(rec *Record, expired []*Binding) {
	if len(expired) == 0 {
		return
	}
	deltas := make([]BindingDelta, len(expired))
	for i, b := range expired {
		deltas[i] = BindingDelta{BindingID: b.ID, ContactURI: b.ContactURI, Event: EventExpired}
	}
	s.notifySubscribers(rec, deltas)
}

// NotifyDeltas sends deltas (e.g. CREATED/REFRESHED/UNREGISTERED events
// computed by the registrar's write loop) to every live subscription on
// rec. Callers pass sendNotify=false writes straight through without
// calling this.
func (s *Store) NotifyDeltas(rec *Record, deltas []BindingDelta) {
	s.notifySubscribers(rec, deltas)
}

func (s *Store) notifySubscribers(rec *Record, deltas []BindingDelta) {
	if len(deltas) == 0 {
		return
	}
	now := time.Now()
	for _, sub := range rec.Subscriptions {
		if sub.IsExpired(now) {
			continue
		}
		if err := s.notifier.SendNotify(sub, rec.AoR, rec.NotifyCSeq, deltas); err != nil {
			s.logger.Warn("notify delivery failed",
				"aor", rec.AoR,
				"call_id", sub.Tuple.CallID,
				"error", err,
			)
		}
	}
}

// ListSubscriptions returns the live (non-expired) subscriptions for aor.
func (s *Store) ListSubscriptions(aor string) []*Subscription {
	rec, _ := s.kv.Get(aor)
	if rec == nil {
		return nil
	}
	now := time.Now()
	var out []*Subscription
	for _, sub := range rec.Subscriptions {
		if !sub.IsExpired(now) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out
}
