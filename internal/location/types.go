// Package location implements the Registration Store: per-AoR binding and
// subscription sets under optimistic concurrency, with NOTIFY fan-out on
// change.
package location

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Event classifies a binding-level change delivered in a NOTIFY body.
type Event string

const (
	EventCreated     Event = "CREATED"
	EventRefreshed   Event = "REFRESHED"
	EventExpired     Event = "EXPIRED"
	EventDeactivated Event = "DEACTIVATED"
	EventUnregistered Event = "UNREGISTERED"
)

// Binding is one registered contact of an AoR.
type Binding struct {
	ID string

	ContactURI string
	Path       []string // ordered path-route list, RFC 3327

	CallID string
	CSeq   uint32

	QValue int // priority, 0-1000

	// Params holds opaque Contact parameters the UA sent, excluding
	// server-managed names such as pub-gruu which are computed on read.
	Params map[string]string

	PrivateID string // private identity that authenticated this binding

	ExpiresAt time.Time // absolute expiry, monotonic
	Emergency bool

	// TimerHandle is an opaque reference to the scheduled expiry timer
	// (e.g. a Chronos timer id); the store does not interpret it.
	TimerHandle string
}

// IsExpired reports whether the binding's expiry has passed.
func (b *Binding) IsExpired(now time.Time) bool {
	return now.After(b.ExpiresAt)
}

// RemainingSeconds returns the whole seconds left before expiry, floored
// at zero.
func (b *Binding) RemainingSeconds(now time.Time) int {
	d := b.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// GenerateBindingID derives a binding identifier from the contact URI and
// +sip.instance parameter, if present. Emergency registrations are
// prefixed with the reserved "sos" literal so they sort and key distinctly
// from ordinary bindings sharing the same device.
func GenerateBindingID(contactURI, instanceID string, emergency bool) string {
	data := contactURI
	if instanceID != "" {
		data += ";" + instanceID
	}
	sum := sha256.Sum256([]byte(data))
	id := hex.EncodeToString(sum[:8])
	if emergency {
		return "sos" + id
	}
	return id
}

// DialogTuple identifies a Subscription: the (Call-ID, local tag, remote
// tag) triple that pins a reginfo-package dialog.
type DialogTuple struct {
	CallID   string
	FromTag  string
	ToTag    string
}

// Subscription is a reginfo-package watcher on an AoR.
type Subscription struct {
	Tuple DialogTuple

	FromURI    string
	ToURI      string
	RequestURI string
	RouteSet   []string

	CSeq      uint32
	ExpiresAt time.Time

	TimerHandle string
}

// IsExpired reports whether the subscription's expiry has passed.
func (s *Subscription) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Record is the atomic unit of storage for one AoR.
type Record struct {
	AoR           string
	Bindings      map[string]*Binding
	Subscriptions map[DialogTuple]*Subscription
	NotifyCSeq    uint32
}

// NewRecord returns an empty record for aor.
func NewRecord(aor string) *Record {
	return &Record{
		AoR:           aor,
		Bindings:      make(map[string]*Binding),
		Subscriptions: make(map[DialogTuple]*Subscription),
	}
}

// Clone deep-copies the record so a caller can mutate it before a CAS
// write without disturbing any other goroutine's in-flight read.
func (r *Record) Clone() *Record {
	c := &Record{
		AoR:           r.AoR,
		Bindings:      make(map[string]*Binding, len(r.Bindings)),
		Subscriptions: make(map[DialogTuple]*Subscription, len(r.Subscriptions)),
		NotifyCSeq:    r.NotifyCSeq,
	}
	for id, b := range r.Bindings {
		cp := *b
		cp.Path = append([]string(nil), b.Path...)
		cp.Params = make(map[string]string, len(b.Params))
		for k, v := range b.Params {
			cp.Params[k] = v
		}
		c.Bindings[id] = &cp
	}
	for t, s := range r.Subscriptions {
		cp := *s
		cp.RouteSet = append([]string(nil), s.RouteSet...)
		c.Subscriptions[t] = &cp
	}
	return c
}

// ReapExpired removes expired bindings, invoking onEvict for each (to
// cancel its timer). Returns true if at least one binding existed before
// the reap and none remain after it.
func (r *Record) ReapExpired(now time.Time, onEvict func(*Binding)) bool {
	hadAny := len(r.Bindings) > 0
	for id, b := range r.Bindings {
		if b.IsExpired(now) {
			delete(r.Bindings, id)
			if onEvict != nil {
				onEvict(b)
			}
		}
	}
	return hadAny && len(r.Bindings) == 0
}

// NonEmergencyBindingIDs returns the ids of every non-emergency binding,
// for wildcard de-registration (which must never remove emergency
// bindings).
func (r *Record) NonEmergencyBindingIDs() []string {
	var ids []string
	for id, b := range r.Bindings {
		if !b.Emergency {
			ids = append(ids, id)
		}
	}
	return ids
}
