// Package sipmsg models the pool-allocated SIP message value used across
// the dispatcher and sproutlet boundary, and parses/prints the custom
// headers this S-CSCF cares about that sipgo has no typed support for.
package sipmsg

import (
	"github.com/emiago/sipgo/sip"
)

// Arena is the scratch area a sproutlet is handed when it asks the
// dispatcher helper for get_pool(msg). Headers appended to a message
// during one transaction callback are tracked here so a clone can be
// freed in one step; the memory itself is owned by Go's GC, not by the
// arena — this is a structural stand-in for the source's pool allocator,
// not a reimplementation of one.
type Arena struct {
	appended []sip.Header
}

// Track records a header as having been appended via this arena.
func (a *Arena) Track(h sip.Header) {
	a.appended = append(a.appended, h)
}

// Appended returns the headers appended through this arena, in order.
func (a *Arena) Appended() []sip.Header {
	return a.appended
}

// Message is the explicit value named in the design notes: a request or
// response paired with the arena backing any headers added to it during
// the current transaction callback. Exactly one of Req/Res is set.
type Message struct {
	Req   *sip.Request
	Res   *sip.Response
	arena *Arena
}

// NewRequestMessage wraps a request clone with a fresh arena.
func NewRequestMessage(req *sip.Request) *Message {
	return &Message{Req: req, arena: &Arena{}}
}

// NewResponseMessage wraps a response clone with a fresh arena.
func NewResponseMessage(res *sip.Response) *Message {
	return &Message{Res: res, arena: &Arena{}}
}

// Pool returns the message's arena, per the helper's get_pool(msg).
func (m *Message) Pool() *Arena {
	if m.arena == nil {
		m.arena = &Arena{}
	}
	return m.arena
}

// IsRequest reports whether this message wraps a request.
func (m *Message) IsRequest() bool {
	return m.Req != nil
}

// AppendHeader appends a header to the wrapped message and tracks it in
// the arena.
func (m *Message) AppendHeader(h sip.Header) {
	if m.Req != nil {
		m.Req.AppendHeader(h)
	} else if m.Res != nil {
		m.Res.AppendHeader(h)
	}
	m.Pool().Track(h)
}

// Free releases the message's arena. Go's GC reclaims the underlying
// memory; this exists so callers that mirror the source's explicit
// free_msg(msg) have something to call at the same point in the control
// flow.
func (m *Message) Free() {
	m.arena = nil
}

// Clone deep-copies the wrapped request or response into a new Message
// with its own arena, mirroring the helper's clone_request(msg).
func (m *Message) Clone() *Message {
	if m.Req != nil {
		return NewRequestMessage(m.Req.Clone())
	}
	if m.Res != nil {
		return NewResponseMessage(m.Res.Clone())
	}
	return &Message{arena: &Arena{}}
}
