// Package aschain implements the AS Chain Engine: the cursor over a
// served user's ordered iFC list, and the ODI-token table that lets a
// request looping back from an application server resume the chain at
// the hop it left off.
package aschain

import (
	"github.com/sebas/imscscf/internal/ifc"
)

// ODIPrefix is the reserved Request-URI/Route user-part prefix that
// marks a token as a chain-resumption token. Never minted by clients.
const ODIPrefix = "odi_"

// Chain is an immutable ordered sequence of iFCs for one served user and
// session case, plus a mutable cursor recording how far the engine has
// walked.
type Chain struct {
	ID          string
	ServedUser  string
	SessionCase ifc.SessionCase
	TrailID     string
	ifcs        []*ifc.IFC
	cursor      int
}

// New allocates a chain positioned at the start of ifcs. ifcs must
// already be priority-sorted (ifc.CompileAll does this).
func New(id, servedUser string, sessionCase ifc.SessionCase, ifcs []*ifc.IFC, trailID string) *Chain {
	return &Chain{
		ID:          id,
		ServedUser:  servedUser,
		SessionCase: sessionCase,
		TrailID:     trailID,
		ifcs:        ifcs,
		cursor:      0,
	}
}

// Cursor returns the current position, for tests and diagnostics.
func (c *Chain) Cursor() int {
	return c.cursor
}

// Hop is one matched iFC, with the cursor position it was matched at
// so responses can be attributed back to the right default_handling.
type Hop struct {
	Position int
	IFC      *ifc.IFC
}

// NextTrigger advances the cursor past every iFC that evaluates to
// false on in, and returns the first one that matches. ok is false
// when the chain is exhausted — the caller must then route onward
// per the session-case termination rules instead of to an AS.
func (c *Chain) NextTrigger(in ifc.MatchInput) (Hop, bool) {
	for c.cursor < len(c.ifcs) {
		candidate := c.ifcs[c.cursor]
		position := c.cursor
		c.cursor++
		if ifc.Matches(candidate.Trigger, in) {
			return Hop{Position: position, IFC: candidate}, true
		}
	}
	return Hop{}, false
}

// ResumeAt rewinds the cursor to resume from a stored hop position,
// used when an ODI token is resolved back to its chain.
func (c *Chain) ResumeAt(position int) {
	c.cursor = position
}

// Retarget re-derives the served user (and, when the retarget crosses
// from originating to a locally-served callee, the session case) after
// an AS has rewritten the Request-URI or served-user identity.
func (c *Chain) Retarget(servedUser string, sessionCase ifc.SessionCase) {
	c.ServedUser = servedUser
	c.SessionCase = sessionCase
}

// Done reports whether the cursor has passed the last iFC.
func (c *Chain) Done() bool {
	return c.cursor >= len(c.ifcs)
}
