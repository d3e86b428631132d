package aschain

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sebas/imscscf/internal/store"
)

// resumeEntry is what an ODI token resolves to: the chain it belongs to
// and the cursor position to resume from.
type resumeEntry struct {
	chain    *Chain
	position int
}

// Engine is the in-process ODI token table: a map `odi_token → chain`
// named in spec.md §5, guarded against concurrent workers; each token is
// reaped once the grace period counted from its Mint has passed.
type Engine struct {
	tokens *store.TTLStore[string, resumeEntry]
	grace  time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
}

// NewEngine creates an Engine whose ODI tokens survive for grace after
// being minted — long enough for a late-arriving AS response to still
// resolve, per spec.md §5's "short grace period for late-arriving
// responses."
func NewEngine(grace time.Duration) *Engine {
	return &Engine{
		tokens: store.NewTTLStore[string, resumeEntry](grace, nil),
		grace:  grace,
		timers: make(map[string]*time.Timer),
	}
}

// Mint allocates a fresh ODI token binding chain to the cursor position
// immediately after the hop that just matched.
func (e *Engine) Mint(chain *Chain) string {
	token := ODIPrefix + uuid.NewString()
	e.tokens.Set(token, resumeEntry{chain: chain, position: chain.cursor}, e.grace)
	return token
}

// Resolve looks up an ODI token and resumes its chain at the stored
// cursor position. ok is false if the token is unknown or expired —
// the caller should treat this as a protocol error (clients never mint
// odi_ tokens themselves).
func (e *Engine) Resolve(token string) (*Chain, bool) {
	entry, ok := e.tokens.Get(token)
	if !ok {
		return nil, false
	}
	entry.chain.ResumeAt(entry.position)
	return entry.chain, true
}

// Forget removes a token once its hop has produced no further use for
// it (e.g. the chain it belongs to has terminated).
func (e *Engine) Forget(token string) {
	e.tokens.Delete(token)
	e.CancelLivenessTimer(token)
}

// Close stops the background reaper.
func (e *Engine) Close() {
	e.tokens.Close()
}

// StartLivenessTimer arms the per-hop liveness timer named in spec.md
// §4.D and §5: separate from the transaction's SIP Timer-B, its expiry
// is surfaced to the caller as onExpiry and must be converted to a 408
// against the iFC's default_handling.
func (e *Engine) StartLivenessTimer(token string, d time.Duration, onExpiry func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.timers[token]; ok {
		existing.Stop()
	}
	e.timers[token] = time.AfterFunc(d, onExpiry)
}

// CancelLivenessTimer stops the timer for token, if any — done on
// receipt of any 1xx/2xx/3xx/4xx/5xx/6xx per spec.md §4.D.
func (e *Engine) CancelLivenessTimer(token string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[token]; ok {
		t.Stop()
		delete(e.timers, token)
	}
}

// RouteHeaderToken extracts the ODI token from a Route/Request-URI
// user-part, if it carries the reserved prefix.
func RouteHeaderToken(userPart string) (string, bool) {
	if len(userPart) <= len(ODIPrefix) || userPart[:len(ODIPrefix)] != ODIPrefix {
		return "", false
	}
	return userPart, true
}

func (e *Engine) String() string {
	return fmt.Sprintf("aschain.Engine{tokens=%d}", e.tokens.Len())
}
