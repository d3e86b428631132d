package aschain

import (
	"github.com/sebas/imscscf/internal/ifc"
)

// Outcome is what the S-CSCF sproutlet must do after an AS hop produces
// a response (or fails to produce one at all).
type Outcome int

const (
	// OutcomeForwardUpstream means deliver the response upstream as-is
	// and do not advance the chain further for this transaction.
	OutcomeForwardUpstream Outcome = iota
	// OutcomeContinueChain means skip this AS and resume the chain at
	// the next iFC.
	OutcomeContinueChain
	// OutcomeCancelTimer means a provisional or success response
	// arrived; cancel the liveness timer and keep waiting (1xx) or
	// forward upstream (2xx) without touching the chain.
	OutcomeCancelTimer
)

// ClassifyResponse implements spec.md §4.D's AS response handling
// table. statusCode 0 means "liveness timeout, no response at all,"
// treated as a synthetic 408.
func ClassifyResponse(statusCode int, defaultHandling ifc.DefaultHandling) Outcome {
	if statusCode == 0 {
		statusCode = 408
	}

	switch {
	case statusCode < 200:
		return OutcomeCancelTimer
	case statusCode < 300:
		return OutcomeCancelTimer
	case statusCode < 400:
		// 3xx: forwarded upstream unless the iFC allows redirect
		// consumption, a policy this implementation does not currently
		// enable for any iFC, so 3xx always forwards.
		return OutcomeForwardUpstream
	default:
		if defaultHandling == ifc.Continued {
			return OutcomeContinueChain
		}
		return OutcomeForwardUpstream
	}
}

// EffectiveStatusCode returns the status code that should actually be
// delivered upstream when Outcome is OutcomeForwardUpstream and the
// response was a synthetic liveness timeout.
func EffectiveStatusCode(statusCode int) int {
	if statusCode == 0 {
		return 408
	}
	return statusCode
}
