package sproutlet

import "github.com/emiago/sipgo/sip"

// responseClass ranks a final status code by RFC 3261 §16.7 rule 6
// preference: a 2xx always wins outright; short of that, a 6xx beats
// any 4xx/5xx (a 6xx is a definitive global failure); a 3xx beats a
// 4xx/5xx when no 2xx/6xx is present; 4xx/5xx is the residual class.
func responseClass(code sip.StatusCode) int {
	switch {
	case code >= 200 && code < 300:
		return 0
	case code >= 600:
		return 1
	case code >= 300 && code < 400:
		return 2
	default:
		return 3
	}
}

// authChallengePenalty deprioritizes 401/407 among 4xx/5xx candidates:
// a forking proxy cannot supply credentials on the UAC's behalf, so a
// challenge is the least useful failure to report upstream when a
// better alternative exists.
func authChallengePenalty(code sip.StatusCode) int {
	if code == 401 || code == 407 {
		return 1
	}
	return 0
}

// compareFinalResponses reports whether candidate should replace
// current as the best aggregated final response, per spec.md §4.E /
// §8's "standard SIP best-response rules": lowest-priority non-6xx
// loses to a 6xx; otherwise lowest 2xx wins; then lowest 3xx; else
// best 4xx-5xx by priority class.
func compareFinalResponses(current, candidate *sip.Response) bool {
	if current == nil {
		return true
	}
	cc, nc := responseClass(current.StatusCode), responseClass(candidate.StatusCode)
	if nc != cc {
		return nc < cc
	}
	if cc == 3 {
		cp, np := authChallengePenalty(current.StatusCode), authChallengePenalty(candidate.StatusCode)
		if np != cp {
			return np < cp
		}
	}
	return candidate.StatusCode < current.StatusCode
}

// BestFinalResponse aggregates a set of fork-final responses into the
// single response the dispatcher forwards upstream (spec.md §4.E / §8
// invariant 4: exactly one aggregated final response per forked
// transaction).
func BestFinalResponse(responses []*sip.Response) *sip.Response {
	var best *sip.Response
	for _, r := range responses {
		if compareFinalResponses(best, r) {
			best = r
		}
	}
	return best
}
