package scscf

import (
	"errors"

	"github.com/emiago/sipgo/sip"

	"github.com/sebas/imscscf/internal/hss"
	"github.com/sebas/imscscf/internal/sproutlet"
)

// respondForHSSError maps an HSS Client error onto the SIP response
// taxonomy of spec.md §7: subscriber-not-found maps to 403, any other
// upstream failure maps to 504 (never 503, which is reserved for
// overload).
func (s *Scscf) respondForHSSError(d *sproutlet.Dispatcher, req *sip.Request, err error) {
	if errors.Is(err, hss.ErrNotFound) {
		d.SendResponse(d.CreateResponse(req, 403, "Forbidden"))
		return
	}
	s.logger.Warn("hss upstream error", "error", err)
	d.SendResponse(d.CreateResponse(req, 504, "Server Time-out"))
}
