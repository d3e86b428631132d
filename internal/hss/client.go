package hss

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is the HSS Client named in spec.md §4.B: stateless HTTP/XML
// request-response, retries delegated to the HTTP layer (net/http's
// transport-level retry-on-idempotent behavior), trail id and latency
// passed through on every call.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates an HSS client against baseURL (e.g. "http://localhost:8888").
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With("subsystem", "hss"),
	}
}

// UpdateRegistrationState asserts a registration event against the HSS and
// returns the subscriber's current profile. op selects REG (assert
// registration, return profile), DEREG_USER, or DEREG_ADMIN.
func (c *Client) UpdateRegistrationState(ctx context.Context, public, private string, op Op, expires int, trailID string) (*Result, error) {
	q := url.Values{}
	q.Set("private-identity", private)
	q.Set("type", string(op))
	q.Set("expires", strconv.Itoa(expires))

	return c.request(ctx, http.MethodPut, public, q, public, trailID)
}

// Read fetches the subscriber profile for non-REGISTER transactions,
// without asserting a registration state change.
func (c *Client) Read(ctx context.Context, public, trailID string) (*Result, error) {
	return c.request(ctx, http.MethodGet, public, nil, public, trailID)
}

func (c *Client) request(ctx context.Context, method, public string, q url.Values, target, trailID string) (*Result, error) {
	start := time.Now()

	u := c.baseURL + "/impu/" + url.PathEscape(public) + "/reg-data"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, &RequestError{Public: public, TrailID: trailID, Cause: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("hss request failed", "public", public, "trail", trailID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	latency := time.Since(start)

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &RequestError{Public: public, HTTPStatus: resp.StatusCode, TrailID: trailID, Cause: err}
		}
		result, err := parseRegData(body)
		if err != nil {
			return nil, &RequestError{Public: public, HTTPStatus: resp.StatusCode, TrailID: trailID, Cause: err}
		}
		c.logger.Debug("hss request completed",
			"public", public, "trail", trailID, "latency_ms", latency.Milliseconds(),
			"reg_state", result.RegState, "ifcs", len(result.IFCs),
		)
		return result, nil

	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, public)

	default:
		return nil, &RequestError{
			Public: public, HTTPStatus: resp.StatusCode, TrailID: trailID,
			Cause: fmt.Errorf("%w: unexpected status %d", ErrUpstream, resp.StatusCode),
		}
	}
}

func parseRegData(body []byte) (*Result, error) {
	var doc clearwaterRegData
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode ClearwaterRegData: %w", err)
	}

	result := &Result{RegState: RegState(doc.RegistrationState)}
	result.Registered = result.RegState == RegStateRegistered

	for _, sp := range doc.ServiceProfiles {
		for _, pi := range sp.PublicIdentities {
			result.URIs = append(result.URIs, pi.Identity)
		}
		for _, ifc := range sp.IFCs {
			result.IFCs = append(result.IFCs, convertIFC(ifc))
		}
	}

	if doc.ChargingAddresses != nil {
		for _, c := range doc.ChargingAddresses.CCFs {
			result.CCFs = append(result.CCFs, c.Value)
		}
		for _, e := range doc.ChargingAddresses.ECFs {
			result.ECFs = append(result.ECFs, e.Value)
		}
	}

	return result, nil
}

func convertIFC(x ifcXML) IFCRaw {
	raw := IFCRaw{
		Priority:        x.Priority,
		ConditionCNF:    x.TriggerPoint.ConditionCNF,
		AppServerURI:    x.ApplicationServer.ServerName,
		DefaultHandling: x.ApplicationServer.DefaultHandling,
		IncludeRegister: x.ApplicationServer.IncludeRegisterReq,
	}
	for _, spt := range x.TriggerPoint.SPTs {
		s := SPTRaw{
			Negated:          spt.ConditionNegated,
			Group:            spt.Group,
			Method:           spt.Method,
			SessionCase:      spt.SessionCase,
			RegistrationType: spt.RegistrationType,
			RequestURIRegex:  spt.RequestURI,
		}
		if spt.SIPHeader != nil {
			s.SIPHeaderName = spt.SIPHeader.Header
			s.SIPHeaderRegex = spt.SIPHeader.Content
		}
		if spt.SessionDesc != nil {
			s.SDPLine = spt.SessionDesc.Line
			s.SDPRegex = spt.SessionDesc.Content
		}
		raw.SPTs = append(raw.SPTs, s)
	}
	return raw
}
