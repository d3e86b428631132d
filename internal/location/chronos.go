package location

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ChronosClient implements TimerScheduler against the Chronos timer-service
// HTTP interface named in spec.md §6: POST /timers to schedule a callback,
// DELETE /timers/<id> to cancel one, grounded on RemoteStore's JSON-over-HTTP
// shape in this same package.
type ChronosClient struct {
	baseURL    string
	callbackURL string
	client     *http.Client
}

// NewChronosClient creates a Chronos client. callbackURL is the S-CSCF's own
// /timers endpoint (internal/api), posted back to Chronos as the callback
// target on every Schedule call.
func NewChronosClient(baseURL, callbackURL string, timeout time.Duration) *ChronosClient {
	return &ChronosClient{
		baseURL:     baseURL,
		callbackURL: callbackURL,
		client:      &http.Client{Timeout: timeout},
	}
}

type chronosCreateRequest struct {
	TimingMS int64             `json:"timing_ms"`
	Callback chronosCallback   `json:"callback"`
}

type chronosCallback struct {
	URI  string            `json:"uri"`
	Opaque map[string]string `json:"opaque"`
}

type chronosCreateResponse struct {
	TimerID string `json:"timer_id"`
}

// Schedule asks Chronos to fire a callback at expiresAt, carrying aor/key as
// opaque data so the /timers handler can identify which binding expired.
func (c *ChronosClient) Schedule(aor, key string, expiresAt int64) (string, error) {
	timingMS := (expiresAt - time.Now().Unix()) * 1000
	if timingMS < 0 {
		timingMS = 0
	}

	body, err := json.Marshal(chronosCreateRequest{
		TimingMS: timingMS,
		Callback: chronosCallback{
			URI:    c.callbackURL,
			Opaque: map[string]string{"aor": aor, "key": key},
		},
	})
	if err != nil {
		return "", fmt.Errorf("encode chronos request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/timers", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chronos request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chronos unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("chronos rejected schedule: %d", resp.StatusCode)
	}

	var cr chronosCreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decode chronos response: %w", err)
	}
	return cr.TimerID, nil
}

// Cancel deletes a previously scheduled timer. Best-effort: failures are not
// surfaced since a missed cancel only means a harmless late /timers sweep
// that finds the binding already gone.
func (c *ChronosClient) Cancel(handle string) {
	if handle == "" {
		return
	}
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/timers/"+handle, nil)
	if err != nil {
		return
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}
