// Package remote implements the network decode path. A remote service
// receives the raw FRAM image and returns calibrated samples, which some
// sensor generations require because their memory layout is encrypted.
//
// The client is asynchronous: Decode returns immediately and delivers
// exactly one Result on the returned channel. The local decoder stays
// synchronous and is used as the fallback when the remote path is not
// configured or fails.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/opencgm/glucose.report/internal/httputil"
	"github.com/opencgm/glucose.report/internal/libre"
	"github.com/opencgm/glucose.report/internal/monitoring"
)

// DecodeError carries the human-readable failure description reported by
// the remote service.
type DecodeError struct {
	Description string
}

func (e *DecodeError) Error() string {
	return "remote decode failed: " + e.Description
}

// Result is the single outcome delivered for one Decode call. Err is nil
// on success.
type Result struct {
	Samples    []libre.Sample
	State      libre.SensorState
	AgeMinutes int
	Err        error
}

// Client calls the remote decode service.
type Client struct {
	Endpoint     string
	Token        string
	SensorSerial string
	PatchInfo    string

	// HTTP is injectable for testing; defaults to the standard client.
	HTTP httputil.HTTPClient
}

// New creates a remote decode client.
func New(endpoint, token, serial, patchInfo string, client httputil.HTTPClient) *Client {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &Client{
		Endpoint:     endpoint,
		Token:        token,
		SensorSerial: serial,
		PatchInfo:    patchInfo,
		HTTP:         client,
	}
}

// decodeRequest is the wire format sent to the remote service.
type decodeRequest struct {
	RequestID    string `json:"request_id"`
	Block        string `json:"block"` // base64-encoded FRAM image
	SensorSerial string `json:"sensor_serial,omitempty"`
	PatchInfo    string `json:"patch_info,omitempty"`
}

// decodeResponse is the wire format returned by the remote service. A
// populated Error field indicates the service could not decode the block.
type decodeResponse struct {
	Samples []struct {
		TakenAt time.Time `json:"taken_at"`
		RawCode uint16    `json:"raw_code"`
		MGDL    float64   `json:"mgdl"`
		Source  string    `json:"source"`
	} `json:"samples"`
	State      string `json:"state"`
	AgeMinutes int    `json:"age_minutes"`
	Error      string `json:"error,omitempty"`
}

// Decode submits the FRAM image to the remote service and delivers exactly
// one Result on the returned channel. The channel is buffered, so the
// result is delivered even if the caller reads it late.
func (c *Client) Decode(ctx context.Context, block []byte) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		out <- c.decode(ctx, block)
	}()
	return out
}

func (c *Client) decode(ctx context.Context, block []byte) Result {
	requestID := uuid.NewString()

	payload, err := json.Marshal(decodeRequest{
		RequestID:    requestID,
		Block:        base64.StdEncoding.EncodeToString(block),
		SensorSerial: c.SensorSerial,
		PatchInfo:    c.PatchInfo,
	})
	if err != nil {
		return Result{Err: fmt.Errorf("failed to encode decode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{Err: fmt.Errorf("failed to build decode request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Result{Err: &DecodeError{Description: err.Error()}}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Err: &DecodeError{Description: "failed to read response: " + err.Error()}}
	}

	if resp.StatusCode != http.StatusOK {
		return Result{Err: &DecodeError{
			Description: fmt.Sprintf("service returned %d: %s", resp.StatusCode, body),
		}}
	}

	var decoded decodeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Result{Err: &DecodeError{Description: "malformed response: " + err.Error()}}
	}
	if decoded.Error != "" {
		return Result{Err: &DecodeError{Description: decoded.Error}}
	}

	samples := make([]libre.Sample, 0, len(decoded.Samples))
	for _, s := range decoded.Samples {
		source := s.Source
		if source == "" {
			source = "remote"
		}
		samples = append(samples, libre.Sample{
			TakenAt: s.TakenAt,
			RawCode: s.RawCode,
			MGDL:    s.MGDL,
			Source:  source,
		})
	}

	monitoring.Logf("remote decode %s: %d samples, state %s", requestID, len(samples), decoded.State)

	return Result{
		Samples:    samples,
		State:      libre.StateFromName(decoded.State),
		AgeMinutes: decoded.AgeMinutes,
	}
}
