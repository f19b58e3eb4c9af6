// Package ingest connects the NFC bridge to the decoders and the database.
// Each FRAM frame arriving from the bridge is decoded, either locally or via
// the remote decode service, and the resulting samples are persisted.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/opencgm/glucose.report/internal/db"
	"github.com/opencgm/glucose.report/internal/framlink"
	"github.com/opencgm/glucose.report/internal/libre"
	"github.com/opencgm/glucose.report/internal/libre/remote"
	"github.com/opencgm/glucose.report/internal/monitoring"
	"github.com/opencgm/glucose.report/internal/timeutil"
)

// Pipeline decodes FRAM frames and stores the results.
type Pipeline struct {
	DB      *db.DB
	Decoder *libre.Decoder

	// Remote, when non-nil, is tried before the local decoder. Remote
	// failures fall back to decoding locally.
	Remote *remote.Client

	// RemoteTimeout bounds how long one remote decode may take.
	RemoteTimeout time.Duration

	// Serial is the sensor serial recorded with status rows.
	Serial string

	Clock timeutil.Clock
}

// NewPipeline creates a Pipeline with the real clock. remoteClient may be nil
// to decode locally only.
func NewPipeline(database *db.DB, decoder *libre.Decoder, remoteClient *remote.Client, remoteTimeout time.Duration, serial string) *Pipeline {
	return &Pipeline{
		DB:            database,
		Decoder:       decoder,
		Remote:        remoteClient,
		RemoteTimeout: remoteTimeout,
		Serial:        serial,
		Clock:         timeutil.RealClock{},
	}
}

// Run consumes bridge lines until the context is cancelled or the channel
// closes. Lines that fail to decode are logged and skipped so one corrupt
// scan does not stop ingestion.
func (p *Pipeline) Run(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := p.HandleLine(ctx, line); err != nil {
				monitoring.Logf("failed to ingest frame: %v", err)
			}
		}
	}
}

// HandleLine processes one bridge line. Non-frame lines (command echoes,
// scan chatter) are ignored without error.
func (p *Pipeline) HandleLine(ctx context.Context, line string) error {
	if !framlink.IsFrame(line) {
		return nil
	}

	block, err := framlink.DecodeFrame(line)
	if err != nil {
		return fmt.Errorf("bad frame: %w", err)
	}

	watermark, err := p.DB.LatestReadingTime()
	if err != nil {
		return fmt.Errorf("failed to load watermark: %w", err)
	}

	now := p.Clock.Now()

	samples, state, ageMinutes, err := p.decode(ctx, block, watermark, now)
	if err != nil {
		return err
	}

	inserted, err := p.DB.InsertSamples(samples)
	if err != nil {
		return fmt.Errorf("failed to store samples: %w", err)
	}

	if err := p.DB.RecordSensorStatus(now, state, ageMinutes, p.Serial); err != nil {
		return fmt.Errorf("failed to record sensor status: %w", err)
	}

	monitoring.Logf("ingested frame: %d new of %d decoded samples, sensor %s age %dm",
		inserted, len(samples), state, ageMinutes)

	return nil
}

// decode runs the remote path when configured, falling back to the local
// decoder when the remote service is unavailable or rejects the block.
func (p *Pipeline) decode(ctx context.Context, block []byte, watermark, now time.Time) ([]libre.Sample, libre.SensorState, int, error) {
	if p.Remote != nil {
		timeout := p.RemoteTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		remoteCtx, cancel := context.WithTimeout(ctx, timeout)
		result := <-p.Remote.Decode(remoteCtx, block)
		cancel()

		if result.Err == nil {
			return p.filterNew(result.Samples, watermark), result.State, result.AgeMinutes, nil
		}
		monitoring.Logf("remote decode unavailable, decoding locally: %v", result.Err)
	}

	result, err := p.Decoder.Decode(block, watermark, now)
	if err != nil {
		return nil, libre.StateUnknown, 0, fmt.Errorf("failed to decode block: %w", err)
	}
	return result.Samples, result.State, result.AgeMinutes, nil
}

// filterNew drops remote samples at or before the watermark. The local
// decoder applies its own watermark; remote results need the same treatment
// before they hit the database.
func (p *Pipeline) filterNew(samples []libre.Sample, watermark time.Time) []libre.Sample {
	if watermark.IsZero() {
		return samples
	}
	fresh := samples[:0]
	for _, s := range samples {
		if s.TakenAt.After(watermark) {
			fresh = append(fresh, s)
		}
	}
	return fresh
}
