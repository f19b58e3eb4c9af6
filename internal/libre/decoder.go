package libre

import (
	"fmt"
	"time"
)

/*
FreeStyle Libre FRAM Decoder

The sensor exposes a 344-byte FRAM image over NFC. The image has no
self-describing structure; every field lives at a fixed byte offset.

FRAM LAYOUT (344 bytes total):
├── Header
│   ├── Sensor status (1 byte) ............ offset 4
│   ├── Trend write index (1 byte) ........ offset 26
│   └── History write index (1 byte) ...... offset 27
├── Trend ring (96 bytes) ................. 16 slots × 6 bytes, offset 28
├── History ring (192 bytes) .............. 32 slots × 6 bytes, offset 124
└── Sensor age in minutes (2 bytes LE) .... offsets 316-317

Each 6-byte slot carries one glucose measurement; only the first two bytes
are decoded here (13-bit raw glucose code, low byte first). The remaining
four bytes hold temperature and quality flags that the linear calibration
path does not use.

Both rings are circular. The write index points at the slot that will be
written next, so the most recent measurement sits one slot behind it. The
trend ring advances once per minute, the history ring once per fifteen
minutes. Walking a ring backward from the write index therefore walks
backward in time, which lets the decoder stop early once it reaches
measurements older than the caller's last stored reading.
*/
const (
	BLOCK_SIZE = 344 // Full FRAM image size in bytes

	STATUS_OFFSET        = 4   // Sensor lifecycle status byte
	TREND_INDEX_OFFSET   = 26  // Next trend slot to be written
	HISTORY_INDEX_OFFSET = 27  // Next history slot to be written
	TREND_DATA_OFFSET    = 28  // First byte of trend slot 0
	HISTORY_DATA_OFFSET  = 124 // First byte of history slot 0
	AGE_OFFSET           = 316 // Sensor age in minutes, little-endian uint16

	TREND_SLOTS   = 16 // One-minute resolution ring
	HISTORY_SLOTS = 32 // Fifteen-minute resolution ring
	SLOT_SIZE     = 6  // Bytes per measurement slot

	HISTORY_INTERVAL_MINUTES = 15 // Minutes covered by one history slot

	RAW_VALUE_MASK = 0x1FFF // Glucose codes are 13 bits wide
)

// Sample spacing control. The rings are denser than the ~5-minute cadence
// downstream consumers expect, so the walk keeps a minimum gap between
// accepted samples and skips anything already covered by the caller's
// last reading.
const (
	// minSampleGap is the minimum spacing between two accepted samples.
	// Slightly under five minutes so that jitter in the sensor's minute
	// counter cannot drop a legitimate five-minute sample.
	minSampleGap = 5*time.Minute - 10*time.Second

	// watermarkSlack widens the last-reading cutoff so a re-read of the
	// same FRAM image does not re-emit the newest sample when the minute
	// counter has not advanced.
	watermarkSlack = 30 * time.Second
)

// ErrInvalidBlockLength is returned when the FRAM image is shorter than the
// fixed 344-byte layout. Reading fields from a truncated image would return
// garbage, so the decoder rejects it outright.
var ErrInvalidBlockLength = fmt.Errorf("libre: FRAM block shorter than %d bytes", BLOCK_SIZE)

// Sample is one decoded glucose measurement.
type Sample struct {
	// TakenAt is the reconstructed absolute measurement time.
	TakenAt time.Time `json:"taken_at"`
	// RawCode is the sensor's uncalibrated 13-bit glucose code.
	RawCode uint16 `json:"raw_code"`
	// MGDL is the calibrated concentration in mg/dL.
	MGDL float64 `json:"mgdl"`
	// Source names the ring the sample came from ("trend" or "history").
	Source string `json:"source"`
}

// Result is the full outcome of decoding one FRAM image.
type Result struct {
	// Samples are ordered newest first: all trend samples, then all
	// history samples. Within each ring the walk runs backward in time,
	// and the trend ring is more recent than the history ring by
	// construction, so plain concatenation preserves recency order.
	Samples    []Sample    `json:"samples"`
	State      SensorState `json:"state"`
	AgeMinutes int         `json:"age_minutes"`
}

// ring describes one of the two circular measurement buffers. The two rings
// share the walk logic and differ only in geometry and in how a slot's
// position maps to minutes since sensor start.
type ring struct {
	name       string
	slots      int
	dataOffset int
	// minutesAt maps a walk position (0 = most recent) to minutes since
	// sensor activation.
	minutesAt func(ageMinutes, index int) int
}

var trendRing = ring{
	name:       "trend",
	slots:      TREND_SLOTS,
	dataOffset: TREND_DATA_OFFSET,
	minutesAt: func(ageMinutes, index int) int {
		// One slot per minute: position index is index minutes ago.
		m := ageMinutes - index
		if m < 0 {
			m = 0
		}
		return m
	},
}

var historyRing = ring{
	name:       "history",
	slots:      HISTORY_SLOTS,
	dataOffset: HISTORY_DATA_OFFSET,
	minutesAt: func(ageMinutes, index int) int {
		// The sensor fills history buckets on a fifteen-minute grid that
		// runs three minutes behind the age counter. The firmware's
		// bucketing has not been documented publicly; this formula was
		// verified against sensor captures and must not be simplified.
		delta := ageMinutes - 3
		if delta < 0 {
			delta = -delta
		}
		m := (delta/HISTORY_INTERVAL_MINUTES)*HISTORY_INTERVAL_MINUTES - index*HISTORY_INTERVAL_MINUTES
		if m < 0 {
			m = 0
		}
		return m
	},
}

// Decoder converts raw FRAM images into calibrated glucose samples. The
// zero value is not usable; construct with NewDecoder.
type Decoder struct {
	// Multiplier converts a raw 13-bit code to mg/dL. Sensor-family
	// dependent and supplied by configuration.
	Multiplier float64

	// States maps the firmware status byte to a lifecycle state.
	States map[byte]SensorState
}

// NewDecoder creates a Decoder with the given calibration multiplier and
// the default firmware status table.
func NewDecoder(multiplier float64) *Decoder {
	return &Decoder{
		Multiplier: multiplier,
		States:     DefaultStateCodes(),
	}
}

// Decode reads one 344-byte FRAM image and returns every glucose sample
// newer than lastReading, newest first, plus the sensor lifecycle state and
// age. The caller supplies now so that repeated decodes of the same image
// are reproducible; all reconstructed timestamps are derived from the same
// instant. Decode is a pure function of its arguments and is safe to call
// concurrently.
func (d *Decoder) Decode(block []byte, lastReading, now time.Time) (*Result, error) {
	if len(block) < BLOCK_SIZE {
		return nil, ErrInvalidBlockLength
	}

	trendIndex := int(block[TREND_INDEX_OFFSET])
	historyIndex := int(block[HISTORY_INDEX_OFFSET])
	ageMinutes := int(block[AGE_OFFSET]) | int(block[AGE_OFFSET+1])<<8

	// Sensor-local time is minutes since activation; anchor it to the
	// wall clock once so every sample in this decode is mutually
	// consistent.
	sensorStart := now.Add(-time.Duration(ageMinutes) * time.Minute)

	w := walk{
		decoder:      d,
		block:        block,
		ageMinutes:   ageMinutes,
		sensorStart:  sensorStart,
		cutoff:       lastReading.Add(watermarkSlack),
		lastAccepted: now.Add(5 * time.Minute), // sentinel: first candidate is always eligible
	}

	samples := w.run(trendRing, trendIndex)
	samples = append(samples, w.run(historyRing, historyIndex)...)

	return &Result{
		Samples:    samples,
		State:      d.stateFor(block[STATUS_OFFSET]),
		AgeMinutes: ageMinutes,
	}, nil
}

func (d *Decoder) stateFor(code byte) SensorState {
	if s, ok := d.States[code]; ok {
		return s
	}
	return StateUnknown
}

// walk carries the state shared between the trend and history passes. The
// spacing discipline established while walking the trend ring carries over
// into the history ring, so a history sample landing just behind the last
// trend sample is still suppressed.
type walk struct {
	decoder      *Decoder
	block        []byte
	ageMinutes   int
	sensorStart  time.Time
	cutoff       time.Time
	lastAccepted time.Time
}

// run walks one ring backward from its write index and returns the accepted
// samples, newest first.
func (w *walk) run(r ring, writeIndex int) []Sample {
	var samples []Sample

	for index := 0; index < r.slots; index++ {
		slot := (writeIndex - index - 1) % r.slots
		if slot < 0 {
			slot += r.slots
		}

		takenAt := w.sensorStart.Add(time.Duration(r.minutesAt(w.ageMinutes, index)) * time.Minute)

		// Timestamps are monotonically non-increasing along the walk,
		// so the first sample at or below the cutoff ends the ring.
		if !takenAt.After(w.cutoff) {
			break
		}

		if !takenAt.Before(w.lastAccepted.Add(-minSampleGap)) {
			continue
		}

		lo := slot*SLOT_SIZE + r.dataOffset
		raw := (uint16(w.block[lo]) | uint16(w.block[lo+1])<<8) & RAW_VALUE_MASK
		if raw == 0 {
			// Firmware writes zero for "no measurement" slots.
			continue
		}

		samples = append(samples, Sample{
			TakenAt: takenAt,
			RawCode: raw,
			MGDL:    float64(raw) * w.decoder.Multiplier,
			Source:  r.name,
		})
		w.lastAccepted = takenAt
	}

	return samples
}
