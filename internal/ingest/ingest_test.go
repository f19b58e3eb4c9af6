package ingest

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencgm/glucose.report/internal/db"
	"github.com/opencgm/glucose.report/internal/framlink"
	"github.com/opencgm/glucose.report/internal/httputil"
	"github.com/opencgm/glucose.report/internal/libre"
	"github.com/opencgm/glucose.report/internal/libre/remote"
	"github.com/opencgm/glucose.report/internal/monitoring"
	"github.com/opencgm/glucose.report/internal/timeutil"
)

// testNow anchors the mock clock. ReadingsSince filters against the wall
// clock, so the anchor has to be near the real present. Truncated to whole
// seconds so timestamps survive the RFC3339 round trip in remote responses.
var testNow = time.Now().UTC().Truncate(time.Second)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func newTestPipeline(t *testing.T, remoteClient *remote.Client) (*Pipeline, *db.DB) {
	t.Helper()

	database, err := db.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	pipeline := NewPipeline(database, libre.NewDecoder(1.0), remoteClient, time.Second, "0M0001ABCDE")
	pipeline.Clock = timeutil.NewMockClock(testNow)
	return pipeline, database
}

// testBlock builds a minimal FRAM image: sensor ready, the given age, and a
// single trend sample in the most recently written slot.
func testBlock(ageMinutes int, raw uint16) []byte {
	block := make([]byte, libre.BLOCK_SIZE)
	block[libre.STATUS_OFFSET] = 0x03
	block[libre.TREND_INDEX_OFFSET] = 1
	block[libre.AGE_OFFSET] = byte(ageMinutes)
	block[libre.AGE_OFFSET+1] = byte(ageMinutes >> 8)

	lo := libre.TREND_DATA_OFFSET // slot 0
	block[lo] = byte(raw)
	block[lo+1] = byte(raw >> 8)
	return block
}

func TestHandleLineLocalDecode(t *testing.T) {
	pipeline, database := newTestPipeline(t, nil)

	line := framlink.EncodeFrame(testBlock(10, 850))
	if err := pipeline.HandleLine(context.Background(), line); err != nil {
		t.Fatalf("HandleLine failed: %v", err)
	}

	readings, err := database.ReadingsSince(1)
	if err != nil {
		t.Fatalf("ReadingsSince failed: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("got %d readings, want 1", len(readings))
	}
	if readings[0].RawCode != 850 {
		t.Errorf("RawCode = %d, want 850", readings[0].RawCode)
	}
	if readings[0].Source != "trend" {
		t.Errorf("Source = %q, want trend", readings[0].Source)
	}
	if !readings[0].TakenAt.Equal(testNow) {
		t.Errorf("TakenAt = %v, want %v", readings[0].TakenAt, testNow)
	}

	status, err := database.LatestSensorStatus()
	if err != nil {
		t.Fatalf("LatestSensorStatus failed: %v", err)
	}
	if status == nil {
		t.Fatal("no sensor status recorded")
	}
	if status.State != "ready" {
		t.Errorf("State = %q, want ready", status.State)
	}
	if status.AgeMinutes != 10 {
		t.Errorf("AgeMinutes = %d, want 10", status.AgeMinutes)
	}
}

func TestHandleLineIgnoresChatter(t *testing.T) {
	pipeline, database := newTestPipeline(t, nil)

	for _, line := range []string{"OK", "SCAN started", ""} {
		if err := pipeline.HandleLine(context.Background(), line); err != nil {
			t.Errorf("HandleLine(%q) = %v, want nil", line, err)
		}
	}

	readings, err := database.ReadingsSince(1)
	if err != nil {
		t.Fatalf("ReadingsSince failed: %v", err)
	}
	if len(readings) != 0 {
		t.Errorf("got %d readings, want 0", len(readings))
	}
}

func TestHandleLineBadFrame(t *testing.T) {
	pipeline, _ := newTestPipeline(t, nil)

	if err := pipeline.HandleLine(context.Background(), framlink.FramePrefix+"zz"); err == nil {
		t.Error("Expected error for corrupt frame")
	}
}

func TestHandleLineIsIdempotent(t *testing.T) {
	pipeline, database := newTestPipeline(t, nil)

	line := framlink.EncodeFrame(testBlock(10, 850))
	for i := 0; i < 2; i++ {
		if err := pipeline.HandleLine(context.Background(), line); err != nil {
			t.Fatalf("HandleLine pass %d failed: %v", i, err)
		}
	}

	readings, err := database.ReadingsSince(1)
	if err != nil {
		t.Fatalf("ReadingsSince failed: %v", err)
	}
	if len(readings) != 1 {
		t.Errorf("got %d readings after re-ingesting the same frame, want 1", len(readings))
	}
}

func TestHandleLineRemoteDecode(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, fmt.Sprintf(`{
		"samples": [{"taken_at": %q, "raw_code": 850, "mgdl": 100.0}],
		"state": "ready",
		"age_minutes": 10
	}`, testNow.Format(time.RFC3339)))

	remoteClient := remote.New("https://decode.example.test/v1", "token", "0M0001ABCDE", "", mock)
	pipeline, database := newTestPipeline(t, remoteClient)

	line := framlink.EncodeFrame(testBlock(10, 850))
	if err := pipeline.HandleLine(context.Background(), line); err != nil {
		t.Fatalf("HandleLine failed: %v", err)
	}

	readings, err := database.ReadingsSince(1)
	if err != nil {
		t.Fatalf("ReadingsSince failed: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("got %d readings, want 1", len(readings))
	}
	if readings[0].Source != "remote" {
		t.Errorf("Source = %q, want remote", readings[0].Source)
	}
	if readings[0].MGDL != 100.0 {
		t.Errorf("MGDL = %f, want 100.0", readings[0].MGDL)
	}
}

func TestHandleLineRemoteFallsBackToLocal(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusServiceUnavailable, "maintenance")

	remoteClient := remote.New("https://decode.example.test/v1", "token", "0M0001ABCDE", "", mock)
	pipeline, database := newTestPipeline(t, remoteClient)

	line := framlink.EncodeFrame(testBlock(10, 850))
	if err := pipeline.HandleLine(context.Background(), line); err != nil {
		t.Fatalf("HandleLine failed: %v", err)
	}

	readings, err := database.ReadingsSince(1)
	if err != nil {
		t.Fatalf("ReadingsSince failed: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("got %d readings, want 1", len(readings))
	}
	if readings[0].Source != "trend" {
		t.Errorf("Source = %q, want trend from local fallback", readings[0].Source)
	}
}

func TestHandleLineRemoteRespectsWatermark(t *testing.T) {
	// Pre-populate a reading at testNow; the remote result repeats it plus
	// one newer sample. Only the newer sample should land.
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, fmt.Sprintf(`{
		"samples": [
			{"taken_at": %q, "raw_code": 860, "mgdl": 101.2},
			{"taken_at": %q, "raw_code": 850, "mgdl": 100.0}
		],
		"state": "ready",
		"age_minutes": 15
	}`, testNow.Add(5*time.Minute).Format(time.RFC3339), testNow.Format(time.RFC3339)))

	remoteClient := remote.New("https://decode.example.test/v1", "token", "0M0001ABCDE", "", mock)
	pipeline, database := newTestPipeline(t, remoteClient)

	if _, err := database.InsertSamples([]libre.Sample{
		{TakenAt: testNow, RawCode: 850, MGDL: 100, Source: "trend"},
	}); err != nil {
		t.Fatalf("InsertSamples failed: %v", err)
	}

	line := framlink.EncodeFrame(testBlock(15, 860))
	if err := pipeline.HandleLine(context.Background(), line); err != nil {
		t.Fatalf("HandleLine failed: %v", err)
	}

	readings, err := database.ReadingsSince(1)
	if err != nil {
		t.Fatalf("ReadingsSince failed: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("got %d readings, want 2", len(readings))
	}
	if readings[0].RawCode != 860 {
		t.Errorf("newest RawCode = %d, want 860", readings[0].RawCode)
	}
}

func TestRunProcessesLines(t *testing.T) {
	pipeline, database := newTestPipeline(t, nil)

	lines := make(chan string, 1)
	lines <- framlink.EncodeFrame(testBlock(10, 850))
	close(lines)

	if err := pipeline.Run(context.Background(), lines); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	readings, err := database.ReadingsSince(1)
	if err != nil {
		t.Fatalf("ReadingsSince failed: %v", err)
	}
	if len(readings) != 1 {
		t.Errorf("got %d readings, want 1", len(readings))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	pipeline, _ := newTestPipeline(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pipeline.Run(ctx, make(chan string))
	if err != context.Canceled {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}
