package capturecheck

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"driftpursuit/worldclient/internal/capture"
	"driftpursuit/worldclient/internal/config"
	"driftpursuit/worldclient/internal/logging"
	"driftpursuit/worldclient/internal/protocol"
	"driftpursuit/worldclient/internal/world"
)

func writeBundle(t *testing.T, root, label string, ticks ...[]byte) string {
	t.Helper()
	base := time.Date(2024, 7, 10, 15, 0, 0, 0, time.UTC)
	recorder, _, err := capture.NewRecorder(root, label, func() time.Time { return base })
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	recorder.SetHeader(capture.Header{SessionID: label + "-session"})
	for i, tick := range ticks {
		if err := recorder.RecordTick(uint64(i+1), tick); err != nil {
			t.Fatalf("record tick %d: %v", i+1, err)
		}
	}
	if err := recorder.RecordEvent(uint64(len(ticks)), "chat", map[string]any{"text": "hi"}); err != nil {
		t.Fatalf("record event: %v", err)
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("close recorder: %v", err)
	}
	return recorder.Directory()
}

func testOptions() Options {
	return Options{
		Parallel:   2,
		Prediction: config.FullPrediction(),
		Logger:     logging.NewTestLogger(),
	}
}

func cleanScript() [][]byte {
	return [][]byte{
		protocol.NewBuilder().LoginComplete(1, 4, 4, 1).Bytes(),
		protocol.NewBuilder().SetStat(0, 9).ChatLine(0, "hi").PlaySound(3, 100).Bytes(),
		protocol.NewBuilder().Cell(protocol.AddrAbsolute, 2, protocol.FieldSprite, world.Cell{Sprite: 7}).Cell(protocol.AddrThis, 0, protocol.FieldLight, world.Cell{Light: 2}).Bytes(),
		protocol.NewBuilder().AreaChange(2, 2, 5).SetInventorySlot(1, 4, 4).Bytes(),
	}
}

func TestCheckBundleReplaysCleanCapture(t *testing.T) {
	dir := writeBundle(t, t.TempDir(), "clean", cleanScript()...)

	result := CheckBundle(dir, testOptions())
	if !result.OK() {
		t.Fatalf("unexpected failure: %s\n%s", result.Error, result.Divergence)
	}
	if result.Ticks != 4 || result.Resets != 2 {
		t.Fatalf("unexpected counts %+v", result)
	}
	if result.Lines != 1 || result.Sounds != 1 || result.RecordedLines != 1 {
		t.Fatalf("unexpected side effects %+v", result)
	}
	if !result.StateCompared || result.SeqGaps != 0 {
		t.Fatalf("unexpected flags %+v", result)
	}
	if result.SessionID != "clean-session" {
		t.Fatalf("unexpected session id %q", result.SessionID)
	}
}

func TestCheckBundleFlagsDesync(t *testing.T) {
	script := cleanScript()
	script = append(script[:2], protocol.NewBuilder().SetStat(1, 1).Raw(protocol.OpSetStat).Bytes())
	dir := writeBundle(t, t.TempDir(), "broken", script...)

	result := CheckBundle(dir, testOptions())
	if result.OK() {
		t.Fatalf("expected the stray byte to fail the bundle")
	}
	if result.FailedSeq != 3 || result.Ticks != 2 {
		t.Fatalf("unexpected failure position %+v", result)
	}
}

func TestPartialPredictionSkipsStateComparison(t *testing.T) {
	dir := writeBundle(t, t.TempDir(), "partial", cleanScript()...)
	opts := testOptions()
	opts.Prediction.Stats = false

	result := CheckBundle(dir, opts)
	if !result.OK() || result.StateCompared {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestCheckAllKeepsOrder(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "alpha", cleanScript()...)
	writeBundle(t, root, "beta", protocol.NewBuilder().Raw(0x7F).Bytes())
	writeBundle(t, root, "gamma", cleanScript()[:1]...)

	dirs, err := Discover(root)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(dirs) != 3 {
		t.Fatalf("expected 3 bundles, got %v", dirs)
	}

	results := CheckAll(context.Background(), dirs, testOptions())
	want := []bool{true, false, true}
	for i, result := range results {
		if result.Dir != dirs[i] {
			t.Fatalf("result %d is for %s, want %s", i, result.Dir, dirs[i])
		}
		if result.OK() != want[i] {
			t.Fatalf("bundle %s: ok=%v, want %v (%s)", filepath.Base(result.Dir), result.OK(), want[i], result.Error)
		}
	}
}

func TestCheckBundleMissingDirectory(t *testing.T) {
	result := CheckBundle(filepath.Join(t.TempDir(), "missing"), testOptions())
	if result.OK() {
		t.Fatalf("expected missing bundle to fail")
	}
}
