package session_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"kiln/internal/api"
	"kiln/internal/catalog"
	"kiln/internal/firmware"
	"kiln/internal/flasher"
	"kiln/internal/session"
)

type fakeDevice struct {
	connectErr error
	eraseErr   error
	writeErr   error
	resetErr   error
	closeErr   error
	writeFunc  func(progress flasher.ProgressFunc) error

	connected  bool
	erased     bool
	written    [][]flasher.Image
	reset      bool
	closeCalls int
}

func (d *fakeDevice) Connect(context.Context) error {
	if d.connectErr != nil {
		return d.connectErr
	}
	d.connected = true
	return nil
}

func (d *fakeDevice) ChipName() string {
	if !d.connected {
		return ""
	}
	return "ESP32-S3"
}

func (d *fakeDevice) EraseFlash(context.Context) error {
	if d.eraseErr != nil {
		return d.eraseErr
	}
	d.erased = true
	return nil
}

func (d *fakeDevice) WriteImages(_ context.Context, images []flasher.Image, _ flasher.WriteOptions, progress flasher.ProgressFunc) error {
	if d.writeFunc != nil {
		return d.writeFunc(progress)
	}
	if d.writeErr != nil {
		return d.writeErr
	}
	d.written = append(d.written, images)
	if progress != nil {
		for i := range images {
			progress(i, 30)
			progress(i, 100)
		}
	}
	return nil
}

func (d *fakeDevice) HardReset(context.Context) error {
	if d.resetErr != nil {
		return d.resetErr
	}
	d.reset = true
	return nil
}

func (d *fakeDevice) Close() error {
	d.closeCalls++
	return d.closeErr
}

type fakeOpener struct {
	device  *fakeDevice
	openErr error
}

func (o *fakeOpener) Open(context.Context, string, int) (flasher.Device, error) {
	if o.openErr != nil {
		return nil, o.openErr
	}
	return o.device, nil
}

type fakeFetcher struct {
	images []flasher.Image
	err    error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, refs []catalog.FirmwareRef, progress firmware.ProgressFunc) ([]flasher.Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	if progress != nil {
		for i := range refs {
			progress(i, 50, 100)
			progress(i, 100, 100)
		}
	}
	return f.images, nil
}

type recordingObserver struct {
	stages   []session.Stage
	progress []float64
	notes    []string
}

func (o *recordingObserver) StageChanged(stage session.Stage) { o.stages = append(o.stages, stage) }
func (o *recordingObserver) Progress(p float64)               { o.progress = append(o.progress, p) }
func (o *recordingObserver) Note(msg string)                  { o.notes = append(o.notes, msg) }

type recordingAudio struct {
	cues []string
}

func (a *recordingAudio) Cue(event string) { a.cues = append(a.cues, event) }
func (a *recordingAudio) Close()           {}

func (a *recordingAudio) count(event string) int {
	n := 0
	for _, c := range a.cues {
		if c == event {
			n++
		}
	}
	return n
}

type recordingReporter struct {
	reports []api.FlashReport
}

func (r *recordingReporter) Report(_ context.Context, report api.FlashReport) {
	r.reports = append(r.reports, report)
}

func testProject() *catalog.Project {
	cat, err := catalog.Parse([]byte(`{"projects": [{
		"id": "demo",
		"name": "Demo",
		"firmware": [
			{"path": "bootloader.bin", "offset": "0x1000"},
			{"path": "app.bin", "offset": "0x10000"}
		]
	}]}`))
	if err != nil {
		panic(err)
	}
	p, _ := cat.Project("demo")
	return p
}

type fixture struct {
	device   *fakeDevice
	observer *recordingObserver
	audio    *recordingAudio
	reporter *recordingReporter
	opts     session.Options
}

func newFixture() *fixture {
	f := &fixture{
		device:   &fakeDevice{},
		observer: &recordingObserver{},
		audio:    &recordingAudio{},
		reporter: &recordingReporter{},
	}
	f.opts = session.Options{
		Project: testProject(),
		Port:    "/dev/ttyUSB0",
		Baud:    115200,
		Opener:  &fakeOpener{device: f.device},
		Fetcher: &fakeFetcher{images: []flasher.Image{
			{Path: "bootloader.bin", Offset: 0x1000, Size: 1000},
			{Path: "app.bin", Offset: 0x10000, Size: 1000},
		}},
		Audio:    f.audio,
		Reporter: f.reporter,
		Observer: f.observer,
	}
	return f
}

func run(t *testing.T, f *fixture) error {
	t.Helper()
	s, err := session.New(f.opts)
	if err != nil {
		t.Fatalf("session.New returned error: %v", err)
	}
	return s.Run(context.Background())
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture()
	if err := run(t, f); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	wantStages := []session.Stage{
		session.StageDownloading,
		session.StageConnecting,
		session.StageConnected,
		session.StageWriting,
		session.StageDone,
	}
	if len(f.observer.stages) != len(wantStages) {
		t.Fatalf("stages = %v, want %v", f.observer.stages, wantStages)
	}
	for i, want := range wantStages {
		if f.observer.stages[i] != want {
			t.Fatalf("stage %d = %s, want %s", i, f.observer.stages[i], want)
		}
	}

	// Progress is monotonic and finishes at 100.
	last := -1.0
	for _, p := range f.observer.progress {
		if p < last {
			t.Fatalf("progress went backwards: %v", f.observer.progress)
		}
		last = p
	}
	if last != 100 {
		t.Fatalf("final progress = %v, want 100", last)
	}

	if !f.device.reset {
		t.Fatal("device was not reset")
	}
	if f.device.closeCalls == 0 {
		t.Fatal("device was not closed")
	}

	for _, cue := range []string{"start", "boot_prompt", "connecting", "connected", "flashing_start", "writing_complete", "rebooting", "success"} {
		if f.audio.count(cue) != 1 {
			t.Fatalf("cue %s played %d times: %v", cue, f.audio.count(cue), f.audio.cues)
		}
	}
	if f.audio.count("erasing") != 0 {
		t.Fatal("erase cue played without erase-all")
	}

	if len(f.reporter.reports) != 1 {
		t.Fatalf("telemetry reports = %d, want exactly 1", len(f.reporter.reports))
	}
	report := f.reporter.reports[0]
	if !report.Success || report.Project != "demo" {
		t.Fatalf("report = %+v", report)
	}
	if report.Context["chip"] != "ESP32-S3" {
		t.Fatalf("report context = %+v", report.Context)
	}
}

func TestRunWriteMilestonesFireOnce(t *testing.T) {
	f := newFixture()
	if err := run(t, f); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	for _, m := range []string{"flashing_progress_25", "flashing_progress_50", "flashing_progress_75"} {
		if f.audio.count(m) != 1 {
			t.Fatalf("milestone %s played %d times: %v", m, f.audio.count(m), f.audio.cues)
		}
	}
}

func TestRunMilestonesThresholdGlobalProgress(t *testing.T) {
	// Writing spans [20,100) of the global bar, so 10% written on a single
	// image puts the session at 28% overall: past the 25 milestone, well
	// short of 50. A failure right after must not swallow the cue.
	f := newFixture()
	f.opts.Fetcher = &fakeFetcher{images: []flasher.Image{
		{Path: "app.bin", Offset: 0x10000, Size: 1000},
	}}
	f.device.writeFunc = func(progress flasher.ProgressFunc) error {
		progress(0, 10)
		return errors.New("flash write failed: chip rejected block")
	}

	if err := run(t, f); err == nil {
		t.Fatal("expected error")
	}
	if f.audio.count("flashing_progress_25") != 1 {
		t.Fatalf("25 milestone not played at 28%% overall: %v", f.audio.cues)
	}
	if f.audio.count("flashing_progress_50") != 0 {
		t.Fatalf("50 milestone played early: %v", f.audio.cues)
	}
}

func TestRunEraseAll(t *testing.T) {
	f := newFixture()
	f.opts.EraseAll = true
	if err := run(t, f); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !f.device.erased {
		t.Fatal("flash was not erased")
	}
	if f.audio.count("erasing") != 1 || f.audio.count("erase_complete") != 1 {
		t.Fatalf("erase cues = %v", f.audio.cues)
	}

	found := false
	for _, s := range f.observer.stages {
		if s == session.StageErasing {
			found = true
		}
	}
	if !found {
		t.Fatal("erasing stage never reported")
	}
}

func TestRunConnectFailure(t *testing.T) {
	f := newFixture()
	f.device.connectErr = errors.New("failed to connect to device on /dev/ttyUSB0: timeout")

	err := run(t, f)
	if err == nil {
		t.Fatal("expected error")
	}

	if len(f.reporter.reports) != 1 {
		t.Fatalf("telemetry reports = %d, want exactly 1", len(f.reporter.reports))
	}
	report := f.reporter.reports[0]
	if report.Success {
		t.Fatal("failure reported as success")
	}
	if report.Category != "connection_timeout" {
		t.Fatalf("category = %q", report.Category)
	}
	if f.device.closeCalls == 0 {
		t.Fatal("device leaked after connect failure")
	}
	if f.audio.count("error_connection_timeout") != 1 {
		t.Fatalf("error cue not played: %v", f.audio.cues)
	}
}

func TestRunWriteFailure(t *testing.T) {
	f := newFixture()
	f.device.writeErr = errors.New("flash write failed: chip rejected block")

	err := run(t, f)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(f.reporter.reports) != 1 {
		t.Fatalf("telemetry reports = %d, want exactly 1", len(f.reporter.reports))
	}
	if f.reporter.reports[0].Category != "hardware_error" {
		t.Fatalf("category = %q", f.reporter.reports[0].Category)
	}
}

func TestRunCapabilityCheckFailure(t *testing.T) {
	f := newFixture()
	opened := false
	f.opts.Opener = openerFunc(func() (flasher.Device, error) {
		opened = true
		return f.device, nil
	})
	f.opts.CapabilityCheck = func() error {
		return errors.New("serial transport is not supported on this host")
	}

	err := run(t, f)
	if err == nil {
		t.Fatal("expected error")
	}
	if opened {
		t.Fatal("device opened despite failed capability check")
	}
	if f.reporter.reports[0].Category != "wrong_browser" {
		t.Fatalf("category = %q", f.reporter.reports[0].Category)
	}
}

type openerFunc func() (flasher.Device, error)

func (fn openerFunc) Open(context.Context, string, int) (flasher.Device, error) {
	return fn()
}

func TestRunCancellationClassifiesAsUserCancel(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.opts.Fetcher = &fakeFetcher{err: ctx.Err()}

	s, err := session.New(f.opts)
	if err != nil {
		t.Fatalf("session.New returned error: %v", err)
	}
	if err := s.Run(ctx); err == nil {
		t.Fatal("expected error")
	}

	report := f.reporter.reports[0]
	if report.Category != "user_cancel" {
		t.Fatalf("category = %q", report.Category)
	}
	if !strings.Contains(report.Error, "cancelled") {
		t.Fatalf("report error = %q", report.Error)
	}
}

func TestRunErrorStageIsAbsorbing(t *testing.T) {
	f := newFixture()
	f.device.connectErr = errors.New("timeout")
	if err := run(t, f); err == nil {
		t.Fatal("expected error")
	}

	s, _ := session.New(f.opts)
	_ = s // fresh sessions are independent
	last := f.observer.stages[len(f.observer.stages)-1]
	if last != session.StageError {
		t.Fatalf("final stage = %s, want error", last)
	}
	for _, stage := range f.observer.stages {
		if stage == session.StageDone {
			t.Fatal("session reached done after failing")
		}
	}
}

func TestNewValidatesOptions(t *testing.T) {
	f := newFixture()
	f.opts.Project = nil
	if _, err := session.New(f.opts); err == nil {
		t.Fatal("expected error for missing project")
	}

	f = newFixture()
	f.opts.Baud = 0
	if _, err := session.New(f.opts); err == nil {
		t.Fatal("expected error for zero baud")
	}

	f = newFixture()
	f.opts.Fetcher = nil
	if _, err := session.New(f.opts); err == nil {
		t.Fatal("expected error for missing fetcher")
	}
}
