package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"

	"kiln/internal/session"
)

// flashObserver renders session updates: a live progress bar on a terminal,
// plain status lines otherwise.
type flashObserver struct {
	out     io.Writer
	plain   bool
	pw      progress.Writer
	tracker *progress.Tracker
}

func newFlashObserver(out io.Writer, interactive bool) *flashObserver {
	o := &flashObserver{out: out, plain: !interactive}
	if o.plain {
		return o
	}

	pw := progress.NewWriter()
	pw.SetOutputWriter(out)
	pw.SetAutoStop(false)
	pw.SetTrackerLength(40)
	pw.SetMessageLength(24)
	pw.SetUpdateFrequency(100 * time.Millisecond)
	pw.Style().Visibility.ETA = false
	pw.Style().Visibility.Time = true

	tracker := &progress.Tracker{
		Message: stageLabel(session.StageIdle),
		Total:   100,
		Units:   progress.UnitsDefault,
	}
	pw.AppendTracker(tracker)
	go pw.Render()

	o.pw = pw
	o.tracker = tracker
	return o
}

func (o *flashObserver) StageChanged(stage session.Stage) {
	if o.plain {
		fmt.Fprintf(o.out, "==> %s\n", stageLabel(stage))
		return
	}
	o.tracker.UpdateMessage(stageLabel(stage))
}

func (o *flashObserver) Progress(percent float64) {
	if o.plain {
		return
	}
	o.tracker.SetValue(int64(percent))
}

func (o *flashObserver) Note(message string) {
	if o.plain {
		fmt.Fprintf(o.out, "    %s\n", message)
		return
	}
	o.pw.Log(message)
}

// Finish stops the renderer, marking the tracker according to the outcome.
func (o *flashObserver) Finish(succeeded bool) {
	if o.plain {
		return
	}
	if succeeded {
		o.tracker.MarkAsDone()
	} else {
		o.tracker.MarkAsErrored()
	}
	o.pw.Stop()
	for o.pw.IsRenderInProgress() {
		time.Sleep(10 * time.Millisecond)
	}
}

func stageLabel(stage session.Stage) string {
	switch stage {
	case session.StageIdle:
		return "Preparing"
	case session.StageDownloading:
		return "Fetching firmware"
	case session.StageConnecting:
		return "Connecting"
	case session.StageConnected:
		return "Connected"
	case session.StageErasing:
		return "Erasing flash"
	case session.StageWriting:
		return "Writing firmware"
	case session.StageDone:
		return "Done"
	case session.StageError:
		return "Failed"
	default:
		return string(stage)
	}
}
