// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/koaning/thinc/ml/train"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraMetricFn returns a name and a formatted value to display along with the train metrics.
// It is called at every refresh of the progress bar.
type ExtraMetricFn func() (name, value string)

// RefreshPeriod is the maximum time between refreshes of the progress bar.
var RefreshPeriod = 3 * time.Second

// ProgressbarStyle is the theme of the progress bar. progressbar.ThemeUnicode is prettier, but requires
// a terminal font with its block characters.
var ProgressbarStyle = progressbar.ThemeASCII

// ProgressBarName is the name of the hooks registered by AttachProgressBar.
const ProgressBarName = "thinc.ui.commandline.progressBar"

// minRedrawInterval throttles the redraws of the metrics table.
const minRedrawInterval = 200 * time.Millisecond

// AttachProgressBar displays the progression of the loop on the standard output, along with the train
// metrics (by default the batch loss and its moving average) and the values of extraMetrics.
//
// On a terminal the metrics are rendered as a table above the bar, redrawn in a separate goroutine so a
// slow terminal doesn't slow down training. Otherwise (e.g. output redirected to a file) each refresh
// prints the bar followed by the metrics as "[name=value]" pairs.
func AttachProgressBar(loop *train.Loop, extraMetrics ...ExtraMetricFn) {
	plain := termenv.NewOutput(os.Stdout).Profile == termenv.Ascii
	attachProgressBar(loop, os.Stdout, plain, extraMetrics...)
}

func attachProgressBar(loop *train.Loop, out io.Writer, plain bool, extraMetrics ...ExtraMetricFn) {
	pBar := &progressBar{out: out, extras: extraMetrics}
	if !plain {
		pBar.table = newMetricsTable(out, loop)
	}
	loop.OnStart(ProgressBarName, 0, pBar.start)
	train.NTimesDuringLoop(loop, 1000, ProgressBarName, 0, pBar.refresh)
	train.PeriodicCallback(loop, RefreshPeriod, false, ProgressBarName, 0, pBar.refresh)
	loop.OnEnd(ProgressBarName, 0, pBar.end)
}

// progressBar owns the progressbar.ProgressBar and, when not plain, the metrics table.
type progressBar struct {
	out    io.Writer
	extras []ExtraMetricFn
	bar    *progressbar.ProgressBar
	table  *metricsTable // nil in plain mode.

	// nextStep is the first loop step not yet accounted for in the bar.
	nextStep int

	// suffix is written right after every write of the bar.
	suffix string
}

// Write implements io.Writer for the bar: the suffix goes out with the same refresh as the bar itself.
func (pBar *progressBar) Write(data []byte) (int, error) {
	n, err := pBar.out.Write(data)
	if err != nil {
		return n, err
	}
	if _, err = io.WriteString(pBar.out, pBar.suffix); err != nil {
		return n, err
	}
	return n, nil
}

func (pBar *progressBar) start(loop *train.Loop, _ train.Dataset) error {
	pBar.nextStep = loop.LoopStep
	total := 1000 // Unknown number of steps.
	if loop.EndStep >= 0 {
		total = loop.EndStep - loop.StartStep
	}
	pBar.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(pBar.table != nil),
		progressbar.OptionEnableColorCodes(pBar.table != nil),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(pBar),
	)
	if pBar.table != nil {
		pBar.suffix = "\033[J" // Clears leftovers of longer previous lines.
		pBar.table.start(pBar.bar)
	}
	return nil
}

func (pBar *progressBar) refresh(loop *train.Loop, metrics []float64) error {
	advance := loop.LoopStep + 1 - pBar.nextStep
	if advance <= 0 || pBar.bar.IsFinished() {
		return nil
	}
	pBar.nextStep = loop.LoopStep + 1

	trainMetrics := loop.Trainer.TrainMetrics()
	values := make([]string, len(trainMetrics))
	for ii, metric := range trainMetrics {
		values[ii] = metric.PrettyPrint(metrics[ii])
	}
	extras := make([][2]string, len(pBar.extras))
	for ii, fn := range pBar.extras {
		extras[ii][0], extras[ii][1] = fn()
	}

	if pBar.table != nil {
		pBar.table.snapshots <- snapshot{step: loop.LoopStep, endStep: loop.EndStep, advance: advance, values: values, extras: extras}
		return nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, " [step=%d]", loop.LoopStep)
	for ii, metric := range trainMetrics {
		fmt.Fprintf(&sb, " [%s=%s]", metric.ShortName(), values[ii])
	}
	for _, extra := range extras {
		fmt.Fprintf(&sb, " [%s=%s]", extra[0], extra[1])
	}
	pBar.suffix = sb.String()
	_ = pBar.bar.Add(advance) // Writes through pBar.Write.
	return nil
}

func (pBar *progressBar) end(_ *train.Loop, _ []float64) error {
	if pBar.table != nil {
		pBar.table.stop()
	}
	_, err := fmt.Fprintln(pBar.out)
	return err
}

// snapshot of the loop state at a refresh, to be drawn by the metrics table.
type snapshot struct {
	step, endStep, advance int
	values                 []string
	extras                 [][2]string
}

var (
	metricsTableBorder = lipgloss.NewStyle().Foreground(lipgloss.Color("#705090"))
	metricNameStyle    = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	metricValueStyle   = lipgloss.NewStyle().Padding(0, 1)
	metricsTableIndent = lipgloss.NewStyle().PaddingLeft(8)
)

// metricsTable draws the snapshots asynchronously, each time over the previous drawing.
type metricsTable struct {
	out  io.Writer
	loop *train.Loop
	term *termenv.Output

	bar       *progressbar.ProgressBar
	snapshots chan snapshot
	done      sync.WaitGroup
	drawnRows int
}

func newMetricsTable(out io.Writer, loop *train.Loop) *metricsTable {
	return &metricsTable{out: out, loop: loop, term: termenv.NewOutput(out)}
}

func (mt *metricsTable) start(bar *progressbar.ProgressBar) {
	mt.bar = bar
	mt.drawnRows = 0
	mt.snapshots = make(chan snapshot, 100)
	mt.done.Add(1)
	go mt.drawLoop()
}

// stop waits for the pending snapshots to be drawn.
func (mt *metricsTable) stop() {
	close(mt.snapshots)
	mt.done.Wait()
	mt.term.ShowCursor()
}

func (mt *metricsTable) drawLoop() {
	defer mt.done.Done()
	for s := range mt.snapshots {
		s = mt.coalesce(s)
		mt.draw(s)
		time.Sleep(minRedrawInterval)
	}
}

// coalesce merges the snapshots queued while the last one was drawn: only the newest is drawn, advancing
// the bar by the sum of their steps.
func (mt *metricsTable) coalesce(s snapshot) snapshot {
	for {
		select {
		case next, ok := <-mt.snapshots:
			if !ok {
				return s
			}
			next.advance += s.advance
			s = next
		default:
			return s
		}
	}
}

func (mt *metricsTable) draw(s snapshot) {
	endStep := "?"
	if s.endStep >= 0 {
		endStep = humanize.Comma(int64(s.endStep))
	}
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(metricsTableBorder).
		StyleFunc(func(_, col int) lipgloss.Style {
			if col == 0 {
				return metricNameStyle
			}
			return metricValueStyle
		})
	table.Row("Global Step", fmt.Sprintf("%s of %s", humanize.Comma(int64(s.step)), endStep))
	table.Row("Median train step duration", FormatDuration(mt.loop.MedianTrainStepDuration()))
	for ii, metric := range mt.loop.Trainer.TrainMetrics() {
		table.Row(metric.Name(), s.values[ii])
	}
	for _, extra := range s.extras {
		table.Row(extra[0], extra[1])
	}
	rendered := metricsTableIndent.Render(table.String())

	mt.term.HideCursor()
	if mt.drawnRows > 0 {
		mt.term.CursorPrevLine(mt.drawnRows)
	}
	_, _ = fmt.Fprintln(mt.out, rendered)
	_ = mt.bar.Add(s.advance)
	_, _ = fmt.Fprintln(mt.out)
	mt.drawnRows = lipgloss.Height(rendered) + 1 // Plus the bar line.
	mt.term.ShowCursor()
}
