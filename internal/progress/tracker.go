package progress

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/valyala/bytebufferpool"
)

const DefaultInterval = 200 * time.Millisecond

// DefaultWidth is wide enough for a full status line on an 80 column terminal plus the cursor.
const DefaultWidth = 81

type Options struct {
	// Total is the known input size in bytes, 0 when unknown.
	Total int64
	// Interval between two status renders, DefaultInterval when zero.
	Interval time.Duration
	// Width of the status line, DefaultWidth when zero.
	Width int
	// Quiet disables the status line and the final summary.
	Quiet bool
	// Hidden disables the status line but keeps the final summary.
	Hidden bool
}

// Tracker accumulates byte counts reported by a copy loop and renders
// a carriage-return overwritten status line at most once per interval.
//
// It is not safe for concurrent use.
type Tracker struct {
	out         io.Writer
	log         zerolog.Logger
	err         error
	interval    time.Duration
	lastRender  time.Duration
	total       int64
	processed   int64
	sinceRender int64
	width       int
	renders     int
	quiet       bool
	hidden      bool
}

func New(out io.Writer, opts Options) *Tracker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Total < 0 {
		opts.Total = 0
	}

	return &Tracker{
		out:      out,
		log:      log.With().Str("component", "progress").Logger(),
		interval: opts.Interval,
		width:    opts.Width,
		total:    opts.Total,
		quiet:    opts.Quiet,
		hidden:   opts.Hidden,
	}
}

// Update records n processed bytes at elapsed time since the copy started,
// and renders the status line if the interval since the last render has passed.
func (t *Tracker) Update(n int64, elapsed time.Duration) {
	t.processed += n
	t.sinceRender += n

	gap := elapsed - t.lastRender
	if gap <= 0 || gap < t.interval {
		return
	}

	rate := float64(t.sinceRender) / gap.Seconds()

	t.render(t.status(rate))

	t.sinceRender = 0
	t.lastRender = elapsed
}

func (t *Tracker) status(rate float64) string {
	s := fmt.Sprintf("speed: %s/s processed: %s", humanize.IBytes(uint64(rate)), humanize.IBytes(uint64(t.processed)))
	if p, ok := t.Percent(); ok {
		s += fmt.Sprintf(" %.1f %%", p)
	}

	return s
}

// Percent is the share of the known total processed so far, clamped to [0, 100].
// ok is false when the total size is unknown.
func (t *Tracker) Percent() (p float64, ok bool) {
	if t.total <= 0 {
		return 0, false
	}

	p = float64(t.processed) / float64(t.total) * 100

	return min(max(p, 0), 100), true
}

func (t *Tracker) render(status string) {
	if t.quiet || t.hidden || t.err != nil {
		return
	}

	if len(status) > t.width {
		status = status[:t.width]
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	_ = buf.WriteByte('\r')
	_, _ = buf.WriteString(status)
	_, _ = buf.WriteString(strings.Repeat(" ", t.width-len(status)))

	if _, err := t.out.Write(buf.B); err != nil {
		// the copy carries on without a status line
		t.err = err
		t.log.Debug().Err(err).Msg("failed to render status, disable status line")
		return
	}

	t.renders++
}

// Finish writes the final summary line.
func (t *Tracker) Finish(elapsed time.Duration) {
	if t.quiet {
		return
	}

	var avg float64
	if elapsed > 0 {
		avg = float64(t.processed) / elapsed.Seconds()
	}

	var lead string
	if t.renders > 0 {
		lead = "\n"
	}

	_, err := fmt.Fprintf(t.out, "%sDone! use %d msec, %s copied, avg %s/s\n",
		lead,
		elapsed.Milliseconds(),
		humanize.IBytes(uint64(t.processed)),
		humanize.IBytes(uint64(avg)),
	)
	if err != nil {
		t.log.Debug().Err(err).Msg("failed to write summary")
	}
}

// Processed is the number of bytes reported so far.
func (t *Tracker) Processed() int64 {
	return t.processed
}

// Renders is the number of status lines drawn.
func (t *Tracker) Renders() int {
	return t.renders
}
