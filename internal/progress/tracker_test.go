package progress_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pv/internal/progress"
)

func TestRenderThrottled(t *testing.T) {
	var out bytes.Buffer
	tr := progress.New(&out, progress.Options{Interval: 200 * time.Millisecond})

	// 1000 updates within 1 second, one every millisecond.
	for i := 1; i <= 1000; i++ {
		tr.Update(10, time.Duration(i)*time.Millisecond)
	}

	require.Equal(t, 5, tr.Renders())
	require.Equal(t, 5, strings.Count(out.String(), "\r"))
	require.Equal(t, int64(10000), tr.Processed())
}

func TestStatusLine(t *testing.T) {
	var out bytes.Buffer
	tr := progress.New(&out, progress.Options{Total: 2048})

	tr.Update(512, 100*time.Millisecond)
	require.Zero(t, out.Len(), "rendered before the interval passed")

	tr.Update(512, 200*time.Millisecond)

	line := out.String()
	require.Len(t, line, 1+progress.DefaultWidth)
	require.True(t, strings.HasPrefix(line, "\r"))
	assert.Equal(t, "speed: 5.0 KiB/s processed: 1.0 KiB 50.0 %", strings.TrimSpace(line))
}

func TestStatusWithoutTotal(t *testing.T) {
	var out bytes.Buffer
	tr := progress.New(&out, progress.Options{})

	tr.Update(1024*1024, time.Second)

	assert.Equal(t, "speed: 1.0 MiB/s processed: 1.0 MiB", strings.TrimSpace(out.String()))
	assert.NotContains(t, out.String(), "%")

	_, ok := tr.Percent()
	assert.False(t, ok)
}

func TestRateUsesOnlyBytesSinceLastRender(t *testing.T) {
	var out bytes.Buffer
	tr := progress.New(&out, progress.Options{Interval: time.Second})

	tr.Update(4096, time.Second)
	out.Reset()

	tr.Update(1024, 2*time.Second)

	assert.Contains(t, out.String(), "speed: 1.0 KiB/s processed: 5.0 KiB")
}

func TestZeroGapSkipsRender(t *testing.T) {
	var out bytes.Buffer
	tr := progress.New(&out, progress.Options{Interval: time.Nanosecond})

	tr.Update(100, 0)
	require.Zero(t, tr.Renders())

	tr.Update(100, time.Millisecond)
	require.Equal(t, 1, tr.Renders())

	// time going backwards never renders
	tr.Update(100, time.Microsecond)
	require.Equal(t, 1, tr.Renders())
	require.Equal(t, int64(300), tr.Processed())
}

func TestPercentClamped(t *testing.T) {
	tr := progress.New(&bytes.Buffer{}, progress.Options{Total: 100})

	tr.Update(50, 0)
	p, ok := tr.Percent()
	require.True(t, ok)
	require.InDelta(t, 50, p, 0.001)

	// sources may grow while being read
	tr.Update(100, 0)
	p, _ = tr.Percent()
	require.InDelta(t, 100, p, 0.001)
}

func TestLineTruncatedToWidth(t *testing.T) {
	var out bytes.Buffer
	tr := progress.New(&out, progress.Options{Width: 10, Total: 10})

	tr.Update(5, time.Second)

	require.Equal(t, "\rspeed: 5 B", out.String())
}

func TestShortLineOverwritesLongLine(t *testing.T) {
	var out bytes.Buffer
	tr := progress.New(&out, progress.Options{Interval: time.Second})

	tr.Update(1024*1024*1024, time.Second)
	tr.Update(1, 2*time.Second)

	lines := strings.Split(out.String(), "\r")[1:]
	require.Len(t, lines, 2)
	require.Equal(t, len(lines[0]), len(lines[1]))
}

func TestFinish(t *testing.T) {
	var out bytes.Buffer
	tr := progress.New(&out, progress.Options{})

	tr.Update(2048, time.Second)
	tr.Finish(2 * time.Second)

	lines := strings.Split(out.String(), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Done! use 2000 msec, 2.0 KiB copied, avg 1.0 KiB/s", lines[1])
	assert.Empty(t, lines[2])
}

func TestFinishWithoutStatusLine(t *testing.T) {
	var out bytes.Buffer
	tr := progress.New(&out, progress.Options{Hidden: true})

	tr.Update(10, time.Second)
	tr.Finish(0)

	assert.Equal(t, "Done! use 0 msec, 10 B copied, avg 0 B/s\n", out.String())
}

func TestQuiet(t *testing.T) {
	var out bytes.Buffer
	tr := progress.New(&out, progress.Options{Quiet: true})

	tr.Update(10, time.Second)
	tr.Finish(time.Second)

	assert.Zero(t, out.Len())
	assert.Equal(t, int64(10), tr.Processed())
}

type failWriter struct{ calls int }

func (w *failWriter) Write([]byte) (int, error) {
	w.calls++
	return 0, errors.New("closed")
}

func TestRenderErrorDisablesStatus(t *testing.T) {
	w := &failWriter{}
	tr := progress.New(w, progress.Options{Interval: time.Millisecond})

	tr.Update(1, time.Millisecond)
	tr.Update(1, 2*time.Millisecond)

	assert.Equal(t, 1, w.calls)
	assert.Zero(t, tr.Renders())
}
