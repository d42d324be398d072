package copier

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/negrel/assert"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/trim21/errgo"
)

const DefaultBlockSize = 512

// consecutive (0, nil) results tolerated from a source or sink before giving up.
const maxEmptyReads = 100
const maxEmptyWrites = 3

var ErrInvalidBlockSize = errors.New("block size must be a positive integer")

var errInvalidWrite = errors.New("invalid write result")

// ProgressFunc receives the bytes of one read and the time elapsed since the copy started.
type ProgressFunc func(n int64, elapsed time.Duration)

// Flusher is implemented by sinks that buffer output, such as *bufio.Writer.
type Flusher interface {
	Flush() error
}

type Options struct {
	// Progress is called once per read, including the final empty read at end-of-stream.
	Progress ProgressFunc
	// Clock returns the time elapsed since the copy started, defaults to a wall clock started by Run.
	Clock     func() time.Duration
	BlockSize int
}

// Copier moves bytes from a source to a sink through a single buffer of BlockSize bytes.
// The buffer only reaches the sink when it is full or the source is exhausted.
type Copier struct {
	log      zerolog.Logger
	src      io.Reader
	dst      io.Writer
	progress ProgressFunc
	clock    func() time.Duration
	buf      []byte
	fill     int
	readed   int
	written  int64
	writes   int
}

func New(dst io.Writer, src io.Reader, opts Options) (*Copier, error) {
	if opts.BlockSize < 1 {
		return nil, ErrInvalidBlockSize
	}

	return &Copier{
		log:      log.With().Str("component", "copier").Int("block_size", opts.BlockSize).Logger(),
		src:      src,
		dst:      dst,
		progress: opts.Progress,
		clock:    opts.Clock,
		buf:      make([]byte, opts.BlockSize),
	}, nil
}

// Run copies until the source reports io.EOF, then flushes the sink.
// Any read, write or flush error ends the copy.
func (c *Copier) Run(ctx context.Context) error {
	if c.clock == nil {
		start := time.Now()
		c.clock = func() time.Duration { return time.Since(start) }
	}

	var empty int

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := c.src.Read(c.buf[c.fill:])
		eof := errors.Is(err, io.EOF)
		if err != nil && !eof {
			return errgo.Wrap(err, "failed to read input")
		}

		if n == 0 && !eof {
			empty++
			if empty >= maxEmptyReads {
				return errgo.Wrap(io.ErrNoProgress, "failed to read input")
			}
			continue
		}
		empty = 0

		c.fill += n
		c.readed += n

		if c.fill == len(c.buf) || eof {
			if err := c.flushBuffer(); err != nil {
				return err
			}
		}

		if c.progress != nil {
			c.progress(int64(n), c.clock())
		}

		if eof {
			return c.finish()
		}
	}
}

// flushBuffer writes the staged bytes as one logical write.
func (c *Copier) flushBuffer() error {
	if c.fill == 0 {
		return nil
	}

	assert.Equal(c.readed, c.fill)

	if err := writeFull(c.dst, c.buf[:c.fill]); err != nil {
		return errgo.Wrap(err, "failed to write output")
	}

	c.written += int64(c.fill)
	c.writes++
	c.fill = 0
	c.readed = 0

	return nil
}

func (c *Copier) finish() error {
	if f, ok := c.dst.(Flusher); ok {
		if err := f.Flush(); err != nil {
			return errgo.Wrap(err, "failed to flush output")
		}
	}

	c.log.Debug().Int64("written", c.written).Int("writes", c.writes).Msg("copy finished")

	return nil
}

// writeFull retries the remainder of a short write as long as the sink makes progress.
func writeFull(w io.Writer, p []byte) error {
	var empty int

	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}

		if n < 0 || n > len(p) {
			return errInvalidWrite
		}

		if n == 0 {
			empty++
			if empty >= maxEmptyWrites {
				return io.ErrShortWrite
			}
			continue
		}

		empty = 0
		p = p[n:]
	}

	return nil
}

// Written is the number of bytes accepted by the sink.
func (c *Copier) Written() int64 {
	return c.written
}

// Writes is the number of buffer flushes; short-write retries count as one.
func (c *Copier) Writes() int {
	return c.writes
}
