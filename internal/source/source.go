package source

import (
	"io"
	"os"

	"github.com/mxk/go-flowrate/flowrate"
	"github.com/trim21/errgo"
)

// StdinName is the path that selects standard input, like an empty path.
const StdinName = "-"

// Source is the input of a copy.
type Source interface {
	io.ReadCloser
	// Name is the path of the input, or "-" for standard input.
	Name() string
	// Size is the known length in bytes, 0 when unknown.
	Size() int64
}

type stdinSource struct {
	io.Reader
}

func (stdinSource) Name() string { return StdinName }
func (stdinSource) Size() int64  { return 0 }

// Close closes the underlying reader if it is an io.Closer, which only happens when the process is done with it.
func (s stdinSource) Close() error {
	if c, ok := s.Reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type fileSource struct {
	*os.File
	size int64
}

func (f *fileSource) Size() int64 { return f.size }

// Stdin wraps r as a source of unknown size.
func Stdin(r io.Reader) Source {
	return stdinSource{Reader: r}
}

// Resolve selects standard input for an empty path or "-", otherwise opens path.
// Only a regular file reports its length, pipes and devices have an unknown size.
func Resolve(path string, stdin io.Reader) (Source, error) {
	if path == "" || path == StdinName {
		return Stdin(stdin), nil
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, errgo.Wrap(err, "failed to stat input file")
	}

	if stat.IsDir() {
		return nil, errgo.Wrap(ErrIsDirectory, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errgo.Wrap(err, "failed to open input file")
	}

	var size int64
	if stat.Mode().IsRegular() {
		size = stat.Size()
		adviseSequential(f)
	}

	return &fileSource{File: f, size: size}, nil
}

// Limit caps reads from r to bytesPerSec, 0 means unlimited.
// The returned reader also measures the transfer rate.
func Limit(r io.Reader, bytesPerSec int64) *flowrate.Reader {
	return flowrate.NewReader(r, bytesPerSec)
}
