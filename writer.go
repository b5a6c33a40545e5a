package rtmp

import (
	"bufio"
	"io"
)

type Flusher interface {
	Flush() error
}

type WriteFlusher interface {
	io.Writer
	Flusher
}

// Writer counts the bytes written to a buffered socket writer.
type Writer struct {
	writer *bufio.Writer
	n      uint64
}

func NewWriter(writer *bufio.Writer) (*Writer, error) {
	if writer == nil {
		return nil, ErrNilWriter
	}
	return &Writer{writer: writer}, nil
}

// Write writes the contents of p into the underlying bufio.Writer.
// It returns the number of bytes written.
// If n < len(p), it also returns an error explaining
// why the write is short.
func (w *Writer) Write(p []byte) (n int, err error) {
	n, err = w.writer.Write(p)
	w.n += uint64(n)
	return n, err
}

// Flush writes any buffered data in the underlying bufio.Writer.
func (w *Writer) Flush() error {
	return w.writer.Flush()
}

// WrittenBytes returns the number of bytes accepted so far.
func (w *Writer) WrittenBytes() uint64 {
	return w.n
}
