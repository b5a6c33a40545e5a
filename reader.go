package rtmp

import "bufio"

// Reader counts the bytes read from a socket.
type Reader struct {
	reader *bufio.Reader
	n      uint64
}

func NewReader(reader *bufio.Reader) (*Reader, error) {
	if reader == nil {
		return nil, ErrNilReader
	}
	return &Reader{reader: reader}, nil
}

// Read reads whatever is available from the underlying bufio.Reader into p, at most len(p) bytes. Unlike
// io.ReadFull it returns as soon as some bytes arrived, so partial chunks reach the decoder without
// waiting for more.
func (r *Reader) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)
	r.n += uint64(n)
	return n, err
}

// ReadBytes returns the number of bytes read so far.
func (r *Reader) ReadBytes() uint64 {
	return r.n
}
