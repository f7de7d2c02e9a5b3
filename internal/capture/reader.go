package capture

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
)

func init() {
	Register("stdin", ReaderBackend{R: os.Stdin})
}

// ReaderBackend reads raw interleaved little-endian float32 PCM from R, as
// produced by `parec --format=float32le` or `ffmpeg -f f32le`.
type ReaderBackend struct {
	R io.Reader
}

// Open implements Backend.
func (b ReaderBackend) Open(cfg Config) (Stream, error) {
	if b.R == nil {
		return nil, errors.Wrap(ErrNoDevice, "no reader")
	}
	return &readerStream{r: b.R, cfg: cfg}, nil
}

type readerStream struct {
	r   io.Reader
	cfg Config
}

// readSize is the number of bytes requested per Read call.
const readSize = 16 * 1024

func (s *readerStream) Run(ctx context.Context, f func(Buffer)) error {
	framer := NewFramer(s.cfg.Channels, s.cfg.BufferSize, f)

	raw := make([]byte, readSize)
	var pending int // bytes of an incomplete sample kept at the start of raw

	for ctx.Err() == nil {
		n, err := s.r.Read(raw[pending:])
		n += pending

		whole := n - n%4
		for i := 0; i < whole; i += 4 {
			framer.add(float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i:]))))
		}
		pending = copy(raw, raw[whole:n])

		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrStreamEnded
			}
			return errors.Wrap(err, "failed to read audio input")
		}
	}

	return ctx.Err()
}

func (s *readerStream) Close() error {
	if c, ok := s.r.(io.Closer); ok && s.r != io.Reader(os.Stdin) {
		return c.Close()
	}
	return nil
}
