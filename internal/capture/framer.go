package capture

// Framer downmixes input to mono and cuts it into buffers of a fixed size.
// Interleaved input may be split at any sample; partial frames are carried
// over to the next write.
type Framer struct {
	channels int
	ch       int     // channel of the next interleaved sample
	sum      float64 // sum of the current partial frame

	buf  Buffer
	n    int
	emit func(Buffer)
}

// NewFramer creates a framer for the given channel count that calls emit with
// every full buffer of size samples. The emitted buffer is reused.
func NewFramer(channels, size int, emit func(Buffer)) *Framer {
	return &Framer{
		channels: max(channels, 1),
		buf:      make(Buffer, size),
		emit:     emit,
	}
}

// Write consumes interleaved samples.
func (f *Framer) Write(interleaved []float64) {
	for _, s := range interleaved {
		f.add(s)
	}
}

// WriteFloat32 is Write for float32 input.
func (f *Framer) WriteFloat32(interleaved []float32) {
	for _, s := range interleaved {
		f.add(float64(s))
	}
}

// WriteChannels consumes planar input: one slice per channel, all of the same
// length. len(channels) must match the framer's channel count.
func (f *Framer) WriteChannels(channels [][]float64) {
	if len(channels) == 0 {
		return
	}
	for i := range channels[0] {
		for _, ch := range channels {
			f.add(ch[i])
		}
	}
}

func (f *Framer) add(s float64) {
	f.sum += s
	f.ch++
	if f.ch < f.channels {
		return
	}

	f.buf[f.n] = f.sum / float64(f.channels)
	f.ch, f.sum = 0, 0

	f.n++
	if f.n == len(f.buf) {
		f.emit(f.buf)
		f.n = 0
	}
}
