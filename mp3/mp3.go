// Package mp3 provides graph nodes that decode and encode mp3 files.
package mp3

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"
	"github.com/viert/lame"
	"pipelined.dev/signal"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/pool"
)

// Decoder always provides 16 bit stereo.
const (
	channels      = 2
	bytesPerFrame = 2 * channels
)

// codec converts between float samples and 16 bit little endian bytes.
type codec struct {
	bytes  []byte
	ints   []int16
	signed signal.Signed
	frames int
}

// reserve sizes the buffers for frames samples per channel.
func (c *codec) reserve(channels, frames int) {
	size := channels * frames
	if cap(c.ints) < size {
		c.ints = make([]int16, size)
		c.bytes = make([]byte, 2*size)
	}
	c.ints = c.ints[:size]
	c.bytes = c.bytes[:2*size]
	if c.signed == nil || c.signed.Channels() != channels || c.frames < frames {
		c.signed = signal.Allocator{
			Channels: channels,
			Length:   frames,
			Capacity: frames,
		}.Int64(signal.BitDepth16)
		c.frames = frames
	}
}

// decode converts first frames of bytes into out.
func (c *codec) decode(out []float32, channels, frames int) {
	size := channels * frames
	for i := range c.ints[:size] {
		c.ints[i] = int16(binary.LittleEndian.Uint16(c.bytes[2*i:]))
	}
	ints := c.signed.Slice(0, frames)
	signal.WriteInt16(c.ints[:size], ints)
	floats, release := pool.Floating(channels, frames)
	defer release()
	signal.SignedAsFloating(ints, floats)
	signal.ReadFloat32(floats, out)
}

// encode converts in into bytes. Samples are clamped to [-1, 1].
func (c *codec) encode(in []float32, channels, frames int) {
	floats, release := pool.Floating(channels, frames)
	defer release()
	signal.WriteFloat32(in, floats)
	ints := c.signed.Slice(0, frames)
	signal.FloatingAsSigned(floats, ints)
	signal.ReadInt16(ints, c.ints)
	for i, v := range c.ints {
		binary.LittleEndian.PutUint16(c.bytes[2*i:], uint16(v))
	}
}

// DefaultBitRate is used when bit rate is not set.
const DefaultBitRate = 192

// ErrUnsupportedChannels is returned when a sink is created for more than
// two channels.
var ErrUnsupportedChannels = errors.New("mp3 supports mono and stereo only")

type (
	// Source decodes mp3 samples. Decoded samples are always stereo.
	Source struct {
		audiograph.SourceBase
		decoder *mp3.Decoder
		closer  io.Closer
		codec
	}

	// Sink encodes samples into mp3. The stream is complete only after the
	// sink is disposed.
	Sink struct {
		audiograph.SinkBase
		writer *lame.LameWriter
		closer io.Closer
		codec
	}
)

// Open opens mp3 file at path. The file is closed when the source is
// disposed.
func Open(g *audiograph.Graph, path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := NewSource(g, f)
	if err != nil {
		return nil, errors.Join(err, f.Close())
	}
	s.closer = f
	s.SetName(path)
	return s, nil
}

// NewSource returns a source that decodes r.
func NewSource(g *audiograph.Graph, r io.Reader) (*Source, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("mp3 decoder: %w", err)
	}
	s := Source{
		decoder: decoder,
	}
	s.InitSource(audiograph.StereoFormat(uint32(decoder.SampleRate())))
	if err := g.CreateNode(&s, "mp3.source"); err != nil {
		return nil, err
	}
	return &s, nil
}

// Read decodes up to count samples per channel.
func (s *Source) Read(ctx context.Context, buf []float32, offset, count int) (int, error) {
	if err := s.CheckRead(ctx, buf, offset, count); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	s.reserve(channels, count)
	n, err := io.ReadFull(s.decoder, s.bytes)
	frames := n / bytesPerFrame
	switch {
	case err == nil, errors.Is(err, io.ErrUnexpectedEOF):
	case errors.Is(err, io.EOF):
	default:
		return 0, audiograph.Fault("decode mp3: %v", err)
	}
	if frames == 0 {
		s.SetFinished()
		return 0, io.EOF
	}
	s.decode(buf[offset:offset+frames*channels], channels, frames)
	return frames, nil
}

// Dispose closes the file if the source opened it.
func (s *Source) Dispose() error {
	return s.DisposeOnce(func() error {
		if s.closer != nil {
			return s.closer.Close()
		}
		return nil
	})
}

// Create creates mp3 file at path for samples of format f.
func Create(g *audiograph.Graph, f audiograph.Format, path string, bitRate, quality int) (*Sink, error) {
	if err := validate(f); err != nil {
		return nil, err
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	s, err := NewSink(g, f, file, bitRate, quality)
	if err != nil {
		return nil, errors.Join(err, file.Close())
	}
	s.closer = file
	s.SetName(path)
	return s, nil
}

func validate(f audiograph.Format) error {
	if f.NumChannels() > channels {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedChannels, f.NumChannels())
	}
	return nil
}

// NewSink returns a sink that encodes samples of format f into w. Quality
// is 0 (best) to 9 (worst). Samples are clamped to [-1, 1].
func NewSink(g *audiograph.Graph, f audiograph.Format, w io.Writer, bitRate, quality int) (*Sink, error) {
	if err := validate(f); err != nil {
		return nil, err
	}
	if bitRate <= 0 {
		bitRate = DefaultBitRate
	}
	writer := lame.NewWriter(w)
	writer.Encoder.SetBitrate(bitRate)
	writer.Encoder.SetQuality(quality)
	writer.Encoder.SetNumChannels(f.NumChannels())
	writer.Encoder.SetInSamplerate(int(f.SampleRate))
	if f.NumChannels() == 1 {
		writer.Encoder.SetMode(lame.MONO)
	} else {
		writer.Encoder.SetMode(lame.JOINT_STEREO)
	}
	writer.Encoder.SetVBR(lame.VBR_RH)
	writer.Encoder.InitParams()

	s := Sink{
		writer: writer,
	}
	s.InitSink(f)
	if err := g.CreateNode(&s, "mp3.sink"); err != nil {
		_ = writer.Close()
		return nil, err
	}
	return &s, nil
}

// Write encodes count samples per channel.
func (s *Sink) Write(ctx context.Context, buf []float32, offset, count int) error {
	if err := s.CheckWrite(ctx, buf, offset, count); err != nil {
		return err
	}
	f := s.InputFormat()
	s.reserve(f.NumChannels(), count)
	s.encode(buf[offset:offset+f.Len(count)], f.NumChannels(), count)
	if _, err := s.writer.Write(s.bytes); err != nil {
		return audiograph.Fault("encode mp3: %v", err)
	}
	return nil
}

// Dispose flushes the encoder and closes the file if the sink created it.
func (s *Sink) Dispose() error {
	return s.DisposeOnce(func() error {
		err := s.writer.Close()
		if s.closer != nil {
			err = errors.Join(err, s.closer.Close())
		}
		return err
	})
}
