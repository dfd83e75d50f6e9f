// Package wav provides graph nodes that decode and encode wav files.
package wav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"pipelined.dev/signal"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/pool"
)

const pcmFormat = 1

var (
	// ErrUnsupportedBitDepth is returned when unsupported bit depth is used.
	ErrUnsupportedBitDepth = errors.New("only 16, 24 and 32 bit depth is supported")
	// ErrInvalidFile is returned when the file is not a valid PCM wav.
	ErrInvalidFile = errors.New("wav is not valid")
)

func validate(bitDepth signal.BitDepth) error {
	switch bitDepth {
	case signal.BitDepth16, signal.BitDepth24, signal.BitDepth32:
		return nil
	}
	return fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, bitDepth)
}

// scratch is a signed signal reused between transfers.
type scratch struct {
	signed signal.Signed
	frames int
}

func (s *scratch) get(channels, frames int, bitDepth signal.BitDepth) signal.Signed {
	if s.signed == nil || s.frames < frames {
		s.signed = signal.Allocator{
			Channels: channels,
			Length:   frames,
			Capacity: frames,
		}.Int64(bitDepth)
		s.frames = frames
	}
	return s.signed.Slice(0, frames)
}

type (
	// Source decodes wav samples. It's not safe for concurrent use.
	Source struct {
		audiograph.SourceBase
		decoder  *wav.Decoder
		closer   io.Closer
		bitDepth signal.BitDepth
		ints     *audio.IntBuffer
		scratch
	}

	// Sink encodes samples into wav. The file is complete only after the
	// sink is disposed.
	Sink struct {
		audiograph.SinkBase
		encoder  *wav.Encoder
		closer   io.Closer
		bitDepth signal.BitDepth
		ints     *audio.IntBuffer
		scratch
	}
)

// Open opens wav file at path. The file is closed when the source is
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
func NewSource(g *audiograph.Graph, r io.ReadSeeker) (*Source, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, ErrInvalidFile
	}
	if decoder.WavAudioFormat != pcmFormat {
		return nil, fmt.Errorf("%w: audio format %d", ErrInvalidFile, decoder.WavAudioFormat)
	}
	if err := validate(signal.BitDepth(decoder.BitDepth)); err != nil {
		return nil, err
	}
	f, err := format(decoder.SampleRate, int(decoder.NumChans))
	if err != nil {
		return nil, err
	}
	s := Source{
		decoder:  decoder,
		bitDepth: signal.BitDepth(decoder.BitDepth),
		ints: &audio.IntBuffer{
			Format:         decoder.Format(),
			SourceBitDepth: int(decoder.BitDepth),
		},
	}
	s.InitSource(f)
	if err := g.CreateNode(&s, "wav.source"); err != nil {
		return nil, err
	}
	return &s, nil
}

func format(sampleRate uint32, channels int) (audiograph.Format, error) {
	switch channels {
	case 1:
		return audiograph.MonoFormat(sampleRate), nil
	case 2:
		return audiograph.StereoFormat(sampleRate), nil
	}
	return audiograph.PackedFormat(sampleRate, channels)
}

// BitDepth returns bit depth of decoded samples.
func (s *Source) BitDepth() signal.BitDepth {
	return s.bitDepth
}

// Read decodes up to count samples per channel.
func (s *Source) Read(ctx context.Context, buf []float32, offset, count int) (int, error) {
	if err := s.CheckRead(ctx, buf, offset, count); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	f := s.OutputFormat()
	size := f.Len(count)
	if cap(s.ints.Data) < size {
		s.ints.Data = make([]int, size)
	}
	s.ints.Data = s.ints.Data[:size]
	n, err := s.decoder.PCMBuffer(s.ints)
	if err != nil {
		return 0, audiograph.Fault("decode wav: %v", err)
	}
	frames := n / f.NumChannels()
	if frames == 0 {
		s.SetFinished()
		return 0, io.EOF
	}
	ints := s.get(f.NumChannels(), frames, s.bitDepth)
	signal.WriteInt(s.ints.Data[:f.Len(frames)], ints)
	floats, release := pool.Floating(f.NumChannels(), frames)
	defer release()
	signal.SignedAsFloating(ints, floats)
	signal.ReadFloat32(floats, buf[offset:offset+f.Len(frames)])
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

// Create creates wav file at path for samples of format f.
func Create(g *audiograph.Graph, f audiograph.Format, path string, bitDepth signal.BitDepth) (*Sink, error) {
	if err := validate(bitDepth); err != nil {
		return nil, err
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	s, err := NewSink(g, f, file, bitDepth)
	if err != nil {
		return nil, errors.Join(err, file.Close())
	}
	s.closer = file
	s.SetName(path)
	return s, nil
}

// NewSink returns a sink that encodes samples of format f into w.
// Samples are clamped to [-1, 1].
func NewSink(g *audiograph.Graph, f audiograph.Format, w io.WriteSeeker, bitDepth signal.BitDepth) (*Sink, error) {
	if err := validate(bitDepth); err != nil {
		return nil, err
	}
	s := Sink{
		encoder:  wav.NewEncoder(w, int(f.SampleRate), int(bitDepth), f.NumChannels(), pcmFormat),
		bitDepth: bitDepth,
		ints: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: f.NumChannels(),
				SampleRate:  int(f.SampleRate),
			},
			SourceBitDepth: int(bitDepth),
		},
	}
	s.InitSink(f)
	if err := g.CreateNode(&s, "wav.sink"); err != nil {
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
	size := f.Len(count)
	if cap(s.ints.Data) < size {
		s.ints.Data = make([]int, size)
	}
	s.ints.Data = s.ints.Data[:size]
	floats, release := pool.Floating(f.NumChannels(), count)
	defer release()
	signal.WriteFloat32(buf[offset:offset+size], floats)
	ints := s.get(f.NumChannels(), count, s.bitDepth)
	signal.FloatingAsSigned(floats, ints)
	signal.ReadInt(ints, s.ints.Data)
	if err := s.encoder.Write(s.ints); err != nil {
		return audiograph.Fault("encode wav: %v", err)
	}
	return nil
}

// Dispose finalizes the wav header and closes the file if the sink created
// it.
func (s *Sink) Dispose() error {
	return s.DisposeOnce(func() error {
		err := s.encoder.Close()
		if s.closer != nil {
			err = errors.Join(err, s.closer.Close())
		}
		return err
	})
}
