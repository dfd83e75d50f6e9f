package audiograph

import (
	"fmt"
	"time"
)

// MaxPackedChannels is the largest channel count a packed mapping can
// describe.
const MaxPackedChannels = 12

// ChannelMapping describes how channels are laid out in an interleaved
// frame. The zero value is invalid.
type ChannelMapping uint8

const (
	// Mono is a single front center channel.
	Mono ChannelMapping = iota + 1
	// Stereo is left, right.
	Stereo
	packedBase
)

// PackedMapping returns a mapping of n channels without speaker
// assignment.
func PackedMapping(n int) ChannelMapping {
	if n < 1 || n > MaxPackedChannels {
		return 0
	}
	return packedBase + ChannelMapping(n-1)
}

// Channels returns the number of channels the mapping describes, or 0 if
// the mapping is invalid.
func (m ChannelMapping) Channels() int {
	switch {
	case m == Mono:
		return 1
	case m == Stereo:
		return 2
	case m >= packedBase && m < packedBase+MaxPackedChannels:
		return int(m-packedBase) + 1
	}
	return 0
}

// IsPacked reports whether the mapping is a packed one.
func (m ChannelMapping) IsPacked() bool {
	return m >= packedBase && m < packedBase+MaxPackedChannels
}

func (m ChannelMapping) String() string {
	switch {
	case m == Mono:
		return "mono"
	case m == Stereo:
		return "stereo"
	case m.IsPacked():
		return fmt.Sprintf("packed(%d)", m.Channels())
	}
	return "unknown"
}

// Format describes sample rate and channel layout of interleaved float32
// PCM. Formats are compared with ==.
type Format struct {
	SampleRate uint32
	Channels   uint8
	Mapping    ChannelMapping
}

// MonoFormat returns a single channel format.
func MonoFormat(sampleRate uint32) Format {
	return Format{SampleRate: sampleRate, Channels: 1, Mapping: Mono}
}

// StereoFormat returns a left-right format.
func StereoFormat(sampleRate uint32) Format {
	return Format{SampleRate: sampleRate, Channels: 2, Mapping: Stereo}
}

// PackedFormat returns a format with n channels without speaker
// assignment. A single packed channel is mono.
func PackedFormat(sampleRate uint32, n int) (Format, error) {
	if n == 1 {
		return MonoFormat(sampleRate), nil
	}
	m := PackedMapping(n)
	if m == 0 {
		return Format{}, fmt.Errorf("%w: unsupported packed channel count %d", ErrInvalidOperation, n)
	}
	f := Format{SampleRate: sampleRate, Channels: uint8(n), Mapping: m}
	return f, f.Validate()
}

// Validate checks format invariants.
func (f Format) Validate() error {
	switch {
	case f.SampleRate == 0:
		return fmt.Errorf("%w: sample rate must be positive", ErrInvalidOperation)
	case f.Channels < 1:
		return fmt.Errorf("%w: at least one channel is required", ErrInvalidOperation)
	case f.Mapping.Channels() != int(f.Channels):
		return fmt.Errorf("%w: channel count %d does not match mapping %v", ErrInvalidOperation, f.Channels, f.Mapping)
	}
	return nil
}

// NumChannels returns channel count as int.
func (f Format) NumChannels() int {
	return int(f.Channels)
}

// SamplesPerChannel returns the number of samples per channel that fit in
// duration d.
func (f Format) SamplesPerChannel(d time.Duration) int {
	return int(int64(f.SampleRate) * int64(d) / int64(time.Second))
}

// Duration returns the duration of n samples per channel.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate)
}

// Len returns number of interleaved elements that hold n samples per
// channel.
func (f Format) Len(n int) int {
	return n * int(f.Channels)
}

func (f Format) String() string {
	return fmt.Sprintf("%d channel(s) %dHz %v", f.Channels, f.SampleRate, f.Mapping)
}
