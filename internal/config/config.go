// Package config loads mix jobs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pipelined.dev/audiograph"
)

// Defaults of a job.
const (
	DefaultSampleRate = 44100
	DefaultChannels   = 2
	DefaultChunk      = 512
	DefaultBitDepth   = 16
	DefaultBitRate    = 192
	DefaultQuality    = 2
)

// ErrInvalidJob is returned when a job fails validation.
var ErrInvalidJob = errors.New("invalid job")

type (
	// Job describes an offline mix.
	Job struct {
		SampleRate uint32  `yaml:"sample_rate"`
		Channels   int     `yaml:"channels"`
		Chunk      int     `yaml:"chunk"`
		Realtime   bool    `yaml:"realtime"`
		Output     Output  `yaml:"output"`
		Inputs     []Input `yaml:"inputs"`
	}

	// Output is the file the mix is written to. Encoding is chosen by
	// extension.
	Output struct {
		Path     string `yaml:"path"`
		BitDepth int    `yaml:"bit_depth"`
		BitRate  int    `yaml:"bit_rate"`
		Quality  int    `yaml:"quality"`
	}

	// Input is either a file or a generated sine.
	Input struct {
		Path   string  `yaml:"path"`
		Sine   *Sine   `yaml:"sine"`
		GainDB float32 `yaml:"gain_db"`
		Token  string  `yaml:"token"`
	}

	// Sine is a generated tone.
	Sine struct {
		Frequency float64       `yaml:"frequency"`
		Amplitude float32       `yaml:"amplitude"`
		Duration  time.Duration `yaml:"duration"`
	}
)

// Load reads a job from a yaml file. Relative paths in the job are
// resolved against the job directory.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", path, err)
	}
	job, err := Parse(data)
	if err != nil {
		return nil, err
	}
	job.resolve(filepath.Dir(path))
	return job, nil
}

// Parse decodes and validates a job.
func Parse(data []byte) (*Job, error) {
	job := Job{
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
		Chunk:      DefaultChunk,
		Output: Output{
			BitDepth: DefaultBitDepth,
			BitRate:  DefaultBitRate,
			Quality:  DefaultQuality,
		},
	}
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// Format returns the format of the mix.
func (j *Job) Format() (audiograph.Format, error) {
	switch j.Channels {
	case 1:
		return audiograph.MonoFormat(j.SampleRate), nil
	case 2:
		return audiograph.StereoFormat(j.SampleRate), nil
	}
	return audiograph.PackedFormat(j.SampleRate, j.Channels)
}

// Validate checks the job.
func (j *Job) Validate() error {
	var problems []string
	if j.SampleRate == 0 {
		problems = append(problems, "sample_rate must be positive")
	}
	if j.Chunk <= 0 {
		problems = append(problems, "chunk must be positive")
	}
	if f, err := j.Format(); err != nil {
		problems = append(problems, err.Error())
	} else if err := f.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	switch ext := Ext(j.Output.Path); {
	case j.Output.Path == "":
		problems = append(problems, "output.path is required")
	case ext != ".wav" && ext != ".mp3":
		problems = append(problems, fmt.Sprintf("output %q: unsupported extension", j.Output.Path))
	}
	if len(j.Inputs) == 0 {
		problems = append(problems, "at least one input is required")
	}
	for i, in := range j.Inputs {
		switch {
		case in.Path == "" && in.Sine == nil:
			problems = append(problems, fmt.Sprintf("input %d: path or sine is required", i))
		case in.Path != "" && in.Sine != nil:
			problems = append(problems, fmt.Sprintf("input %d: path and sine are exclusive", i))
		case in.Sine != nil && in.Sine.Duration <= 0:
			problems = append(problems, fmt.Sprintf("input %d: sine duration must be positive", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidJob, strings.Join(problems, "; "))
	}
	return nil
}

func (j *Job) resolve(dir string) {
	if j.Output.Path != "" && !filepath.IsAbs(j.Output.Path) {
		j.Output.Path = filepath.Join(dir, j.Output.Path)
	}
	for i := range j.Inputs {
		if p := j.Inputs[i].Path; p != "" && !filepath.IsAbs(p) {
			j.Inputs[i].Path = filepath.Join(dir, p)
		}
	}
}

// Ext returns lower case extension of path.
func Ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
