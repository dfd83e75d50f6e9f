package main

import (
	"fmt"

	"pipelined.dev/signal"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/internal/config"
	"pipelined.dev/audiograph/mp3"
	"pipelined.dev/audiograph/wav"
)

// openSource opens an audio file by its extension.
func openSource(g *audiograph.Graph, path string) (audiograph.Source, error) {
	var (
		src audiograph.Source
		err error
	)
	switch config.Ext(path) {
	case ".wav":
		src, err = wav.Open(g, path)
	case ".mp3":
		src, err = mp3.Open(g, path)
	default:
		return nil, fmt.Errorf("%s: unsupported file extension", path)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return src, nil
}

// createSink creates an audio file by its extension.
func createSink(g *audiograph.Graph, f audiograph.Format, out config.Output) (audiograph.Sink, error) {
	var (
		dst audiograph.Sink
		err error
	)
	switch config.Ext(out.Path) {
	case ".wav":
		dst, err = wav.Create(g, f, out.Path, signal.BitDepth(out.BitDepth))
	case ".mp3":
		dst, err = mp3.Create(g, f, out.Path, out.BitRate, out.Quality)
	default:
		return nil, fmt.Errorf("%s: unsupported file extension", out.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", out.Path, err)
	}
	return dst, nil
}
