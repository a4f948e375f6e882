// Package audio defines the boundary to the external audio trim tool.
// The trim algorithm itself is out of scope (spec Non-goal): this package
// only describes the call shape the Export Engine uses.
package audio

import "context"

// Window is a job's shot-relative frame window, used to compute the trim
// offsets into the shot's continuous audio capture.
type Window struct {
	StartFrame int
	EndFrame   int
	FPS        float64
}

// Trimmer trims a shot's audio.wav to a job's frame window. Implementations
// are external and opaque; CopyTrimmer is a test double that performs no
// real trimming.
type Trimmer interface {
	Trim(ctx context.Context, shotAudioPath string, window Window) ([]byte, error)
}

// CopyTrimmer is a Trimmer that ignores window and returns the shot audio
// verbatim. Useful for tests and for shots with no audio tool configured.
type CopyTrimmer struct {
	Read func(path string) ([]byte, error)
}

func (t CopyTrimmer) Trim(_ context.Context, shotAudioPath string, _ Window) ([]byte, error) {
	return t.Read(shotAudioPath)
}
