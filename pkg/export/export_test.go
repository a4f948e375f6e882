package export_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonshinevfx/4drec-go/pkg/audio"
	"github.com/moonshinevfx/4drec-go/pkg/export"
	"github.com/moonshinevfx/4drec-go/pkg/frame"
	"github.com/moonshinevfx/4drec-go/pkg/logger"
	"github.com/moonshinevfx/4drec-go/pkg/roll"
)

type recordingUI struct {
	mu    sync.Mutex
	ticks []int
	ok    map[int]bool
	done  bool
}

func newRecordingUI() *recordingUI { return &recordingUI{ok: make(map[int]bool)} }

func (u *recordingUI) Tick(_ string, f int, ok bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ticks = append(u.ticks, f)
	u.ok[f] = ok
}

func (u *recordingUI) Done(_ string, _, _ int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.done = true
}

func writeFrameRecord(t *testing.T, jobFolder string, f int, rec *frame.Record) {
	t.Helper()
	dir := filepath.Join(jobFolder, "output", "frame")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	var buf bytes.Buffer
	require.NoError(t, frame.EncodeLegacy(&buf, rec))
	require.NoError(t, os.WriteFile(filepath.Join(dir, frameRecordName(f)), buf.Bytes(), 0o644))
}

func frameRecordName(f int) string { return fmt.Sprintf("%04d.frame-record", f) }
func objFileName(f int) string     { return fmt.Sprintf("%04d.obj", f) }

func newTestEngine(t *testing.T, ui export.UI) *export.Engine {
	t.Helper()
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	trimmer := audio.CopyTrimmer{Read: func(path string) ([]byte, error) { return []byte("wav-bytes"), nil }}
	return export.New(4, trimmer, log, ui)
}

func TestExportParallelObjWritesPerFrameFiles(t *testing.T) {
	jobFolder := t.TempDir()
	for f := 0; f <= 2; f++ {
		writeFrameRecord(t, jobFolder, f, &frame.Record{
			Positions: []float32{float32(f), 0, 0, 1, 1, 1},
			UVs:       []float32{0, 0, 1, 1},
			Texture:   []byte("jpeg"),
		})
	}

	ui := newRecordingUI()
	e := newTestEngine(t, ui)

	err := e.Export(context.Background(), export.Request{
		JobFolder: jobFolder, FrameStart: 0, FrameEnd: 2, FPS: 30, Dest: "out.obj",
	})
	require.NoError(t, err)

	assert.True(t, ui.done)
	assert.Len(t, ui.ticks, 3)

	for f := 0; f <= 2; f++ {
		objPath := filepath.Join(jobFolder, "output", "out", "obj", objFileName(f))
		_, statErr := os.Stat(objPath)
		assert.NoError(t, statErr)
	}
}

func TestExportOrderedAlembicStyleProducesFrameOrderedArchive(t *testing.T) {
	jobFolder := t.TempDir()
	for f := 0; f <= 3; f++ {
		writeFrameRecord(t, jobFolder, f, &frame.Record{
			Positions: []float32{float32(f), 0, 0},
			UVs:       []float32{0, 0},
			Texture:   []byte{byte(f)},
		})
	}

	ui := newRecordingUI()
	e := newTestEngine(t, ui)

	err := e.Export(context.Background(), export.Request{
		JobFolder: jobFolder, FrameStart: 0, FrameEnd: 3, FPS: 30, Dest: "out.abc",
	})
	require.NoError(t, err)
	assert.True(t, ui.done)

	archivePath := filepath.Join(jobFolder, "output", "out", "export.4dr")
	data, readErr := os.ReadFile(archivePath)
	require.NoError(t, readErr)

	r, err := roll.Read(data)
	require.NoError(t, err)
	require.Len(t, r.Frames, 4)
	for f := 0; f <= 3; f++ {
		assert.Equal(t, []byte{byte(f)}, r.Frames[f].Texture, "archive must preserve frame order independent of completion order")
	}
}

func TestExportSkipsMissingFrameWithoutAborting(t *testing.T) {
	jobFolder := t.TempDir()
	writeFrameRecord(t, jobFolder, 0, &frame.Record{Positions: []float32{0, 0, 0}, UVs: []float32{0, 0}, Texture: []byte{0}})
	// frame 1 intentionally absent
	writeFrameRecord(t, jobFolder, 2, &frame.Record{Positions: []float32{2, 0, 0}, UVs: []float32{0, 0}, Texture: []byte{2}})

	ui := newRecordingUI()
	e := newTestEngine(t, ui)

	err := e.Export(context.Background(), export.Request{
		JobFolder: jobFolder, FrameStart: 0, FrameEnd: 2, FPS: 30, Dest: "out.abc",
	})
	require.NoError(t, err)
	assert.False(t, ui.ok[1], "missing frame must be reported not-ok, not abort the export")

	archivePath := filepath.Join(jobFolder, "output", "out", "export.4dr")
	data, readErr := os.ReadFile(archivePath)
	require.NoError(t, readErr)
	r, err := roll.Read(data)
	require.NoError(t, err)
	assert.Len(t, r.Frames, 2, "the missing frame is omitted, not padded")
}
