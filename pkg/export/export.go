// Package export implements the Export Engine: a worker-pooled conversion
// of a job's frame records into a single geometry archive, preserving
// frame order regardless of worker completion order.
package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/moonshinevfx/4drec-go/pkg/audio"
	"github.com/moonshinevfx/4drec-go/pkg/errs"
	"github.com/moonshinevfx/4drec-go/pkg/frame"
	"github.com/moonshinevfx/4drec-go/pkg/logger"
	"github.com/moonshinevfx/4drec-go/pkg/roll"
	"github.com/moonshinevfx/4drec-go/pkg/workerpool"
)

// UI receives one Tick per completed frame (ok reports whether a record
// was found on disk) and a final Done summary.
type UI interface {
	Tick(dest string, frame int, ok bool)
	Done(dest string, total, exported int)
}

// Request describes one export.
type Request struct {
	JobFolder     string
	ShotAudioPath string
	FrameStart    int
	FrameEnd      int
	FPS           float64
	// Dest is a filename with suffix .abc, .obj, or .4dh; only the suffix
	// and stem are used (output goes to JobFolder/output/<sanitized stem>).
	Dest string
}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

func sanitize(stem string) string {
	return nonAlnum.ReplaceAllString(stem, "_")
}

// Engine runs exports over a fixed goroutine pool.
type Engine struct {
	pool    *workerpool.Pool
	trimmer audio.Trimmer
	log     *logger.Logger
	ui      UI
}

// New builds an Engine with the given parallelism.
func New(poolSize int, trimmer audio.Trimmer, log *logger.Logger, ui UI) *Engine {
	return &Engine{pool: workerpool.New(poolSize), trimmer: trimmer, log: log, ui: ui}
}

// Export runs req, dispatching to the per-frame parallel path for
// .obj/.4dh or the frame-ordered Alembic-style path for .abc.
func (e *Engine) Export(ctx context.Context, req Request) error {
	ext := strings.ToLower(filepath.Ext(req.Dest))
	stem := strings.TrimSuffix(filepath.Base(req.Dest), filepath.Ext(req.Dest))
	destFolder := filepath.Join(req.JobFolder, "output", sanitize(stem))
	if err := os.MkdirAll(destFolder, 0o755); err != nil {
		return fmt.Errorf("export: create dest folder: %w", err)
	}

	if err := e.trimAudio(ctx, req, destFolder); err != nil {
		e.log.Warn("export: audio trim failed, continuing without audio", "job_folder", req.JobFolder, "error", err)
	}

	switch ext {
	case ".abc":
		return e.exportOrdered(ctx, req, destFolder)
	case ".obj", ".4dh":
		return e.exportParallel(ctx, req, destFolder, ext)
	default:
		return fmt.Errorf("export: unsupported destination suffix %q", ext)
	}
}

func (e *Engine) trimAudio(ctx context.Context, req Request, destFolder string) error {
	if req.ShotAudioPath == "" {
		return nil
	}
	trimmed, err := e.trimmer.Trim(ctx, req.ShotAudioPath, audio.Window{
		StartFrame: req.FrameStart, EndFrame: req.FrameEnd, FPS: req.FPS,
	})
	if err != nil {
		return errs.New(errs.ExternalToolFailure, err)
	}
	return os.WriteFile(filepath.Join(destFolder, "audio.wav"), trimmed, 0o644)
}

func (e *Engine) framePath(jobFolder string, f int) string {
	return filepath.Join(jobFolder, "output", "frame", fmt.Sprintf("%04d.frame-record", f))
}

func (e *Engine) loadFrame(jobFolder string, f int) (*frame.Record, error) {
	data, err := os.ReadFile(e.framePath(jobFolder, f))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.ResourceMissing, err)
		}
		return nil, errs.New(errs.TransientIO, err)
	}
	return frame.DecodeLegacy(data)
}

// exportParallel is the embarrassingly-parallel .obj/.4dh case: every
// frame is independent, so completion order doesn't matter and each task
// writes its own files directly.
func (e *Engine) exportParallel(ctx context.Context, req Request, destFolder, ext string) error {
	geomDir := "geo"
	if ext == ".obj" {
		geomDir = "obj"
	}
	textureDir := filepath.Join(destFolder, "texture")
	if err := os.MkdirAll(filepath.Join(destFolder, geomDir), 0o755); err != nil {
		return fmt.Errorf("export: create geometry dir: %w", err)
	}
	if err := os.MkdirAll(textureDir, 0o755); err != nil {
		return fmt.Errorf("export: create texture dir: %w", err)
	}

	total := req.FrameEnd - req.FrameStart + 1
	var futures []*workerpool.Future[bool]
	for f := req.FrameStart; f <= req.FrameEnd; f++ {
		f := f
		futures = append(futures, workerpool.Submit(e.pool, func() (bool, error) {
			rec, err := e.loadFrame(req.JobFolder, f)
			if err != nil {
				e.log.Warn("export: frame missing, skipping", "frame", f, "error", err)
				e.ui.Tick(req.Dest, f, false)
				return false, nil
			}
			if err := writeGeometry(filepath.Join(destFolder, geomDir), ext, f, rec); err != nil {
				return false, err
			}
			if err := os.WriteFile(filepath.Join(textureDir, fmt.Sprintf("%04d.jpg", f)), rec.Texture, 0o644); err != nil {
				return false, fmt.Errorf("export: write texture: %w", err)
			}
			e.ui.Tick(req.Dest, f, true)
			return true, nil
		}))
	}

	exported := 0
	for res := range workerpool.AsCompleted(futures) {
		if res.Err != nil {
			return res.Err
		}
		if res.Value {
			exported++
		}
	}
	e.ui.Done(req.Dest, total, exported)
	return nil
}

func writeGeometry(dir, ext string, f int, rec *frame.Record) error {
	if ext == ".4dh" {
		data, err := encodeGeometryOnly(rec)
		if err != nil {
			return fmt.Errorf("export: encode geometry: %w", err)
		}
		return os.WriteFile(filepath.Join(dir, fmt.Sprintf("%04d.geo", f)), data, 0o644)
	}
	return os.WriteFile(filepath.Join(dir, fmt.Sprintf("%04d.obj", f)), objText(rec), 0o644)
}

// encodeGeometryOnly uses the frame record codec with an empty texture so
// only the header+positions+uvs portion is written, keeping geometry and
// texture in their own export subfolders.
func encodeGeometryOnly(rec *frame.Record) ([]byte, error) {
	var buf bytes.Buffer
	geomOnly := &frame.Record{Positions: rec.Positions, UVs: rec.UVs}
	if err := frame.EncodeLegacy(&buf, geomOnly); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func objText(rec *frame.Record) []byte {
	var b strings.Builder
	n := rec.PointCount()
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "v %g %g %g\n", rec.Positions[3*i], rec.Positions[3*i+1], rec.Positions[3*i+2])
	}
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "vt %g %g\n", rec.UVs[2*i], rec.UVs[2*i+1])
	}
	return []byte(b.String())
}

type frameTask struct {
	frame int
	rec   *frame.Record
	err   error
}

// exportOrdered is the Alembic-style .abc case: a real archive writer
// requires strict frame order, so completions are held in a pending
// buffer keyed by frame and drained through a current_f cursor; a missing
// frame still advances the cursor (omitted from the archive, one tick
// emitted). The ordered result is packed with the Roll Container format
// of pkg/roll (no Alembic encoder exists in this
// ecosystem; see DESIGN.md).
func (e *Engine) exportOrdered(ctx context.Context, req Request, destFolder string) error {
	total := req.FrameEnd - req.FrameStart + 1
	var futures []*workerpool.Future[frameTask]
	for f := req.FrameStart; f <= req.FrameEnd; f++ {
		f := f
		futures = append(futures, workerpool.Submit(e.pool, func() (frameTask, error) {
			rec, err := e.loadFrame(req.JobFolder, f)
			return frameTask{frame: f, rec: rec, err: err}, nil
		}))
	}

	pending := make(map[int]*frame.Record)
	cursor := req.FrameStart
	ordered := make([]roll.FrameBlob, 0, total)
	exported := 0

	for res := range workerpool.AsCompleted(futures) {
		tr := res.Value
		if tr.err != nil {
			e.log.Warn("export: frame missing, skipping", "frame", tr.frame, "error", tr.err)
			e.ui.Tick(req.Dest, tr.frame, false)
			pending[tr.frame] = nil
		} else {
			pending[tr.frame] = tr.rec
			e.ui.Tick(req.Dest, tr.frame, true)
		}

		for {
			rec, ok := pending[cursor]
			if !ok {
				break
			}
			if rec != nil {
				geo, err := encodeGeometryOnly(rec)
				if err != nil {
					return fmt.Errorf("export: encode frame %d: %w", cursor, err)
				}
				ordered = append(ordered, roll.FrameBlob{Geometry: geo, Texture: rec.Texture})
				exported++
			}
			delete(pending, cursor)
			cursor++
		}
	}

	archivePath := filepath.Join(destFolder, "export.4dr")
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("export: create archive: %w", err)
	}
	defer out.Close()

	stem := sanitize(strings.TrimSuffix(filepath.Base(req.Dest), filepath.Ext(req.Dest)))
	if err := roll.Pack(out, stem, stem, req.FPS, ordered, nil, nil); err != nil {
		out.Close()
		if rmErr := os.Remove(archivePath); rmErr != nil {
			e.log.Warn("export: remove partial archive failed", "path", archivePath, "error", rmErr)
		}
		return fmt.Errorf("export: pack archive: %w", err)
	}

	e.ui.Done(req.Dest, total, exported)
	return nil
}
