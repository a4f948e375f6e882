// Package runtime implements the Slave Camera Runtime: the per-camera
// state machine, capture ring-buffer, live-view encoder, shot writer,
// shot loader, and shot submitter (§4.D).
package runtime

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RawFrame is one frame delivered by the (opaque) camera driver: an
// already-JPEG-encoded image plus its frame number. The driver, not this
// package, owns image decoding/encoding from the sensor's native format —
// out of scope per spec.md §1.
type RawFrame struct {
	FrameNumber int
	JPEG        []byte
}

// shotFilePath is the on-disk path of one camera's opaque per-shot
// container: one file per (camera, shot), indexed by frame number.
func shotFilePath(shotRoot, shotID, serial string) string {
	return filepath.Join(shotRoot, shotID, serial+".cam")
}

// ShotWriter is the sole writer of one camera's shot container (shared
// resource policy §5: exactly one writer per shot file).
type ShotWriter struct {
	f     *os.File
	w     *bufio.Writer
	index map[int]int64 // frame number -> byte offset, for same-process readers
	size  int64
	mu    sync.Mutex
}

// OpenShotWriter creates (or truncates) the container for (shotRoot, shotID,
// serial).
func OpenShotWriter(shotRoot, shotID, serial string) (*ShotWriter, error) {
	path := shotFilePath(shotRoot, shotID, serial)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("runtime: create shot dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("runtime: create shot file: %w", err)
	}
	return &ShotWriter{f: f, w: bufio.NewWriter(f), index: make(map[int]int64)}, nil
}

// Append writes one frame's JPEG bytes as [frame_number uint32][size
// uint32][jpeg bytes], preserving FIFO order end-to-end (§5 ordering
// guarantee).
func (w *ShotWriter) Append(frame RawFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	offset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("runtime: shot writer offset: %w", err)
	}
	// account for bytes already buffered but not yet flushed
	offset += int64(w.w.Buffered())

	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], uint32(frame.FrameNumber))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(frame.JPEG)))
	if _, err := w.w.Write(header); err != nil {
		return fmt.Errorf("runtime: write frame header: %w", err)
	}
	if _, err := w.w.Write(frame.JPEG); err != nil {
		return fmt.Errorf("runtime: write frame body: %w", err)
	}
	w.index[frame.FrameNumber] = offset
	w.size += int64(len(header) + len(frame.JPEG))
	return nil
}

// Stats returns the frame range actually written (min..max frame number
// seen), the frame numbers missing within that range, and the total bytes
// written — the inputs to a RECORD_REPORT (§4.A/§4.G). Called after the
// writer's caller has stopped appending (e.g. post-drain, pre-Close).
func (w *ShotWriter) Stats() (start, end int, missing []int, size int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.index) == 0 {
		return 0, -1, nil, w.size
	}
	start, end = -1, -1
	for f := range w.index {
		if start == -1 || f < start {
			start = f
		}
		if end == -1 || f > end {
			end = f
		}
	}
	for f := start; f <= end; f++ {
		if _, ok := w.index[f]; !ok {
			missing = append(missing, f)
		}
	}
	return start, end, missing, w.size
}

// Close flushes and closes the container.
func (w *ShotWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.f.Close()
}

// ShotReader serves GET_SHOT_IMAGE by opening the current shot file,
// caching the handle, and re-opening only when a request names a
// different file (§4.D shot loader).
type ShotReader struct {
	mu       sync.Mutex
	path     string
	f        *os.File
	index    map[int]int64
}

// NewShotReader builds an empty reader; the first Frame call opens a
// handle.
func NewShotReader() *ShotReader {
	return &ShotReader{}
}

// Frame returns the JPEG bytes for frameNumber in (shotRoot, shotID,
// serial), reusing the cached handle when the request names the same
// file as last time.
func (r *ShotReader) Frame(shotRoot, shotID, serial string, frameNumber int) ([]byte, error) {
	path := shotFilePath(shotRoot, shotID, serial)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.path != path {
		if r.f != nil {
			r.f.Close()
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("runtime: open shot file: %w", err)
		}
		index, err := buildIndex(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("runtime: index shot file: %w", err)
		}
		r.path, r.f, r.index = path, f, index
	}

	offset, ok := r.index[frameNumber]
	if !ok {
		return nil, fmt.Errorf("runtime: frame %d not present in %s", frameNumber, path)
	}
	if _, err := r.f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("runtime: seek frame: %w", err)
	}
	header := make([]byte, 8)
	if _, err := io.ReadFull(r.f, header); err != nil {
		return nil, fmt.Errorf("runtime: read frame header: %w", err)
	}
	size := binary.LittleEndian.Uint32(header[4:8])
	jpeg := make([]byte, size)
	if _, err := io.ReadFull(r.f, jpeg); err != nil {
		return nil, fmt.Errorf("runtime: read frame body: %w", err)
	}
	return jpeg, nil
}

// Close releases the cached handle, if any.
func (r *ShotReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f, r.path, r.index = nil, "", nil
	return err
}

func buildIndex(f *os.File) (map[int]int64, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	index := make(map[int]int64)
	var offset int64
	for {
		header := make([]byte, 8)
		n, err := io.ReadFull(f, header)
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
			break
		}
		if err != nil {
			return nil, err
		}
		frameNumber := int(binary.LittleEndian.Uint32(header[0:4]))
		size := int64(binary.LittleEndian.Uint32(header[4:8]))
		index[frameNumber] = offset
		if _, err := f.Seek(size, io.SeekCurrent); err != nil {
			return nil, err
		}
		offset += 8 + size
	}
	return index, nil
}
