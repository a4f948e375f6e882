// Package resolvecache implements the fingerprint-addressed frame cache
// used for playback scrubbing: a resolution-gated invalidation rule sits
// above an LRU byte-budget safety net, and rapid scrubbing is coalesced
// through a debounce window before a load task is enqueued. Cached entries
// are compressed bundles, not decoded copies (§4.J): LZ4-frame over the raw
// position/UV/texture byte arrays, with the texture re-sampled to the
// requested display resolution before it is ever compressed.
package resolvecache

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/disintegration/imaging"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pierrec/lz4/v4"

	"github.com/moonshinevfx/4drec-go/pkg/frame"
	"github.com/moonshinevfx/4drec-go/pkg/logger"
	"github.com/moonshinevfx/4drec-go/pkg/workerpool"
)

// Fingerprint keys a cached artifact by (job, shot-relative frame).
type Fingerprint struct {
	JobID string
	Frame int
}

// compressedFloats is an LZ4-frame compressed float32 array plus the
// element count needed to decode it back to its original shape — the
// cache never retains the decoded array itself.
type compressedFloats struct {
	count int
	data  []byte
}

func compressFloats(vals []float32) (compressedFloats, error) {
	raw := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	data, err := lz4Compress(raw)
	if err != nil {
		return compressedFloats{}, err
	}
	return compressedFloats{count: len(vals), data: data}, nil
}

func (c compressedFloats) decode() ([]float32, error) {
	raw, err := lz4Decompress(c.data)
	if err != nil {
		return nil, err
	}
	out := make([]float32, c.count)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

func lz4Compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lz4Decompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}

// Bundle is the compressed cached artifact for one fingerprint: positions
// and UVs are LZ4-frame compressed float32 arrays, texture is an LZ4-frame
// compressed JPEG already re-sampled to Resolution. Each cached buffer
// carries only (shape, compressed bytes); Decode allocates a fresh buffer
// per read (§9) — the cache stores no decoded copies.
type Bundle struct {
	positions  compressedFloats
	uvs        compressedFloats
	texture    []byte // lz4-compressed JPEG bytes
	Resolution int
}

func (b *Bundle) byteSize() int64 {
	return int64(len(b.positions.data) + len(b.uvs.data) + len(b.texture))
}

// Decode decompresses the bundle into a fresh frame.Record. Every call
// allocates new slices; no decoded state is shared across callers.
func (b *Bundle) Decode() (*frame.Record, error) {
	positions, err := b.positions.decode()
	if err != nil {
		return nil, fmt.Errorf("resolvecache: decode positions: %w", err)
	}
	uvs, err := b.uvs.decode()
	if err != nil {
		return nil, fmt.Errorf("resolvecache: decode uvs: %w", err)
	}
	texture, err := lz4Decompress(b.texture)
	if err != nil {
		return nil, fmt.Errorf("resolvecache: decode texture: %w", err)
	}
	return &frame.Record{Positions: positions, UVs: uvs, Texture: texture}, nil
}

// newBundle compresses rec into a cache-ready Bundle, re-sampling the
// texture per §4.J: downscale bicubically when it exceeds the requested
// resolution, or report the texture's own native size when it is smaller
// (the cached resolution is "downgraded", not the image upscaled).
func newBundle(rec *frame.Record, requestedResolution int) (*Bundle, error) {
	texture, actualResolution, err := optimizeTexture(rec.Texture, requestedResolution)
	if err != nil {
		return nil, fmt.Errorf("resolvecache: optimize texture: %w", err)
	}

	pos, err := compressFloats(rec.Positions)
	if err != nil {
		return nil, fmt.Errorf("resolvecache: compress positions: %w", err)
	}
	uvs, err := compressFloats(rec.UVs)
	if err != nil {
		return nil, fmt.Errorf("resolvecache: compress uvs: %w", err)
	}
	compressedTexture, err := lz4Compress(texture)
	if err != nil {
		return nil, fmt.Errorf("resolvecache: compress texture: %w", err)
	}

	return &Bundle{positions: pos, uvs: uvs, texture: compressedTexture, Resolution: actualResolution}, nil
}

// optimizeTexture decodes jpegBytes, bicubically downscales it to
// requestedResolution when the texture is larger, and otherwise leaves it
// untouched — reporting the texture's native width as the resolution the
// cache actually holds it at, so a later request at that same native size
// is a cache hit rather than a needless re-fetch.
func optimizeTexture(jpegBytes []byte, requestedResolution int) ([]byte, int, error) {
	img, err := imaging.Decode(bytes.NewReader(jpegBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("decode texture jpeg: %w", err)
	}

	width := img.Bounds().Dx()
	if requestedResolution <= 0 || width <= requestedResolution {
		return jpegBytes, width, nil
	}

	resized := imaging.Resize(img, requestedResolution, requestedResolution, imaging.CatmullRom)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG); err != nil {
		return nil, 0, fmt.Errorf("encode resized texture: %w", err)
	}
	return buf.Bytes(), requestedResolution, nil
}

// FrameSource loads the newest on-disk frame record for (job, frame).
type FrameSource interface {
	Load(ctx context.Context, jobID string, frame int) (*frame.Record, error)
	// FrameRange returns the job's real [start,end] frame range.
	FrameRange(ctx context.Context, jobID string) (int, int, error)
}

// UI receives cache events: an artifact becoming available, or a tick
// during a whole-job precache.
type UI interface {
	ArtifactReady(fp Fingerprint, b *Bundle)
	PrecacheTick(jobID string, done, total int)
}

const scrubDebounce = time.Second

// lruCapacity bounds entry count generously; byteBudget is the real limit,
// enforced by evictUntilUnderBudgetLocked after each insert.
const lruCapacity = 1 << 16

// Cache is the resolve cache. A resolution change drops every entry
// outright; within one resolution, capacity is governed by byteBudget.
type Cache struct {
	source FrameSource
	ui     UI
	log    *logger.Logger
	pool   *workerpool.Pool

	mu               sync.Mutex
	store            *lru.Cache[Fingerprint, *Bundle]
	byteBudget       int64
	bytesUsed        int64
	preferResolution int
	haveResolution   bool

	debounceMu sync.Mutex
	debouncers map[Fingerprint]func(func())
}

// New builds a Cache with the given byte budget (default 512MiB if <= 0).
func New(source FrameSource, ui UI, log *logger.Logger, byteBudget int64) *Cache {
	if byteBudget <= 0 {
		byteBudget = 512 * 1024 * 1024
	}
	c := &Cache{
		source:     source,
		ui:         ui,
		log:        log,
		pool:       workerpool.New(4),
		byteBudget: byteBudget,
		debouncers: make(map[Fingerprint]func(func())),
	}
	backing, err := lru.NewWithEvict(lruCapacity, c.onEvict)
	if err != nil {
		panic(fmt.Sprintf("resolvecache: lru init: %v", err))
	}
	c.store = backing
	return c
}

// onEvict is the accounting callback: every store/self-eviction path keeps
// bytesUsed in sync with what the LRU actually holds.
func (c *Cache) onEvict(_ Fingerprint, b *Bundle) {
	c.bytesUsed -= b.byteSize()
}

// Request implements §4.J's request(job, frame, resolution, delay): a
// resolution change drops the entire cache; a cache hit emits immediately;
// a miss enqueues a load task, optionally coalesced by a scrub-debounce
// window so rapid scrubbing doesn't flood the loader.
func (c *Cache) Request(ctx context.Context, fp Fingerprint, resolution int, delay bool) {
	c.mu.Lock()
	if !c.haveResolution || resolution != c.preferResolution {
		c.clearLocked()
		c.preferResolution = resolution
		c.haveResolution = true
	}
	if b, ok := c.store.Get(fp); ok {
		c.mu.Unlock()
		c.ui.ArtifactReady(fp, b)
		return
	}
	c.mu.Unlock()

	load := func() { c.loadAndPublish(ctx, fp, resolution) }
	if !delay {
		go load()
		return
	}

	c.debounceMu.Lock()
	d, ok := c.debouncers[fp]
	if !ok {
		d = debounce.New(scrubDebounce)
		c.debouncers[fp] = d
	}
	c.debounceMu.Unlock()
	d(load)
}

// clearLocked implements the resolution-change rule: drop everything, no
// partial retention across a resolution switch.
func (c *Cache) clearLocked() {
	c.store.Purge()
	c.bytesUsed = 0
}

func (c *Cache) loadAndPublish(ctx context.Context, fp Fingerprint, resolution int) {
	rec, err := c.source.Load(ctx, fp.JobID, fp.Frame)
	if err != nil {
		c.log.Error("resolvecache: load failed", "job_id", fp.JobID, "frame", fp.Frame, "error", err)
		return
	}

	b, err := newBundle(rec, resolution)
	if err != nil {
		c.log.Error("resolvecache: bundle failed", "job_id", fp.JobID, "frame", fp.Frame, "error", err)
		return
	}

	c.mu.Lock()
	if old, ok := c.store.Peek(fp); ok {
		// Replacing an entry does not fire onEvict.
		c.bytesUsed -= old.byteSize()
	}
	c.store.Add(fp, b)
	c.bytesUsed += b.byteSize()
	c.evictUntilUnderBudgetLocked()
	c.mu.Unlock()

	c.ui.ArtifactReady(fp, b)
}

// evictUntilUnderBudgetLocked is the LRU capacity safety net underneath
// the resolution-gated invalidation rule: it never runs on a resolution
// switch (clearLocked already dropped everything), only as ordinary
// entries accumulate within one resolution.
func (c *Cache) evictUntilUnderBudgetLocked() {
	for c.bytesUsed > c.byteBudget {
		if _, _, ok := c.store.RemoveOldest(); !ok {
			return
		}
	}
}

// CacheWholeJob enumerates the job's real frame range and submits a load
// task per uncached frame to the worker pool, emitting a UI tick as each
// completes.
func (c *Cache) CacheWholeJob(ctx context.Context, jobID string, resolution int) error {
	start, end, err := c.source.FrameRange(ctx, jobID)
	if err != nil {
		return fmt.Errorf("resolvecache: frame range: %w", err)
	}

	var futures []*workerpool.Future[struct{}]
	total := 0
	for f := start; f <= end; f++ {
		fp := Fingerprint{JobID: jobID, Frame: f}
		c.mu.Lock()
		_, cached := c.store.Get(fp)
		c.mu.Unlock()
		if cached {
			continue
		}
		total++
		futures = append(futures, workerpool.Submit(c.pool, func() (struct{}, error) {
			c.loadAndPublish(ctx, fp, resolution)
			return struct{}{}, nil
		}))
	}

	done := 0
	for range workerpool.AsCompleted(futures) {
		done++
		c.ui.PrecacheTick(jobID, done, total)
	}
	return nil
}
