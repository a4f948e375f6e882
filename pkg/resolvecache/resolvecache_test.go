package resolvecache_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonshinevfx/4drec-go/pkg/frame"
	"github.com/moonshinevfx/4drec-go/pkg/logger"
	"github.com/moonshinevfx/4drec-go/pkg/resolvecache"
)

type fakeSource struct {
	mu         sync.Mutex
	loads      int
	textureDim int
}

func newFakeSource(textureDim int) *fakeSource {
	return &fakeSource{textureDim: textureDim}
}

func (s *fakeSource) Load(_ context.Context, jobID string, f int) (*frame.Record, error) {
	s.mu.Lock()
	s.loads++
	dim := s.textureDim
	s.mu.Unlock()
	return &frame.Record{
		Positions: []float32{float32(f), 0, 0},
		UVs:       []float32{0, 0},
		Texture:   testJPEGBytes(dim),
	}, nil
}

// testJPEGBytes builds a tiny solid-color square JPEG of the given side
// length, real enough for the cache's decode/resize/re-encode path to
// exercise.
func testJPEGBytes(side int) []byte {
	if side <= 0 {
		side = 256
	}
	img := image.NewRGBA(image.Rect(0, 0, side, side))
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, nil)
	return buf.Bytes()
}

func (s *fakeSource) FrameRange(_ context.Context, _ string) (int, int, error) {
	return 0, 4, nil
}

type fakeUI struct {
	mu     sync.Mutex
	ready  []resolvecache.Fingerprint
	last   *resolvecache.Bundle
	notify chan struct{}
}

func newFakeUI() *fakeUI {
	return &fakeUI{notify: make(chan struct{}, 64)}
}

func (u *fakeUI) ArtifactReady(fp resolvecache.Fingerprint, b *resolvecache.Bundle) {
	u.mu.Lock()
	u.ready = append(u.ready, fp)
	u.last = b
	u.mu.Unlock()
	u.notify <- struct{}{}
}

func (u *fakeUI) PrecacheTick(string, int, int) {}

func newTestCache(t *testing.T, source *fakeSource, ui *fakeUI, budget int64) *resolvecache.Cache {
	t.Helper()
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	return resolvecache.New(source, ui, log, budget)
}

func TestRequestCacheHitSkipsReload(t *testing.T) {
	source := newFakeSource(64)
	ui := newFakeUI()
	cache := newTestCache(t, source, ui, 0)
	fp := resolvecache.Fingerprint{JobID: "job1", Frame: 3}

	cache.Request(context.Background(), fp, 1024, false)
	<-ui.notify

	cache.Request(context.Background(), fp, 1024, false)
	select {
	case <-ui.notify:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected cache-hit artifact to be published immediately")
	}

	source.mu.Lock()
	defer source.mu.Unlock()
	assert.Equal(t, 1, source.loads, "second request should be served from cache, not reloaded")
}

func TestRequestResolutionChangeDropsCache(t *testing.T) {
	source := newFakeSource(64)
	ui := newFakeUI()
	cache := newTestCache(t, source, ui, 0)
	fp := resolvecache.Fingerprint{JobID: "job1", Frame: 3}

	cache.Request(context.Background(), fp, 1024, false)
	<-ui.notify

	cache.Request(context.Background(), fp, 2048, false)
	<-ui.notify

	source.mu.Lock()
	defer source.mu.Unlock()
	assert.Equal(t, 2, source.loads, "a resolution change must drop the cache and force a reload")
}

func TestRequestDebounceCoalescesRapidScrubbing(t *testing.T) {
	source := newFakeSource(64)
	ui := newFakeUI()
	cache := newTestCache(t, source, ui, 0)
	fp := resolvecache.Fingerprint{JobID: "job1", Frame: 7}

	for i := 0; i < 5; i++ {
		cache.Request(context.Background(), fp, 1024, true)
	}

	select {
	case <-ui.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced request never published an artifact")
	}

	source.mu.Lock()
	defer source.mu.Unlock()
	assert.Equal(t, 1, source.loads, "rapid scrubbing within the debounce window should coalesce to a single load")
}

// TestCacheInvalidationOnResolutionChange is §8 testable property 6: with
// (J,10) and (J,11) already cached at resolution 2048, requesting (J,12) at
// resolution 1024 must drop the whole cache (not just make room for the new
// entry), switch preferResolution to 1024, and load (J,12) itself.
func TestCacheInvalidationOnResolutionChange(t *testing.T) {
	source := newFakeSource(64)
	ui := newFakeUI()
	cache := newTestCache(t, source, ui, 0)

	fp10 := resolvecache.Fingerprint{JobID: "J", Frame: 10}
	fp11 := resolvecache.Fingerprint{JobID: "J", Frame: 11}
	fp12 := resolvecache.Fingerprint{JobID: "J", Frame: 12}

	cache.Request(context.Background(), fp10, 2048, false)
	<-ui.notify
	cache.Request(context.Background(), fp11, 2048, false)
	<-ui.notify

	source.mu.Lock()
	source.loads = 0
	source.mu.Unlock()

	cache.Request(context.Background(), fp12, 1024, false)
	<-ui.notify

	// fp10/fp11 must have been evicted by the resolution switch, not merely
	// aged out: re-requesting either at the new resolution forces a reload.
	cache.Request(context.Background(), fp10, 1024, false)
	<-ui.notify

	source.mu.Lock()
	defer source.mu.Unlock()
	assert.Equal(t, 2, source.loads, "(J,12) and the re-requested (J,10) both required a fresh load")
}

func TestCacheWholeJobPublishesAllFrames(t *testing.T) {
	source := newFakeSource(64)
	ui := newFakeUI()
	cache := newTestCache(t, source, ui, 0)

	err := cache.CacheWholeJob(context.Background(), "job1", 512)
	require.NoError(t, err)

	source.mu.Lock()
	defer source.mu.Unlock()
	assert.Equal(t, 5, source.loads, "frames 0..4 inclusive")
}

// TestBundleDecodeRoundTripsPositionsAndUVs confirms the compressed bundle
// decompresses back to byte-exact positions/UVs (§4.J/§9: the cache stores
// no decoded copies, so every read must reconstruct correctly).
func TestBundleDecodeRoundTripsPositionsAndUVs(t *testing.T) {
	source := newFakeSource(64)
	ui := newFakeUI()
	cache := newTestCache(t, source, ui, 0)
	fp := resolvecache.Fingerprint{JobID: "job1", Frame: 9}

	cache.Request(context.Background(), fp, 1024, false)
	<-ui.notify

	ui.mu.Lock()
	b := ui.last
	ui.mu.Unlock()
	require.NotNil(t, b)

	rec, err := b.Decode()
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 0, 0}, rec.Positions)
	assert.Equal(t, []float32{0, 0}, rec.UVs)
	assert.NotEmpty(t, rec.Texture)
}

// TestOversizedTextureIsDownscaled exercises §4.J's downscale rule: a
// texture wider than the requested resolution is bicubically resized down
// to it.
func TestOversizedTextureIsDownscaled(t *testing.T) {
	source := newFakeSource(512)
	ui := newFakeUI()
	cache := newTestCache(t, source, ui, 0)
	fp := resolvecache.Fingerprint{JobID: "job1", Frame: 1}

	cache.Request(context.Background(), fp, 128, false)
	<-ui.notify

	ui.mu.Lock()
	b := ui.last
	ui.mu.Unlock()
	require.NotNil(t, b)
	assert.Equal(t, 128, b.Resolution)

	rec, err := b.Decode()
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(rec.Texture))
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())
}

// TestUndersizedTextureDowngradesCachedResolution exercises §4.J's other
// half: a texture smaller than the requested resolution is left alone, and
// the resolution the bundle reports is downgraded to the texture's own
// native size rather than upscaling it.
func TestUndersizedTextureDowngradesCachedResolution(t *testing.T) {
	source := newFakeSource(64)
	ui := newFakeUI()
	cache := newTestCache(t, source, ui, 0)
	fp := resolvecache.Fingerprint{JobID: "job1", Frame: 1}

	cache.Request(context.Background(), fp, 1024, false)
	<-ui.notify

	ui.mu.Lock()
	b := ui.last
	ui.mu.Unlock()
	require.NotNil(t, b)
	assert.Equal(t, 64, b.Resolution, "cached resolution downgrades to the texture's native size")

	rec, err := b.Decode()
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(rec.Texture))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx(), "an undersized texture is left unresized")
}
