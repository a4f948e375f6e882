package runtime

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/moonshinevfx/4drec-go/pkg/bus"
	"github.com/moonshinevfx/4drec-go/pkg/logger"
)

// defaultLiveViewFPS is the pacing used when a camera's config does not
// override it.
const defaultLiveViewFPS = 10.0

// LiveViewEncoder drains one camera's live-view mailbox and emits
// LIVE_VIEW_IMAGE messages at a throttled rate, so a slow downstream
// consumer (a disconnected UI, a backed-up websocket) cannot make the
// camera's mailbox-draining goroutine spin (§4.D).
type LiveViewEncoder struct {
	cam     *Camera
	limiter *rate.Limiter
	log     *logger.Logger
	emit    func(msg *bus.Message)
}

// NewLiveViewEncoder builds an encoder pacing at fps frames/second (0 or
// negative uses defaultLiveViewFPS), emitting each encoded frame via emit.
func NewLiveViewEncoder(cam *Camera, fps float64, log *logger.Logger, emit func(msg *bus.Message)) *LiveViewEncoder {
	if fps <= 0 {
		fps = defaultLiveViewFPS
	}
	return &LiveViewEncoder{
		cam:     cam,
		limiter: rate.NewLimiter(rate.Limit(fps), 1),
		log:     log,
		emit:    emit,
	}
}

// Run drains the mailbox until ctx is cancelled or the camera stops.
func (e *LiveViewEncoder) Run(ctx context.Context) {
	for {
		f, ok := e.cam.LiveViewFrame()
		if !ok {
			return
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return
		}
		e.emit(&bus.Message{
			Kind:      bus.LiveViewImage,
			SlaveName: e.cam.serial,
			Payload:   f.JPEG,
		})
	}
}
