// Package registry implements the Master Camera Registry: one mirroring
// Camera Proxy per expected physical camera, each with its own
// offline-deadline timer.
package registry

import (
	"sync"
	"time"

	"github.com/moonshinevfx/4drec-go/pkg/camera"
	"github.com/moonshinevfx/4drec-go/pkg/logger"
)

// Listener is notified on every camera state change.
type Listener func(status camera.Status)

// ImageLibrary receives a synthetic state record on every state change so
// downstream image consumers learn about offline cameras even when no
// image is arriving (§4.F).
type ImageLibrary interface {
	PublishState(status camera.Status)
}

// proxy mirrors one physical camera's last-known status and owns the
// deadline timer that demotes it to Offline on silence.
type proxy struct {
	mu       sync.Mutex
	status   camera.Status
	timer    *time.Timer
	deadline time.Duration
}

// Registry holds one proxy per expected camera serial.
type Registry struct {
	mu        sync.RWMutex
	proxies   map[string]*proxy
	deadline  time.Duration
	log       *logger.Logger
	listeners []Listener
	images    ImageLibrary
}

// New builds a Registry for the given expected serials. deadline is the
// camera-offline silence window (default 1s, per spec.md §3).
func New(serials []string, deadline time.Duration, images ImageLibrary, log *logger.Logger) *Registry {
	if deadline <= 0 {
		deadline = time.Second
	}
	r := &Registry{proxies: make(map[string]*proxy, len(serials)), deadline: deadline, log: log, images: images}
	for _, serial := range serials {
		r.proxies[serial] = &proxy{status: camera.Status{Serial: serial, State: camera.Offline}}
	}
	return r
}

// RegisterListener subscribes fn to every future state change.
func (r *Registry) RegisterListener(fn Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Status returns the last-known status for serial.
func (r *Registry) Status(serial string) (camera.Status, bool) {
	r.mu.RLock()
	p, ok := r.proxies[serial]
	r.mu.RUnlock()
	if !ok {
		return camera.Status{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, true
}

// All returns a snapshot of every known camera's status.
func (r *Registry) All() []camera.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]camera.Status, 0, len(r.proxies))
	for _, p := range r.proxies {
		p.mu.Lock()
		out = append(out, p.status)
		p.mu.Unlock()
	}
	return out
}

// UpdateStatus applies a freshly reported status: it rewinds the proxy's
// offline deadline, skips no-op updates (same state, state != Capturing,
// per §4.F), and on any real state change notifies listeners and pushes a
// synthetic record to the image library. fromOffline marks a call made
// by the deadline timer itself rather than a genuine report.
func (r *Registry) UpdateStatus(status camera.Status, fromOffline bool) {
	r.mu.RLock()
	p, ok := r.proxies[status.Serial]
	r.mu.RUnlock()
	if !ok {
		r.log.Debug("registry: status for unknown camera, dropping", "serial", status.Serial)
		return
	}

	p.mu.Lock()
	prev := p.status
	noop := prev.Equal(status) && status.State != camera.Capturing
	p.status = status
	if !fromOffline {
		r.rearmLocked(p, status.Serial)
	}
	p.mu.Unlock()

	if noop {
		return
	}
	r.notify(status)
}

// rearmLocked resets the offline deadline timer; p.mu must be held.
func (r *Registry) rearmLocked(p *proxy, serial string) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(r.deadline, func() { r.markOffline(serial) })
}

func (r *Registry) markOffline(serial string) {
	r.mu.RLock()
	p, ok := r.proxies[serial]
	r.mu.RUnlock()
	if !ok {
		return
	}
	p.mu.Lock()
	if p.status.State == camera.Offline {
		p.mu.Unlock()
		return
	}
	p.status.State = camera.Offline
	status := p.status
	p.mu.Unlock()

	r.log.Info("registry: camera silent past deadline, marking offline", "serial", serial)
	r.notify(status)
}

func (r *Registry) notify(status camera.Status) {
	r.mu.RLock()
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.RUnlock()

	for _, fn := range listeners {
		fn(status)
	}
	if r.images != nil {
		r.images.PublishState(status)
	}
}
