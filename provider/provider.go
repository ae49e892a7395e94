// Package provider is the public entry point of the HAL: it
// enumerates the camera devices a process exposes and opens capture
// sessions on them. Backends come from three sources: host webcams
// advertised by the emulator's camera service, JPEG relays reachable
// over websockets, and the built-in fake.
package provider

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	vcam "github.com/e7canasta/vcam"
	"github.com/e7canasta/vcam/gralloc"
	"github.com/e7canasta/vcam/internal/hwcam"
	"github.com/e7canasta/vcam/internal/qemucli"
	"github.com/e7canasta/vcam/internal/session"
)

// WebcamConfig names one websocket frame relay to expose as a camera.
type WebcamConfig struct {
	Name string
	URL  string
}

// Config selects the camera roster of a provider.
type Config struct {
	// QemudAddr is the endpoint of the emulator camera service
	// (host:port, or a unix socket path). Empty disables host
	// cameras.
	QemudAddr string
	// Webcams lists websocket relay cameras.
	Webcams []WebcamConfig
	// FakeCount adds that many built-in fake cameras.
	FakeCount int
	// Tuning is applied to every session opened through this
	// provider.
	Tuning session.Tuning
}

// Provider owns the device roster and the process-wide buffer
// allocator.
type Provider struct {
	log     zerolog.Logger
	alloc   *gralloc.Allocator
	devices []*Device
}

// New builds the roster from cfg. Host camera enumeration failures
// are logged and skipped, not fatal: a HAL with fewer cameras beats
// no HAL.
func New(cfg Config, log zerolog.Logger) (*Provider, error) {
	p := &Provider{
		log:   log.With().Str("component", "provider").Logger(),
		alloc: gralloc.New(),
	}

	var backends []func() hwcam.Camera

	if cfg.QemudAddr != "" {
		infos, err := enumerateHostCameras(cfg.QemudAddr, p.log)
		if err != nil {
			p.log.Warn().Err(err).Str("addr", cfg.QemudAddr).
				Msg("host camera enumeration failed, continuing without")
		}
		for _, info := range infos {
			info := info
			backends = append(backends, func() hwcam.Camera {
				return hwcam.NewQemuCamera(cfg.QemudAddr, info, p.log)
			})
		}
	}
	for _, wc := range cfg.Webcams {
		wc := wc
		backends = append(backends, func() hwcam.Camera {
			return hwcam.NewWebcamCamera(wc.Name, wc.URL, p.log)
		})
	}
	for i := 0; i < cfg.FakeCount; i++ {
		name := fmt.Sprintf("fake%d", i)
		backends = append(backends, func() hwcam.Camera {
			return hwcam.NewFakeRotatingCamera(name, p.log)
		})
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("%w: no cameras configured", vcam.ErrIllegalArgument)
	}

	for i, factory := range backends {
		p.devices = append(p.devices, newDevice(DeviceID(i), factory, p.alloc, cfg.Tuning, p.log))
	}
	p.log.Info().Int("cameras", len(p.devices)).Msg("provider ready")
	return p, nil
}

// enumerateHostCameras asks the emulator camera service for its
// webcam list.
func enumerateHostCameras(addr string, log zerolog.Logger) ([]qemucli.CameraInfo, error) {
	ch, err := qemucli.Dial(addr, "", log)
	if err != nil {
		return nil, err
	}
	defer ch.Close()
	return qemucli.ListCameras(ch)
}

// Allocator returns the process-wide graphics buffer allocator.
// Clients allocate stream buffers here; sessions import them by
// handle.
func (p *Provider) Allocator() *gralloc.Allocator { return p.alloc }

// Devices returns the roster in id order.
func (p *Provider) Devices() []*Device { return p.devices }

// DeviceIDs returns the advertised camera ids.
func (p *Provider) DeviceIDs() []string {
	ids := make([]string, len(p.devices))
	for i, d := range p.devices {
		ids[i] = d.ID()
	}
	return ids
}

// Device resolves a camera id.
func (p *Provider) Device(id string) (*Device, error) {
	n, err := ParseDeviceID(id)
	if err != nil {
		return nil, err
	}
	if n < 0 || n >= len(p.devices) {
		return nil, fmt.Errorf("%w: no camera %q", vcam.ErrIllegalArgument, id)
	}
	return p.devices[n], nil
}

const deviceIDPrefix = "device@1.0/internal/"

// DeviceID formats the camera id for roster index n.
func DeviceID(n int) string {
	return deviceIDPrefix + strconv.Itoa(n)
}

// ParseDeviceID extracts the roster index from a camera id.
func ParseDeviceID(id string) (int, error) {
	rest, ok := strings.CutPrefix(id, deviceIDPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: malformed camera id %q", vcam.ErrIllegalArgument, id)
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: malformed camera id %q", vcam.ErrIllegalArgument, id)
	}
	return n, nil
}
