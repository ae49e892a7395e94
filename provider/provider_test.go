package provider

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	vcam "github.com/e7canasta/vcam"
	"github.com/e7canasta/vcam/fence"
	"github.com/e7canasta/vcam/gralloc"
	"github.com/e7canasta/vcam/internal/cammeta"
)

func TestDeviceIDRoundTrip(t *testing.T) {
	id := DeviceID(3)
	if id != "device@1.0/internal/3" {
		t.Fatalf("DeviceID(3) = %q", id)
	}
	n, err := ParseDeviceID(id)
	if err != nil || n != 3 {
		t.Fatalf("ParseDeviceID = (%d, %v)", n, err)
	}

	for _, bad := range []string{"", "device@1.0/internal/", "device@1.0/internal/x",
		"device@1.0/internal/-1", "device@3.2/internal/0", "3"} {
		if _, err := ParseDeviceID(bad); !errors.Is(err, vcam.ErrIllegalArgument) {
			t.Errorf("ParseDeviceID(%q) = %v", bad, err)
		}
	}
}

func TestEmptyRosterRejected(t *testing.T) {
	if _, err := New(Config{}, zerolog.Nop()); !errors.Is(err, vcam.ErrIllegalArgument) {
		t.Fatalf("New with empty roster: %v", err)
	}
}

func TestFakeRoster(t *testing.T) {
	p, err := New(Config{FakeCount: 2}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ids := p.DeviceIDs()
	if len(ids) != 2 || ids[0] != DeviceID(0) || ids[1] != DeviceID(1) {
		t.Fatalf("ids = %v", ids)
	}

	d, err := p.Device(ids[1])
	if err != nil {
		t.Fatalf("Device(%q): %v", ids[1], err)
	}
	if d.Name() != "fake1" {
		t.Errorf("device name = %q", d.Name())
	}
	if _, err := p.Device(DeviceID(7)); !errors.Is(err, vcam.ErrIllegalArgument) {
		t.Errorf("out-of-roster id: %v", err)
	}
}

func TestCharacteristicsBlob(t *testing.T) {
	p, err := New(Config{FakeCount: 1}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	blob, err := p.Devices()[0].Characteristics()
	if err != nil {
		t.Fatalf("Characteristics: %v", err)
	}
	m, err := cammeta.Decode(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := m[cammeta.SensorInfoPixelArraySize]; !ok {
		t.Error("pixel array size missing")
	}
	if v, _ := m.I64(cammeta.LensFacing); v != cammeta.LensFacingBack {
		t.Errorf("facing = %d", v)
	}
}

func TestStreamCombinationQuery(t *testing.T) {
	p, err := New(Config{FakeCount: 1}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	d := p.Devices()[0]

	good := vcam.StreamConfiguration{Streams: []vcam.Stream{{
		ID: 0, Width: 640, Height: 480, Format: vcam.PixelFormatYCbCr420, GroupID: -1,
	}}}
	if !d.IsStreamCombinationSupported(good) {
		t.Error("supported combination rejected")
	}

	bad := good
	bad.Streams = []vcam.Stream{{ID: 0, Width: 123, Height: 77, Format: vcam.PixelFormatYCbCr420}}
	if d.IsStreamCombinationSupported(bad) {
		t.Error("unsupported resolution accepted")
	}
}

// sinkCallback satisfies vcam.Callback and counts deliveries.
type sinkCallback struct {
	mu       sync.Mutex
	results  int
	shutters int
	done     chan struct{}
}

func (c *sinkCallback) ProcessCaptureResult(results []vcam.CaptureResult) {
	c.mu.Lock()
	c.results += len(results)
	c.mu.Unlock()
	select {
	case c.done <- struct{}{}:
	default:
	}
}

func (c *sinkCallback) Notify(msgs []vcam.NotifyMsg) {
	c.mu.Lock()
	for _, m := range msgs {
		if m.Shutter != nil {
			c.shutters++
		}
	}
	c.mu.Unlock()
}

func TestOpenCaptureClose(t *testing.T) {
	p, err := New(Config{FakeCount: 1}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	d := p.Devices()[0]
	cb := &sinkCallback{done: make(chan struct{}, 8)}

	sess, err := d.Open(cb)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := d.Open(cb); !errors.Is(err, vcam.ErrCameraInUse) {
		t.Errorf("second open: %v", err)
	}

	if _, err := sess.ConfigureStreams(vcam.StreamConfiguration{
		Streams: []vcam.Stream{{
			ID: 1, Width: 320, Height: 240,
			Format: vcam.PixelFormatRGBA8888, GroupID: -1,
		}},
	}); err != nil {
		t.Fatalf("ConfigureStreams: %v", err)
	}

	settings, err := sess.ConstructDefaultRequestSettings(vcam.TemplatePreview)
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	handle, err := p.Allocator().Allocate(320, 240, gralloc.FormatRGBA8888, 0)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	n, err := sess.ProcessCaptureRequest([]vcam.CaptureRequest{{
		FrameNumber: 1,
		Settings:    settings,
		OutputBuffers: []vcam.StreamBuffer{{
			StreamID: 1, BufferID: 10, Buffer: handle,
			AcquireFence: fence.Signalled(),
		}},
	}}, nil)
	if err != nil || n != 1 {
		t.Fatalf("ProcessCaptureRequest = (%d, %v)", n, err)
	}

	select {
	case <-cb.done:
	case <-time.After(5 * time.Second):
		t.Fatal("no result delivered")
	}

	sess.Close()
	cb.mu.Lock()
	if cb.shutters == 0 || cb.results == 0 {
		t.Errorf("shutters=%d results=%d", cb.shutters, cb.results)
	}
	cb.mu.Unlock()

	// The single-open slot frees on close.
	sess2, err := d.Open(cb)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	sess2.Close()
}

// fakeCameraService speaks just enough of the framed host protocol to
// serve a list query.
func fakeCameraService(t *testing.T, listPayload string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveCameraConn(conn, listPayload)
		}
	}()
	return ln.Addr().String()
}

func serveCameraConn(conn net.Conn, listPayload string) {
	defer conn.Close()
	readFrame := func() (string, bool) {
		hdr := make([]byte, 8)
		if _, err := io.ReadFull(conn, hdr); err != nil {
			return "", false
		}
		n, err := strconv.ParseUint(string(hdr), 16, 32)
		if err != nil {
			return "", false
		}
		msg := make([]byte, n)
		if _, err := io.ReadFull(conn, msg); err != nil {
			return "", false
		}
		return string(msg), true
	}
	writeFrame := func(msg string) {
		fmt.Fprintf(conn, "%08x%s", len(msg), msg)
	}

	if _, ok := readFrame(); !ok { // service announcement
		return
	}
	for {
		q, ok := readFrame()
		if !ok {
			return
		}
		if strings.HasPrefix(q, "list") {
			writeFrame("ok:" + listPayload)
		} else {
			writeFrame("ko:unsupported")
		}
	}
}

func TestHostCameraEnumeration(t *testing.T) {
	addr := fakeCameraService(t,
		"name=/dev/video0 channel=0 pix=842091865 framedims=640x480,320x240\n")

	p, err := New(Config{QemudAddr: addr}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	devs := p.Devices()
	if len(devs) != 1 {
		t.Fatalf("%d devices enumerated", len(devs))
	}
	if devs[0].Name() != "/dev/video0" {
		t.Errorf("device name = %q", devs[0].Name())
	}
	chars, err := devs[0].Characteristics()
	if err != nil {
		t.Fatalf("Characteristics: %v", err)
	}
	m, err := cammeta.Decode(chars)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := m.I64(cammeta.LensFacing); v != cammeta.LensFacingBack {
		t.Errorf("channel 0 should face back, got %d", v)
	}

	// Enumeration failure downgrades to an empty host roster.
	if _, err := New(Config{QemudAddr: "127.0.0.1:1", FakeCount: 1}, zerolog.Nop()); err != nil {
		t.Errorf("unreachable host service should not be fatal: %v", err)
	}
}
