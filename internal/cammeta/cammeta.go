// Package cammeta implements the camera metadata dictionary: typed
// tags keyed by their platform names, serialized to an opaque blob for
// transport through the metadata queues. The session never looks
// inside a blob; backends and the device layer do.
//
// The wire encoding is JSON. Nothing downstream requires the platform's
// packed binary layout, and JSON keeps queue contents readable in
// captures.
package cammeta

import (
	"bytes"
	"encoding/json"
	"fmt"

	vcam "github.com/e7canasta/vcam"
)

// Tag names, matching the platform metadata vocabulary.
const (
	ControlAEState           = "android.control.aeState"
	ControlAETargetFPSRange  = "android.control.aeTargetFpsRange"
	ControlAFMode            = "android.control.afMode"
	ControlAFState           = "android.control.afState"
	ControlAFTrigger         = "android.control.afTrigger"
	ControlAWBState          = "android.control.awbState"
	ControlCaptureIntent     = "android.control.captureIntent"
	FlashState               = "android.flash.state"
	JpegQuality              = "android.jpeg.quality"
	LensAperture             = "android.lens.aperture"
	LensFocalLength          = "android.lens.focalLength"
	LensFocusDistance        = "android.lens.focusDistance"
	LensState                = "android.lens.state"
	RequestPipelineDepth     = "android.request.pipelineDepth"
	SensorExposureTime       = "android.sensor.exposureTime"
	SensorFrameDuration      = "android.sensor.frameDuration"
	SensorRollingShutterSkew = "android.sensor.rollingShutterSkew"
	SensorSensitivity        = "android.sensor.sensitivity"
	SensorTimestamp          = "android.sensor.timestamp"
	StatisticsSceneFlicker   = "android.statistics.sceneFlicker"
)

// Static characteristics tags, published once per device.
const (
	ControlAEAvailableFPSRanges   = "android.control.aeAvailableTargetFpsRanges"
	LensFacing                    = "android.lens.facing"
	LensInfoAvailableApertures    = "android.lens.info.availableApertures"
	LensInfoAvailableFocalLengths = "android.lens.info.availableFocalLengths"
	ScalerAvailableResolutions    = "android.scaler.availableStreamConfigurations"
	SensorInfoExposureTimeRange   = "android.sensor.info.exposureTimeRange"
	SensorInfoPixelArraySize      = "android.sensor.info.pixelArraySize"
	SensorInfoSensitivityRange    = "android.sensor.info.sensitivityRange"
)

// Lens facing enum values.
const (
	LensFacingFront int64 = 0
	LensFacingBack  int64 = 1
)

// Enum values used by the backends.
const (
	AFModeOff  int64 = 0
	AFModeAuto int64 = 1

	AFTriggerIdle   int64 = 0
	AFTriggerStart  int64 = 1
	AFTriggerCancel int64 = 2

	AFStateInactive      int64 = 0
	AFStateActiveScan    int64 = 3
	AFStateFocusedLocked int64 = 4

	AEStateConverged  int64 = 2
	AWBStateConverged int64 = 2

	FlashStateUnavailable int64 = 0
	LensStateStationary   int64 = 0
	SceneFlickerNone      int64 = 0
)

// Map is a mutable metadata dictionary.
type Map map[string]any

// New returns an empty dictionary.
func New() Map { return make(Map) }

// Decode parses a metadata blob. An empty blob decodes to an empty
// dictionary. Numbers decode as json.Number so nanosecond timestamps
// survive the trip; float64 has too few mantissa bits for them.
func Decode(blob vcam.Metadata) (Map, error) {
	m := New()
	if len(blob) == 0 {
		return m, nil
	}
	dec := json.NewDecoder(bytes.NewReader(blob))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("cammeta: decode: %w", err)
	}
	return m, nil
}

// Encode serializes the dictionary. An empty dictionary encodes to an
// empty blob, the wire representation of "no metadata".
func (m Map) Encode() (vcam.Metadata, error) {
	if len(m) == 0 {
		return nil, nil
	}
	blob, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("cammeta: encode: %w", err)
	}
	return vcam.Metadata(blob), nil
}

// Clone returns a shallow copy. Values are scalars or small slices
// that callers treat as immutable.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// I64 reads an integer tag, coercing the numeric types a JSON round
// trip produces.
func (m Map) I64(key string) (int64, bool) {
	switch v := m[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// I64Or reads an integer tag with a default.
func (m Map) I64Or(key string, def int64) int64 {
	if v, ok := m.I64(key); ok {
		return v
	}
	return def
}

// F64 reads a floating-point tag.
func (m Map) F64(key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return n, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// F64Or reads a floating-point tag with a default.
func (m Map) F64Or(key string, def float64) float64 {
	if v, ok := m.F64(key); ok {
		return v
	}
	return def
}
