package session

import (
	"fmt"

	vcam "github.com/e7canasta/vcam"
	"github.com/e7canasta/vcam/internal/cammeta"
	"github.com/e7canasta/vcam/internal/hwcam"
)

// ConstructDefaultRequestSettings builds (and caches) the settings
// preset for one request template.
func (s *Session) ConstructDefaultRequestSettings(tpl vcam.RequestTemplate) (vcam.Metadata, error) {
	s.mu.Lock()
	if blob, ok := s.templates[tpl]; ok {
		s.mu.Unlock()
		return blob, nil
	}
	s.mu.Unlock()

	m, err := defaultRequestSettings(s.cam.Characteristics(), tpl)
	if err != nil {
		return nil, err
	}
	blob, err := m.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: template %d: %v", vcam.ErrInternal, tpl, err)
	}

	s.mu.Lock()
	s.templates[tpl] = blob
	s.mu.Unlock()
	return blob, nil
}

func defaultRequestSettings(chars hwcam.Characteristics, tpl vcam.RequestTemplate) (cammeta.Map, error) {
	afMode := cammeta.AFModeAuto
	fpsLo, fpsHi := int64(15), int64(hwcam.MaxFPS)

	switch tpl {
	case vcam.TemplatePreview, vcam.TemplateVideoSnapshot, vcam.TemplateZeroShutterLag:
	case vcam.TemplateVideoRecord:
		fpsLo = hwcam.MaxFPS
	case vcam.TemplateStillCapture:
		fpsLo = 5
	case vcam.TemplateManual:
		afMode = cammeta.AFModeOff
	default:
		return nil, fmt.Errorf("%w: request template %d", vcam.ErrIllegalArgument, tpl)
	}

	m := cammeta.New()
	m[cammeta.ControlCaptureIntent] = int64(tpl)
	m[cammeta.ControlAFMode] = afMode
	m[cammeta.ControlAFTrigger] = cammeta.AFTriggerIdle
	m[cammeta.ControlAETargetFPSRange] = []any{fpsLo, fpsHi}
	m[cammeta.SensorExposureTime] = chars.DefaultExposureNs
	m[cammeta.SensorSensitivity] = chars.DefaultSensitivity
	m[cammeta.LensAperture] = chars.DefaultAperture
	m[cammeta.LensFocalLength] = chars.FocalLength
	m[cammeta.JpegQuality] = hwcam.DefaultJpegQuality
	return m, nil
}
