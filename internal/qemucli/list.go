package qemucli

import (
	"fmt"
	"strconv"
	"strings"
)

// CameraInfo describes one host camera as reported by the "list"
// query: "name=<dev> channel=<n> pix=<fourcc> framedims=WxH,WxH,...".
type CameraInfo struct {
	Name      string
	Channel   int
	Pix       uint32
	FrameDims [][2]uint16
}

// ListCameras runs the "list" query on an already-attached factory
// channel and parses the roster.
func ListCameras(ch *Channel) ([]CameraInfo, error) {
	payload, err := ch.Query("list")
	if err != nil {
		return nil, err
	}
	return parseCameraList(string(payload))
}

func parseCameraList(payload string) ([]CameraInfo, error) {
	var out []CameraInfo
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		info, err := parseCameraLine(line)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

func parseCameraLine(line string) (CameraInfo, error) {
	var info CameraInfo
	for _, tok := range strings.Fields(line) {
		key, value, found := strings.Cut(tok, "=")
		if !found {
			return info, fmt.Errorf("%w: list token %q", ErrBadReply, tok)
		}
		switch key {
		case "name":
			info.Name = value
		case "channel":
			n, err := strconv.Atoi(value)
			if err != nil {
				return info, fmt.Errorf("%w: channel %q", ErrBadReply, value)
			}
			info.Channel = n
		case "pix":
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return info, fmt.Errorf("%w: pix %q", ErrBadReply, value)
			}
			info.Pix = uint32(n)
		case "framedims":
			for _, dim := range strings.Split(value, ",") {
				ws, hs, found := strings.Cut(dim, "x")
				if !found {
					return info, fmt.Errorf("%w: framedim %q", ErrBadReply, dim)
				}
				w, errW := strconv.ParseUint(ws, 10, 16)
				h, errH := strconv.ParseUint(hs, 10, 16)
				if errW != nil || errH != nil {
					return info, fmt.Errorf("%w: framedim %q", ErrBadReply, dim)
				}
				info.FrameDims = append(info.FrameDims, [2]uint16{uint16(w), uint16(h)})
			}
		// Unknown keys are skipped: newer emulators add fields.
		}
	}
	if info.Name == "" {
		return info, fmt.Errorf("%w: list entry without name: %q", ErrBadReply, line)
	}
	return info, nil
}
