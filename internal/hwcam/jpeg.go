package hwcam

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/jpeg"
)

// Blob streams carry JPEG payloads in oversized buffers: the encoded
// bytes sit at the front and a fixed footer in the last bytes of the
// buffer tells the consumer the payload length.
const (
	jpegBlobID     uint16 = 0x00ff
	jpegFooterSize        = 6
)

// compressToBlob encodes img into a blob buffer and writes the size
// footer. Returns false if the buffer cannot hold the encoded payload
// plus footer.
func compressToBlob(img image.Image, quality int, blob []byte) bool {
	if len(blob) < jpegFooterSize {
		return false
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return false
	}
	payload := buf.Bytes()
	if len(payload)+jpegFooterSize > len(blob) {
		return false
	}
	copy(blob, payload)
	footer := blob[len(blob)-jpegFooterSize:]
	binary.LittleEndian.PutUint16(footer[0:2], jpegBlobID)
	binary.LittleEndian.PutUint32(footer[2:6], uint32(len(payload)))
	return true
}

// blobPayload extracts the JPEG payload from a blob buffer, nil if the
// footer is missing or inconsistent.
func blobPayload(blob []byte) []byte {
	if len(blob) < jpegFooterSize {
		return nil
	}
	footer := blob[len(blob)-jpegFooterSize:]
	if binary.LittleEndian.Uint16(footer[0:2]) != jpegBlobID {
		return nil
	}
	n := binary.LittleEndian.Uint32(footer[2:6])
	if int(n) > len(blob)-jpegFooterSize {
		return nil
	}
	return blob[:n]
}
