package media

import (
	"strings"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// IsKeyframe reports whether pkt starts a keyframe for the codec. Audio is always
// decodable on its own.
func IsKeyframe(mimeType string, pkt *rtp.Packet) bool {
	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypeVP8):
		return isVP8Keyframe(pkt.Payload)
	case strings.EqualFold(mimeType, webrtc.MimeTypeH264):
		return isH264Keyframe(pkt.Payload)
	case strings.HasPrefix(strings.ToLower(mimeType), "audio/"):
		return true
	}
	return false
}

// isVP8Keyframe parses the RFC 7741 payload descriptor and checks the P bit of the
// first partition.
func isVP8Keyframe(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	first := payload[0]
	startOfPartition := first&0x10 != 0
	partitionID := first & 0x07
	if !startOfPartition || partitionID != 0 {
		return false
	}

	i := 1
	if first&0x80 != 0 {
		if len(payload) <= i {
			return false
		}
		ext := payload[i]
		i++
		if ext&0x80 != 0 { // I: picture id
			if len(payload) <= i {
				return false
			}
			if payload[i]&0x80 != 0 {
				i += 2
			} else {
				i++
			}
		}
		if ext&0x40 != 0 { // L: TL0PICIDX
			i++
		}
		if ext&0x30 != 0 { // T or K
			i++
		}
	}

	if len(payload) <= i {
		return false
	}
	return payload[i]&0x01 == 0
}

// isH264Keyframe looks for an IDR or SPS, including inside STAP-A and FU-A units.
func isH264Keyframe(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	switch nal := payload[0] & 0x1F; nal {
	case 5, 7:
		return true
	case 24: // STAP-A
		i := 1
		for i+2 < len(payload) {
			size := int(payload[i])<<8 | int(payload[i+1])
			i += 2
			if i >= len(payload) {
				break
			}
			if t := payload[i] & 0x1F; t == 5 || t == 7 {
				return true
			}
			i += size
		}
	case 28: // FU-A
		if len(payload) < 2 {
			return false
		}
		start := payload[1]&0x80 != 0
		return start && payload[1]&0x1F == 5
	}
	return false
}
