package mpegts

import "fmt"

// hasOptionalHeader reports whether a PES stream id carries the optional
// PES header. padding_stream, private_stream_2, ECM, EMM, DSMCC, type E and
// the program stream directory do not.
func hasOptionalHeader(streamID byte) bool {
	switch streamID {
	case 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

// pesDataOffset returns where the elementary stream data starts in the
// first TS payload of a PES packet.
func pesDataOffset(payload []byte) (int, error) {
	if len(payload) < 6 {
		return 0, fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(payload))
	}
	if payload[0] != 0x00 || payload[1] != 0x00 || payload[2] != 0x01 {
		return 0, fmt.Errorf("mpegts: invalid PES start code")
	}
	if !hasOptionalHeader(payload[3]) {
		return 6, nil
	}
	if len(payload) < 9 {
		return 0, fmt.Errorf("mpegts: PES optional header too short")
	}
	offset := 9 + int(payload[8])
	if offset > len(payload) {
		return 0, fmt.Errorf("mpegts: PES header length %d exceeds packet", payload[8])
	}
	return offset, nil
}
