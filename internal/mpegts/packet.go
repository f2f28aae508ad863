// Package mpegts extracts one elementary stream from an MPEG transport
// stream. It follows the PAT and PMT to the PID whose stream type matches
// the requested format and yields that PID's PES payloads as a byte stream.
package mpegts

const (
	packetSize = 188
	syncByte   = 0x47

	pidPAT  = 0x0000
	pidNull = 0x1FFF
)

// header holds the transport packet fields the extractor acts on.
type header struct {
	pid           uint16
	cc            uint8
	pusi          bool
	tei           bool
	hasPayload    bool
	discontinuity bool
}

// parsePacket decodes the packet header and returns the payload slice. pkt
// must be packetSize bytes starting with the sync byte.
func parsePacket(pkt []byte) (header, []byte) {
	h := header{
		tei:        pkt[1]&0x80 != 0,
		pusi:       pkt[1]&0x40 != 0,
		pid:        uint16(pkt[1]&0x1F)<<8 | uint16(pkt[2]),
		hasPayload: pkt[3]&0x10 != 0,
		cc:         pkt[3] & 0x0F,
	}

	offset := 4
	if pkt[3]&0x20 != 0 {
		afLen := int(pkt[4])
		if afLen > 0 {
			h.discontinuity = pkt[5]&0x80 != 0
		}
		offset += 1 + afLen
	}
	if !h.hasPayload || offset >= packetSize {
		h.hasPayload = false
		return h, nil
	}
	return h, pkt[offset:]
}
