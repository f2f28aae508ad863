package mpegts

import (
	"errors"
	"fmt"
)

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

// ErrSection is returned for PSI sections that are truncated or fail CRC.
var ErrSection = errors.New("mpegts: malformed PSI section")

// program is one PAT entry.
type program struct {
	number uint16
	pmtPID uint16
}

// elementaryStream is one PMT entry.
type elementaryStream struct {
	pid        uint16
	streamType uint8
}

// sectionAssembler gathers one PSI section across packets of a PID.
type sectionAssembler struct {
	buf    []byte
	active bool
}

// push adds a packet payload and returns a complete section once enough
// bytes have arrived.
func (a *sectionAssembler) push(pusi bool, payload []byte) []byte {
	if pusi {
		if len(payload) == 0 {
			return nil
		}
		pointer := int(payload[0])
		if 1+pointer >= len(payload) {
			a.active = false
			return nil
		}
		a.buf = append(a.buf[:0], payload[1+pointer:]...)
		a.active = true
	} else if a.active {
		a.buf = append(a.buf, payload...)
	} else {
		return nil
	}

	if len(a.buf) < 3 {
		return nil
	}
	total := 3 + (int(a.buf[1]&0x0F)<<8 | int(a.buf[2]))
	if len(a.buf) < total {
		return nil
	}
	a.active = false
	return a.buf[:total]
}

func (a *sectionAssembler) reset() {
	a.buf = a.buf[:0]
	a.active = false
}

// checkSection verifies the syntax indicator, table id and CRC of a long
// form section.
func checkSection(section []byte, tableID byte, minLen int) error {
	if len(section) < minLen {
		return fmt.Errorf("%w: %d bytes", ErrSection, len(section))
	}
	if section[0] != tableID {
		return fmt.Errorf("%w: table id 0x%02X, want 0x%02X", ErrSection, section[0], tableID)
	}
	if section[1]&0x80 == 0 {
		return fmt.Errorf("%w: section syntax indicator clear", ErrSection)
	}
	if computeCRC32(section) != 0 {
		return fmt.Errorf("%w: CRC32 mismatch", ErrSection)
	}
	return nil
}

// parsePAT returns the programs of a PAT section, skipping the NIT entry.
func parsePAT(section []byte) ([]program, error) {
	// 8 header bytes and the CRC.
	if err := checkSection(section, tableIDPAT, 12); err != nil {
		return nil, err
	}
	var programs []program
	for i := 8; i+4 <= len(section)-4; i += 4 {
		number := uint16(section[i])<<8 | uint16(section[i+1])
		if number == 0 {
			continue
		}
		programs = append(programs, program{
			number: number,
			pmtPID: uint16(section[i+2]&0x1F)<<8 | uint16(section[i+3]),
		})
	}
	return programs, nil
}

// parsePMT returns the elementary streams of a PMT section.
func parsePMT(section []byte) ([]elementaryStream, error) {
	// 12 header bytes and the CRC.
	if err := checkSection(section, tableIDPMT, 16); err != nil {
		return nil, err
	}
	end := len(section) - 4
	offset := 12 + (int(section[10]&0x0F)<<8 | int(section[11]))
	var streams []elementaryStream
	for offset+5 <= end {
		streams = append(streams, elementaryStream{
			streamType: section[offset],
			pid:        uint16(section[offset+1]&0x1F)<<8 | uint16(section[offset+2]),
		})
		offset += 5 + (int(section[offset+3]&0x0F)<<8 | int(section[offset+4]))
	}
	return streams, nil
}
