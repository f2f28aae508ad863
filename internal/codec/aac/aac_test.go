package aac

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/zsiec/framer/internal/parser"
)

// adtsFrame builds an ADTS frame without CRC around payload.
func adtsFrame(sfIndex, channels int, payload []byte) []byte {
	frameLen := headerSize + len(payload)
	h := make([]byte, headerSize)
	h[0] = 0xFF
	h[1] = 0xF1 // MPEG-4, layer 0, no CRC
	// profile AAC-LC (1), sampling index, private 0, channel config high bit
	h[2] = 1<<6 | byte(sfIndex)<<2 | byte(channels>>2)
	h[3] = byte(channels&3)<<6 | byte(frameLen>>11&0x03)
	h[4] = byte(frameLen >> 3)
	h[5] = byte(frameLen&0x07)<<5 | 0x1F
	h[6] = 0xFC
	return append(h, payload...)
}

func TestParseHeader(t *testing.T) {
	t.Parallel()
	h, err := ParseHeader([]byte{0xFF, 0xF1, 0x4C, 0x80, 0x01, 0xA0, 0xFC})
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.SampleRate() != 48000 {
		t.Errorf("expected sample rate 48000, got %d", h.SampleRate())
	}
	if h.ChannelConfig != 2 {
		t.Errorf("expected 2 channels, got %d", h.ChannelConfig)
	}
	if h.FrameLength != 13 {
		t.Errorf("expected frame length 13, got %d", h.FrameLength)
	}
	if h.HasCRC || h.Profile != 1 || h.Samples() != 1024 || h.BufferFullness != 0x7FF {
		t.Errorf("unexpected header %+v", h)
	}
}

func TestParseHeaderRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		hdr  []byte
		want error
	}{
		{"short", []byte{0xFF, 0xF1, 0x4C}, ErrInvalidADTS},
		{"no sync", []byte{0xFF, 0xE1, 0x4C, 0x80, 0x01, 0xA0, 0xFC}, ErrInvalidADTS},
		{"layer 1", []byte{0xFF, 0xF3, 0x4C, 0x80, 0x01, 0xA0, 0xFC}, ErrLayer},
		{"sampling index 13", []byte{0xFF, 0xF1, 0x74, 0x80, 0x01, 0xA0, 0xFC}, ErrSampleRateIndex},
		{"length below header", []byte{0xFF, 0xF1, 0x4C, 0x80, 0x00, 0xC0, 0xFC}, ErrFrameLength},
		{"length below crc header", []byte{0xFF, 0xF0, 0x4C, 0x80, 0x01, 0x00, 0xFC}, ErrFrameLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseHeader(tt.hdr)
			if !errors.Is(err, tt.want) || !errors.Is(err, parser.ErrSync) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFramesAcrossChunks(t *testing.T) {
	t.Parallel()
	want := [][]byte{
		adtsFrame(3, 2, bytes.Repeat([]byte{0x21}, 200)),
		adtsFrame(3, 2, bytes.Repeat([]byte{0x42}, 5)),
		adtsFrame(4, 1, bytes.Repeat([]byte{0x10}, 371)),
	}
	stream := append([]byte{0x00, 0x12, 0xFF}, bytes.Join(want, nil)...)

	for _, size := range []int{1, 2, 7, 64, len(stream)} {
		p := parser.New(Format{}, parser.Options{})
		var got []parser.Frame
		for off := 0; off < len(stream); off += size {
			frames, err := p.Feed(stream[off:min(off+size, len(stream))])
			if err != nil {
				t.Fatalf("chunk %d: Feed: %v", size, err)
			}
			got = append(got, frames...)
		}
		tail, err := p.Finish()
		if err != nil {
			t.Fatalf("chunk %d: Finish: %v", size, err)
		}
		got = append(got, tail...)
		if len(got) != len(want) {
			t.Fatalf("chunk %d: got %d frames, want %d", size, len(got), len(want))
		}
		for i := range want {
			if !bytes.Equal(got[i].Data, want[i]) {
				t.Errorf("chunk %d: frame %d differs", size, i)
			}
		}
		if got[2].SampleRate != 44100 || got[2].Channels != 1 {
			t.Errorf("chunk %d: metadata %+v", size, got[2].Metadata)
		}
		if got[0].Duration != 1024*time.Second/48000 {
			t.Errorf("chunk %d: duration %v", size, got[0].Duration)
		}
		if st := p.Stats(); st.SkippedBytes != 3 {
			t.Errorf("chunk %d: skipped %d, want 3", size, st.SkippedBytes)
		}
	}
}

// breakFalseChains clears the first byte of every header in junk that a
// second header would confirm, including the header of a frame appended right
// after junk. Such a pair is indistinguishable from real frames.
func breakFalseChains(junk []byte) {
	for at := 0; at+headerSize <= len(junk); at++ {
		h, err := ParseHeader(junk[at:])
		if err != nil {
			continue
		}
		end := at + h.FrameLength
		if end == len(junk) {
			junk[at] = 0
			continue
		}
		if end+headerSize <= len(junk) {
			if _, err := ParseHeader(junk[end:]); err == nil {
				junk[at] = 0
			}
		}
	}
}

func TestResyncAfterRandomJunk(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(11))
	frames := [][]byte{
		adtsFrame(3, 2, bytes.Repeat([]byte{0x21}, 300)),
		adtsFrame(4, 1, bytes.Repeat([]byte{0x10}, 40)),
	}
	for trial := 0; trial < 1000; trial++ {
		frame := frames[trial%len(frames)]
		junk := make([]byte, 1000)
		rng.Read(junk)
		breakFalseChains(junk)
		stream := append(junk, frame...)

		p := parser.New(Format{}, parser.Options{})
		got, _ := p.Feed(stream)
		tail, _ := p.Finish()
		got = append(got, tail...)
		if len(got) != 1 || !bytes.Equal(got[0].Data, frame) {
			t.Fatalf("trial %d: got %d frames, want the %d-byte frame only", trial, len(got), len(frame))
		}
	}
}

func TestValidateLengthMismatch(t *testing.T) {
	t.Parallel()
	frame := adtsFrame(3, 2, make([]byte, 20))
	_, err := Format{}.NewValidator().Validate(frame[:len(frame)-1])
	if !errors.Is(err, parser.ErrSync) {
		t.Fatalf("got %v, want ErrSync", err)
	}
}

func FuzzParser(f *testing.F) {
	f.Add(adtsFrame(3, 2, []byte{0xDE, 0xAD, 0xBE, 0xEF}), uint8(3))
	f.Fuzz(func(t *testing.T, data []byte, chunk uint8) {
		p := parser.New(Format{}, parser.Options{})
		size := int(chunk)%16 + 1
		for off := 0; off < len(data); off += size {
			frames, _ := p.Feed(data[off:min(off+size, len(data))])
			for _, fr := range frames {
				if _, err := ParseHeader(fr.Data); err != nil {
					t.Fatalf("emitted frame with invalid header: %v", err)
				}
			}
		}
		p.Finish()
	})
}

func BenchmarkParse(b *testing.B) {
	frame := adtsFrame(3, 2, []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE})
	data := bytes.Repeat(frame, 64)
	p := parser.New(Format{}, parser.Options{})

	b.SetBytes(int64(len(data)))
	for b.Loop() {
		p.Feed(data)
	}
}
