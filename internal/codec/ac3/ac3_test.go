package ac3

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"github.com/zsiec/framer/internal/bits"
	"github.com/zsiec/framer/internal/parser"
)

// buildAC3 returns a complete AC-3 frame with a valid CRC.
func buildAC3(fscod, frmsizecod, acmod int, lfe bool) []byte {
	w := bits.NewWriter()
	w.PutBits(16, syncWord)
	w.PutBits(16, 0) // crc1
	w.PutBits(2, uint64(fscod))
	w.PutBits(6, uint64(frmsizecod))
	w.PutBits(5, 8) // bsid
	w.PutBits(3, 0) // bsmod
	w.PutBits(3, uint64(acmod))
	if acmod&1 != 0 && acmod != 1 {
		w.PutBits(2, 0)
	}
	if acmod&4 != 0 {
		w.PutBits(2, 0)
	}
	if acmod == 2 {
		w.PutBits(2, 0)
	}
	w.PutFlag(lfe)
	return finishFrame(w.Bytes(), frameSizes[frmsizecod][fscod]*2)
}

// buildEAC3 returns a complete independent E-AC-3 frame with a valid CRC.
func buildEAC3(frmsiz, fscod, numblkscod, acmod int, lfe bool) []byte {
	w := bits.NewWriter()
	w.PutBits(16, syncWord)
	w.PutBits(2, 0) // strmtyp
	w.PutBits(3, 0) // substreamid
	w.PutBits(11, uint64(frmsiz))
	w.PutBits(2, uint64(fscod))
	w.PutBits(2, uint64(numblkscod))
	w.PutBits(3, uint64(acmod))
	w.PutFlag(lfe)
	w.PutBits(5, 16) // bsid
	return finishFrame(w.Bytes(), (frmsiz+1)*2)
}

func finishFrame(hdr []byte, size int) []byte {
	frame := make([]byte, size)
	copy(frame, hdr)
	for i := len(hdr); i < size-2; i++ {
		frame[i] = byte(i * 7)
	}
	binary.BigEndian.PutUint16(frame[size-2:], crc16(frame[2:size-2]))
	return frame
}

func threeFrames() [][]byte {
	return [][]byte{
		buildAC3(0, 0, 2, false),      // 128 bytes
		buildAC3(0, 8, 7, true),       // 256 bytes
		buildEAC3(31, 0, 3, 2, false), // 64 bytes
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()
	wantChannels := [8]int{2, 1, 2, 3, 3, 4, 4, 5}
	for fscod := 0; fscod < 3; fscod++ {
		for frmsizecod := 0; frmsizecod < 38; frmsizecod++ {
			for acmod := 0; acmod < 8; acmod++ {
				for _, lfe := range []bool{false, true} {
					frame := buildAC3(fscod, frmsizecod, acmod, lfe)
					h, err := ParseHeader(frame)
					if err != nil {
						t.Fatalf("fscod=%d frmsizecod=%d acmod=%d: %v", fscod, frmsizecod, acmod, err)
					}
					channels := wantChannels[acmod]
					if lfe {
						channels++
					}
					if h.SampleRate != []int{48000, 44100, 32000}[fscod] {
						t.Errorf("fscod=%d: sample rate %d", fscod, h.SampleRate)
					}
					if h.Channels != channels {
						t.Errorf("acmod=%d lfe=%v: channels %d, want %d", acmod, lfe, h.Channels, channels)
					}
					if h.BitRate != bitRates[frmsizecod/2]*1000 {
						t.Errorf("frmsizecod=%d: bit rate %d", frmsizecod, h.BitRate)
					}
					if h.FrameSize != len(frame) {
						t.Errorf("frame size %d, built %d", h.FrameSize, len(frame))
					}
					if h.SampleRateCode != fscod || h.FrameSizeCode != frmsizecod ||
						h.ChannelMode != acmod || h.LFE != lfe {
						t.Errorf("fields not reproduced: %+v", h)
					}
				}
			}
		}
	}
}

func TestHeaderKnownValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		frame      []byte
		sampleRate int
		bitRate    int
		channels   int
		size       int
		samples    int
	}{
		{"ac3 32k stereo", buildAC3(0, 0, 2, false), 48000, 32000, 2, 128, 1536},
		{"ac3 5.1 448k", buildAC3(0, 30, 7, true), 48000, 448000, 6, 1792, 1536},
		{"ac3 44.1k odd size", buildAC3(1, 1, 1, false), 44100, 32000, 1, 140, 1536},
		{"eac3 64 bytes", buildEAC3(31, 0, 3, 2, false), 48000, 16000, 2, 64, 1536},
		{"eac3 one block", buildEAC3(99, 1, 0, 7, true), 44100, 8 * 200 * 44100 / 256, 6, 200, 256},
		{"eac3 half rate", buildEAC3(63, 3, 0, 1, false), 24000, 8 * 128 * 24000 / 1536, 1, 128, 1536},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h, err := ParseHeader(tt.frame)
			if err != nil {
				t.Fatalf("ParseHeader: %v", err)
			}
			if h.SampleRate != tt.sampleRate || h.BitRate != tt.bitRate || h.Channels != tt.channels ||
				h.FrameSize != tt.size || h.Samples() != tt.samples {
				t.Errorf("got %+v (samples %d)", h, h.Samples())
			}
		})
	}
}

func TestHeaderRejects(t *testing.T) {
	t.Parallel()
	base := buildAC3(0, 0, 2, false)
	tests := []struct {
		name   string
		mutate func([]byte)
		want   error
	}{
		{"bad sync", func(b []byte) { b[0] = 0x0C }, ErrNoSync},
		{"reserved fscod", func(b []byte) { b[4] = 0xC0 | b[4]&0x3F }, ErrSampleRateCode},
		{"frmsizecod 38", func(b []byte) { b[4] = b[4]&0xC0 | 38 }, ErrFrameSizeCode},
		{"bsid 17", func(b []byte) { b[5] = 17<<3 | b[5]&7 }, ErrBSID},
		{"eac3 reserved frame type", func(b []byte) {
			b[2] = 0xC0
			b[5] = 16<<3 | b[5]&7
		}, ErrFrameType},
		{"eac3 tiny frame", func(b []byte) {
			b[2], b[3] = 0, 1
			b[5] = 16<<3 | b[5]&7
		}, ErrFrameSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			frame := bytes.Clone(base)
			tt.mutate(frame)
			_, err := ParseHeader(frame)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if !errors.Is(err, parser.ErrSync) {
				t.Errorf("header rejects must be resynchronizable: %v", err)
			}
		})
	}
}

func TestThreeFramesSingleChunk(t *testing.T) {
	t.Parallel()
	want := threeFrames()
	stream := bytes.Join(want, nil)
	if len(stream) != 448 {
		t.Fatalf("stream is %d bytes, want 448", len(stream))
	}

	p := parser.New(Format{}, parser.Options{})
	var got []parser.Frame
	data := stream
	for len(data) > 0 {
		f, n, err := p.Parse(data)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if f.Data != nil {
			got = append(got, f)
		}
		data = data[n:]
	}
	// The last frame has no following header to confirm it.
	if len(got) != 2 {
		t.Fatalf("got %d frames before end of stream, want 2", len(got))
	}
	tail, err := p.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	got = append(got, tail...)
	if len(got) != 3 {
		t.Fatalf("got %d frames, want 3", len(got))
	}
	for i, size := range []int{128, 256, 64} {
		if len(got[i].Data) != size || !bytes.Equal(got[i].Data, want[i]) {
			t.Errorf("frame %d: %d bytes, want %d", i, len(got[i].Data), size)
		}
	}
	if got[1].Channels != 6 || got[0].SampleRate != 48000 || got[2].BitRate != 16000 {
		t.Errorf("metadata: %+v %+v %+v", got[0].Metadata, got[1].Metadata, got[2].Metadata)
	}
	if st := p.Stats(); st.SkippedBytes != 0 || st.Frames != 3 {
		t.Errorf("stats: %+v", st)
	}
}

func TestThreeFramesByteChunks(t *testing.T) {
	t.Parallel()
	want := threeFrames()
	stream := bytes.Join(want, nil)

	p := parser.New(Format{CheckCRC: true}, parser.Options{})
	var got [][]byte
	for i := range stream {
		// A confirmed boundary may leave the byte unconsumed; it is passed
		// again until taken.
		data := stream[i : i+1]
		for len(data) > 0 {
			f, n, err := p.Parse(data)
			if err != nil {
				t.Fatalf("byte %d: %v", i, err)
			}
			if n == 0 && f.Data == nil {
				t.Fatalf("byte %d: no progress", i)
			}
			if f.Data != nil {
				got = append(got, f.Data)
			}
			data = data[n:]
		}
	}
	tail, err := p.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	for _, f := range tail {
		got = append(got, f.Data)
	}
	if len(got) != 3 {
		t.Fatalf("got %d frames, want 3", len(got))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("frame %d differs", i)
		}
	}
}

func TestResyncAfterRandomPrefix(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(42))
	frame := buildAC3(0, 4, 2, false)
	for trial := 0; trial < 20; trial++ {
		junk := make([]byte, rng.Intn(300))
		rng.Read(junk)
		stream := append(junk, frame...)

		p := parser.New(Format{CheckCRC: true}, parser.Options{})
		frames, _ := p.Feed(stream)
		tail, _ := p.Finish()
		frames = append(frames, tail...)
		if len(frames) != 1 || !bytes.Equal(frames[0].Data, frame) {
			t.Fatalf("trial %d: got %d frames", trial, len(frames))
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
		end := at + h.FrameSize
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

func TestResyncAfterRandomJunkDefaultOptions(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(3))
	frames := [][]byte{
		buildAC3(0, 4, 2, false),
		buildAC3(1, 12, 7, true),
		buildEAC3(200, 0, 3, 2, false),
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

func TestFalseSyncInJunkNotEmitted(t *testing.T) {
	t.Parallel()
	// A complete, CRC-valid frame inside junk is still junk when no header
	// follows it.
	bogus := buildAC3(0, 0, 2, false)
	real := buildAC3(0, 8, 7, true)
	stream := append(append(bytes.Clone(bogus), 0x00, 0x11, 0x22), real...)

	for _, size := range []int{1, 5, len(stream)} {
		p := parser.New(Format{}, parser.Options{})
		var got []parser.Frame
		for off := 0; off < len(stream); off += size {
			frames, _ := p.Feed(stream[off:min(off+size, len(stream))])
			got = append(got, frames...)
		}
		tail, _ := p.Finish()
		got = append(got, tail...)
		if len(got) != 1 || !bytes.Equal(got[0].Data, real) {
			t.Fatalf("chunk %d: got %d frames", size, len(got))
		}
		if st := p.Stats(); st.SkippedBytes != int64(len(bogus)+3) {
			t.Errorf("chunk %d: skipped %d, want %d", size, st.SkippedBytes, len(bogus)+3)
		}
	}
}

func TestCRCMismatchRejected(t *testing.T) {
	t.Parallel()
	frame := buildAC3(0, 0, 2, false)
	frame[40] ^= 0xFF

	v := Format{CheckCRC: true}.NewValidator()
	if _, err := v.Validate(frame); !errors.Is(err, ErrCRC) {
		t.Fatalf("got %v, want ErrCRC", err)
	}
	if _, err := (Format{}).NewValidator().Validate(frame); err != nil {
		t.Fatalf("CRC is not checked by default: %v", err)
	}
}

func TestTruncatedFinalFrameDiscarded(t *testing.T) {
	t.Parallel()
	frames := threeFrames()
	stream := append(bytes.Clone(frames[0]), frames[1][:100]...)

	p := parser.New(Format{}, parser.Options{})
	got, _ := p.Feed(stream)
	tail, err := p.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(got) != 1 || len(tail) != 0 {
		t.Fatalf("got %d frames and %d at finish", len(got), len(tail))
	}
	if st := p.Stats(); st.SkippedBytes != 100 {
		t.Errorf("skipped: got %d, want 100", st.SkippedBytes)
	}
}

func FuzzParseHeader(f *testing.F) {
	f.Add(buildAC3(0, 0, 2, false)[:8])
	f.Add(buildEAC3(31, 0, 3, 2, false)[:8])
	f.Add([]byte{0x0B, 0x77})
	f.Fuzz(func(t *testing.T, data []byte) {
		h, err := ParseHeader(data)
		if err == nil && (h.FrameSize < minFrameSize || h.SampleRate == 0 || h.Blocks == 0) {
			t.Fatalf("accepted implausible header %+v", h)
		}
	})
}

func FuzzParser(f *testing.F) {
	f.Add(bytes.Join(threeFrames(), nil), uint8(5))
	f.Fuzz(func(t *testing.T, data []byte, chunk uint8) {
		p := parser.New(Format{}, parser.Options{})
		size := int(chunk)%32 + 1
		for len(data) > 0 {
			n := min(size, len(data))
			p.Feed(data[:n])
			data = data[n:]
		}
		p.Finish()
	})
}
