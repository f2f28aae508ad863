package parser

// SyncFunc inspects a candidate header held in the low bytes of hdr and
// returns the frame length it declares. ok is false when the bytes are not a
// plausible header.
type SyncFunc func(hdr uint64) (size int, ok bool)

// SyncScanner frames streams in which every frame starts with a fixed-size
// header declaring the frame length. A frame is only confirmed once another
// valid header starts exactly where the frame says it ends; that header is
// reported as overread. A frame followed by anything else is rejected so the
// driver resyncs one byte past its start.
type SyncScanner struct {
	size int
	sync SyncFunc

	win       Window
	seen      int
	started   bool
	frameLen  int
	remaining int
	// next counts header bytes seen after the frame body.
	next int
}

// NewSyncScanner returns a scanner that tests every headerSize-byte window
// (at most 8) with sync.
func NewSyncScanner(headerSize int, sync SyncFunc) *SyncScanner {
	if headerSize > 8 {
		headerSize = 8
	}
	return &SyncScanner{size: headerSize, sync: sync}
}

// Scan implements Scanner.
func (s *SyncScanner) Scan(buf []byte) Boundary {
	i := 0
	for i < len(buf) {
		if s.started && s.remaining > 0 {
			n := min(s.remaining, len(buf)-i)
			s.remaining -= n
			i += n
			continue
		}

		s.win.Push(buf[i])
		i++
		if s.started {
			s.next++
			if s.next < s.size {
				continue
			}
			if _, ok := s.header(); ok {
				return Boundary{Offset: i - s.size, Found: true}
			}
			return Boundary{Offset: i, Reject: true}
		}

		s.seen++
		if s.seen < s.size {
			continue
		}
		size, ok := s.header()
		if !ok {
			continue
		}
		if s.seen > s.size {
			return Boundary{Offset: i - s.size, Found: true, Junk: true}
		}
		s.started = true
		s.frameLen = size
		s.remaining = size - s.size
	}
	return Boundary{}
}

func (s *SyncScanner) header() (int, bool) {
	size, ok := s.sync(s.win.Last(s.size))
	return size, ok && size >= s.size
}

// Held implements HoldingScanner.
func (s *SyncScanner) Held() int {
	if !s.started || s.remaining > 0 {
		return 0
	}
	return s.frameLen
}

// Started implements Scanner.
func (s *SyncScanner) Started() bool { return s.started }

// Restart implements Scanner.
func (s *SyncScanner) Restart() { s.Reset() }

// Reset implements Scanner.
func (s *SyncScanner) Reset() {
	s.win.Reset()
	s.seen = 0
	s.started = false
	s.frameLen = 0
	s.remaining = 0
	s.next = 0
}
