package parser

// Boundary is the outcome of one Scanner.Scan call.
type Boundary struct {
	// Offset locates the boundary relative to the first byte of the scanned
	// slice. It is negative when the marker confirming the boundary began in
	// earlier input; scanners never report more than 15 bytes back while no
	// frame has started.
	Offset int
	// Found reports that a boundary was confirmed at Offset.
	Found bool
	// Junk reports that the bytes before Offset precede the first frame start
	// and are discarded instead of validated.
	Junk bool
	// Reject reports that the frame begun at the last restart was not
	// confirmed by what follows it. The bytes before Offset are rescanned
	// from the second byte on.
	Reject bool
	// Err reports a structural error in the stream. The bytes before Offset
	// are abandoned.
	Err error
}

// Scanner locates frame boundaries in a byte stream delivered in arbitrary
// chunks. It carries all scan state between calls.
type Scanner interface {
	// Scan consumes buf until it confirms a boundary or runs out of input.
	Scan(buf []byte) Boundary
	// Started reports whether a frame start has been seen since the last
	// Restart.
	Started() bool
	// Restart prepares the scanner for the frame beginning at the boundary it
	// last reported. Stream-level state such as a latched marker survives.
	Restart()
	// Reset discards all scan state.
	Reset()
}

// HoldingScanner is implemented by scanners that keep a complete frame
// buffered until the start of the next frame confirms it. At end of stream
// the held frame is validated on its own.
type HoldingScanner interface {
	Scanner
	// Held returns the length of the frame awaiting confirmation, or 0.
	Held() int
}

// Validator decodes and checks the header of a candidate frame. A rejected
// frame must leave the validator's state unchanged.
type Validator interface {
	Validate(frame []byte) (Metadata, error)
	// Reset discards picture order state. Parameter sets survive.
	Reset()
}

// StreamResetter is implemented by scanners and validators that keep state
// for the whole stream, such as stored parameter sets. ResetStream is called
// at end of stream in place of Reset and discards everything.
type StreamResetter interface {
	ResetStream()
}

// Format couples the scanner and validator of one coded format.
type Format interface {
	Name() string
	NewScanner() Scanner
	NewValidator() Validator
}
