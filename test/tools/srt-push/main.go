// Command srt-push sends an elementary stream file to a framer SRT listener,
// paced at a fixed byte rate.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	srt "github.com/zsiec/srtgo"
)

// chunkSize matches the payload of seven transport packets, the usual SRT
// live message size.
const chunkSize = 1316

func main() {
	fileFlag := flag.String("file", "", "elementary stream file to push")
	keyFlag := flag.String("key", "", "stream key (default: file name without extension)")
	formatFlag := flag.String("format", "", "stream format sent in the stream id (default: server default)")
	addrFlag := flag.String("addr", "127.0.0.1:6000", "SRT server address")
	rateFlag := flag.Int("rate", 0, "bytes per second, 0 sends as fast as possible")
	loopFlag := flag.Bool("loop", false, "restart from the beginning at end of file")
	flag.Parse()

	path := *fileFlag
	if path == "" && flag.NArg() > 0 {
		path = flag.Arg(0)
	}
	if path == "" {
		fmt.Fprintf(os.Stderr, "Usage: srt-push [-format h264] [-key cam1] [-rate 500000] <file>\n")
		os.Exit(1)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
		os.Exit(1)
	}
	streamID := buildStreamID(*formatFlag, *keyFlag, path)

	cfg := srt.DefaultConfig()
	cfg.StreamID = streamID
	conn, err := srt.Dial(*addrFlag, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[%s] connect %s: %v\n", streamID, *addrFlag, err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Printf("[%s] pushing %s (%d bytes) to %s\n", streamID, path, len(data), *addrFlag)
	start := time.Now()
	for loop := 1; ; loop++ {
		sent, err := push(conn.Write, data, *rateFlag, start)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[%s] write: %v\n", streamID, err)
			os.Exit(1)
		}
		fmt.Printf("[%s] pass %d done, %d bytes in %s\n", streamID, loop, sent, time.Since(start).Truncate(time.Millisecond))
		if !*loopFlag {
			return
		}
	}
}

// buildStreamID returns "format/key", or "live/key" when no format is given.
// The key defaults to the file name without its extension.
func buildStreamID(format, key, path string) string {
	if key == "" {
		base := filepath.Base(path)
		key = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if format == "" {
		format = "live"
	}
	return format + "/" + key
}

// push writes data in chunks through write. With a positive rate each write
// is delayed until the elapsed time since start covers the bytes sent.
func push(write func([]byte) (int, error), data []byte, rate int, start time.Time) (int, error) {
	sent := 0
	for i := 0; i < len(data); i += chunkSize {
		end := min(i+chunkSize, len(data))
		n, err := write(data[i:end])
		sent += n
		if err != nil {
			return sent, err
		}
		if d := pace(sent, rate, time.Since(start)); d > 0 {
			time.Sleep(d)
		}
	}
	return sent, nil
}

// pace returns how long to wait so that sent bytes do not exceed rate.
func pace(sent, rate int, elapsed time.Duration) time.Duration {
	if rate <= 0 {
		return 0
	}
	due := time.Duration(float64(sent) / float64(rate) * float64(time.Second))
	return due - elapsed
}
