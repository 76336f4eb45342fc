// Package replay implements the sample source port over a recorded
// capture file, for offline runs and pipeline testing without camera
// hardware. The file holds the session init metadata followed by
// length-prefixed encoded sample records.
package replay

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fragship/fragship/internal/domain"
)

// File format constants.
const (
	magic   = "FSRP"
	version = 1

	// recordHeaderSize is Track(1) + Flags(1) + PTS(8) + Duration(4) + Length(4).
	recordHeaderSize = 18

	flagKeyframe = 0x01
)

// Source replays samples from a capture file. It implements
// ports.SampleSource. With Pacing enabled, delivery is throttled to the
// recorded timestamps; otherwise samples stream as fast as the pipeline
// accepts them.
type Source struct {
	path   string
	pacing bool
	init   []byte
}

// Open reads and validates the capture file, loading the init section.
// Sample records are streamed lazily by Run.
func Open(path string, pacing bool) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	head := make([]byte, len(magic)+1)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("read replay header: %w", err)
	}
	if string(head[:len(magic)]) != magic {
		return nil, fmt.Errorf("not a replay file: %s", path)
	}
	if head[len(magic)] != version {
		return nil, fmt.Errorf("unsupported replay version %d", head[len(magic)])
	}

	var initLen uint32
	if err := binary.Read(r, binary.BigEndian, &initLen); err != nil {
		return nil, fmt.Errorf("read init length: %w", err)
	}
	init := make([]byte, initLen)
	if _, err := io.ReadFull(r, init); err != nil {
		return nil, fmt.Errorf("read init metadata: %w", err)
	}

	return &Source{path: path, pacing: pacing, init: init}, nil
}

// Init returns the codec initialization metadata.
func (s *Source) Init() []byte {
	return s.init
}

// Run streams the recorded samples to emit until the file is exhausted,
// emit returns an error, or the context is canceled.
func (s *Source) Run(ctx context.Context, emit func(domain.Sample) error) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	// Skip past the header and init section.
	var initLen uint32
	if _, err := r.Discard(len(magic) + 1); err != nil {
		return err
	}
	if err := binary.Read(r, binary.BigEndian, &initLen); err != nil {
		return err
	}
	if _, err := r.Discard(int(initLen)); err != nil {
		return err
	}

	start := time.Now()
	var base time.Duration
	first := true

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		sample, err := readRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read replay record: %w", err)
		}

		if s.pacing {
			if first {
				base = sample.PTS
				first = false
			}
			due := start.Add(sample.PTS - base)
			if wait := time.Until(due); wait > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}
		}

		if err := emit(sample); err != nil {
			return err
		}
	}
}

// readRecord decodes one sample record.
func readRecord(r io.Reader) (domain.Sample, error) {
	var head [recordHeaderSize]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return domain.Sample{}, err
	}

	track := domain.TrackVideo
	if head[0] == 1 {
		track = domain.TrackAudio
	}
	pts := int64(binary.BigEndian.Uint64(head[2:10]))
	dur := binary.BigEndian.Uint32(head[10:14])
	length := binary.BigEndian.Uint32(head[14:18])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return domain.Sample{}, err
	}

	return domain.Sample{
		Track:    track,
		Keyframe: head[1]&flagKeyframe != 0,
		PTS:      time.Duration(pts) * time.Microsecond,
		Duration: time.Duration(dur) * time.Microsecond,
		Payload:  payload,
	}, nil
}

// Writer records samples into the replay file format. Used by capture
// tooling and tests to produce files Source can play back.
type Writer struct {
	w *bufio.Writer
	f *os.File
}

// NewWriter creates a replay file with the given init metadata.
func NewWriter(path string, init []byte) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)

	if _, err := w.WriteString(magic); err != nil {
		f.Close()
		return nil, err
	}
	if err := w.WriteByte(version); err != nil {
		f.Close()
		return nil, err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(init))); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := w.Write(init); err != nil {
		f.Close()
		return nil, err
	}
	return &Writer{w: w, f: f}, nil
}

// Write appends one sample record.
func (w *Writer) Write(s domain.Sample) error {
	var head [recordHeaderSize]byte
	if s.Track == domain.TrackAudio {
		head[0] = 1
	}
	if s.Keyframe {
		head[1] |= flagKeyframe
	}
	binary.BigEndian.PutUint64(head[2:10], uint64(s.PTS/time.Microsecond))
	binary.BigEndian.PutUint32(head[10:14], uint32(s.Duration/time.Microsecond))
	binary.BigEndian.PutUint32(head[14:18], uint32(len(s.Payload)))

	if _, err := w.w.Write(head[:]); err != nil {
		return err
	}
	_, err := w.w.Write(s.Payload)
	return err
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
