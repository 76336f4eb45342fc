package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fragship/fragship/internal/config"
	"github.com/fragship/fragship/internal/domain"
	"github.com/fragship/fragship/internal/ports"
)

// scriptedSource replays a fixed sample list, optionally holding the
// stream open until the context ends.
type scriptedSource struct {
	init    []byte
	samples []domain.Sample
	hold    bool
}

func (s *scriptedSource) Init() []byte { return s.init }

func (s *scriptedSource) Run(ctx context.Context, emit func(domain.Sample) error) error {
	for _, smp := range s.samples {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := emit(smp); err != nil {
			return err
		}
	}
	if s.hold {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

type countingClient struct {
	mu    sync.Mutex
	calls int
	frags []domain.Fragment
	fail  error
}

func (c *countingClient) Upload(ctx context.Context, frag domain.Fragment, target ports.IngestTarget) error {
	c.mu.Lock()
	c.calls++
	c.frags = append(c.frags, frag)
	c.mu.Unlock()
	return c.fail
}

func (c *countingClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *countingClient) fragments() map[uint64]domain.Fragment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[uint64]domain.Fragment, len(c.frags))
	for _, f := range c.frags {
		out[f.SequenceNumber] = f
	}
	return out
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Profile = "custom"
	cfg.IngestURL = "https://ingest.test/hls"
	cfg.StreamKey = "key-123"
	cfg.SessionID = "session-test"
	cfg.BackoffInitial = time.Millisecond
	cfg.BackoffMax = 2 * time.Millisecond
	return cfg
}

// sampleRamp builds a video stream: 500ms samples from 0 to total, with a
// keyframe on every whole 2-second mark.
func sampleRamp(total time.Duration) []domain.Sample {
	var out []domain.Sample
	for pts := time.Duration(0); pts < total; pts += 500 * time.Millisecond {
		out = append(out, domain.Sample{
			Track:    domain.TrackVideo,
			Keyframe: pts%(2*time.Second) == 0,
			PTS:      pts,
			Duration: 500 * time.Millisecond,
			Payload:  []byte{0x42},
		})
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	src := &scriptedSource{}
	client := &countingClient{}

	if _, err := New(testConfig(), nil, nil, client, nil, nil); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("nil source error = %v, want ErrInvalidConfig", err)
	}
	if _, err := New(testConfig(), src, nil, nil, nil, nil); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("nil client error = %v, want ErrInvalidConfig", err)
	}

	bad := testConfig()
	bad.Profile = "nonsense"
	if _, err := New(bad, src, nil, client, nil, nil); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("bad profile error = %v, want ErrInvalidConfig", err)
	}

	if _, err := New(testConfig(), src, nil, client, nil, nil); err != nil {
		t.Errorf("valid broadcaster rejected: %v", err)
	}
}

// An 11-second replay with keyframes every 2 seconds delivers six
// fragments and the session closes itself.
func TestBroadcaster_ReplaySessionEndToEnd(t *testing.T) {
	src := &scriptedSource{
		init:    []byte{0x01, 0x02},
		samples: sampleRamp(11 * time.Second),
	}
	client := &countingClient{}

	b, err := New(testConfig(), src, nil, client, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.Start(ctx); !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}

	if state := b.Wait(ctx); state != StateStopped {
		t.Fatalf("final state = %v, want Stopped", state)
	}

	stats := b.Stats()
	if stats.Delivered != 6 {
		t.Errorf("Delivered = %d, want 6", stats.Delivered)
	}
	if stats.Dropped != 0 {
		t.Errorf("Dropped = %d, want 0", stats.Dropped)
	}
	if client.callCount() != 6 {
		t.Errorf("upload calls = %d, want 6", client.callCount())
	}
}

// Fragment start offsets are anchored to the fixed session epoch, not
// to the capture source's own clock.
func TestBroadcaster_StartOffsetsAnchoredToSessionEpoch(t *testing.T) {
	src := &scriptedSource{samples: sampleRamp(5 * time.Second)}
	client := &countingClient{}

	b, err := New(testConfig(), src, nil, client, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	before := time.Since(domain.SessionEpoch())
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if state := b.Wait(ctx); state != StateStopped {
		t.Fatalf("final state = %v", state)
	}
	after := time.Since(domain.SessionEpoch())

	frags := client.fragments()
	if len(frags) != 3 {
		t.Fatalf("fragment count = %d, want 3", len(frags))
	}
	first := frags[0].StartOffset
	if first < before || first > after {
		t.Errorf("fragment 0 start offset = %v, want within [%v, %v] of the epoch", first, before, after)
	}
	for seq := uint64(1); seq < 3; seq++ {
		want := time.Duration(seq) * 2 * time.Second
		if got := frags[seq].StartOffset - first; got != want {
			t.Errorf("fragment %d offset from fragment 0 = %v, want %v", seq, got, want)
		}
	}
}

func TestBroadcaster_StopClosesHeldSource(t *testing.T) {
	src := &scriptedSource{
		samples: sampleRamp(5 * time.Second),
		hold:    true,
	}
	client := &countingClient{}

	b, err := New(testConfig(), src, nil, client, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if b.Status() != StateStopped {
		t.Fatalf("state after Stop = %v, want Stopped", b.Status())
	}

	if err := b.Stop(); !errors.Is(err, domain.ErrNotRunning) {
		t.Errorf("Stop when stopped = %v, want ErrNotRunning", err)
	}
}

// A sample stream violating per-track timestamp order crashes the session.
func TestBroadcaster_ProtocolViolationCrashes(t *testing.T) {
	src := &scriptedSource{
		samples: []domain.Sample{
			{Track: domain.TrackVideo, Keyframe: true, PTS: time.Second, Duration: 500 * time.Millisecond, Payload: []byte{1}},
			{Track: domain.TrackVideo, PTS: 200 * time.Millisecond, Duration: 500 * time.Millisecond, Payload: []byte{2}},
		},
	}
	client := &countingClient{}

	b, err := New(testConfig(), src, nil, client, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if state := b.Wait(ctx); state != StateCrashed {
		t.Fatalf("final state = %v, want Crashed", state)
	}
}

// A session started without a stream key delivers nothing until the key
// arrives, then recovers without restarting.
func TestBroadcaster_StreamKeySuppliedMidSession(t *testing.T) {
	src := &scriptedSource{
		samples: sampleRamp(3 * time.Second),
		hold:    true,
	}
	client := &countingClient{}

	cfg := testConfig()
	cfg.StreamKey = ""
	b, err := New(cfg, src, nil, client, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	// The first fragment retries as a configuration error; the client is
	// never touched.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(b.Journal().Snapshot()) > 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := client.callCount(); got != 0 {
		t.Fatalf("client called %d times without a stream key", got)
	}

	b.SetStreamKey("key-after-start")

	deadline = time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if b.Stats().Delivered >= 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := b.Stats().Delivered; got < 1 {
		t.Fatalf("Delivered = %d after stream key fix", got)
	}
}

type eventCollector struct {
	mu        sync.Mutex
	changes   []string
	delivered int
	dropped   int
}

func (c *eventCollector) OnStateChange(previous, current State, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, fmt.Sprintf("%v>%v", previous, current))
}

func (c *eventCollector) OnFragmentDelivered(seq uint64, bytes int, attempts int, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered++
}

func (c *eventCollector) OnFragmentDropped(seq uint64, reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped++
}

func TestBroadcaster_EmitsEvents(t *testing.T) {
	src := &scriptedSource{samples: sampleRamp(5 * time.Second)}
	client := &countingClient{}
	events := &eventCollector{}

	b, err := New(testConfig(), src, nil, client, nil, events)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if state := b.Wait(ctx); state != StateStopped {
		t.Fatalf("final state = %v", state)
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	if events.delivered != 3 {
		t.Errorf("delivered events = %d, want 3", events.delivered)
	}
	if events.dropped != 0 {
		t.Errorf("dropped events = %d, want 0", events.dropped)
	}
	want := []string{"Stopped>Starting", "Starting>Running", "Running>Stopping", "Stopping>Stopped"}
	if fmt.Sprint(events.changes) != fmt.Sprint(want) {
		t.Errorf("state changes = %v, want %v", events.changes, want)
	}
}
