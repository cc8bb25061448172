// Package framestore buffers the most recent unprocessed frame of every
// door. It stands in for the external frame-ingestion service when the hub
// runs with an embedded buffer.
//
// Each door has a single slot. A new frame overwrites an unconsumed one
// (counted as a drop) and Latest consumes the slot, so the recognition
// bridge always works on the newest frame and never on the same frame
// twice. Payloads are kept zstd-compressed; hex-encoded frames compress
// well and a busy hub holds one per door.
package framestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/rmacdonaldsmith/facegate/pkg/framecodec"
)

// ErrEmpty is returned by Latest when the door has no unconsumed frame.
var ErrEmpty = errors.New("no unprocessed frame buffered")

// SlotStats describes one door's slot.
type SlotStats struct {
	DoorID         int       `json:"doorId"`
	Received       uint64    `json:"received"`
	Consumed       uint64    `json:"consumed"`
	Dropped        uint64    `json:"dropped"`
	Duplicates     uint64    `json:"duplicates"`
	Pending        bool      `json:"pending"`
	StoredBytes    int       `json:"storedBytes"`
	LastReceivedAt time.Time `json:"lastReceivedAt,omitzero"`
}

type slot struct {
	frame      *storedFrame
	lastDigest [32]byte
	hasDigest  bool
	stats      SlotStats
}

type storedFrame struct {
	doorID     int
	capturedAt time.Time
	compressed []byte
}

// Store is safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	slots map[int]*slot

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New creates an empty store.
func New() (*Store, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Store{
		slots:   make(map[int]*slot),
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Ingest stores env as the door's latest frame.
func (s *Store) Ingest(ctx context.Context, env framecodec.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if env.DoorID < 0 {
		return fmt.Errorf("invalid door id %d", env.DoorID)
	}

	raw := []byte(env.Payload)
	digest := blake3.Sum256(raw)
	compressed := s.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/4))

	s.mu.Lock()
	defer s.mu.Unlock()

	sl := s.slotLocked(env.DoorID)
	if sl.frame != nil {
		sl.stats.Dropped++
	}
	if sl.hasDigest && sl.lastDigest == digest {
		sl.stats.Duplicates++
	}
	sl.lastDigest = digest
	sl.hasDigest = true
	sl.frame = &storedFrame{doorID: env.DoorID, capturedAt: env.CapturedAt, compressed: compressed}
	sl.stats.Received++
	sl.stats.LastReceivedAt = env.CapturedAt
	return nil
}

// Latest consumes and returns the door's buffered frame.
func (s *Store) Latest(ctx context.Context, doorID int) (framecodec.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return framecodec.Envelope{}, err
	}

	s.mu.Lock()
	sl, ok := s.slots[doorID]
	if !ok || sl.frame == nil {
		s.mu.Unlock()
		return framecodec.Envelope{}, ErrEmpty
	}
	frame := sl.frame
	sl.frame = nil
	sl.stats.Consumed++
	s.mu.Unlock()

	raw, err := s.decoder.DecodeAll(frame.compressed, nil)
	if err != nil {
		return framecodec.Envelope{}, fmt.Errorf("decompress frame for door %d: %w", doorID, err)
	}
	return framecodec.Envelope{
		DoorID:     frame.doorID,
		Payload:    string(raw),
		CapturedAt: frame.capturedAt,
	}, nil
}

// Stats returns a snapshot of every slot, keyed by door.
func (s *Store) Stats() map[int]SlotStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]SlotStats, len(s.slots))
	for id, sl := range s.slots {
		st := sl.stats
		st.Pending = sl.frame != nil
		if sl.frame != nil {
			st.StoredBytes = len(sl.frame.compressed)
		}
		out[id] = st
	}
	return out
}

// Close releases the compressor.
func (s *Store) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return nil
}

func (s *Store) slotLocked(doorID int) *slot {
	sl, ok := s.slots[doorID]
	if !ok {
		sl = &slot{stats: SlotStats{DoorID: doorID}}
		s.slots[doorID] = sl
	}
	return sl
}
