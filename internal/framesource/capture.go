package framesource

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/jonboulle/clockwork"
	"github.com/pierrec/lz4/v4"

	"github.com/rmacdonaldsmith/facegate/pkg/framecodec"
)

// CaptureMagic opens every capture file.
const CaptureMagic = "FGCAP001"

// maxRecordSize bounds a single record so a corrupt length prefix cannot
// make Replay allocate without limit.
const maxRecordSize = 64 << 20

// ErrBadCapture is matched by every error caused by a malformed capture file.
var ErrBadCapture = errors.New("malformed capture file")

// A capture file is CaptureMagic followed by records, each a uvarint byte
// length and a CBOR-encoded captureRecord. Pixels are packed RGB bytes,
// row-major, lz4 block compressed unless that did not make them smaller.
type captureRecord struct {
	Seq        uint64 `cbor:"seq"`
	CapturedAt int64  `cbor:"capturedAt"` // unix nanoseconds
	Rows       int    `cbor:"rows"`
	Cols       int    `cbor:"cols"`
	Compressed bool   `cbor:"lz4"`
	Pixels     []byte `cbor:"pixels"`
}

var (
	captureEncMode cbor.EncMode
	captureDecMode cbor.DecMode
)

func init() {
	var err error
	captureEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("framesource: CBOR encoder initialization failed: " + err.Error())
	}
	captureDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("framesource: CBOR decoder initialization failed: " + err.Error())
	}
}

// Recorder writes frames to a capture file.
type Recorder struct {
	w     *bufio.Writer
	clock clockwork.Clock
	seq   uint64
	buf   []byte
}

// NewRecorder writes the capture header to w and returns a recorder.
// Frames are stamped with clk.
func NewRecorder(w io.Writer, clk clockwork.Clock) (*Recorder, error) {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(CaptureMagic); err != nil {
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	return &Recorder{w: bw, clock: clk}, nil
}

// Record appends one rectangular frame.
func (r *Recorder) Record(grid framecodec.Grid) error {
	if !grid.Uniform() {
		return fmt.Errorf("record frame %d: frame is not rectangular", r.seq)
	}
	rows, cols := grid.Dims()

	raw := make([]byte, 0, rows*cols*3)
	for _, row := range grid {
		for _, p := range row {
			raw = append(raw, p[0], p[1], p[2])
		}
	}

	rec := captureRecord{
		Seq:        r.seq,
		CapturedAt: r.clock.Now().UnixNano(),
		Rows:       rows,
		Cols:       cols,
		Pixels:     raw,
	}
	if compressed, ok := compressPixels(raw); ok {
		rec.Pixels = compressed
		rec.Compressed = true
	}

	data, err := captureEncMode.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode frame %d: %w", r.seq, err)
	}
	r.buf = binary.AppendUvarint(r.buf[:0], uint64(len(data)))
	if _, err := r.w.Write(r.buf); err != nil {
		return fmt.Errorf("write frame %d: %w", r.seq, err)
	}
	if _, err := r.w.Write(data); err != nil {
		return fmt.Errorf("write frame %d: %w", r.seq, err)
	}
	r.seq++
	return nil
}

// Frames returns how many frames have been recorded.
func (r *Recorder) Frames() uint64 {
	return r.seq
}

// Flush writes buffered records to the underlying writer.
func (r *Recorder) Flush() error {
	return r.w.Flush()
}

func compressPixels(raw []byte) ([]byte, bool) {
	dst := make([]byte, lz4.CompressBlockBound(len(raw)))
	n, err := lz4.CompressBlock(raw, dst, nil)
	if err != nil || n == 0 || n >= len(raw) {
		return nil, false
	}
	return dst[:n], true
}

// ReplayConfig controls playback.
type ReplayConfig struct {
	// Paced replays frames with the gaps they were recorded with.
	Paced bool
	// Loop restarts from the first frame at the end of the file. The
	// reader must be an io.Seeker.
	Loop bool
}

// Replay plays back a capture file as a Source.
type Replay struct {
	config ReplayConfig
	src    io.Reader
	r      *bufio.Reader
	clock  clockwork.Clock

	lastAt int64
	closer io.Closer
}

// NewReplay checks the capture header and returns a source reading from r.
// If r is an io.Closer, Close closes it.
func NewReplay(r io.Reader, config ReplayConfig, clk clockwork.Clock) (*Replay, error) {
	if config.Loop {
		if _, ok := r.(io.Seeker); !ok {
			return nil, errors.New("looped replay needs a seekable reader")
		}
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	rp := &Replay{config: config, src: r, r: bufio.NewReader(r), clock: clk}
	if c, ok := r.(io.Closer); ok {
		rp.closer = c
	}
	if err := rp.readHeader(); err != nil {
		return nil, err
	}
	return rp, nil
}

func (rp *Replay) readHeader() error {
	header := make([]byte, len(CaptureMagic))
	if _, err := io.ReadFull(rp.r, header); err != nil {
		return fmt.Errorf("%w: read header: %v", ErrBadCapture, err)
	}
	if string(header) != CaptureMagic {
		return fmt.Errorf("%w: unexpected header %q", ErrBadCapture, header)
	}
	return nil
}

// Next returns the next recorded frame.
func (rp *Replay) Next(ctx context.Context) (framecodec.Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := rp.readRecord()
	if errors.Is(err, io.EOF) && rp.config.Loop {
		if err := rp.rewind(); err != nil {
			return nil, err
		}
		rec, err = rp.readRecord()
	}
	if errors.Is(err, io.EOF) {
		return nil, ErrExhausted
	}
	if err != nil {
		return nil, err
	}

	if rp.config.Paced && rp.lastAt != 0 && rec.CapturedAt > rp.lastAt {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-rp.clock.After(time.Duration(rec.CapturedAt - rp.lastAt)):
		}
	}
	rp.lastAt = rec.CapturedAt

	return rec.grid()
}

func (rp *Replay) rewind() error {
	seeker := rp.src.(io.Seeker)
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind capture: %w", err)
	}
	rp.r.Reset(rp.src)
	rp.lastAt = 0
	return rp.readHeader()
}

func (rp *Replay) readRecord() (*captureRecord, error) {
	size, err := binary.ReadUvarint(rp.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: read record length: %v", ErrBadCapture, err)
	}
	if size == 0 || size > maxRecordSize {
		return nil, fmt.Errorf("%w: record length %d", ErrBadCapture, size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(rp.r, data); err != nil {
		return nil, fmt.Errorf("%w: truncated record: %v", ErrBadCapture, err)
	}
	var rec captureRecord
	if err := captureDecMode.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: decode record: %v", ErrBadCapture, err)
	}
	return &rec, nil
}

func (rec *captureRecord) grid() (framecodec.Grid, error) {
	if rec.Rows < 0 || rec.Cols < 0 {
		return nil, fmt.Errorf("%w: frame %d has negative dimensions", ErrBadCapture, rec.Seq)
	}
	size := rec.Rows * rec.Cols * 3
	raw := rec.Pixels
	if rec.Compressed {
		raw = make([]byte, size)
		n, err := lz4.UncompressBlock(rec.Pixels, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: frame %d: lz4: %v", ErrBadCapture, rec.Seq, err)
		}
		raw = raw[:n]
	}
	if len(raw) != size {
		return nil, fmt.Errorf("%w: frame %d has %d pixel bytes, want %d", ErrBadCapture, rec.Seq, len(raw), size)
	}

	grid := make(framecodec.Grid, rec.Rows)
	for y := range grid {
		row := make([]framecodec.Pixel, rec.Cols)
		for x := range row {
			i := (y*rec.Cols + x) * 3
			row[x] = framecodec.Pixel{raw[i], raw[i+1], raw[i+2]}
		}
		grid[y] = row
	}
	return grid, nil
}

func (rp *Replay) Close() error {
	if rp.closer != nil {
		return rp.closer.Close()
	}
	return nil
}

// Tee returns a source that records every frame src yields.
func Tee(src Source, rec *Recorder) Source {
	return &tee{src: src, rec: rec}
}

type tee struct {
	src Source
	rec *Recorder
}

func (t *tee) Next(ctx context.Context) (framecodec.Grid, error) {
	grid, err := t.src.Next(ctx)
	if err != nil {
		return nil, err
	}
	if err := t.rec.Record(grid); err != nil {
		return nil, err
	}
	return grid, nil
}

func (t *tee) Close() error {
	flushErr := t.rec.Flush()
	if err := t.src.Close(); err != nil {
		return err
	}
	return flushErr
}
