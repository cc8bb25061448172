package framesource

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rmacdonaldsmith/facegate/pkg/framecodec"
)

// SyntheticConfig describes a generated scene.
type SyntheticConfig struct {
	Rows int
	Cols int
	FPS  int

	// Visitor, when set, is painted at VisitorTop/VisitorLeft for the
	// first VisitorFrames frames of every VisitorPeriod frames.
	Visitor       framecodec.Grid
	VisitorTop    int
	VisitorLeft   int
	VisitorPeriod int
	VisitorFrames int
}

// SetDefaults fills unset fields with a 640x480 scene at 30 FPS.
func (c *SyntheticConfig) SetDefaults() {
	if c.Rows <= 0 {
		c.Rows = 480
	}
	if c.Cols <= 0 {
		c.Cols = 640
	}
	if c.FPS <= 0 {
		c.FPS = 30
	}
	if c.Visitor != nil && c.VisitorPeriod <= 0 {
		c.VisitorPeriod = c.FPS * 20
	}
	if c.Visitor != nil && c.VisitorFrames <= 0 {
		c.VisitorFrames = c.FPS * 3
	}
}

// Validate checks that the visitor fits in the scene.
func (c *SyntheticConfig) Validate() error {
	if c.Visitor == nil {
		return nil
	}
	if !c.Visitor.Uniform() {
		return errors.New("visitor must be rectangular")
	}
	rows, cols := c.Visitor.Dims()
	if c.VisitorTop < 0 || c.VisitorLeft < 0 || c.VisitorTop+rows > c.Rows || c.VisitorLeft+cols > c.Cols {
		return errors.New("visitor does not fit in the scene")
	}
	return nil
}

// Synthetic generates a slowly shifting gradient, with an optional visitor
// patch that comes and goes, at a fixed frame rate on the given clock.
type Synthetic struct {
	config   SyntheticConfig
	clock    clockwork.Clock
	interval time.Duration
	seq      int
	closed   bool
}

// NewSynthetic creates a generator. The first frame is due one frame
// interval after the first call to Next.
func NewSynthetic(config SyntheticConfig, clk clockwork.Clock) (*Synthetic, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Synthetic{
		config:   config,
		clock:    clk,
		interval: time.Second / time.Duration(config.FPS),
	}, nil
}

// Next waits one frame interval and returns the next frame.
func (s *Synthetic) Next(ctx context.Context) (framecodec.Grid, error) {
	if s.closed {
		return nil, ErrExhausted
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.clock.After(s.interval):
	}

	frame := s.render(s.seq)
	s.seq++
	return frame, nil
}

// VisitorPresent reports whether frame seq shows the visitor.
func (s *Synthetic) VisitorPresent(seq int) bool {
	c := s.config
	return c.Visitor != nil && seq%c.VisitorPeriod < c.VisitorFrames
}

func (s *Synthetic) render(seq int) framecodec.Grid {
	c := s.config
	frame := make(framecodec.Grid, c.Rows)
	shift := seq % 256
	for y := range frame {
		row := make([]framecodec.Pixel, c.Cols)
		for x := range row {
			row[x] = framecodec.Pixel{
				uint8((x + shift) % 256),
				uint8((y + shift) % 256),
				uint8((x + y) % 256),
			}
		}
		frame[y] = row
	}

	if s.VisitorPresent(seq) {
		for y, vrow := range c.Visitor {
			copy(frame[c.VisitorTop+y][c.VisitorLeft:], vrow)
		}
	}
	return frame
}

func (s *Synthetic) Close() error {
	s.closed = true
	return nil
}
