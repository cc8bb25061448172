package matcher

import (
	"context"
	"sync"

	"github.com/rmacdonaldsmith/facegate/internal/recognition"
	"github.com/rmacdonaldsmith/facegate/pkg/framecodec"
)

// Local is an in-process matcher for simulation and tests. A frame shows a
// face when it is not a single flat colour, and shows an enrolled person
// when that person's reference photo appears in it pixel for pixel.
type Local struct {
	mu   sync.RWMutex
	refs []localRef
}

type localRef struct {
	name string
	grid framecodec.Grid
}

var _ recognition.Matcher = (*Local)(nil)

func NewLocal() *Local {
	return &Local{}
}

// Enroll stores grid as name's reference, replacing any earlier one.
func (l *Local) Enroll(ctx context.Context, name string, grid framecodec.Grid) error {
	if blank(grid) || !grid.Uniform() {
		return ErrNoFace
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.refs {
		if l.refs[i].name == name {
			l.refs[i].grid = grid
			return nil
		}
	}
	l.refs = append(l.refs, localRef{name: name, grid: grid})
	return nil
}

// Match reports every enrolled person whose reference occurs in grid.
func (l *Local) Match(ctx context.Context, grid framecodec.Grid) (recognition.MatchOutcome, error) {
	if blank(grid) {
		return recognition.MatchOutcome{}, nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var outcome recognition.MatchOutcome
	for _, ref := range l.refs {
		if err := ctx.Err(); err != nil {
			return recognition.MatchOutcome{}, err
		}
		if contains(grid, ref.grid) {
			outcome.Names = append(outcome.Names, ref.name)
		}
	}
	outcome.Faces = max(len(outcome.Names), 1)
	return outcome, nil
}

// Enrolled returns the enrolled names in enrollment order.
func (l *Local) Enrolled() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, len(l.refs))
	for i, ref := range l.refs {
		names[i] = ref.name
	}
	return names
}

func blank(g framecodec.Grid) bool {
	if len(g) == 0 || len(g[0]) == 0 {
		return true
	}
	first := g[0][0]
	for _, row := range g {
		for _, p := range row {
			if p != first {
				return false
			}
		}
	}
	return true
}

// contains reports whether patch occurs in frame at some offset.
func contains(frame, patch framecodec.Grid) bool {
	ph, pw := patch.Dims()
	for top := 0; top+ph <= len(frame); top++ {
		for left := 0; left+pw <= len(frame[top]); left++ {
			if matchesAt(frame, patch, top, left) {
				return true
			}
		}
	}
	return false
}

func matchesAt(frame, patch framecodec.Grid, top, left int) bool {
	for y, prow := range patch {
		frow := frame[top+y]
		if left+len(prow) > len(frow) {
			return false
		}
		for x, p := range prow {
			if frow[left+x] != p {
				return false
			}
		}
	}
	return true
}
