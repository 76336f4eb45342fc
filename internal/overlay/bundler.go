// Package overlay composites a dynamic overlay bitmap onto video frames
// before encoding. Full-frame alpha compositing at high resolution and
// frame rate is the dominant CPU cost upstream of the encoder, so the
// bundler diffs each overlay against the previous one and composites only
// the changed, grid-aligned region.
package overlay

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/fragship/fragship/internal/domain"
)

// DefaultGridWidth is the dirty-region search granularity in pixels.
// 160 evenly divides every supported output width (1280, 1920, 3840),
// so snapped regions always cover whole grid cells.
const DefaultGridWidth = 160

// Bundler applies overlay bitmaps to video frames, reprocessing only the
// region that changed since the previous overlay. It retains exactly one
// previous overlay to diff against; no further history.
//
// Bundler is not safe for concurrent use. All calls must come from the
// pipeline goroutine.
type Bundler struct {
	grid int
	prev *image.RGBA
}

// NewBundler creates a bundler with the given search granularity.
// A non-positive grid falls back to DefaultGridWidth.
func NewBundler(gridWidth int) *Bundler {
	if gridWidth <= 0 {
		gridWidth = DefaultGridWidth
	}
	return &Bundler{grid: gridWidth}
}

// Apply composites the overlay onto frame, touching only the snapped dirty
// region, and returns that region for cost accounting. A zero rectangle
// means the overlay did not change and the frame passed through untouched.
//
// The overlay and frame must share identical dimensions; a mismatch is a
// configuration error and is not retried.
func (b *Bundler) Apply(frame *image.RGBA, overlay *image.RGBA) (image.Rectangle, error) {
	// Bounds must match exactly, origin included: the dirty region is
	// expressed in a single coordinate space shared by frame and overlay,
	// and a sub-image with a shifted origin would composite into the
	// wrong part of the frame.
	if frame.Bounds() != overlay.Bounds() {
		return image.Rectangle{}, fmt.Errorf("%w: frame %v overlay %v",
			domain.ErrDimensionMismatch, frame.Bounds(), overlay.Bounds())
	}

	dirty := b.diffBounds(overlay)
	if !dirty.Empty() {
		region := snapToGrid(dirty, overlay.Bounds(), b.grid)
		draw.Draw(frame, region, overlay, region.Min, draw.Over)
		b.retain(overlay)
		return region, nil
	}

	if b.prev == nil {
		// First frame with an all-transparent overlay still needs retaining
		// so later diffs have a baseline.
		b.retain(overlay)
	}
	return image.Rectangle{}, nil
}

// Reset discards the retained overlay so the next Apply composites the
// full frame. Called on session start.
func (b *Bundler) Reset() {
	b.prev = nil
}

// diffBounds returns the minimal rectangle enclosing all pixels that
// differ between the retained overlay and cur. With no retained overlay,
// the whole bitmap is dirty.
func (b *Bundler) diffBounds(cur *image.RGBA) image.Rectangle {
	bounds := cur.Bounds()
	if b.prev == nil {
		return bounds
	}

	minX, minY := bounds.Max.X, bounds.Max.Y
	maxX, maxY := bounds.Min.X, bounds.Min.Y
	found := false

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		rowCur := cur.Pix[cur.PixOffset(bounds.Min.X, y) : cur.PixOffset(bounds.Max.X-1, y)+4]
		rowPrev := b.prev.Pix[b.prev.PixOffset(bounds.Min.X, y) : b.prev.PixOffset(bounds.Max.X-1, y)+4]

		first, last := rowDiffSpan(rowCur, rowPrev)
		if first < 0 {
			continue
		}
		found = true
		if x := bounds.Min.X + first; x < minX {
			minX = x
		}
		if x := bounds.Min.X + last; x+1 > maxX {
			maxX = x + 1
		}
		if y < minY {
			minY = y
		}
		maxY = y + 1
	}

	if !found {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX, maxY)
}

// rowDiffSpan returns the first and last differing pixel index in a row,
// or (-1, -1) when the rows are identical.
func rowDiffSpan(cur, prev []byte) (int, int) {
	n := len(cur) / 4
	first := -1
	last := -1
	for i := 0; i < n; i++ {
		o := i * 4
		if cur[o] != prev[o] || cur[o+1] != prev[o+1] || cur[o+2] != prev[o+2] || cur[o+3] != prev[o+3] {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	return first, last
}

// snapToGrid expands each edge of r outward to the nearest multiple of
// grid, clamped to bounds, so the compositor reprocesses whole grid cells.
func snapToGrid(r image.Rectangle, bounds image.Rectangle, grid int) image.Rectangle {
	snapped := image.Rect(
		floorTo(r.Min.X, grid),
		floorTo(r.Min.Y, grid),
		ceilTo(r.Max.X, grid),
		ceilTo(r.Max.Y, grid),
	)
	return snapped.Intersect(bounds)
}

func floorTo(v, grid int) int {
	if v >= 0 {
		return (v / grid) * grid
	}
	return -ceilTo(-v, grid)
}

func ceilTo(v, grid int) int {
	if v >= 0 {
		return ((v + grid - 1) / grid) * grid
	}
	return -floorTo(-v, grid)
}

// retain copies cur into the previous-overlay buffer, reusing the
// allocation when dimensions allow.
func (b *Bundler) retain(cur *image.RGBA) {
	if b.prev == nil || b.prev.Bounds() != cur.Bounds() {
		b.prev = image.NewRGBA(cur.Bounds())
	}
	copy(b.prev.Pix, cur.Pix)
}
