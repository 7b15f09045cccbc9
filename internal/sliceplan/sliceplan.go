// Package sliceplan turns an N-dimensional logical slice over an image HDU,
// or a row range over a bintable HDU, into a minimal ordered list of
// half-open byte ranges over the original file.
package sliceplan

import (
	"fmt"

	"github.com/jbcurtin/cloud-fits/internal/ferrors"
	"github.com/jbcurtin/cloud-fits/internal/hduscan"
)

// View is one axis's [Start, Stop) selection. Step must be 0 (absent) or 1;
// non-unit steps over non-contiguous axes are out of scope.
type View struct {
	Start int64
	Stop  int64
	Step  int64
}

// Scalar builds the length-1 View equivalent to an integer index.
func Scalar(k int64) View {
	return View{Start: k, Stop: k + 1, Step: 1}
}

// Range is a half-open byte range [Start, Stop) in the original file.
type Range struct {
	Start int64
	Stop  int64
}

// Len returns the number of bytes covered by r.
func (r Range) Len() int64 {
	return r.Stop - r.Start
}

// isAdjacent reports whether r immediately precedes other (r.Stop ==
// other.Start).
func (r Range) isAdjacent(other Range) bool {
	return r.Stop == other.Start
}

// union merges r and an adjacent-or-overlapping other into one Range. The
// caller must already know they are adjacent or overlapping.
func (r Range) union(other Range) Range {
	start := r.Start
	if other.Start < start {
		start = other.Start
	}
	stop := r.Stop
	if other.Stop > stop {
		stop = other.Stop
	}
	return Range{Start: start, Stop: stop}
}

// Plan is the output of planning one image-HDU slice: the ordered ranges
// (in lexicographic slow-to-fast enumeration order) and the resulting
// output shape.
type Plan struct {
	Ranges      []Range
	OutputShape []int64
}

// validateViews checks rank and bounds for every axis of an image HDU.
func validateViews(shape []int64, views []View) error {
	if len(views) != len(shape) {
		return fmt.Errorf("expected %d views, got %d: %w", len(shape), len(views), ferrors.BadSlice)
	}
	for i, v := range views {
		if v.Step != 0 && v.Step != 1 {
			return fmt.Errorf("axis %d: non-unit step %d is unsupported: %w", i, v.Step, ferrors.BadSlice)
		}
		if v.Start < 0 || v.Stop < v.Start || v.Stop > shape[i] {
			return fmt.Errorf("axis %d: view [%d,%d) out of bounds for shape %d: %w", i, v.Start, v.Stop, shape[i], ferrors.BadSlice)
		}
	}
	return nil
}

// PlanImage computes the byte ranges and output shape for a slice over an
// image-kind HDU. Enumeration uses an iterative multi-index odometer over
// the non-trailing axes rather than recursion, so stack depth does not grow
// with rank.
func PlanImage(hdu hduscan.HDU, views []View, coalesce bool) (Plan, error) {
	if hdu.Kind != hduscan.Primary && hdu.Kind != hduscan.Image {
		return Plan{}, fmt.Errorf("HDU %d is not an image: %w", hdu.Index, ferrors.BadSlice)
	}
	if len(hdu.Shape) == 0 {
		return Plan{}, fmt.Errorf("HDU %d has no data (NAXIS=0): %w", hdu.Index, ferrors.BadSlice)
	}
	if err := validateViews(hdu.Shape, views); err != nil {
		return Plan{}, err
	}

	n := len(hdu.Shape)
	outputShape := make([]int64, n)
	for i, v := range views {
		outputShape[i] = v.Stop - v.Start
	}

	for _, length := range outputShape {
		if length == 0 {
			return Plan{Ranges: nil, OutputShape: outputShape}, nil
		}
	}

	last := views[n-1]
	lastStride := hdu.Strides[n-1]
	lastStart := last.Start * lastStride
	lastStop := last.Stop * lastStride

	if n == 1 {
		ranges := []Range{{Start: hdu.DataOffset + lastStart, Stop: hdu.DataOffset + lastStop}}
		return Plan{Ranges: ranges, OutputShape: outputShape}, nil
	}

	// Odometer over axes 0..n-2, slowest (axis 0) outermost.
	outerDims := views[:n-1]
	counters := make([]int64, n-1)
	for i := range counters {
		counters[i] = outerDims[i].Start
	}

	var ranges []Range
	for {
		var base int64 = hdu.DataOffset
		for k := 0; k < n-1; k++ {
			base += counters[k] * hdu.Strides[k]
		}
		ranges = append(ranges, Range{Start: base + lastStart, Stop: base + lastStop})

		// advance the odometer, fastest outer axis first (axis n-2).
		k := n - 2
		for k >= 0 {
			counters[k]++
			if counters[k] < outerDims[k].Stop {
				break
			}
			counters[k] = outerDims[k].Start
			k--
		}
		if k < 0 {
			break
		}
	}

	if coalesce {
		ranges = Coalesce(ranges)
	}

	return Plan{Ranges: ranges, OutputShape: outputShape}, nil
}

// Coalesce merges adjacent ranges (r.Stop == next.Start) in an
// already-ordered range list, preserving order and without reordering
// non-adjacent entries. Merging uses Range.union, applied here purely to
// shrink request count.
func Coalesce(ranges []Range) []Range {
	if len(ranges) == 0 {
		return ranges
	}
	out := make([]Range, 0, len(ranges))
	cur := ranges[0]
	for _, r := range ranges[1:] {
		if cur.isAdjacent(r) {
			cur = cur.union(r)
			continue
		}
		out = append(out, cur)
		cur = r
	}
	out = append(out, cur)
	return out
}

// BinTablePlan is the output of planning a bintable row-range cutout.
type BinTablePlan struct {
	Range      Range
	RowStart   int64
	RowStop    int64
	NewNAXIS2  int64
	BytesPerRow int64
}

// PlanBinTable computes the single byte range for a row-range cutout
// [r0, r1) over a bintable HDU.
func PlanBinTable(hdu hduscan.HDU, r0, r1 int64) (BinTablePlan, error) {
	if hdu.Kind != hduscan.BinTable {
		return BinTablePlan{}, fmt.Errorf("HDU %d is not a bintable: %w", hdu.Index, ferrors.BadSlice)
	}
	if len(hdu.Shape) != 2 {
		return BinTablePlan{}, fmt.Errorf("HDU %d has malformed bintable shape: %w", hdu.Index, ferrors.InvalidFits)
	}
	numRows := hdu.Shape[0]
	bytesPerRow := hdu.Shape[1]
	if r0 < 0 || r1 < r0 || r1 > numRows {
		return BinTablePlan{}, fmt.Errorf("row range [%d,%d) out of bounds for %d rows: %w", r0, r1, numRows, ferrors.BadSlice)
	}

	start := hdu.DataOffset + r0*bytesPerRow
	stop := hdu.DataOffset + r1*bytesPerRow

	return BinTablePlan{
		Range:       Range{Start: start, Stop: stop},
		RowStart:    r0,
		RowStop:     r1,
		NewNAXIS2:   r1 - r0,
		BytesPerRow: bytesPerRow,
	}, nil
}
