// Package layout computes data shape, element type, and byte strides for
// an HDU from its parsed header cards.
package layout

import (
	"fmt"
	"strconv"

	"github.com/jbcurtin/cloud-fits/internal/ferrors"
	"github.com/jbcurtin/cloud-fits/internal/fitsheader"
)

// ElementType names the on-disk element encoding, derived from BITPIX.
type ElementType string

const (
	Uint8   ElementType = "uint8"
	Int16   ElementType = "int16"
	Int32   ElementType = "int32"
	Int64   ElementType = "int64"
	Float32 ElementType = "float32"
	Float64 ElementType = "float64"
)

// ElementBytes returns the size in bytes of one element of t.
func (t ElementType) ElementBytes() int64 {
	switch t {
	case Uint8:
		return 1
	case Int16:
		return 2
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	default:
		return 0
	}
}

// ElementTypeFromBitpix maps the FITS BITPIX keyword to an ElementType.
// BITPIX values outside the canonical set are UnsupportedFits.
func ElementTypeFromBitpix(bitpix int64) (ElementType, error) {
	switch bitpix {
	case 8:
		return Uint8, nil
	case 16:
		return Int16, nil
	case 32:
		return Int32, nil
	case 64:
		return Int64, nil
	case -32:
		return Float32, nil
	case -64:
		return Float64, nil
	default:
		return "", fmt.Errorf("bitpix %d is not one of {8,16,32,64,-32,-64}: %w", bitpix, ferrors.UnsupportedFits)
	}
}

// Layout is the derived, stored-not-recomputed geometry of one HDU's data
// payload.
type Layout struct {
	ElementType ElementType
	// Shape is slow-to-fast for images, (rows, bytesPerRow) for bintables.
	Shape []int64
	// Strides is the byte stride per axis, same ordering as Shape.
	Strides    []int64
	DataLength int64
}

// ForImage computes the Layout for a Primary/Image HDU from its header.
// FITS declares NAXIS1..NAXISn fastest-first; the returned Shape is
// slow-to-fast (NAXISn, ..., NAXIS1) per the indexing convention.
func ForImage(h fitsheader.Header) (Layout, error) {
	bitpixCard, ok := h.Get("BITPIX")
	if !ok {
		return Layout{}, fmt.Errorf("missing BITPIX card: %w", ferrors.InvalidFits)
	}
	bitpix, err := bitpixCard.IntValue()
	if err != nil {
		return Layout{}, fmt.Errorf("malformed BITPIX card: %w", ferrors.InvalidFits)
	}
	elemType, err := ElementTypeFromBitpix(bitpix)
	if err != nil {
		return Layout{}, err
	}
	elemBytes := elemType.ElementBytes()

	naxisCard, ok := h.Get("NAXIS")
	if !ok {
		return Layout{}, fmt.Errorf("missing NAXIS card: %w", ferrors.InvalidFits)
	}
	naxis, err := naxisCard.IntValue()
	if err != nil {
		return Layout{}, fmt.Errorf("malformed NAXIS card: %w", ferrors.InvalidFits)
	}
	if naxis == 0 {
		return Layout{ElementType: elemType, Shape: nil, Strides: nil, DataLength: 0}, nil
	}

	fitsAxes := make([]int64, naxis) // fastest-first, index 0 == NAXIS1
	for i := int64(1); i <= naxis; i++ {
		key := "NAXIS" + strconv.FormatInt(i, 10)
		card, ok := h.Get(key)
		if !ok {
			return Layout{}, fmt.Errorf("missing %s card: %w", key, ferrors.InvalidFits)
		}
		n, err := card.IntValue()
		if err != nil {
			return Layout{}, fmt.Errorf("malformed %s card: %w", key, ferrors.InvalidFits)
		}
		fitsAxes[i-1] = n
	}

	// slow-to-fast shape: reverse of fastest-first FITS order.
	n := int(naxis)
	shape := make([]int64, n)
	allZero := true
	for i := 0; i < n; i++ {
		shape[i] = fitsAxes[n-1-i]
		if shape[i] != 0 {
			allZero = false
		}
	}
	if allZero {
		return Layout{ElementType: elemType, Shape: shape, Strides: make([]int64, n), DataLength: 0}, nil
	}

	strides := make([]int64, n)
	strides[n-1] = elemBytes
	for i := n - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * shape[i+1]
	}

	total := elemBytes
	for _, s := range shape {
		total *= s
	}

	return Layout{ElementType: elemType, Shape: shape, Strides: strides, DataLength: total}, nil
}

// ForBinTable computes the Layout for a BinTable HDU: shape (rows,
// bytesPerRow); strides (NAXIS1, 1).
func ForBinTable(h fitsheader.Header) (Layout, error) {
	naxis1Card, ok := h.Get("NAXIS1")
	if !ok {
		return Layout{}, fmt.Errorf("missing NAXIS1 card: %w", ferrors.InvalidFits)
	}
	naxis1, err := naxis1Card.IntValue()
	if err != nil {
		return Layout{}, fmt.Errorf("malformed NAXIS1 card: %w", ferrors.InvalidFits)
	}
	naxis2Card, ok := h.Get("NAXIS2")
	if !ok {
		return Layout{}, fmt.Errorf("missing NAXIS2 card: %w", ferrors.InvalidFits)
	}
	naxis2, err := naxis2Card.IntValue()
	if err != nil {
		return Layout{}, fmt.Errorf("malformed NAXIS2 card: %w", ferrors.InvalidFits)
	}

	if gcount, ok := h.Get("GCOUNT"); ok {
		if v, err := gcount.IntValue(); err == nil && v > 1 {
			return Layout{}, fmt.Errorf("GROUP FITS (GCOUNT>1) is unsupported: %w", ferrors.UnsupportedFits)
		}
	}
	if pcount, ok := h.Get("PCOUNT"); ok {
		if v, err := pcount.IntValue(); err == nil && v > 0 {
			return Layout{}, fmt.Errorf("GROUP FITS (PCOUNT>0) is unsupported: %w", ferrors.UnsupportedFits)
		}
	}
	tfields := int64(0)
	if tf, ok := h.Get("TFIELDS"); ok {
		if v, err := tf.IntValue(); err == nil {
			tfields = v
		}
	}
	for i := int64(1); i <= tfields; i++ {
		tform, ok := h.Get("TFORM" + strconv.FormatInt(i, 10))
		if !ok {
			continue
		}
		if hasHeapForm(tform.StringValue()) {
			return Layout{}, fmt.Errorf("variable-length array columns are unsupported: %w", ferrors.UnsupportedFits)
		}
	}

	return Layout{
		ElementType: Uint8,
		Shape:       []int64{naxis2, naxis1},
		Strides:     []int64{naxis1, 1},
		DataLength:  naxis1 * naxis2,
	}, nil
}

// hasHeapForm reports whether a TFORMn value declares a variable-length
// (heap) array column: an optional leading repeat count followed by P
// (32-bit descriptor) or Q (64-bit descriptor).
func hasHeapForm(tform string) bool {
	i := 0
	for i < len(tform) && tform[i] >= '0' && tform[i] <= '9' {
		i++
	}
	return i < len(tform) && (tform[i] == 'P' || tform[i] == 'Q')
}
