package sliceplan

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jbcurtin/cloud-fits/internal/fitsheader"
	"github.com/jbcurtin/cloud-fits/internal/hduscan"
)

func card(keyword, value string) string {
	return fmt.Sprintf("%-8s= %20s", keyword, value)
}

func writeHeader(buf *bytes.Buffer, lines []string) {
	for _, l := range lines {
		b := []byte(l)
		buf.Write(b)
		buf.Write(bytes.Repeat([]byte{' '}, fitsheader.CardSize-len(b)))
	}
	end := fitsheader.EndCardBytes()
	buf.Write(end[:])
	if pad := fitsheader.BlockSize - (buf.Len() % fitsheader.BlockSize); pad != fitsheader.BlockSize {
		buf.Write(bytes.Repeat([]byte{' '}, pad))
	}
}

// buildImageFile returns a full FITS byte stream (primary + one uint8
// image extension of the given fastest-first shape) whose data bytes are
// sequential 0..N-1, plus the scanned HDU descriptor for the extension.
func buildImageFile(t *testing.T, naxisFastestFirst []int64) ([]byte, hduscan.HDU) {
	t.Helper()
	var buf bytes.Buffer
	writeHeader(&buf, []string{
		card("SIMPLE", "T"),
		card("BITPIX", "8"),
		card("NAXIS", "0"),
	})

	lines := []string{
		card("XTENSION", "'IMAGE   '"),
		card("BITPIX", "8"),
		card("NAXIS", fmt.Sprintf("%d", len(naxisFastestFirst))),
	}
	for i, n := range naxisFastestFirst {
		lines = append(lines, card(fmt.Sprintf("NAXIS%d", i+1), fmt.Sprintf("%d", n)))
	}
	lines = append(lines, card("PCOUNT", "0"), card("GCOUNT", "1"))
	writeHeader(&buf, lines)

	var total int64 = 1
	for _, n := range naxisFastestFirst {
		total *= n
	}
	padded := fitsheader.PadToBlock(total)
	data := make([]byte, padded)
	for i := int64(0); i < total; i++ {
		data[i] = byte(i % 251)
	}
	buf.Write(data)

	raw := buf.Bytes()
	hdus, err := hduscan.Scan(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, hdus, 2)
	return raw, hdus[1]
}

func readRanges(raw []byte, ranges []Range) []byte {
	var out []byte
	for _, r := range ranges {
		out = append(out, raw[r.Start:r.Stop]...)
	}
	return out
}

// expectedLogicalBytes computes, in slow-to-fast lexicographic order, the
// concatenation of element bytes selected by views from the sequential
// fastest-first-order data buffer, mirroring what the planner's ranges
// must reproduce.
func expectedLogicalBytes(raw []byte, dataOffset int64, shape []int64, strides []int64, views []View) []byte {
	n := len(shape)
	var out []byte
	counters := make([]int64, n)
	for i := range counters {
		counters[i] = views[i].Start
	}
	for {
		var off int64 = dataOffset
		for k := 0; k < n; k++ {
			off += counters[k] * strides[k]
		}
		out = append(out, raw[off])

		k := n - 1
		for k >= 0 {
			counters[k]++
			if counters[k] < views[k].Stop {
				break
			}
			counters[k] = views[k].Start
			k--
		}
		if k < 0 {
			break
		}
	}
	return out
}

func TestPlanImage_RoundTrip(t *testing.T) {
	raw, hdu := buildImageFile(t, []int64{4, 5, 6}) // fastest-first NAXIS1..3
	views := []View{
		{Start: 0, Stop: 2, Step: 1}, // slowest axis
		{Start: 1, Stop: 4, Step: 1},
		{Start: 0, Stop: 3, Step: 1}, // fastest axis
	}

	plan, err := PlanImage(hdu, views, false)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3, 3}, plan.OutputShape)

	got := readRanges(raw, plan.Ranges)
	want := expectedLogicalBytes(raw, hdu.DataOffset, hdu.Shape, hdu.Strides, views)
	require.Equal(t, want, got)
}

func TestPlanImage_Coalescing_Equivalence(t *testing.T) {
	raw, hdu := buildImageFile(t, []int64{6, 5, 4}) // logical shape (4, 5, 6)
	views := []View{
		{Start: 0, Stop: 2, Step: 1},
		{Start: 0, Stop: 5, Step: 1}, // full axis: coalescing collapses this dimension
		{Start: 0, Stop: 6, Step: 1}, // full fastest axis
	}

	uncoalesced, err := PlanImage(hdu, views, false)
	require.NoError(t, err)
	coalesced, err := PlanImage(hdu, views, true)
	require.NoError(t, err)

	require.Less(t, len(coalesced.Ranges), len(uncoalesced.Ranges))
	require.Equal(t, readRanges(raw, uncoalesced.Ranges), readRanges(raw, coalesced.Ranges))
}

func TestPlanImage_EmptyNonTrailingAxisYieldsNoRanges(t *testing.T) {
	_, hdu := buildImageFile(t, []int64{6, 5, 4}) // logical shape (4, 5, 6)
	views := []View{
		{Start: 0, Stop: 0, Step: 1}, // slowest axis, empty
		{Start: 0, Stop: 5, Step: 1},
		{Start: 0, Stop: 6, Step: 1},
	}
	plan, err := PlanImage(hdu, views, false)
	require.NoError(t, err)
	require.Equal(t, []int64{0, 5, 6}, plan.OutputShape)
	require.Empty(t, plan.Ranges)
}

func TestPlanImage_ScalarAxis(t *testing.T) {
	_, hdu := buildImageFile(t, []int64{2, 3, 4})
	views := []View{
		{Start: 0, Stop: 2, Step: 1},
		Scalar(1),
		{Start: 0, Stop: 2, Step: 1},
	}
	plan, err := PlanImage(hdu, views, false)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 1, 2}, plan.OutputShape)
}

func TestPlanImage_OutOfBoundsIsBadSlice(t *testing.T) {
	_, hdu := buildImageFile(t, []int64{2, 3, 4})
	views := []View{
		{Start: 0, Stop: 100, Step: 1},
		{Start: 0, Stop: 3, Step: 1},
		{Start: 0, Stop: 2, Step: 1},
	}
	_, err := PlanImage(hdu, views, false)
	require.Error(t, err)
}

func TestPlanImage_WrongRankIsBadSlice(t *testing.T) {
	_, hdu := buildImageFile(t, []int64{2, 3, 4})
	_, err := PlanImage(hdu, []View{{Start: 0, Stop: 2, Step: 1}}, false)
	require.Error(t, err)
}

func TestPlanImage_NoDataIsBadSlice(t *testing.T) {
	hdu := hduscan.HDU{Index: 0, Kind: hduscan.Primary, Shape: nil}
	_, err := PlanImage(hdu, nil, false)
	require.Error(t, err)
}

func TestPlanBinTable(t *testing.T) {
	hdu := hduscan.HDU{
		Index:      1,
		Kind:       hduscan.BinTable,
		DataOffset: 5760,
		Shape:      []int64{1282, 136},
		Strides:    []int64{136, 1},
	}
	plan, err := PlanBinTable(hdu, 0, 10)
	require.NoError(t, err)
	require.Equal(t, int64(5760), plan.Range.Start)
	require.Equal(t, int64(5760+1360), plan.Range.Stop)
	require.Equal(t, int64(10), plan.NewNAXIS2)
}

func TestPlanBinTable_OutOfBounds(t *testing.T) {
	hdu := hduscan.HDU{
		Index:      1,
		Kind:       hduscan.BinTable,
		DataOffset: 0,
		Shape:      []int64{10, 8},
		Strides:    []int64{8, 1},
	}
	_, err := PlanBinTable(hdu, 5, 20)
	require.Error(t, err)
}

func TestCoalesce_MergesOnlyAdjacent(t *testing.T) {
	in := []Range{{0, 10}, {10, 20}, {30, 40}}
	out := Coalesce(in)
	require.Equal(t, []Range{{0, 20}, {30, 40}}, out)
}
