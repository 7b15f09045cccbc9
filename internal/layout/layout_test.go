package layout

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jbcurtin/cloud-fits/internal/fitsheader"
)

func card(keyword, value string) string {
	return fmt.Sprintf("%-8s= %20s", keyword, value)
}

func buildHeader(t *testing.T, lines []string) fitsheader.Header {
	t.Helper()
	var buf bytes.Buffer
	for _, l := range lines {
		b := []byte(l)
		if len(b) > fitsheader.CardSize {
			b = b[:fitsheader.CardSize]
		}
		buf.Write(b)
		buf.Write(bytes.Repeat([]byte{' '}, fitsheader.CardSize-len(b)))
	}
	end := fitsheader.EndCardBytes()
	buf.Write(end[:])
	if pad := fitsheader.BlockSize - (buf.Len() % fitsheader.BlockSize); pad != fitsheader.BlockSize {
		buf.Write(bytes.Repeat([]byte{' '}, pad))
	}
	h, err := fitsheader.ParseHeader(buf.Bytes())
	require.NoError(t, err)
	return h
}

func TestForImage_StrideConsistency(t *testing.T) {
	h := buildHeader(t, []string{
		card("SIMPLE", "T"),
		card("BITPIX", "-32"),
		card("NAXIS", "4"),
		card("NAXIS1", "2"),
		card("NAXIS2", "1282"),
		card("NAXIS3", "2136"),
		card("NAXIS4", "2078"),
	})

	lay, err := ForImage(h)
	require.NoError(t, err)
	require.Equal(t, Float32, lay.ElementType)
	// slow-to-fast: (NAXIS4, NAXIS3, NAXIS2, NAXIS1)
	require.Equal(t, []int64{2078, 2136, 1282, 2}, lay.Shape)

	n := len(lay.Shape)
	require.Equal(t, int64(4), lay.Strides[n-1])
	for i := n - 2; i >= 0; i-- {
		require.Equal(t, lay.Strides[i+1]*lay.Shape[i+1], lay.Strides[i])
	}

	var product int64 = 1
	for _, s := range lay.Shape {
		product *= s
	}
	require.Equal(t, product*4, lay.DataLength)
}

func TestForImage_UnsupportedBitpix(t *testing.T) {
	h := buildHeader(t, []string{
		card("SIMPLE", "T"),
		card("BITPIX", "24"),
		card("NAXIS", "1"),
		card("NAXIS1", "10"),
	})
	_, err := ForImage(h)
	require.Error(t, err)
}

func TestForImage_ZeroAxes(t *testing.T) {
	h := buildHeader(t, []string{
		card("SIMPLE", "T"),
		card("BITPIX", "8"),
		card("NAXIS", "0"),
	})
	lay, err := ForImage(h)
	require.NoError(t, err)
	require.Equal(t, int64(0), lay.DataLength)
}

func TestForBinTable(t *testing.T) {
	h := buildHeader(t, []string{
		card("XTENSION", "'BINTABLE'"),
		card("BITPIX", "8"),
		card("NAXIS", "2"),
		card("NAXIS1", "136"),
		card("NAXIS2", "1282"),
	})
	lay, err := ForBinTable(h)
	require.NoError(t, err)
	require.Equal(t, []int64{1282, 136}, lay.Shape)
	require.Equal(t, []int64{136, 1}, lay.Strides)
	require.Equal(t, int64(136*1282), lay.DataLength)
}

func TestForBinTable_RejectsHeapColumnNotInFirstField(t *testing.T) {
	h := buildHeader(t, []string{
		card("XTENSION", "'BINTABLE'"),
		card("BITPIX", "8"),
		card("NAXIS", "2"),
		card("NAXIS1", "16"),
		card("NAXIS2", "4"),
		card("TFIELDS", "2"),
		card("TFORM1", "'8A      '"),
		card("TFORM2", "'1PJ(10) '"),
	})
	_, err := ForBinTable(h)
	require.Error(t, err)
}

func TestForBinTable_RejectsGroupFITS(t *testing.T) {
	h := buildHeader(t, []string{
		card("XTENSION", "'BINTABLE'"),
		card("BITPIX", "8"),
		card("NAXIS", "2"),
		card("NAXIS1", "8"),
		card("NAXIS2", "1"),
		card("GCOUNT", "2"),
	})
	_, err := ForBinTable(h)
	require.Error(t, err)
}
