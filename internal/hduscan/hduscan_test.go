package hduscan

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

func writeHeader(buf *bytes.Buffer, lines []string) {
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
}

// buildFitsFile builds a synthetic, conformant FITS file: an empty primary
// HDU followed by one float32 image extension of the given shape (NAXIS1
// fastest-first order), filled with sequential bytes.
func buildFitsFile(naxisFastestFirst []int64) []byte {
	var buf bytes.Buffer
	writeHeader(&buf, []string{
		card("SIMPLE", "T"),
		card("BITPIX", "8"),
		card("NAXIS", "0"),
	})

	lines := []string{
		card("XTENSION", "'IMAGE   '"),
		card("BITPIX", "-32"),
		card("NAXIS", fmt.Sprintf("%d", len(naxisFastestFirst))),
	}
	for i, n := range naxisFastestFirst {
		lines = append(lines, card(fmt.Sprintf("NAXIS%d", i+1), fmt.Sprintf("%d", n)))
	}
	lines = append(lines, card("PCOUNT", "0"), card("GCOUNT", "1"))
	writeHeader(&buf, lines)

	var total int64 = 4
	for _, n := range naxisFastestFirst {
		total *= n
	}
	padded := fitsheader.PadToBlock(total)
	data := make([]byte, padded)
	for i := range data {
		data[i] = byte(i)
	}
	buf.Write(data)
	return buf.Bytes()
}

func TestScan_PrimaryOnly(t *testing.T) {
	var buf bytes.Buffer
	writeHeader(&buf, []string{
		card("SIMPLE", "T"),
		card("BITPIX", "8"),
		card("NAXIS", "0"),
	})

	hdus, err := Scan(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, hdus, 1)
	require.Equal(t, Primary, hdus[0].Kind)
	require.Equal(t, int64(0), hdus[0].DataLength)
}

func TestScan_IndexerClosure(t *testing.T) {
	raw := buildFitsFile([]int64{2, 3, 4})
	hdus, err := Scan(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, hdus, 2)

	// P1: strictly increasing (data_offset, data_stop) spans, block aligned.
	var lastStop int64 = -1
	for _, h := range hdus {
		require.Equal(t, int64(0), h.DataOffset%fitsheader.BlockSize)
		require.Equal(t, int64(0), h.DataStop%fitsheader.BlockSize)
		require.Greater(t, h.DataOffset, lastStop)
		require.GreaterOrEqual(t, h.DataStop, h.DataOffset)
		lastStop = h.DataStop
	}

	img := hdus[1]
	require.Equal(t, Image, img.Kind)
	// slow-to-fast shape of fastest-first (2,3,4) is (4,3,2)
	require.Equal(t, []int64{4, 3, 2}, img.Shape)
}

func TestScan_MissingEndCardIsInvalid(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte(card("SIMPLE", "T")))
	buf.Write(bytes.Repeat([]byte{' '}, fitsheader.CardSize-len(card("SIMPLE", "T"))))
	buf.Write(bytes.Repeat([]byte{' '}, fitsheader.BlockSize-fitsheader.CardSize))

	_, err := Scan(bytes.NewReader(buf.Bytes()))
	require.Error(t, err)
}

func TestScan_UnsupportedBitpix(t *testing.T) {
	var buf bytes.Buffer
	writeHeader(&buf, []string{
		card("SIMPLE", "T"),
		card("BITPIX", "24"),
		card("NAXIS", "0"),
	})
	_, err := Scan(bytes.NewReader(buf.Bytes()))
	require.Error(t, err)
}
