// Package cutout assembles the synthesized output FITS file for an image
// or bintable cutout: concatenated range payloads plus a minimally patched
// header.
package cutout

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/jbcurtin/cloud-fits/internal/fitsheader"
	"github.com/jbcurtin/cloud-fits/internal/hduscan"
	"github.com/jbcurtin/cloud-fits/internal/layout"
)

// bitpixFor returns the BITPIX value for an ElementType, the inverse of
// layout.ElementTypeFromBitpix.
func bitpixFor(t layout.ElementType) (int64, error) {
	switch t {
	case layout.Uint8:
		return 8, nil
	case layout.Int16:
		return 16, nil
	case layout.Int32:
		return 32, nil
	case layout.Int64:
		return 64, nil
	case layout.Float32:
		return -32, nil
	case layout.Float64:
		return -64, nil
	default:
		return 0, fmt.Errorf("unknown element type %q", t)
	}
}

// buildHeader assembles a sequence of cards into a block-padded header.
func buildHeader(cards [][fitsheader.CardSize]byte) []byte {
	var buf bytes.Buffer
	for _, c := range cards {
		buf.Write(c[:])
	}
	end := fitsheader.EndCardBytes()
	buf.Write(end[:])
	raw := buf.Bytes()
	padded := fitsheader.PadToBlock(int64(len(raw)))
	if int64(len(raw)) < padded {
		pad := bytes.Repeat([]byte{' '}, int(padded-int64(len(raw))))
		raw = append(raw, pad...)
	}
	return raw
}

// synthesizedPrimaryHeader builds the zero-data primary header placed at
// the front of every cutout output file.
func synthesizedPrimaryHeader() []byte {
	return buildHeader([][fitsheader.CardSize]byte{
		fitsheader.FormatFixedCard("SIMPLE", "T", ""),
		fitsheader.FormatFixedCard("BITPIX", "8", ""),
		fitsheader.FormatFixedCard("NAXIS", "0", ""),
		fitsheader.FormatFixedCard("ORIGIN", "'cloud-fits'", "synthesized cutout"),
		fitsheader.FormatFixedCard("MESSAGE", "'cutout'", "partial read via ranged fetch"),
	})
}

// imageExtensionHeader builds the Image extension header for the output
// shape, carrying BITPIX from the source HDU. outputShape is logical
// (slow-to-fast); it is reversed here to FITS axis order (fastest-first)
// for the NAXISn cards.
func imageExtensionHeader(sourceElemType layout.ElementType, outputShape []int64) ([]byte, error) {
	bitpix, err := bitpixFor(sourceElemType)
	if err != nil {
		return nil, err
	}
	n := len(outputShape)
	cards := [][fitsheader.CardSize]byte{
		fitsheader.FormatFixedCard("XTENSION", "'IMAGE   '", ""),
		fitsheader.FormatFixedCard("BITPIX", strconv.FormatInt(bitpix, 10), ""),
		fitsheader.FormatFixedCard("NAXIS", strconv.Itoa(n), ""),
	}
	for i := 0; i < n; i++ {
		// FITS order is fastest-first, the reverse of the logical
		// slow-to-fast outputShape.
		axisLen := outputShape[n-1-i]
		cards = append(cards, fitsheader.FormatFixedCard(
			fmt.Sprintf("NAXIS%d", i+1), strconv.FormatInt(axisLen, 10), ""))
	}
	cards = append(cards,
		fitsheader.FormatFixedCard("PCOUNT", "0", ""),
		fitsheader.FormatFixedCard("GCOUNT", "1", ""),
	)
	return buildHeader(cards), nil
}

// AssembleImage builds the full output FITS byte stream for an image
// cutout: synthesized primary header, image extension header, then the
// concatenated range payloads (in planner order) padded to a block.
func AssembleImage(hdu hduscan.HDU, outputShape []int64, rangePayloads [][]byte) ([]byte, error) {
	extHeader, err := imageExtensionHeader(hdu.ElementType, outputShape)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.Write(synthesizedPrimaryHeader())
	out.Write(extHeader)

	var dataLen int64
	for _, p := range rangePayloads {
		out.Write(p)
		dataLen += int64(len(p))
	}
	padded := fitsheader.PadToBlock(dataLen)
	if padded > dataLen {
		out.Write(make([]byte, padded-dataLen))
	}
	return out.Bytes(), nil
}

// patchNAXIS2 rewrites the NAXIS2 card's value in place within a bintable
// header's raw bytes, preserving header length and every other card.
func patchNAXIS2(headerBytes []byte, newNAXIS2 int64) ([]byte, error) {
	out := make([]byte, len(headerBytes))
	copy(out, headerBytes)

	for off := 0; off+fitsheader.CardSize <= len(out); off += fitsheader.CardSize {
		raw := out[off : off+fitsheader.CardSize]
		card, err := fitsheader.ParseCard(raw)
		if err != nil {
			return nil, err
		}
		if card.Keyword == "NAXIS2" {
			patched := fitsheader.FormatFixedCard("NAXIS2", strconv.FormatInt(newNAXIS2, 10), "")
			copy(raw, patched[:])
			return out, nil
		}
		if card.IsEnd() {
			break
		}
	}
	return nil, fmt.Errorf("NAXIS2 card not found in bintable header")
}

// AssembleBinTable builds the output FITS byte stream for a bintable row
// cutout: the source primary header verbatim, the source bintable header
// with NAXIS2 rewritten, then the fetched row bytes padded to a block.
func AssembleBinTable(primaryHeaderBytes, binTableHeaderBytes []byte, newNAXIS2 int64, rowPayload []byte) ([]byte, error) {
	patchedHeader, err := patchNAXIS2(binTableHeaderBytes, newNAXIS2)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.Write(primaryHeaderBytes)
	out.Write(patchedHeader)
	out.Write(rowPayload)

	padded := fitsheader.PadToBlock(int64(len(rowPayload)))
	if padded > int64(len(rowPayload)) {
		out.Write(make([]byte, padded-int64(len(rowPayload))))
	}
	return out.Bytes(), nil
}
