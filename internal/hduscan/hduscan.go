// Package hduscan walks a FITS byte stream and emits the ordered sequence
// of HDU descriptors covering the entire file.
package hduscan

import (
	"fmt"
	"io"

	"k8s.io/klog/v2"

	"github.com/jbcurtin/cloud-fits/internal/ferrors"
	"github.com/jbcurtin/cloud-fits/internal/fitsheader"
	"github.com/jbcurtin/cloud-fits/internal/layout"
)

// Kind is the tagged discrimination of an HDU's content, determined at
// parse time from the SIMPLE/XTENSION card rather than inferred later.
type Kind string

const (
	Primary  Kind = "primary"
	Image    Kind = "image"
	BinTable Kind = "bintable"
)

// HDU is the immutable descriptor produced once by the scanner.
type HDU struct {
	Index        int
	Kind         Kind
	HeaderOffset int64
	HeaderLength int64
	HeaderStop   int64
	HeaderBytes  []byte
	DataOffset   int64
	DataLength   int64
	DataStop     int64
	Shape        []int64
	ElementType  layout.ElementType
	Strides      []int64
}

// Scan reads r sequentially from its current position (must be 0) and
// returns every HDU descriptor in file order. r must support reading past
// EOF returning io.EOF.
func Scan(r io.Reader) ([]HDU, error) {
	var hdus []HDU
	var offset int64
	index := 0

	for {
		headerBytes, headerStart, eof, err := readHeaderBlocks(r, offset)
		if err != nil {
			return nil, err
		}
		if eof {
			break
		}

		h, err := fitsheader.ParseHeader(headerBytes)
		if err != nil {
			return nil, err
		}

		kind, err := classify(h, index)
		if err != nil {
			return nil, err
		}

		var lay layout.Layout
		switch kind {
		case Primary, Image:
			lay, err = layout.ForImage(h)
		case BinTable:
			lay, err = layout.ForBinTable(h)
		}
		if err != nil {
			return nil, err
		}

		headerLength := int64(len(headerBytes))
		headerStop := headerStart + headerLength
		dataOffset := headerStop
		paddedDataLength := fitsheader.PadToBlock(lay.DataLength)
		dataStop := dataOffset + paddedDataLength

		if dataOffset%fitsheader.BlockSize != 0 || dataStop%fitsheader.BlockSize != 0 {
			return nil, fmt.Errorf("data region for HDU %d is not block-aligned: %w", index, ferrors.InvalidFits)
		}

		hdu := HDU{
			Index:        index,
			Kind:         kind,
			HeaderOffset: headerStart,
			HeaderLength: headerLength,
			HeaderStop:   headerStop,
			HeaderBytes:  headerBytes,
			DataOffset:   dataOffset,
			DataLength:   lay.DataLength,
			DataStop:     dataStop,
			Shape:        lay.Shape,
			ElementType:  lay.ElementType,
			Strides:      lay.Strides,
		}
		hdus = append(hdus, hdu)
		klog.V(5).Infof("hduscan: hdu %d kind=%s data=[%d,%d)", index, kind, dataOffset, dataStop)

		if paddedDataLength > 0 {
			if err := skip(r, paddedDataLength); err != nil {
				if err == io.EOF {
					return nil, fmt.Errorf("hdu %d data truncated before %d bytes: %w", index, paddedDataLength, ferrors.InvalidFits)
				}
				return nil, err
			}
		}
		offset = dataStop
		index++
	}

	if len(hdus) == 0 {
		return nil, fmt.Errorf("file contains no HDUs: %w", ferrors.InvalidFits)
	}
	if hdus[0].Kind != Primary {
		return nil, fmt.Errorf("first HDU must be Primary: %w", ferrors.InvalidFits)
	}
	return hdus, nil
}

// readHeaderBlocks accumulates BlockSize chunks starting at startOffset
// until an END card is seen. Returns eof=true if the stream ended cleanly
// before any bytes of a new header were read.
func readHeaderBlocks(r io.Reader, startOffset int64) (raw []byte, headerStart int64, eof bool, err error) {
	block := make([]byte, fitsheader.BlockSize)
	first := true
	headerStart = startOffset

	for {
		n, readErr := io.ReadFull(r, block)
		if readErr == io.EOF && first {
			return nil, headerStart, true, nil
		}
		if readErr == io.ErrUnexpectedEOF || (readErr != nil && readErr != io.EOF && n < fitsheader.BlockSize) {
			return nil, 0, false, fmt.Errorf("truncated block while scanning header at offset %d: %w", startOffset, ferrors.InvalidFits)
		}
		if readErr != nil && readErr != io.EOF {
			return nil, 0, false, readErr
		}
		first = false
		raw = append(raw, block...)
		if containsEndCard(block) {
			return raw, headerStart, false, nil
		}
		if readErr == io.EOF {
			return nil, 0, false, fmt.Errorf("header missing END card before EOF at offset %d: %w", startOffset, ferrors.InvalidFits)
		}
	}
}

func containsEndCard(block []byte) bool {
	end := fitsheader.EndCardBytes()
	for off := 0; off+fitsheader.CardSize <= len(block); off += fitsheader.CardSize {
		if string(block[off:off+fitsheader.CardSize]) == string(end[:]) {
			return true
		}
	}
	return false
}

// skip discards n bytes from r.
func skip(r io.Reader, n int64) error {
	if seeker, ok := r.(io.Seeker); ok {
		_, err := seeker.Seek(n, io.SeekCurrent)
		return err
	}
	_, err := io.CopyN(io.Discard, r, n)
	return err
}

func classify(h fitsheader.Header, index int) (Kind, error) {
	if index == 0 {
		simple, ok := h.Get("SIMPLE")
		if !ok {
			return "", fmt.Errorf("primary HDU missing SIMPLE card: %w", ferrors.InvalidFits)
		}
		v, err := simple.BoolValue()
		if err != nil || !v {
			return "", fmt.Errorf("SIMPLE must be T in primary HDU: %w", ferrors.InvalidFits)
		}
		return Primary, nil
	}

	xt, ok := h.Get("XTENSION")
	if !ok {
		return "", fmt.Errorf("extension HDU %d missing XTENSION card: %w", index, ferrors.InvalidFits)
	}
	switch xt.StringValue() {
	case "IMAGE":
		return Image, nil
	case "BINTABLE":
		return BinTable, nil
	default:
		return "", fmt.Errorf("unsupported XTENSION %q: %w", xt.StringValue(), ferrors.UnsupportedFits)
	}
}
