// Package fitsheader decodes the 2880-byte FITS block stream into
// keyword/value/comment cards.
package fitsheader

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/jbcurtin/cloud-fits/internal/ferrors"
)

// BlockSize is the fixed size of a FITS logical record block. Both headers
// and data are padded to a multiple of this.
const BlockSize = 2880

// CardSize is the fixed size of one header card.
const CardSize = 80

// endCard is the exact 80-byte representation of the header terminator.
var endCard = append([]byte("END"), bytes.Repeat([]byte{' '}, CardSize-3)...)

// Card is one parsed 80-byte header record.
type Card struct {
	Keyword string
	Value   string
	Comment string
	Raw     [CardSize]byte
}

// IsEnd reports whether this card is the header-terminating END card.
func (c Card) IsEnd() bool {
	return bytes.Equal(c.Raw[:], endCard)
}

// ParseCard decodes one 80-byte slice into a Card. raw must be exactly
// CardSize bytes.
func ParseCard(raw []byte) (Card, error) {
	if len(raw) != CardSize {
		return Card{}, fmt.Errorf("card must be %d bytes, got %d: %w", CardSize, len(raw), ferrors.InvalidFits)
	}
	var c Card
	copy(c.Raw[:], raw)

	keyword := strings.TrimRight(string(raw[:8]), " ")
	c.Keyword = keyword

	if keyword == "END" {
		return c, nil
	}
	if keyword == "COMMENT" || keyword == "HISTORY" || keyword == "" {
		c.Comment = strings.TrimRight(string(raw[8:]), " ")
		return c, nil
	}
	if len(raw) < 10 || raw[8] != '=' {
		// keyword-only or non-value card; treat remainder as comment text.
		c.Comment = strings.TrimRight(string(raw[8:]), " ")
		return c, nil
	}

	rest := string(raw[10:])
	value, comment := splitValueComment(rest)
	c.Value = strings.TrimSpace(value)
	c.Comment = strings.TrimSpace(comment)
	return c, nil
}

// splitValueComment separates a card's value field from its trailing
// comment, respecting a single-quoted string value.
func splitValueComment(s string) (value, comment string) {
	trimmed := strings.TrimLeft(s, " ")
	if strings.HasPrefix(trimmed, "'") {
		// find the closing quote (a doubled '' escapes a literal quote)
		body := trimmed[1:]
		idx := 0
		for idx < len(body) {
			q := strings.IndexByte(body[idx:], '\'')
			if q < 0 {
				return trimmed, ""
			}
			idx += q
			if idx+1 < len(body) && body[idx+1] == '\'' {
				idx += 2
				continue
			}
			break
		}
		value = "'" + body[:idx] + "'"
		remainder := body[idx+1:]
		if slash := strings.IndexByte(remainder, '/'); slash >= 0 {
			comment = remainder[slash+1:]
		}
		return value, comment
	}
	if slash := strings.IndexByte(s, '/'); slash >= 0 {
		return s[:slash], s[slash+1:]
	}
	return s, ""
}

// StringValue strips surrounding quotes from a FITS string-valued card.
func (c Card) StringValue() string {
	v := strings.TrimSpace(c.Value)
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		v = v[1 : len(v)-1]
	}
	return strings.TrimRight(strings.ReplaceAll(v, "''", "'"), " ")
}

// IntValue parses an integer-valued card.
func (c Card) IntValue() (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(c.Value), 10, 64)
}

// BoolValue parses a logical-valued card ("T" or "F").
func (c Card) BoolValue() (bool, error) {
	v := strings.TrimSpace(c.Value)
	switch v {
	case "T":
		return true, nil
	case "F":
		return false, nil
	default:
		return false, fmt.Errorf("not a logical value: %q", v)
	}
}

// Header is an ordered list of cards belonging to one HDU, plus the exact
// raw bytes they were parsed from.
type Header struct {
	Cards []Card
	Raw   []byte
}

// Get returns the first card with the given keyword.
func (h Header) Get(keyword string) (Card, bool) {
	for _, c := range h.Cards {
		if c.Keyword == keyword {
			return c, true
		}
	}
	return Card{}, false
}

// ParseHeader decodes a full header block sequence (raw must be a multiple
// of BlockSize and must contain an END card) into a Header.
func ParseHeader(raw []byte) (Header, error) {
	if len(raw)%BlockSize != 0 || len(raw) == 0 {
		return Header{}, fmt.Errorf("header length %d is not a positive multiple of %d: %w", len(raw), BlockSize, ferrors.InvalidFits)
	}
	h := Header{Raw: raw}
	found := false
	for off := 0; off < len(raw); off += CardSize {
		card, err := ParseCard(raw[off : off+CardSize])
		if err != nil {
			return Header{}, err
		}
		h.Cards = append(h.Cards, card)
		if card.IsEnd() {
			found = true
			break
		}
	}
	if !found {
		return Header{}, fmt.Errorf("header missing END card: %w", ferrors.InvalidFits)
	}
	return h, nil
}

// PadToBlock returns n rounded up to the next multiple of BlockSize.
func PadToBlock(n int64) int64 {
	if n%BlockSize == 0 {
		return n
	}
	return (n/BlockSize + 1) * BlockSize
}

// FormatFixedCard renders a FITS card with keyword and value left-aligned
// and padded with trailing spaces to 80 bytes, used when synthesizing
// cutout output headers.
func FormatFixedCard(keyword, value, comment string) [CardSize]byte {
	var raw [CardSize]byte
	for i := range raw {
		raw[i] = ' '
	}
	copy(raw[:8], fmt.Sprintf("%-8s", keyword))
	if keyword == "COMMENT" || keyword == "HISTORY" {
		copy(raw[8:], fmt.Sprintf("%-72s", comment))
		return raw
	}
	raw[8] = '='
	raw[9] = ' '
	body := value
	if comment != "" {
		body = fmt.Sprintf("%-20s / %s", value, comment)
	}
	b := []byte(body)
	if len(b) > CardSize-10 {
		b = b[:CardSize-10]
	}
	copy(raw[10:], b)
	return raw
}

// EndCardBytes returns the canonical 80-byte END card.
func EndCardBytes() [CardSize]byte {
	var raw [CardSize]byte
	copy(raw[:], endCard)
	return raw
}
