// Package segment computes SMS segmentation for a message body.
package segment

import "unicode/utf16"

type Encoding string

const (
	GSM7 Encoding = "gsm7"
	UCS2 Encoding = "ucs2"
)

const (
	gsmSingle  = 160
	gsmConcat  = 153
	ucs2Single = 70
	ucs2Concat = 67
)

// MaxCharacters is the hard ceiling above which a body is never submitted.
const MaxCharacters = 1600

// Info describes how a body will be split by the carrier.
type Info struct {
	Content    string   `json:"content"`
	Characters int      `json:"characters"`
	Encoding   Encoding `json:"encoding"`
	Segments   int      `json:"segments"`
	PerSegment int      `json:"perSegment"`
	Remaining  int      `json:"remaining"`
	OverLimit  bool     `json:"overLimit"`
}

// Calculate is pure and linear in the length of text.
func Calculate(text string) Info {
	enc := GSM7
	length := 0
	for _, r := range text {
		if !isBasic(r) {
			enc = UCS2
		}
		length += utf16.RuneLen(r)
	}

	single, concat := gsmSingle, gsmConcat
	if enc == UCS2 {
		single, concat = ucs2Single, ucs2Concat
	}

	info := Info{
		Content:    text,
		Characters: length,
		Encoding:   enc,
		OverLimit:  length > MaxCharacters,
	}

	if length <= single {
		info.Segments = 1
		info.PerSegment = single
		info.Remaining = single - length
		return info
	}

	info.Segments = (length + concat - 1) / concat
	info.PerSegment = concat
	info.Remaining = info.Segments*concat - length
	return info
}

// Cost returns the billed price for the body given a per-segment price in
// minor currency units.
func (i Info) Cost(pricePerSegment int64) int64 {
	return int64(i.Segments) * pricePerSegment
}

func isBasic(r rune) bool {
	switch r {
	case '\t', '\n', '\r':
		return true
	}
	return r >= 0x20 && r <= 0x7e
}
