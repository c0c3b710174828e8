// Package base32 implements the base-32 presentation form used for
// publication strings, key fingerprints and certificate dumps. The output is
// padded with '=' to a 40-bit boundary and may be split into dash-separated
// groups so the strings survive manual transcription.
package base32

import "strings"

const encodeTable = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// digitValues maps '0'..'9' to their base-32 values. Only '2'..'7' are part
// of the alphabet.
var digitValues = [10]int8{-1, -1, 26, 27, 28, 29, 30, 31, -1, -1}

// readBits returns the 5-bit group starting at bit offset off, padding with
// zero bits past the end of data.
func readBits(data []byte, off int) int {
	v := 0
	for i := 0; i < 5; i++ {
		v <<= 1
		pos := off + i
		if pos < len(data)*8 {
			if data[pos/8]&(1<<uint(7-pos%8)) != 0 {
				v |= 1
			}
		}
	}
	return v
}

// Encode returns the base-32 form of data. When groupLen > 0, a dash is
// inserted after every groupLen output characters, except directly before
// the end of the string.
func Encode(data []byte, groupLen int) string {
	if len(data) == 0 {
		return ""
	}

	var b strings.Builder
	total := len(data) * 8

	dashAfter := func(more bool) {
		if groupLen > 0 && (b.Len()+1)%(groupLen+1) == 0 && more {
			b.WriteByte('-')
		}
	}

	bitsRead := 0
	for ; bitsRead < total; bitsRead += 5 {
		b.WriteByte(encodeTable[readBits(data, bitsRead)])
		dashAfter(bitsRead+5 < total)
	}
	for ; bitsRead%40 != 0; bitsRead += 5 {
		b.WriteByte('=')
		dashAfter(bitsRead%40 != 35)
	}

	return b.String()
}

// Decode converts a base-32 string back into bytes. Decoding is
// case-insensitive, stops at the first '=' and silently skips characters
// outside the alphabet (dash separators included). Trailing bits that do not
// fill a whole byte are discarded.
func Decode(s string) []byte {
	out := make([]byte, len(s)*5/8+2)
	bits := 0

loop:
	for i := 0; i < len(s); i++ {
		c := s[i]
		v := -1
		switch {
		case c == '=':
			break loop
		case c >= '0' && c <= '9':
			v = int(digitValues[c-'0'])
		case c >= 'A' && c <= 'Z':
			v = int(c - 'A')
		case c >= 'a' && c <= 'z':
			v = int(c - 'a')
		}
		if v < 0 {
			continue
		}
		for j := 4; j >= 0; j-- {
			if v&(1<<uint(j)) != 0 {
				out[bits/8] |= 1 << uint(7-bits%8)
			}
			bits++
		}
	}

	return out[:bits/8]
}
