package yenc

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
)

// ErrInvalidData indicates the article body carries no =ybegin header.
var ErrInvalidData = errors.New("yenc header not found")

// CRCStatus is the tri-state outcome of checksum verification.
type CRCStatus int

const (
	// CRCNotPresent means the footer carried neither crc32 nor pcrc32.
	CRCNotPresent CRCStatus = iota
	CRCValid
	CRCInvalid
)

// Segment is one decoded yEnc part.
type Segment struct {
	Data []byte

	// Header fields
	Name      string
	Line      int
	Size      int64 // full-file size from =ybegin
	Part      int
	Total     int
	PartBegin int64 // from =ypart, 1-based file offsets
	PartEnd   int64

	// Footer fields
	FooterSize  int64
	ExpectedCRC uint32
	ActualCRC   uint32
	CRC         CRCStatus
}

// Decode decodes a raw article body. A missing =ybegin is a hard error; a
// checksum mismatch is not, it is reported through Segment.CRC so the caller
// can decide whether to fall over to another provider.
func Decode(raw []byte) (*Segment, error) {
	seg := &Segment{}
	hash := crc32.NewIEEE()

	lines := bytes.Split(raw, []byte("\n"))
	i := 0

	// Find the header. Article bodies may start with stray blank lines.
	for ; i < len(lines); i++ {
		if bytes.HasPrefix(lines[i], []byte("=ybegin ")) {
			break
		}
	}
	if i == len(lines) {
		return nil, ErrInvalidData
	}

	parseBegin(seg, string(chompCR(lines[i])))
	i++

	if i < len(lines) && bytes.HasPrefix(lines[i], []byte("=ypart ")) {
		parsePart(seg, string(chompCR(lines[i])))
		i++
	}

	var footer string
	for ; i < len(lines); i++ {
		line := chompCR(lines[i])

		// A keyword line inside the data region is skipped whole. This is
		// what disambiguates a genuine =yend from an escaped byte pair that
		// happens to sit at the start of a line.
		if bytes.HasPrefix(line, []byte("=yend")) {
			footer = string(line)
			break
		}
		if bytes.HasPrefix(line, []byte("=y")) {
			continue
		}

		seg.Data = append(seg.Data, decodeLine(line)...)
	}

	hash.Write(seg.Data)
	seg.ActualCRC = hash.Sum32()

	if footer != "" {
		parseEnd(seg, footer)
	}

	return seg, nil
}

// decodeLine applies the yEnc offset to one CRLF-stripped data line.
func decodeLine(line []byte) []byte {
	out := make([]byte, 0, len(line))
	escaped := false

	for _, b := range line {
		if escaped {
			out = append(out, b-64-42)
			escaped = false
			continue
		}
		if b == '=' {
			escaped = true
			continue
		}
		out = append(out, b-42)
	}

	// A dangling escape at end of line has nothing to apply to; drop it.
	return out
}

func chompCR(line []byte) []byte {
	return bytes.TrimRight(line, "\r")
}

func parseBegin(seg *Segment, line string) {
	// name= runs to end of line and may contain spaces, so split it off first.
	if idx := strings.Index(line, " name="); idx != -1 {
		seg.Name = strings.TrimSpace(line[idx+len(" name="):])
		line = line[:idx]
	}

	for _, field := range strings.Fields(line) {
		switch {
		case strings.HasPrefix(field, "line="):
			seg.Line = atoi(field[5:])
		case strings.HasPrefix(field, "size="):
			seg.Size = atoi64(field[5:])
		case strings.HasPrefix(field, "part="):
			seg.Part = atoi(field[5:])
		case strings.HasPrefix(field, "total="):
			seg.Total = atoi(field[6:])
		}
	}
}

func parsePart(seg *Segment, line string) {
	for _, field := range strings.Fields(line) {
		switch {
		case strings.HasPrefix(field, "begin="):
			seg.PartBegin = atoi64(field[6:])
		case strings.HasPrefix(field, "end="):
			seg.PartEnd = atoi64(field[4:])
		}
	}
}

func parseEnd(seg *Segment, line string) {
	var crc, pcrc uint32
	var haveCRC, havePCRC bool

	for _, field := range strings.Fields(line) {
		switch {
		case strings.HasPrefix(field, "size="):
			seg.FooterSize = atoi64(field[5:])
		case strings.HasPrefix(field, "pcrc32="):
			if v, err := strconv.ParseUint(field[7:], 16, 32); err == nil {
				pcrc = uint32(v)
				havePCRC = true
			}
		case strings.HasPrefix(field, "crc32="):
			if v, err := strconv.ParseUint(field[6:], 16, 32); err == nil {
				crc = uint32(v)
				haveCRC = true
			}
		}
	}

	// A part checksum covers exactly the bytes we decoded, so it wins over
	// the full-file checksum when both are present.
	switch {
	case havePCRC:
		seg.ExpectedCRC = pcrc
	case haveCRC:
		seg.ExpectedCRC = crc
	default:
		seg.CRC = CRCNotPresent
		return
	}

	if seg.ActualCRC == seg.ExpectedCRC {
		seg.CRC = CRCValid
	} else {
		seg.CRC = CRCInvalid
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// Encode produces a single-part yEnc framing of data. It exists for test
// fixtures and the fake servers the tests run against.
func Encode(data []byte, filename string, lineLength int) []byte {
	if lineLength <= 0 {
		lineLength = 128
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "=ybegin line=%d size=%d name=%s\r\n", lineLength, len(data), filename)

	col := 0
	for _, b := range data {
		enc := b + 42

		if mustEscape(enc, col) {
			buf.WriteByte('=')
			buf.WriteByte(enc + 64)
			col += 2
		} else {
			buf.WriteByte(enc)
			col++
		}

		if col >= lineLength {
			buf.WriteString("\r\n")
			col = 0
		}
	}
	if col > 0 {
		buf.WriteString("\r\n")
	}

	crc := crc32.ChecksumIEEE(data)
	fmt.Fprintf(&buf, "=yend size=%d crc32=%08x\r\n", len(data), crc)

	return buf.Bytes()
}

// mustEscape reports whether an encoded byte would collide with framing.
// NUL, CR, LF and '=' always need escaping; '.' only at the start of a line
// where it would collide with the NNTP terminator.
func mustEscape(enc byte, col int) bool {
	switch enc {
	case 0x00, '\n', '\r', '=':
		return true
	case '.':
		return col == 0
	}
	return false
}
