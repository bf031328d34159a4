package nzb

import (
	"encoding/xml"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"
)

// Parse turns raw NZB bytes into a Document. Pure function of its input;
// no network access, no filesystem.
func Parse(data []byte) (*Document, error) {
	var raw xmlNZB
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	doc := &Document{
		Meta:  make([]Meta, 0, len(raw.Meta)),
		Files: make([]File, 0, len(raw.Files)),
	}

	for _, m := range raw.Meta {
		doc.Meta = append(doc.Meta, Meta{Key: m.Type, Value: strings.TrimSpace(m.Value)})
	}

	// Sort files by subject so re-parses of the same document always produce
	// the same ordering, regardless of source order in the XML.
	files := make([]xmlFile, len(raw.Files))
	copy(files, raw.Files)
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Subject < files[j].Subject
	})

	for idx, rf := range files {
		f := File{
			Index:   idx,
			Subject: rf.Subject,
			Poster:  rf.Poster,
			Date:    rf.Date,
			Groups:  rf.Groups,
		}

		for _, rs := range rf.Segments {
			f.Segments = append(f.Segments, Segment{
				Number:    rs.Number,
				Bytes:     rs.Bytes,
				MessageID: strings.TrimSpace(rs.MessageID),
			})
			f.Size += rs.Bytes
		}

		// Segment order in the XML follows upload order, not assembly order.
		sort.SliceStable(f.Segments, func(i, j int) bool {
			return f.Segments[i].Number < f.Segments[j].Number
		})

		f.Filename = extractFilename(rf.Subject, idx)
		classify(&f)

		doc.Files = append(doc.Files, f)
		doc.TotalSegments += len(f.Segments)
		doc.TotalSize += f.Size
	}

	doc.TotalFiles = len(doc.Files)

	return doc, nil
}

var (
	reQuoted     = regexp.MustCompile(`"([^"]+)"`)
	reBeforeYenc = regexp.MustCompile(`(?i)(\S+)\s+yenc\b`)
	reBeforePart = regexp.MustCompile(`(\S+)\s*[\(\[]\d+/\d+[\)\]]`)
	reArchiveExt = regexp.MustCompile(`(?i)\.(rar|r\d\d|zip|7z)$`)
	reMediaExt   = regexp.MustCompile(`(?i)\.(mkv|mp4|avi|m4v|mov|wmv|mpg|mpeg|ts|iso)$`)
)

// extractFilename pulls a usable filename out of a Usenet subject line.
// Posters quote the filename by convention; the fallbacks cover the common
// unquoted layouts `name yEnc (1/20)` and `name (1/20)`.
func extractFilename(subject string, index int) string {
	s := html.UnescapeString(subject)

	if m := reQuoted.FindStringSubmatch(s); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			return name
		}
	}

	if m := reBeforeYenc.FindStringSubmatch(s); m != nil {
		return m[1]
	}

	if m := reBeforePart.FindStringSubmatch(s); m != nil {
		return m[1]
	}

	return fmt.Sprintf("file_%d", index+1)
}

func classify(f *File) {
	name := strings.ToLower(f.Filename)

	switch {
	case strings.HasSuffix(name, ".par2"):
		f.IsPar2 = true
	case reArchiveExt.MatchString(name):
		f.IsArchive = true
	case reMediaExt.MatchString(name):
		f.IsMedia = true
	}
}
