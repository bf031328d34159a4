package nzb

import "encoding/xml"

// xmlNZB mirrors the on-disk NZB document. It is only used while parsing;
// callers get the cooked Document.
type xmlNZB struct {
	XMLName xml.Name  `xml:"nzb"`
	Meta    []xmlMeta `xml:"head>meta"`
	Files   []xmlFile `xml:"file"`
}

type xmlMeta struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type xmlFile struct {
	Subject  string       `xml:"subject,attr"`
	Poster   string       `xml:"poster,attr"`
	Date     int64        `xml:"date,attr"`
	Groups   []string     `xml:"groups>group"`
	Segments []xmlSegment `xml:"segments>segment"`
}

type xmlSegment struct {
	Number    int    `xml:"number,attr"`
	Bytes     int64  `xml:"bytes,attr"`
	MessageID string `xml:",chardata"`
}

// Meta is one <head><meta> entry. Order is preserved from the document.
type Meta struct {
	Key   string
	Value string
}

// Document is the immutable result of parsing one NZB.
type Document struct {
	Meta  []Meta
	Files []File

	TotalFiles    int
	TotalSegments int
	TotalSize     int64
}

// MetaValue returns the first meta entry with the given key, or "".
func (d *Document) MetaValue(key string) string {
	for _, m := range d.Meta {
		if m.Key == key {
			return m.Value
		}
	}
	return ""
}

// File is one binary post inside the document. Segments are sorted ascending
// by their 1-based number; that number defines assembly order.
type File struct {
	Index    int
	Subject  string
	Poster   string
	Date     int64
	Filename string
	Groups   []string
	Segments []Segment
	Size     int64

	IsPar2    bool
	IsArchive bool
	IsMedia   bool
}

// Segment is one article-sized chunk, keyed by message-id on the wire.
type Segment struct {
	Number    int
	Bytes     int64
	MessageID string
}
