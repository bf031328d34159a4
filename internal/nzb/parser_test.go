package nzb

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleNZB = `<?xml version="1.0" encoding="UTF-8"?>
<nzb xmlns="http://www.newzbin.com/DTD/2003/nzb">
  <head>
    <meta type="title">Some.Release</meta>
    <meta type="password">  hunter2  </meta>
  </head>
  <file poster="poster@example.com" date="1700000000" subject="[2/3] - &quot;release.r00&quot; yEnc (1/2)">
    <groups>
      <group>alt.binaries.test</group>
    </groups>
    <segments>
      <segment bytes="500" number="2"> seg-r00-2@example.com </segment>
      <segment bytes="700" number="1">seg-r00-1@example.com</segment>
    </segments>
  </file>
  <file poster="poster@example.com" date="1700000000" subject="[1/3] - &quot;release.par2&quot; yEnc (1/1)">
    <groups>
      <group>alt.binaries.test</group>
    </groups>
    <segments>
      <segment bytes="300" number="1">seg-par2-1@example.com</segment>
    </segments>
  </file>
</nzb>`

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(sampleNZB))
	require.NoError(t, err)

	assert.Equal(t, 2, doc.TotalFiles)
	assert.Equal(t, 3, doc.TotalSegments)
	assert.Equal(t, int64(1500), doc.TotalSize)

	assert.Equal(t, "Some.Release", doc.MetaValue("title"))
	assert.Equal(t, "hunter2", doc.MetaValue("password"), "meta values are trimmed")

	// Files sort by subject: [1/3] par2 before [2/3] r00.
	require.Len(t, doc.Files, 2)
	par2, r00 := doc.Files[0], doc.Files[1]

	assert.Equal(t, 0, par2.Index)
	assert.Equal(t, "release.par2", par2.Filename)
	assert.True(t, par2.IsPar2)

	assert.Equal(t, 1, r00.Index)
	assert.Equal(t, "release.r00", r00.Filename)
	assert.True(t, r00.IsArchive)
	assert.Equal(t, []string{"alt.binaries.test"}, r00.Groups)
	assert.Equal(t, int64(1200), r00.Size)

	// Segments sort by number regardless of XML order, message-ids trimmed.
	require.Len(t, r00.Segments, 2)
	assert.Equal(t, 1, r00.Segments[0].Number)
	assert.Equal(t, "seg-r00-1@example.com", r00.Segments[0].MessageID)
	assert.Equal(t, 2, r00.Segments[1].Number)
	assert.Equal(t, "seg-r00-2@example.com", r00.Segments[1].MessageID)
}

func TestParse_Deterministic(t *testing.T) {
	a, err := Parse([]byte(sampleNZB))
	require.NoError(t, err)
	b, err := Parse([]byte(sampleNZB))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParse_Malformed(t *testing.T) {
	for name, input := range map[string]string{
		"empty":     "",
		"not xml":   "this is not xml at all",
		"truncated": sampleNZB[:len(sampleNZB)/2],
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(input))
			require.ErrorIs(t, err, ErrMalformedDocument)
		})
	}
}

func TestParse_WrongRootElement(t *testing.T) {
	doc, err := Parse([]byte(`<?xml version="1.0"?><rss><channel></channel></rss>`))
	require.ErrorIs(t, err, ErrMalformedDocument)
	assert.Nil(t, doc)
}

func TestExtractFilename(t *testing.T) {
	cases := []struct {
		subject string
		want    string
	}{
		{`[1/10] - "movie.part01.rar" yEnc (1/50)`, "movie.part01.rar"},
		{`&quot;escaped name.mkv&quot; yEnc (1/3)`, "escaped name.mkv"},
		{`linux-distro.iso yEnc (01/99)`, "linux-distro.iso"},
		{`backup.tar.gz (3/14)`, "backup.tar.gz"},
		{`completely opaque subject line`, "file_8"},
	}

	for _, tc := range cases {
		t.Run(tc.subject, func(t *testing.T) {
			assert.Equal(t, tc.want, extractFilename(tc.subject, 7))
		})
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		filename string
		archive  bool
		media    bool
		par2     bool
	}{
		{"release.rar", true, false, false},
		{"release.r42", true, false, false},
		{"release.7z", true, false, false},
		{"archive.ZIP", true, false, false},
		{"movie.mkv", false, true, false},
		{"disc.ISO", false, true, false},
		{"repair.vol03+04.PAR2", false, false, true},
		{"readme.nfo", false, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.filename, func(t *testing.T) {
			f := File{Filename: tc.filename}
			classify(&f)
			assert.Equal(t, tc.archive, f.IsArchive)
			assert.Equal(t, tc.media, f.IsMedia)
			assert.Equal(t, tc.par2, f.IsPar2)
		})
	}
}

func TestParse_UnquotedFallbackIndex(t *testing.T) {
	doc, err := Parse([]byte(fmt.Sprintf(`<?xml version="1.0"?>
<nzb xmlns="http://www.newzbin.com/DTD/2003/nzb">
  <file poster="p" date="1" subject="%s">
    <groups><group>alt.binaries.test</group></groups>
    <segments><segment bytes="10" number="1">id@x</segment></segments>
  </file>
</nzb>`, "no recognizable pattern here")))
	require.NoError(t, err)

	require.Len(t, doc.Files, 1)
	assert.Equal(t, "file_1", doc.Files[0].Filename)
}
