package symbolsource

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilder_ApplyLinesFirstWriterWins(t *testing.T) {
	s := &Source{
		lines:   make(map[uint64]LineEntry),
		files:   NewSourceFileTable(nil),
		metrics: NewMetrics(nil),
	}
	b := newBuilder(s)

	b.applyLines(map[uint64]LineRecord{
		0x10: {Address: 0x10, Line: 5, File: "a.c"},
		0x14: {Address: 0x14, Line: 6, File: "a.c"},
	})
	b.applyLines(map[uint64]LineRecord{
		0x14: {Address: 0x14, Line: 60, File: "b.c"},
		0x18: {Address: 0x18, Line: 7, File: "b.c"},
	})

	require.Len(t, s.lines, 3)
	require.Equal(t, LineEntry{Address: 0x14, Line: 6, SourceFileIndex: 0}, s.lines[0x14])
	require.Equal(t, LineEntry{Address: 0x18, Line: 7, SourceFileIndex: 1}, s.lines[0x18])
	require.Equal(t, 2, s.files.Len())

	b.buildFileLines()
	require.Equal(t, []fileLine{{line: 5, addr: 0x10}, {line: 6, addr: 0x14}}, s.fileLines[0])
}

func TestLineOverflow(t *testing.T) {
	var o lineOverflow
	in := []uint32{1, 0xfffff8, 0xffffff, 3, 0xffffff, 2}
	want := []uint32{1, 0xfffff8, 0xffffff, 0x1000003, 0x1ffffff, 0x2000002}
	var detections int
	for i, line := range in {
		got, detected := o.apply(line)
		require.Equal(t, want[i], got, "line %d", i)
		if detected {
			detections++
		}
	}
	require.Equal(t, 2, detections)
}

func TestIsImportArtifact(t *testing.T) {
	for name, want := range map[string]bool{
		"__imp__CreateFileW@28":      true,
		"__imp_?foo@@YAXXZ":          true,
		"__imp_foo":                  false,
		"_imp___foo":                 true,
		"__NULL_IMPORT_DESCRIPTOR":   true,
		"__IMPORT_DESCRIPTOR_USER32": true,
		"\x7fUSER32_NULL_THUNK_DATA": true,
		"CreateFileW":                false,
		"?foo@@YAXXZ":                false,
	} {
		require.Equal(t, want, isImportArtifact(name), name)
	}
}
