package symbolsource

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newTestFs(t *testing.T, paths ...string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, p := range paths {
		require.NoError(t, afero.WriteFile(fs, p, []byte("int main() {}\n"), 0o644))
	}
	return fs
}

func TestSourceFileTable_Intern(t *testing.T) {
	tbl := NewSourceFileTable(afero.NewMemMapFs())
	a := tbl.Intern(`c:\src\a.c`)
	b := tbl.Intern(`c:\src\b.c`)
	require.Equal(t, a, tbl.Intern(`c:\src\a.c`))
	require.NotEqual(t, a, b)
	require.Equal(t, 2, tbl.Len())
	require.Equal(t, []string{`c:\src\a.c`, `c:\src\b.c`}, tbl.Files())

	// Content equality only: a differently cased path is a new entry.
	tbl.Intern(`C:\SRC\A.C`)
	require.Equal(t, 3, tbl.Len())

	idx, ok := tbl.Find(`C:\Src\B.c`)
	require.True(t, ok)
	require.Equal(t, b, idx)

	p, ok := tbl.Path(a)
	require.True(t, ok)
	require.Equal(t, `c:\src\a.c`, p)
	_, ok = tbl.Path(42)
	require.False(t, ok)
}

func TestSourceFileTable_MapPdbToDisk(t *testing.T) {
	fs := newTestFs(t, "/home/dev/a.c", "/home/dev/b.c")
	tbl := NewSourceFileTable(fs)

	err := tbl.MapPdbToDisk(`c:\src\a.c`, "/home/dev/missing.c")
	require.True(t, errors.Is(err, ErrDiskPathMissing))
	require.ErrorIs(t, tbl.MapPdbToDisk("", "/home/dev/a.c"), ErrEmptyPath)

	require.NoError(t, tbl.MapPdbToDisk(`c:\src\a.c`, "/home/dev/a.c"))
	disk, ok := tbl.PdbToDisk(`C:\SRC\A.C`)
	require.True(t, ok)
	require.Equal(t, "/home/dev/a.c", disk)
	pdb, ok := tbl.DiskToPdb("/HOME/dev/A.c")
	require.True(t, ok)
	require.Equal(t, `c:\src\a.c`, pdb)

	// Same pair again is a no-op.
	require.NoError(t, tbl.MapPdbToDisk(`C:\src\a.c`, "/home/dev/a.c"))

	// A disk file owned by another pdb path is refused without changes.
	err = tbl.MapPdbToDisk(`c:\src\other.c`, "/home/dev/a.c")
	require.ErrorIs(t, err, ErrDiskPathMapped)
	_, ok = tbl.PdbToDisk(`c:\src\other.c`)
	require.False(t, ok)
	pdb, _ = tbl.DiskToPdb("/home/dev/a.c")
	require.Equal(t, `c:\src\a.c`, pdb)

	// Remapping a pdb path drops its old disk link.
	require.NoError(t, tbl.MapPdbToDisk(`c:\src\a.c`, "/home/dev/b.c"))
	disk, _ = tbl.PdbToDisk(`c:\src\a.c`)
	require.Equal(t, "/home/dev/b.c", disk)
	_, ok = tbl.DiskToPdb("/home/dev/a.c")
	require.False(t, ok)
	require.NoError(t, tbl.MapPdbToDisk(`c:\src\other.c`, "/home/dev/a.c"))

	require.Equal(t, "/home/dev/b.c", tbl.ToDisk(`c:\src\a.c`))
	require.Equal(t, `c:\src\unmapped.c`, tbl.ToDisk(`c:\src\unmapped.c`))
	require.Equal(t, `c:\src\other.c`, tbl.ToPdb("/home/dev/a.c"))
}
