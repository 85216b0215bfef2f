package symbolsource

import (
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

type pathPair struct {
	pdb  string
	disk string
}

// SourceFileTable interns source file paths seen in line records and keeps
// the user's mapping between those paths and files on the local disk. Both
// mapping directions are keyed case-insensitively and stay exact inverses.
// SourceFileTable is safe for concurrent use.
type SourceFileTable struct {
	fs afero.Fs

	mu     sync.RWMutex
	files  []string
	byPath map[string]uint32

	pdbToDisk map[string]pathPair // key: lowercased pdb path
	diskToPdb map[string]pathPair // key: lowercased disk path
}

// NewSourceFileTable returns an empty table checking disk paths on fs. A nil
// fs means the operating system filesystem.
func NewSourceFileTable(fs afero.Fs) *SourceFileTable {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &SourceFileTable{
		fs:        fs,
		byPath:    make(map[string]uint32),
		pdbToDisk: make(map[string]pathPair),
		diskToPdb: make(map[string]pathPair),
	}
}

// Intern returns the index of path, adding it if it has not been seen.
// Paths are compared byte for byte.
func (t *SourceFileTable) Intern(path string) uint32 {
	t.mu.RLock()
	idx, ok := t.byPath[path]
	t.mu.RUnlock()
	if ok {
		return idx
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if idx, ok := t.byPath[path]; ok {
		return idx
	}
	idx = uint32(len(t.files))
	t.files = append(t.files, path)
	t.byPath[path] = idx
	return idx
}

// Path returns the path stored at idx.
func (t *SourceFileTable) Path(idx uint32) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(idx) >= len(t.files) {
		return "", false
	}
	return t.files[idx], true
}

// Find returns the index of the first stored path equal to path ignoring
// case.
func (t *SourceFileTable) Find(path string) (uint32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if idx, ok := t.byPath[path]; ok {
		return idx, true
	}
	for i, f := range t.files {
		if strings.EqualFold(f, path) {
			return uint32(i), true
		}
	}
	return 0, false
}

// Len returns the number of interned paths.
func (t *SourceFileTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.files)
}

// Files returns a copy of the interned paths in index order.
func (t *SourceFileTable) Files() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.files...)
}

// MapPdbToDisk links pdbPath to diskPath. diskPath must exist and must not be
// linked to another pdb path. A previous link of pdbPath is replaced.
func (t *SourceFileTable) MapPdbToDisk(pdbPath, diskPath string) error {
	if pdbPath == "" || diskPath == "" {
		return ErrEmptyPath
	}
	exists, err := afero.Exists(t.fs, diskPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "stat %s", diskPath)
	}
	if !exists {
		return errors.Wrap(ErrDiskPathMissing, diskPath)
	}

	pdbKey, diskKey := strings.ToLower(pdbPath), strings.ToLower(diskPath)

	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.diskToPdb[diskKey]; ok {
		if strings.ToLower(cur.pdb) != pdbKey {
			return errors.Wrapf(ErrDiskPathMapped, "%s is mapped to %s", diskPath, cur.pdb)
		}
	}
	if old, ok := t.pdbToDisk[pdbKey]; ok {
		delete(t.diskToPdb, strings.ToLower(old.disk))
	}
	pair := pathPair{pdb: pdbPath, disk: diskPath}
	t.pdbToDisk[pdbKey] = pair
	t.diskToPdb[diskKey] = pair
	return nil
}

// PdbToDisk returns the disk path mapped to pdbPath.
func (t *SourceFileTable) PdbToDisk(pdbPath string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.pdbToDisk[strings.ToLower(pdbPath)]
	return p.disk, ok
}

// DiskToPdb returns the pdb path mapped to diskPath.
func (t *SourceFileTable) DiskToPdb(diskPath string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.diskToPdb[strings.ToLower(diskPath)]
	return p.pdb, ok
}

// ToDisk translates pdbPath if it is mapped and returns it unchanged
// otherwise.
func (t *SourceFileTable) ToDisk(pdbPath string) string {
	if disk, ok := t.PdbToDisk(pdbPath); ok {
		return disk
	}
	return pdbPath
}

// ToPdb translates diskPath if it is mapped and returns it unchanged
// otherwise.
func (t *SourceFileTable) ToPdb(diskPath string) string {
	if pdb, ok := t.DiskToPdb(diskPath); ok {
		return pdb
	}
	return diskPath
}
