package main

import (
	"bytes"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jtang613/pdbsym/pkg/pdb/pdbtest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const samplePath = "/symbols/sample.pdb"

func sampleFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, pdbtest.Sample().WriteFile(fs, samplePath))
	return fs
}

func run(t *testing.T, fs afero.Fs, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(fs, &stdout, &stderr)
	cmd.SetArgs(append([]string{"--progress=false"}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func TestInfoJSON(t *testing.T) {
	out, err := run(t, sampleFs(t), "info", "--output", "json", samplePath)
	require.NoError(t, err)

	var info struct {
		GUID    string `json:"guid"`
		Age     uint32 `json:"age"`
		Machine string `json:"machine"`
	}
	require.NoError(t, jsoniter.Unmarshal([]byte(out), &info))
	require.Equal(t, "12345678123456780102030405060708", info.GUID)
	require.Equal(t, uint32(3), info.Age)
	require.Equal(t, "x64", info.Machine)
}

func TestLookupTable(t *testing.T) {
	out, err := run(t, sampleFs(t), "lookup", "--base", "0x140000000", samplePath, "0x140001206", "0x140001014", "0x10")
	require.NoError(t, err)
	require.Contains(t, out, "main+0x6")
	require.Contains(t, out, `c:\src\b.cpp:7`)
	require.Contains(t, out, `c:\src\a.cpp:11`)
	require.Contains(t, out, "sample.pdb")
}

func TestLookupRejectsBadAddress(t *testing.T) {
	_, err := run(t, sampleFs(t), "lookup", samplePath, "zzz")
	require.ErrorContains(t, err, "invalid address")
}

func TestSymbolsByPrefix(t *testing.T) {
	out, err := run(t, sampleFs(t), "symbols", "--output", "json", "--base", "0x140000000", "--prefix", "MA", "-i", samplePath)
	require.NoError(t, err)

	var entries []struct {
		Address       uint64 `json:"address"`
		DecoratedName string `json:"decorated_name"`
	}
	require.NoError(t, jsoniter.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "main", entries[0].DecoratedName)
	require.Equal(t, uint64(0x140001200), entries[0].Address)
}

func TestSymbolsLimit(t *testing.T) {
	out, err := run(t, sampleFs(t), "symbols", "--output", "json", "--limit", "2", samplePath)
	require.NoError(t, err)

	var entries []struct {
		Address uint64 `json:"address"`
	}
	require.NoError(t, jsoniter.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	require.Less(t, entries[0].Address, entries[1].Address)
}

func TestNameReportsMissing(t *testing.T) {
	out, err := run(t, sampleFs(t), "name", samplePath, "main", "nosuchsymbol")
	require.ErrorContains(t, err, "nosuchsymbol")
	require.Contains(t, out, "0x1200")
}

func TestLine(t *testing.T) {
	out, err := run(t, sampleFs(t), "line", "--output", "json", samplePath, `c:\src\b.cpp:7`)
	require.NoError(t, err)

	var infos []struct {
		Address uint64 `json:"address"`
		Line    uint32 `json:"line"`
	}
	require.NoError(t, jsoniter.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 1)
	require.Equal(t, uint64(0x1206), infos[0].Address)
	require.Equal(t, uint32(7), infos[0].Line)

	_, err = run(t, sampleFs(t), "line", samplePath, `c:\src\b.cpp:99`)
	require.ErrorContains(t, err, "no code recorded")
}

func TestFiles(t *testing.T) {
	out, err := run(t, sampleFs(t), "files", samplePath)
	require.NoError(t, err)
	require.Contains(t, out, `c:\src\a.cpp`)
	require.Contains(t, out, `c:\src\b.cpp`)
}

func TestValidationFailure(t *testing.T) {
	_, err := run(t, sampleFs(t), "files", "--guid", "12345678123456780102030405060708", "--age", "9", samplePath)
	require.ErrorContains(t, err, "age")
}

func TestConfigFile(t *testing.T) {
	fs := sampleFs(t)
	require.NoError(t, afero.WriteFile(fs, "/etc/pdbsym.toml", []byte(`
output = "json"
base = 4096

[modules]
resolve_cache_size = 16

[modules.symbols]
refresh_interval = "1s"
`), 0o644))

	out, err := run(t, fs, "--config", "/etc/pdbsym.toml", "name", samplePath, "main")
	require.NoError(t, err)
	var entries []struct {
		Address uint64 `json:"address"`
	}
	require.NoError(t, jsoniter.Unmarshal([]byte(out), &entries))
	require.Equal(t, uint64(0x2200), entries[0].Address)

	// flags win over the file
	out, err = run(t, fs, "--config", "/etc/pdbsym.toml", "--output", "table", "name", samplePath, "main")
	require.NoError(t, err)
	require.Contains(t, out, "0x2200")
	require.NotContains(t, out, "{")
}

func TestConfigFileYAML(t *testing.T) {
	fs := sampleFs(t)
	require.NoError(t, afero.WriteFile(fs, "/etc/pdbsym.yaml", []byte("log_level: bogus\n"), 0o644))
	_, err := run(t, fs, "--config", "/etc/pdbsym.yaml", "files", samplePath)
	require.ErrorContains(t, err, "invalid log-level")

	_, err = run(t, fs, "--config", "/etc/pdbsym.ini", "files", samplePath)
	require.Error(t, err)
}

func TestParseFileLine(t *testing.T) {
	file, line, err := parseFileLine(`c:\src\a.cpp:12`)
	require.NoError(t, err)
	require.Equal(t, `c:\src\a.cpp`, file)
	require.Equal(t, uint32(12), line)

	_, _, err = parseFileLine("a.cpp")
	require.Error(t, err)
	_, _, err = parseFileLine("a.cpp:x")
	require.Error(t, err)
}
