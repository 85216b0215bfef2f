package streams_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jtang613/pdbsym/pkg/pdb/pdbtest"
	"github.com/jtang613/pdbsym/pkg/pdb/streams"
)

func typeStream(records ...[]byte) []byte {
	raw := bytes.Join(records, nil)
	h := make([]byte, streams.TPIHeaderSize)
	binary.LittleEndian.PutUint32(h[0:], streams.TPIStreamVersionV80)
	binary.LittleEndian.PutUint32(h[4:], streams.TPIHeaderSize)
	binary.LittleEndian.PutUint32(h[8:], streams.TypeIndexBegin)
	binary.LittleEndian.PutUint32(h[12:], streams.TypeIndexBegin+uint32(len(records)))
	binary.LittleEndian.PutUint32(h[16:], uint32(len(raw)))
	return append(h, raw...)
}

func TestTypeSizes(t *testing.T) {
	tt, err := streams.ReadTypeTable(typeStream(
		pdbtest.ForwardStruct("Point"), // 0x1000
		pdbtest.Struct("Point", 8),     // 0x1001
		pdbtest.Procedure(),            // 0x1002
		pdbtest.Array(0x74, 40),        // 0x1003
		pdbtest.Pointer(0x1001, 8),     // 0x1004
		pdbtest.Modifier(0x1000),       // 0x1005
		pdbtest.Modifier(0x1005),       // 0x1006
	))
	require.NoError(t, err)
	require.Equal(t, 7, tt.Len())

	for _, tc := range []struct {
		index uint32
		class streams.TypeClass
		size  uint64
	}{
		{0x0074, streams.TypeBuiltin, 4},  // int
		{0x0041, streams.TypeBuiltin, 8},  // double
		{0x0670, streams.TypeBuiltin, 8},  // 64-bit char pointer
		{0x0003, streams.TypeBuiltin, 0},  // void
		{0x1000, streams.TypeUDT, 8},      // forward reference
		{0x1001, streams.TypeUDT, 8},      // definition
		{0x1002, streams.TypeFunction, 0}, // procedure
		{0x1003, streams.TypeArray, 40},   // int[10]
		{0x1004, streams.TypePointer, 8},  // Point*
		{0x1006, streams.TypeUDT, 8},      // through two modifiers
		{0x2000, streams.TypeUnknown, 0},  // out of range
	} {
		require.Equal(t, tc.class, tt.Class(tc.index), "%#x", tc.index)
		size, ok := tt.Size(tc.index)
		require.Equal(t, tc.size, size, "%#x", tc.index)
		require.Equal(t, tc.size > 0, ok, "%#x", tc.index)
	}

	var nilTable *streams.TypeTable
	require.Zero(t, nilTable.Len())
	size, ok := nilTable.Size(0x74)
	require.True(t, ok)
	require.Equal(t, uint64(4), size)
}

func TestTypeTableRejectsBadHeader(t *testing.T) {
	data := typeStream(pdbtest.Procedure())
	binary.LittleEndian.PutUint32(data[0:], 1)
	_, err := streams.ReadTypeTable(data)
	require.ErrorContains(t, err, "unsupported TPI version")

	data = typeStream(pdbtest.Procedure())
	binary.LittleEndian.PutUint32(data[16:], 4096)
	_, err = streams.ReadTypeTable(data)
	require.Error(t, err)
}

func TestParseNumeric(t *testing.T) {
	v, n := streams.ParseNumeric([]byte{0x10, 0x00})
	require.Equal(t, uint64(16), v)
	require.Equal(t, 2, n)

	v, n = streams.ParseNumeric([]byte{0x04, 0x80, 0x00, 0x00, 0x01, 0x00}) // LF_ULONG
	require.Equal(t, uint64(0x10000), v)
	require.Equal(t, 6, n)

	_, n = streams.ParseNumeric([]byte{0x01})
	require.Zero(t, n)
}

func TestSections(t *testing.T) {
	var buf bytes.Buffer
	for _, h := range []streams.SectionHeader{
		{Name: [8]byte{'.', 't', 'e', 'x', 't'}, VirtualAddress: 0x1000, VirtualSize: 0x1800},
		{Name: [8]byte{'.', 'r', 's', 'r', 'c'}, VirtualAddress: 0x3000, VirtualSize: 0x10, SizeOfRawData: 0x200},
	} {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, &h))
	}
	secs, err := streams.ReadSections(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, secs, 2)
	require.Equal(t, ".rsrc", secs[1].SectionName())
	require.Equal(t, uint64(0x3200), secs.ImageSize())

	rva, ok := secs.RVA(1, 0x20)
	require.True(t, ok)
	require.Equal(t, uint64(0x1020), rva)
	_, ok = secs.RVA(0, 0x20)
	require.False(t, ok)
	_, ok = secs.RVA(3, 0)
	require.False(t, ok)

	_, err = streams.ReadSections(make([]byte, 41))
	require.Error(t, err)
}

func TestStringTable(t *testing.T) {
	data := binary.LittleEndian.AppendUint32(nil, streams.NamesSignature)
	data = binary.LittleEndian.AppendUint32(data, 1)
	data = binary.LittleEndian.AppendUint32(data, 10)
	data = append(data, "\x00a.cpp\x00b.h"...)
	st, err := streams.ReadStringTable(data)
	require.NoError(t, err)

	s, ok := st.String(1)
	require.True(t, ok)
	require.Equal(t, "a.cpp", s)
	s, ok = st.String(7)
	require.True(t, ok)
	require.Equal(t, "b.h", s)
	_, ok = st.String(10)
	require.False(t, ok)

	var empty *streams.StringTable
	_, ok = empty.String(0)
	require.False(t, ok)

	data[0] = 0
	_, err = streams.ReadStringTable(data)
	require.ErrorContains(t, err, "signature")
}

func TestGUID(t *testing.T) {
	info, err := streams.ReadPDBInfo(bytes.NewReader(append(
		[]byte{0x94, 0x2e, 0x31, 0x01, 0, 0, 0, 0, 7, 0, 0, 0},
		pdbtest.SampleGUID[:]...,
	)))
	require.NoError(t, err)
	require.Equal(t, uint32(7), info.Age)
	require.Equal(t, uint32(streams.PDBStreamVersionVC70), info.Version)
	require.Empty(t, info.NamedStreams)
	require.Equal(t, "12345678123456780102030405060708", info.GUIDString())
	require.True(t, info.MatchesGUID("{12345678-1234-5678-0102-030405060708}"))
	require.True(t, info.MatchesGUID("12345678123456780102030405060708"))
	require.False(t, info.MatchesGUID("12345678123456780102030405060709"))
}

func TestReadDBIStream(t *testing.T) {
	_, err := streams.ReadDBIStream(make([]byte, 10))
	require.Error(t, err)

	data := make([]byte, streams.DBIHeaderSize)
	_, err = streams.ReadDBIStream(data)
	require.ErrorContains(t, err, "version signature")

	h := streams.DBIHeader{VersionSignature: -1, ModInfoSize: 100, Machine: streams.MachineI386}
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &h))
	_, err = streams.ReadDBIStream(buf.Bytes())
	require.ErrorContains(t, err, "exceeds")

	require.Equal(t, "x86", streams.MachineTypeName(streams.MachineI386))
	require.Equal(t, "0x1234", streams.MachineTypeName(0x1234))
}
