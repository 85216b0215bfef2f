package pdbtest

import (
	"encoding/binary"

	"github.com/jtang613/pdbsym/pkg/pdb/codeview"
	"github.com/jtang613/pdbsym/pkg/pdb/streams"
)

// record frames body as a symbol or type record padded to 4 bytes.
func record(kind uint16, body []byte) []byte {
	for (len(body)+4)%4 != 0 {
		body = append(body, 0)
	}
	out := binary.LittleEndian.AppendUint16(nil, uint16(len(body)+2))
	out = binary.LittleEndian.AppendUint16(out, kind)
	return append(out, body...)
}

func cstr(dst []byte, s string) []byte {
	return append(append(dst, s...), 0)
}

// Proc encodes an S_GPROC32 record.
func Proc(segment uint16, offset, length uint32, name string) []byte {
	return proc(codeview.S_GPROC32, segment, offset, length, name)
}

// LocalProc encodes an S_LPROC32_ID record.
func LocalProc(segment uint16, offset, length uint32, name string) []byte {
	return proc(codeview.S_LPROC32_ID, segment, offset, length, name)
}

func proc(kind uint16, segment uint16, offset, length uint32, name string) []byte {
	body := make([]byte, 35)
	binary.LittleEndian.PutUint32(body[12:], length)
	binary.LittleEndian.PutUint32(body[28:], offset)
	binary.LittleEndian.PutUint16(body[32:], segment)
	return record(kind, cstr(body, name))
}

// Block encodes an S_BLOCK32 record.
func Block(segment uint16, offset, length uint32, name string) []byte {
	body := make([]byte, 18)
	binary.LittleEndian.PutUint32(body[8:], length)
	binary.LittleEndian.PutUint32(body[12:], offset)
	binary.LittleEndian.PutUint16(body[16:], segment)
	return record(codeview.S_BLOCK32, cstr(body, name))
}

// Label encodes an S_LABEL32 record.
func Label(segment uint16, offset uint32, name string) []byte {
	body := make([]byte, 7)
	binary.LittleEndian.PutUint32(body[0:], offset)
	binary.LittleEndian.PutUint16(body[4:], segment)
	return record(codeview.S_LABEL32, cstr(body, name))
}

// End closes the innermost procedure or block.
func End() []byte {
	return record(codeview.S_END, nil)
}

// ProcEnd closes an _ID procedure.
func ProcEnd() []byte {
	return record(codeview.S_PROC_ID_END, nil)
}

// GlobalData encodes an S_GDATA32 record.
func GlobalData(typeIndex uint32, segment uint16, offset uint32, name string) []byte {
	return data(codeview.S_GDATA32, typeIndex, segment, offset, name)
}

// LocalData encodes an S_LDATA32 record.
func LocalData(typeIndex uint32, segment uint16, offset uint32, name string) []byte {
	return data(codeview.S_LDATA32, typeIndex, segment, offset, name)
}

func data(kind uint16, typeIndex uint32, segment uint16, offset uint32, name string) []byte {
	body := make([]byte, 10)
	binary.LittleEndian.PutUint32(body[0:], typeIndex)
	binary.LittleEndian.PutUint32(body[4:], offset)
	binary.LittleEndian.PutUint16(body[8:], segment)
	return record(kind, cstr(body, name))
}

// Public encodes an S_PUB32 record.
func Public(function bool, segment uint16, offset uint32, name string) []byte {
	body := make([]byte, 10)
	if function {
		binary.LittleEndian.PutUint32(body[0:], codeview.PubSymFlagFunction)
	}
	binary.LittleEndian.PutUint32(body[4:], offset)
	binary.LittleEndian.PutUint16(body[8:], segment)
	return record(codeview.S_PUB32, cstr(body, name))
}

func refRecord(kind uint16, symOff uint32, module uint16, name string) []byte {
	body := make([]byte, 10)
	binary.LittleEndian.PutUint32(body[4:], symOff)
	binary.LittleEndian.PutUint16(body[8:], module)
	return record(kind, cstr(body, name))
}

// Struct encodes an LF_STRUCTURE type record of the given size.
func Struct(name string, size uint16) []byte {
	body := make([]byte, 16)
	body = binary.LittleEndian.AppendUint16(body, size)
	return record(streams.LF_STRUCTURE, cstr(body, name))
}

// ForwardStruct encodes a forward declaration of a structure.
func ForwardStruct(name string) []byte {
	body := make([]byte, 16)
	binary.LittleEndian.PutUint16(body[2:], 0x80)
	body = binary.LittleEndian.AppendUint16(body, 0)
	return record(streams.LF_STRUCTURE, cstr(body, name))
}

// Array encodes an LF_ARRAY of elem with a total size in bytes.
func Array(elem uint32, size uint16) []byte {
	body := make([]byte, 8)
	binary.LittleEndian.PutUint32(body[0:], elem)
	binary.LittleEndian.PutUint32(body[4:], 0x23) // index type: unsigned __int64
	body = binary.LittleEndian.AppendUint16(body, size)
	return record(streams.LF_ARRAY, cstr(body, ""))
}

// Pointer encodes an LF_POINTER to pointee with the given pointer size.
func Pointer(pointee uint32, size uint8) []byte {
	body := make([]byte, 8)
	binary.LittleEndian.PutUint32(body[0:], pointee)
	binary.LittleEndian.PutUint32(body[4:], uint32(size)<<13|0x0c)
	return record(streams.LF_POINTER, body)
}

// Procedure encodes an LF_PROCEDURE returning int with no arguments.
func Procedure() []byte {
	body := make([]byte, 12)
	binary.LittleEndian.PutUint32(body[0:], 0x74)
	return record(streams.LF_PROCEDURE, body)
}

// Modifier encodes an LF_MODIFIER (const) of t.
func Modifier(t uint32) []byte {
	body := make([]byte, 6)
	binary.LittleEndian.PutUint32(body[0:], t)
	binary.LittleEndian.PutUint16(body[4:], 1)
	return record(streams.LF_MODIFIER, body)
}
