package pdbtest

// SampleGUID is the GUID of the Sample PDB. Formatted it reads
// 12345678123456780102030405060708.
var SampleGUID = [16]byte{0x78, 0x56, 0x34, 0x12, 0x34, 0x12, 0x78, 0x56, 1, 2, 3, 4, 5, 6, 7, 8}

// Sample describes a small x64 PDB: .text at 0x1000 and .data at 0x4000,
// two compilands with procedures, a block, a label, statics and line
// tables, plus publics, procedure references and global data.
//
// Type indices: 0x1000 struct Point (8 bytes), 0x1001 procedure,
// 0x1002 int[10], 0x1003 forward Point, 0x1004 Point*, 0x1005 const Point
// through the forward declaration.
func Sample() *Builder {
	return &Builder{
		GUID:    SampleGUID,
		Age:     3,
		Machine: 0x8664,
		Sections: []Section{
			{Name: ".text", VirtualAddress: 0x1000, VirtualSize: 0x2000},
			{Name: ".data", VirtualAddress: 0x4000, VirtualSize: 0x1000},
		},
		Types: [][]byte{
			Struct("Point", 8),
			Procedure(),
			Array(0x74, 40),
			ForwardStruct("Point"),
			Pointer(0x1000, 8),
			Modifier(0x1003),
		},
		Modules: []Module{
			{
				Name: `c:\src\a.obj`,
				Symbols: [][]byte{
					Proc(1, 0x10, 0x40, "?bar@Foo@@QAEHH@Z"),
					Block(1, 0x20, 0x8, ""),
					Label(1, 0x30, "retry"),
					LocalData(0x1002, 2, 0x10, "table"),
					End(),
					End(),
					LocalProc(1, 0x100, 0x20, "helper"),
					ProcEnd(),
				},
				Lines: []LineBlock{{
					Segment: 1,
					Offset:  0x10,
					File:    `c:\src\a.cpp`,
					Rows:    []LineRow{{0, 10}, {4, 11}, {8, 12}, {0xc, 0xfeefee}},
				}},
			},
			{
				Name:    `c:\src\b.obj`,
				Symbols: [][]byte{Proc(1, 0x200, 0x10, "main"), End()},
				Lines: []LineBlock{{
					Segment: 1,
					Offset:  0x200,
					File:    `c:\src\b.cpp`,
					Rows:    []LineRow{{0, 5}, {6, 7}},
				}},
			},
			{Name: "* Linker *"},
		},
		Globals: [][]byte{
			Public(true, 1, 0x10, "?bar@Foo@@QAEHH@Z"),
			Public(false, 2, 0x0, "_g_counter"),
			Public(false, 9, 0x0, "orphan"),
			GlobalData(0x1005, 2, 0x20, "origin"),
			GlobalData(0x1001, 1, 0x300, "fnvar"),
			GlobalData(0x74, 2, 0x30, "count"),
		},
		ProcRefs: []ProcRef{
			{Module: 1, Symbol: 0, Name: "main"},
			{Module: 0, Symbol: 6, Name: "helper", Local: true},
		},
	}
}
