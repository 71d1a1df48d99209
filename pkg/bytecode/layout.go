package bytecode

// Memory layout contract shared by the code generator, the loader and the
// interpreter. Addresses below DataBase are never mapped, so null and
// near-null dereferences fault instead of silently reading the segment.
const (
	// DataBase is the fixed base address of the data segment in VM memory.
	DataBase int64 = 0x1000

	// WordSize is the machine word size in bytes. Integers, pointers and
	// stack slots are all one word.
	WordSize int64 = 8
)

// AlignWord rounds n up to the next word boundary.
func AlignWord(n int64) int64 {
	return (n + WordSize - 1) &^ (WordSize - 1)
}
