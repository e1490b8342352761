package arch

import "encoding/binary"

// riscvClassifier covers the RV32I/RV64I base integer ISA (uncompressed,
// 4-byte instructions). Compressed (RVC) 2-byte forms are out of scope —
// magic/kernel harnesses in practice use the uncompressed encoding for the
// Start/Stop sequence.
type riscvClassifier struct{}

func newRISCV() Adapter { return newGenericAdapter(&riscvClassifier{}) }

func (riscvClassifier) isa() ISA { return RISCV }

func (riscvClassifier) layout() RegisterLayout {
	return RegisterLayout{BufferReg: "a0", SizeReg: "a1", SubCodeReg: "a2", ValReg: "a3"}
}

// magicRegister names the register carrying ebreak's magic number: the
// instruction itself has no immediate field, so the harness ABI designates
// t0 (x5) to hold it, distinct from the a0/a1/a2 testcase-layout registers.
func (riscvClassifier) magicRegister() (string, bool) { return "t0", true }

const (
	opJAL    = 0x6F
	opJALR   = 0x67
	opBranch = 0x63
	opSystem = 0x73
)

func (riscvClassifier) classify(b []byte) (cf, call, ret, cmp, ok bool) {
	if len(b) != 4 {
		return false, false, false, false, false
	}
	word := binary.LittleEndian.Uint32(b)
	opcode := word & 0x7F
	rd := (word >> 7) & 0x1F
	switch opcode {
	case opJAL:
		return true, rd == 1, false, false, true // rd=ra (x1) => call
	case opJALR:
		isRet := rd == 0 && ((word>>15)&0x1F) == 1 // jalr x0, ra, 0
		return true, rd == 1, isRet, false, true
	case opBranch:
		return true, false, false, true, true // BEQ/BNE/etc. double as a compare
	default:
		return false, false, false, false, true
	}
}

func (riscvClassifier) magic(b []byte) (int64, bool) {
	if len(b) != 4 {
		return 0, false
	}
	word := binary.LittleEndian.Uint32(b)
	if word == 0x00100073 { // EBREAK
		return 0, true
	}
	return 0, false
}

func (riscvClassifier) cmpOperands(b []byte) ([]*CmpExpr, []CmpType) {
	word := binary.LittleEndian.Uint32(b)
	rs1 := (word >> 15) & 0x1F
	rs2 := (word >> 20) & 0x1F
	return []*CmpExpr{Reg(regName("x", rs1)), Reg(regName("x", rs2))}, []CmpType{CmpInteger, CmpInteger}
}
