package arch

import "encoding/binary"

// arm64Classifier covers AArch64 (A64) encoding.
type arm64Classifier struct{}

func newARM64() Adapter { return newGenericAdapter(&arm64Classifier{}) }

func (arm64Classifier) isa() ISA { return ARM64 }

func (arm64Classifier) layout() RegisterLayout {
	return RegisterLayout{BufferReg: "x0", SizeReg: "x1", SubCodeReg: "x2", ValReg: "x3"}
}

func (arm64Classifier) classify(b []byte) (cf, call, ret, cmp, ok bool) {
	if len(b) != 4 {
		return false, false, false, false, false
	}
	word := binary.LittleEndian.Uint32(b)
	switch {
	case word&0xFC000000 == 0x14000000: // B
		return true, false, false, false, true
	case word&0xFC000000 == 0x94000000: // BL
		return true, true, false, false, true
	case word&0xFFFFFC1F == 0xD65F0000: // RET
		return true, false, true, false, true
	case word&0x7F000000 == 0x71000000, word&0x7F200000 == 0x6B000000: // SUBS/CMP immediate or register
		return false, false, false, true, true
	default:
		return false, false, false, false, true
	}
}

func (arm64Classifier) magic(b []byte) (int64, bool) {
	if len(b) != 4 {
		return 0, false
	}
	word := binary.LittleEndian.Uint32(b)
	if word&0xFFE0001F == 0xD4200000 { // BRK #imm16
		return int64((word >> 5) & 0xFFFF), true
	}
	return 0, false
}

func (arm64Classifier) cmpOperands(b []byte) ([]*CmpExpr, []CmpType) {
	word := binary.LittleEndian.Uint32(b)
	rn := (word >> 5) & 0x1F
	return []*CmpExpr{Reg(regName("x", rn))}, []CmpType{CmpSub}
}
