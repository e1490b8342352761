package arch

import "encoding/binary"

// arcClassifier covers the ARCv2 32-bit encoding, the architecture TSFFS
// itself targets for several of its embedded-firmware harnesses.
type arcClassifier struct{}

func newARC() Adapter { return newGenericAdapter(&arcClassifier{}) }

func (arcClassifier) isa() ISA { return ARC }

func (arcClassifier) layout() RegisterLayout {
	return RegisterLayout{BufferReg: "r0", SizeReg: "r1", SubCodeReg: "r2", ValReg: "r3"}
}

func (arcClassifier) classify(b []byte) (cf, call, ret, cmp, ok bool) {
	if len(b) != 4 {
		return false, false, false, false, false
	}
	word := binary.BigEndian.Uint32(b)
	major := (word >> 27) & 0x1F
	switch major {
	case 0x04: // BL
		return true, true, false, false, true
	case 0x00: // B
		return true, false, false, false, true
	case 0x05: // generic (CMP/ADD/... register-register), sub-opcode determines op
		subOp := (word >> 16) & 0x3F
		if subOp == 0x0C { // CMP
			return false, false, false, true, true
		}
		return false, false, false, false, true
	default:
		return false, false, false, false, true
	}
}

func (arcClassifier) magic(b []byte) (int64, bool) {
	if len(b) != 4 {
		return 0, false
	}
	word := binary.BigEndian.Uint32(b)
	if word&0xFFFFFFE0 == 0x256F003F { // TRAP_S / TRAP0 marker
		return int64(word & 0x1F), true
	}
	return 0, false
}

func (arcClassifier) cmpOperands(b []byte) ([]*CmpExpr, []CmpType) {
	word := binary.BigEndian.Uint32(b)
	rb := (word >> 12) & 0x3F
	return []*CmpExpr{Reg(regName("r", rb))}, []CmpType{CmpInteger}
}
