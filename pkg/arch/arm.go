package arch

import "encoding/binary"

// armClassifier covers 32-bit ARM (A32) encoding.
type armClassifier struct{}

func newARM() Adapter { return newGenericAdapter(&armClassifier{}) }

func (armClassifier) isa() ISA { return ARM }

func (armClassifier) layout() RegisterLayout {
	return RegisterLayout{BufferReg: "r0", SizeReg: "r1", SubCodeReg: "r2", ValReg: "r3"}
}

func (armClassifier) classify(b []byte) (cf, call, ret, cmp, ok bool) {
	if len(b) != 4 {
		return false, false, false, false, false
	}
	word := binary.LittleEndian.Uint32(b)
	cond := word >> 28
	top3 := (word >> 25) & 0x7
	switch {
	case top3 == 0x5 && cond != 0xF: // B/BL
		isLink := (word>>24)&1 == 1
		return true, isLink, false, false, true
	case (word & 0x0FFFFFF0) == 0x012FFF10: // BX Rn
		return true, false, true, false, true
	case (word & 0x0FF00000) == 0x01500000: // CMP Rn, operand
		return false, false, false, true, true
	default:
		return false, false, false, false, true
	}
}

func (armClassifier) magic(b []byte) (int64, bool) {
	if len(b) != 4 {
		return 0, false
	}
	word := binary.LittleEndian.Uint32(b)
	if (word & 0x0FF000F0) == 0x01200070 { // BKPT imm12:imm4, repurposed as magic marker
		imm := int64((word>>4)&0xFFF0) | int64(word&0xF)
		return imm, true
	}
	return 0, false
}

func (armClassifier) cmpOperands(b []byte) ([]*CmpExpr, []CmpType) {
	word := binary.LittleEndian.Uint32(b)
	rn := (word >> 16) & 0xF
	return []*CmpExpr{Reg(regName("r", rn))}, []CmpType{CmpInteger}
}

func regName(prefix string, n uint32) string {
	return prefix + itoa(n)
}

func itoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var digits [10]byte
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[i:])
}
