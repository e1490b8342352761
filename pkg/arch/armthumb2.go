package arch

import "encoding/binary"

// armThumb2Classifier covers the 16/32-bit Thumb2 encoding used by Cortex-M
// and by A32 cores in Thumb state. Only the 16-bit subset needed for
// control-flow/cmp classification is decoded, plus the 32-bit BL/B.W form
// (first halfword 0xF000-0xF7FF, at least 4 bytes given), which counts as
// control flow and, when its second halfword links, as a call. Other 32-bit
// Thumb2 instructions are classified as neither.
type armThumb2Classifier struct{}

func newARMThumb2() Adapter { return newGenericAdapter(&armThumb2Classifier{}) }

func (armThumb2Classifier) isa() ISA { return ARMThumb2 }

func (armThumb2Classifier) layout() RegisterLayout {
	return RegisterLayout{BufferReg: "r0", SizeReg: "r1", SubCodeReg: "r2", ValReg: "r3"}
}

func (armThumb2Classifier) classify(b []byte) (cf, call, ret, cmp, ok bool) {
	if len(b) < 2 {
		return false, false, false, false, false
	}
	hw := binary.LittleEndian.Uint16(b)
	switch {
	case hw&0xF800 == 0xF000 && len(b) >= 4: // 32-bit BL/B.W prefix
		hw2 := binary.LittleEndian.Uint16(b[2:])
		isLink := hw2&0xD000 == 0xD000
		return true, isLink, false, false, true
	case hw&0xFF00 == 0x4700 || hw&0xFF87 == 0x4700: // BX/BLX Rm
		isLink := hw&0x0080 != 0
		return true, isLink, !isLink, false, true
	case hw&0xF000 == 0xD000 && (hw>>8)&0xF != 0xF: // Bcc
		return true, false, false, false, true
	case hw&0xFE00 == 0x4200: // CMP Rn, Rm (T1)
		return false, false, false, true, true
	case hw&0xF800 == 0x2800: // CMP Rn, #imm8 (T2)
		return false, false, false, true, true
	default:
		return false, false, false, false, true
	}
}

func (armThumb2Classifier) magic(b []byte) (int64, bool) {
	if len(b) < 2 {
		return 0, false
	}
	hw := binary.LittleEndian.Uint16(b)
	if hw&0xFF00 == 0xBE00 { // BKPT #imm8
		return int64(hw & 0xFF), true
	}
	return 0, false
}

func (armThumb2Classifier) cmpOperands(b []byte) ([]*CmpExpr, []CmpType) {
	hw := binary.LittleEndian.Uint16(b)
	if hw&0xF800 == 0x2800 {
		rn := (hw >> 8) & 0x7
		imm := hw & 0xFF
		return []*CmpExpr{Reg(regName("r", uint32(rn))), ImmUnsigned(8, uint64(imm))}, []CmpType{CmpInteger, CmpInteger}
	}
	rn := hw & 0x7
	rm := (hw >> 3) & 0xF
	return []*CmpExpr{Reg(regName("r", uint32(rn))), Reg(regName("r", uint32(rm)))}, []CmpType{CmpInteger, CmpInteger}
}
