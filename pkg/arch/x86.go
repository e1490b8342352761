package arch

// x86Classifier implements classifier for the 32-bit and 64-bit x86 ISAs.
// Both share an opcode map; the handful of differences (register names,
// cpuid-leaf register) are parameterized by wide64.
type x86Classifier struct {
	wide64 bool
}

func newX86() Adapter    { return newGenericAdapter(&x86Classifier{wide64: false}) }
func newX86_64() Adapter { return newGenericAdapter(&x86Classifier{wide64: true}) }

func (x *x86Classifier) isa() ISA {
	if x.wide64 {
		return X86_64
	}
	return X86
}

func (x *x86Classifier) layout() RegisterLayout {
	if x.wide64 {
		return RegisterLayout{BufferReg: "rsi", SizeReg: "rdi", SubCodeReg: "rdx", ValReg: "rcx"}
	}
	return RegisterLayout{BufferReg: "esi", SizeReg: "edi", SubCodeReg: "edx", ValReg: "ecx"}
}

// magicRegister names the register cpuid returns its magic leaf in: EAX
// always carries cpuid's input/output leaf, regardless of mode.
func (x *x86Classifier) magicRegister() (string, bool) {
	if x.wide64 {
		return "rax", true
	}
	return "eax", true
}

func (x *x86Classifier) classify(b []byte) (cf, call, ret, cmp, ok bool) {
	if len(b) == 0 {
		return false, false, false, false, false
	}
	op := b[0]
	switch {
	case op == 0xE8: // call rel32
		return true, true, false, false, true
	case op == 0xC3 || op == 0xC2: // ret / ret imm16
		return true, false, true, false, true
	case op == 0xE9 || op == 0xEB: // jmp rel32 / rel8
		return true, false, false, false, true
	case op >= 0x70 && op <= 0x7F: // Jcc rel8
		return true, false, false, false, true
	case op == 0x0F && len(b) > 1 && b[1] >= 0x80 && b[1] <= 0x8F: // Jcc rel32
		return true, false, false, false, true
	case op >= 0x38 && op <= 0x3D: // cmp al/eax,imm and reg,reg forms
		return false, false, false, true, true
	case op == 0x84 || op == 0x85: // test
		return false, false, false, true, true
	case op == 0x80 || op == 0x81 || op == 0x83: // group1 (cmp/sub when /7 or /5)
		if len(b) > 1 && (((b[1]>>3)&7) == 7 || ((b[1]>>3)&7) == 5) {
			return false, false, false, true, true
		}
		return false, false, false, false, true
	default:
		return false, false, false, false, true
	}
}

func (x *x86Classifier) magic(b []byte) (int64, bool) {
	// cpuid with the magic leaf pre-loaded into EAX; the leaf itself is
	// resolved by the tracer from live register state, not from these
	// bytes, so here we only recognise the opcode 0F A2.
	if len(b) >= 2 && b[0] == 0x0F && b[1] == 0xA2 {
		return 0, true
	}
	return 0, false
}

func (x *x86Classifier) cmpOperands(b []byte) ([]*CmpExpr, []CmpType) {
	op := b[0]
	kind := CmpInteger
	if op == 0x84 || op == 0x85 {
		kind = CmpTest
	}
	axName := "eax"
	if x.wide64 {
		axName = "rax"
	}
	width := 4
	if x.wide64 {
		width = 8
	}
	if len(b) > 1 {
		return []*CmpExpr{Reg(axName), ImmSigned(width*8, int64(int8(b[len(b)-1])))}, []CmpType{kind, kind}
	}
	return []*CmpExpr{Reg(axName)}, []CmpType{kind}
}
