// Package arch provides per-ISA architecture adapters: instruction
// classification, compare-operand decomposition, magic-number recognition,
// and the default register layout used at the Start magic. The tracer and
// harness packages depend only on the Adapter interface defined here; they
// never know which concrete ISA is in play.
package arch

import "fmt"

// ISA names a supported instruction set architecture.
type ISA string

const (
	X86       ISA = "x86"
	X86_64    ISA = "x86-64"
	ARM       ISA = "arm"
	ARMThumb2 ISA = "arm-thumb2"
	ARM64     ISA = "arm64"
	RISCV     ISA = "riscv"
	ARC       ISA = "arc"
)

// CmpType classifies the kind of comparison a decoded instruction performed,
// mirroring the cmplog record kinds from the data model.
type CmpType int

const (
	CmpInteger CmpType = iota
	CmpSub
	CmpTest
	CmpFloating
)

func (k CmpType) String() string {
	switch k {
	case CmpInteger:
		return "integer-compare"
	case CmpSub:
		return "sub"
	case CmpTest:
		return "test"
	case CmpFloating:
		return "floating-compare"
	default:
		return "unknown"
	}
}

// ExprKind discriminates the variants of CmpExpr.
type ExprKind int

const (
	ExprRegister ExprKind = iota
	ExprImmSigned8
	ExprImmSigned16
	ExprImmSigned32
	ExprImmSigned64
	ExprImmUnsigned8
	ExprImmUnsigned16
	ExprImmUnsigned32
	ExprImmUnsigned64
	ExprDeref
	ExprAdd
	ExprScaledMul
	ExprAbsoluteAddress
)

// CmpExpr is the small recursive operand-expression type every adapter
// builds its compare operands out of. Only Register/Imm*/AbsoluteAddress
// are leaves; Deref/Add/ScaledMul recurse into Operands.
//
// The tracer resolves a CmpExpr against live CPU/memory state by walking it
// exactly the way a disassembler's operand tree would be walked — see
// Resolve.
type CmpExpr struct {
	Kind     ExprKind
	Register string      // valid when Kind == ExprRegister
	Imm      int64       // valid for ExprImmSigned*
	UImm     uint64      // valid for ExprImmUnsigned*
	Scale    uint64      // valid when Kind == ExprScaledMul (multiplier)
	Address  uint64      // valid when Kind == ExprAbsoluteAddress
	Operands []*CmpExpr  // Deref: len 1; Add/ScaledMul: len 2
}

// Reg builds a register-operand expression.
func Reg(name string) *CmpExpr { return &CmpExpr{Kind: ExprRegister, Register: name} }

// ImmSigned builds a signed-immediate expression of the given bit width
// (8/16/32/64).
func ImmSigned(width int, v int64) *CmpExpr {
	var k ExprKind
	switch width {
	case 8:
		k = ExprImmSigned8
	case 16:
		k = ExprImmSigned16
	case 32:
		k = ExprImmSigned32
	case 64:
		k = ExprImmSigned64
	default:
		panic(fmt.Sprintf("arch: unsupported immediate width %d", width))
	}
	return &CmpExpr{Kind: k, Imm: v}
}

// ImmUnsigned builds an unsigned-immediate expression of the given bit width.
func ImmUnsigned(width int, v uint64) *CmpExpr {
	var k ExprKind
	switch width {
	case 8:
		k = ExprImmUnsigned8
	case 16:
		k = ExprImmUnsigned16
	case 32:
		k = ExprImmUnsigned32
	case 64:
		k = ExprImmUnsigned64
	default:
		panic(fmt.Sprintf("arch: unsupported immediate width %d", width))
	}
	return &CmpExpr{Kind: k, UImm: v}
}

// Deref wraps an address-producing expression in a memory dereference.
func Deref(addr *CmpExpr) *CmpExpr {
	return &CmpExpr{Kind: ExprDeref, Operands: []*CmpExpr{addr}}
}

// Add builds the sum of two expressions (base+index addressing).
func Add(a, b *CmpExpr) *CmpExpr {
	return &CmpExpr{Kind: ExprAdd, Operands: []*CmpExpr{a, b}}
}

// ScaledMul multiplies an expression by a constant scale (scaled indexing).
func ScaledMul(e *CmpExpr, scale uint64) *CmpExpr {
	return &CmpExpr{Kind: ExprScaledMul, Scale: scale, Operands: []*CmpExpr{e}}
}

// AbsoluteAddress builds a bare absolute-address leaf.
func AbsoluteAddress(addr uint64) *CmpExpr {
	return &CmpExpr{Kind: ExprAbsoluteAddress, Address: addr}
}

// CPU is the minimal register/memory surface an adapter needs to resolve a
// CmpExpr into concrete bytes. Implemented by pkg/simhost on top of the
// Simulator Service; a fake implementation backs the package's own tests.
type CPU interface {
	ReadRegister(name string) (uint64, error)
	ReadMemory(addr uint64, length int) ([]byte, error)
}

// Resolve walks a CmpExpr against cpu and returns the address it denotes
// (for Deref/Add/ScaledMul/AbsoluteAddress/Register-holding-an-address) or,
// for an immediate, its literal value as bytes are produced by the caller.
// Register and immediate leaves resolve to a value directly; Deref resolves
// its operand to an address and is expected to be read by the caller via
// ReadMemory — Resolve itself only computes addresses/values, never guesses
// a width to read.
func Resolve(cpu CPU, e *CmpExpr) (uint64, error) {
	switch e.Kind {
	case ExprRegister:
		return cpu.ReadRegister(e.Register)
	case ExprImmSigned8, ExprImmSigned16, ExprImmSigned32, ExprImmSigned64:
		return uint64(e.Imm), nil
	case ExprImmUnsigned8, ExprImmUnsigned16, ExprImmUnsigned32, ExprImmUnsigned64:
		return e.UImm, nil
	case ExprAbsoluteAddress:
		return e.Address, nil
	case ExprDeref:
		addr, err := Resolve(cpu, e.Operands[0])
		if err != nil {
			return 0, err
		}
		return addr, nil
	case ExprAdd:
		a, err := Resolve(cpu, e.Operands[0])
		if err != nil {
			return 0, err
		}
		b, err := Resolve(cpu, e.Operands[1])
		if err != nil {
			return 0, err
		}
		return a + b, nil
	case ExprScaledMul:
		v, err := Resolve(cpu, e.Operands[0])
		if err != nil {
			return 0, err
		}
		return v * e.Scale, nil
	default:
		return 0, fmt.Errorf("arch: unknown expression kind %d", e.Kind)
	}
}

// ResolveBytes resolves e and, if e itself is a dereference, reads width
// bytes at the resolved address; otherwise it returns the little-endian
// encoding of the resolved scalar value truncated to width. A dereference
// nested inside another expression is not read from memory here.
func ResolveBytes(cpu CPU, e *CmpExpr, width int) ([]byte, error) {
	if e.Kind == ExprDeref {
		addr, err := Resolve(cpu, e)
		if err != nil {
			return nil, err
		}
		return cpu.ReadMemory(addr, width)
	}
	v, err := Resolve(cpu, e)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, width)
	for i := 0; i < width && i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return buf, nil
}

// RegisterLayout names the default registers used for testcase injection at
// the Start magic, before any architecture hint override. SubCodeReg carries
// the calling-convention sub-code (spec.md §4.E's "Three recognised harness
// calling conventions... identified by a sub-code in the magic argument") —
// a register distinct from Buffer/Size so the sub-code never aliases the
// testcase layout itself.
type RegisterLayout struct {
	BufferReg  string
	SizeReg    string
	SubCodeReg string
	// ValReg carries the immediate hard-max argument of the
	// ptr+size-ptr-val calling convention (spec.md §4.E): distinct from
	// SizeReg, which in that convention holds a pointer to the write-back
	// size cell rather than the max itself.
	ValReg string
}

// Adapter is implemented once per ISA. The tracer and harness hold one
// Adapter per traced processor, selected at Start time from an explicit
// hint or the processor's self-reported architecture string.
type Adapter interface {
	ISA() ISA

	// Disassemble feeds raw instruction bytes to the adapter's internal
	// decoder, updating its last-instruction classification. Returns
	// simerr.ErrDecodeFailure (wrapped) if the bytes could not be decoded;
	// the caller should skip this instruction for coverage and continue.
	Disassemble(pc uint64, bytes []byte) error

	LastWasControlFlow() bool
	LastWasCall() bool
	LastWasRet() bool
	LastWasCmp() bool

	// CmpOperands decomposes the last retired compare instruction into its
	// operand expressions and their kinds. len(operands) == len(kinds).
	CmpOperands() (operands []*CmpExpr, kinds []CmpType)

	// MagicNumberFromInstruction recognises the ISA-specific magic opcode
	// (e.g. cpuid with a chosen leaf on x86) in the last-decoded
	// instruction and returns the immediate magic number, if any. For ISAs
	// whose magic opcode carries no usable immediate of its own (x86's
	// cpuid, RISC-V's ebreak), the returned value is a placeholder and the
	// caller must additionally consult MagicValueRegister.
	MagicNumberFromInstruction() (magic int64, ok bool)

	// MagicValueRegister names the register holding the real magic number
	// for ISAs where the opcode alone can't carry it (cpuid's leaf lives in
	// EAX; RISC-V's ebreak has no immediate field at all). ok is false for
	// ISAs whose magic() already decodes the number from the instruction
	// bytes (ARM BKPT/ARM64 BRK/ARMThumb2 BKPT/ARC TRAP_S all embed an
	// immediate).
	MagicValueRegister() (reg string, ok bool)

	// RegistersForTestcaseLayout returns the default register names used
	// at the Start magic, before any per-processor architecture-hint
	// override. One layout serves all three calling conventions.
	RegistersForTestcaseLayout() RegisterLayout
}

// FromHint resolves an ISA name (explicit hint or simulator-reported
// architecture string) to an Adapter constructor. Unknown architectures are
// reported via ok=false; per spec.md §4.A the core logs and refuses to fuzz
// in that case rather than guessing.
func FromHint(name string) (Adapter, bool) {
	switch ISA(name) {
	case X86:
		return newX86(), true
	case X86_64:
		return newX86_64(), true
	case ARM:
		return newARM(), true
	case ARMThumb2:
		return newARMThumb2(), true
	case ARM64:
		return newARM64(), true
	case RISCV:
		return newRISCV(), true
	case ARC:
		return newARC(), true
	default:
		return nil, false
	}
}
