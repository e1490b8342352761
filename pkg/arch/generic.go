package arch

// classifier decides, from a raw instruction's leading bytes, which of the
// four classifications (control-flow/call/ret/cmp) it falls under, and
// whether it carries a recognisable magic immediate. No disassembler
// library in the retrieved corpus covers multi-ISA instruction decoding
// (see DESIGN.md), so every adapter is a small table-driven byte-pattern
// matcher instead of a full decoder — sufficient for the classification and
// magic-recognition duties the tracer and harness actually need.
type classifier interface {
	classify(bytes []byte) (cf, call, ret, cmp bool, ok bool)
	magic(bytes []byte) (int64, bool)
	cmpOperands(bytes []byte) ([]*CmpExpr, []CmpType)
	isa() ISA
	layout() RegisterLayout
}

// registerMagicClassifier is implemented by the classifiers whose magic
// opcode carries no usable immediate (x86's cpuid, RISC-V's ebreak); the
// real magic number must be read from the named register instead.
type registerMagicClassifier interface {
	magicRegister() (string, bool)
}

// genericAdapter implements Adapter on top of a classifier, holding the
// last decoded instruction's classification so the tracer's multi-step
// callback (decode, then ask LastWas*, then CmpOperands) matches spec.md
// §4.B's call sequence.
type genericAdapter struct {
	c classifier

	lastBytes []byte
	lastCF    bool
	lastCall  bool
	lastRet   bool
	lastCmp   bool
}

func newGenericAdapter(c classifier) *genericAdapter {
	return &genericAdapter{c: c}
}

func (a *genericAdapter) ISA() ISA { return a.c.isa() }

func (a *genericAdapter) Disassemble(pc uint64, bytes []byte) error {
	cf, call, ret, cmp, ok := a.c.classify(bytes)
	if !ok {
		a.lastBytes, a.lastCF, a.lastCall, a.lastRet, a.lastCmp = nil, false, false, false, false
		return errDecodeFailure(pc)
	}
	a.lastBytes, a.lastCF, a.lastCall, a.lastRet, a.lastCmp = bytes, cf, call, ret, cmp
	return nil
}

func (a *genericAdapter) LastWasControlFlow() bool { return a.lastCF }
func (a *genericAdapter) LastWasCall() bool         { return a.lastCall }
func (a *genericAdapter) LastWasRet() bool          { return a.lastRet }
func (a *genericAdapter) LastWasCmp() bool          { return a.lastCmp }

func (a *genericAdapter) CmpOperands() ([]*CmpExpr, []CmpType) {
	if !a.lastCmp || a.lastBytes == nil {
		return nil, nil
	}
	return a.c.cmpOperands(a.lastBytes)
}

func (a *genericAdapter) MagicNumberFromInstruction() (int64, bool) {
	if a.lastBytes == nil {
		return 0, false
	}
	return a.c.magic(a.lastBytes)
}

func (a *genericAdapter) MagicValueRegister() (string, bool) {
	if rc, ok := a.c.(registerMagicClassifier); ok {
		return rc.magicRegister()
	}
	return "", false
}

func (a *genericAdapter) RegistersForTestcaseLayout() RegisterLayout {
	return a.c.layout()
}
