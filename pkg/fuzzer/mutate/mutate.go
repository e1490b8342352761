// Package mutate implements the byte-level mutation primitives the driver's
// "fuzz" strategy stacks: bitflip, arithmetic, havoc, and a cmplog-driven
// input-to-state step. No byte-level mutator implementation exists
// anywhere in the retrieved corpus (original_source wires the Rust libafl
// crate rather than vendoring its mutator code) so these are hand-written
// from the well-known AFL/libFuzzer/libAFL algorithms rather than adapted
// from a reference file; see DESIGN.md.
package mutate

import (
	"math/rand"

	"github.com/simfuzz/simfuzz/pkg/tracer"
)

// Func mutates input into a freshly allocated byte slice, never modifying
// input itself (callers may be holding onto it as a corpus entry).
type Func func(r *rand.Rand, input []byte) []byte

// Bitflip flips one random bit.
func Bitflip(r *rand.Rand, input []byte) []byte {
	out := clone(input)
	if len(out) == 0 {
		return out
	}
	bit := r.Intn(len(out) * 8)
	out[bit/8] ^= 1 << uint(bit%8)
	return out
}

// Arithmetic adds a small signed delta (-17..17) to one random byte.
func Arithmetic(r *rand.Rand, input []byte) []byte {
	out := clone(input)
	if len(out) == 0 {
		return out
	}
	idx := r.Intn(len(out))
	delta := byte(r.Intn(35) - 17)
	out[idx] += delta
	return out
}

// InsertByte splices one random byte into a random position.
func InsertByte(r *rand.Rand, input []byte) []byte {
	pos := r.Intn(len(input) + 1)
	b := byte(r.Intn(256))
	out := make([]byte, 0, len(input)+1)
	out = append(out, input[:pos]...)
	out = append(out, b)
	out = append(out, input[pos:]...)
	return out
}

// DeleteByte removes one random byte.
func DeleteByte(r *rand.Rand, input []byte) []byte {
	if len(input) == 0 {
		return clone(input)
	}
	pos := r.Intn(len(input))
	out := make([]byte, 0, len(input)-1)
	out = append(out, input[:pos]...)
	out = append(out, input[pos+1:]...)
	return out
}

// InsertToken splices a dictionary token into a random position — AFL's
// "auto dictionary" insertion step, here fed by the configured token list
// rather than an automatically extracted one.
func InsertToken(token []byte) Func {
	return func(r *rand.Rand, input []byte) []byte {
		if len(token) == 0 {
			return clone(input)
		}
		pos := r.Intn(len(input) + 1)
		out := make([]byte, 0, len(input)+len(token))
		out = append(out, input[:pos]...)
		out = append(out, token...)
		out = append(out, input[pos:]...)
		return out
	}
}

// Havoc stacks a random number of random primitive mutations, AFL's classic
// "havoc" stage. dict, if non-empty, is occasionally spliced in verbatim.
func Havoc(dict [][]byte) Func {
	return func(r *rand.Rand, input []byte) []byte {
		out := clone(input)
		steps := 1 + r.Intn(8)
		for i := 0; i < steps; i++ {
			choice := r.Intn(4)
			if len(dict) > 0 && r.Intn(5) == 0 {
				choice = 4
			}
			switch choice {
			case 0:
				out = Bitflip(r, out)
			case 1:
				out = Arithmetic(r, out)
			case 2:
				out = InsertByte(r, out)
			case 3:
				out = DeleteByte(r, out)
			case 4:
				out = InsertToken(dict[r.Intn(len(dict))])(r, out)
			}
		}
		return out
	}
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// InputToState builds a redqueen-style mutator from one execution's cmplog
// records: it overwrites the bytes at a random position with one recorded
// comparison's other operand, nudging the input toward satisfying that
// comparison directly instead of waiting for a random mutation to stumble
// onto it (spec.md §4.B's "opportunistic cmplog extraction" feeding the
// mutator).
func InputToState(records []tracer.CmpRecord) Func {
	return func(r *rand.Rand, input []byte) []byte {
		out := clone(input)
		if len(records) == 0 || len(out) == 0 {
			return out
		}
		rec := records[r.Intn(len(records))]
		if len(rec.OperandA) == 0 || len(rec.OperandB) == 0 || len(rec.OperandA) > len(out) {
			return out
		}
		n := len(rec.OperandA)
		if n > len(rec.OperandB) {
			n = len(rec.OperandB)
		}
		start := r.Intn(len(out) - n + 1)
		copy(out[start:start+n], rec.OperandB[:n])
		return out
	}
}
