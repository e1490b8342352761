package arch

import (
	"fmt"

	"github.com/simfuzz/simfuzz/pkg/simerr"
)

func errDecodeFailure(pc uint64) error {
	return fmt.Errorf("decode pc=0x%x: %w", pc, simerr.ErrDecodeFailure)
}
