package fuzzer

import (
	"bytes"
	"os"

	"github.com/simfuzz/simfuzz/pkg/simlog"
)

// loadTokenFiles reads each path as newline-separated raw tokens, skipping
// a file that can't be read rather than failing the whole refresh (a
// dictionary file going missing mid-run shouldn't kill the fuzzer).
func loadTokenFiles(paths []string, logf simlog.Func) [][]byte {
	var tokens [][]byte
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			logf(1, "fuzzer: failed to read token file %s: %v", p, err)
			continue
		}
		for _, line := range bytes.Split(data, []byte("\n")) {
			line = bytes.TrimSpace(line)
			if len(line) > 0 {
				tokens = append(tokens, line)
			}
		}
	}
	return tokens
}
