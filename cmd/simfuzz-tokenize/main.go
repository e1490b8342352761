// Command simfuzz-tokenize is the offline binary-tokenization helper
// spec.md §9 calls for ("Collection of tokens from executables... is
// specified as an offline helper, not part of the hot loop"): it scans one
// or more target binaries for ASCII/UTF-16 string-shaped tokens and writes
// them newline-separated to a dictionary file consumable by
// Config.TokenFiles. Cobra command structure grounded on
// ja7ad-consumption's cmd/consumption/main.go, matching simfuzz-host.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/simfuzz/simfuzz/pkg/fuzzer/tokenize"
)

type tokenizeFlags struct {
	output   string
	minASCII int
	minUTF16 int
}

func main() {
	var f tokenizeFlags

	root := &cobra.Command{
		Use:   "simfuzz-tokenize <binary> [binary...]",
		Short: "Extract dictionary tokens from target binaries",
		Long: `simfuzz-tokenize scans one or more target binaries for printable
ASCII and UTF-16LE string runs and writes the distinct tokens found,
newline-separated, to the file named by --output. The result is suitable
as one of Config.TokenFiles.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args, f)
		},
	}

	root.Flags().StringVarP(&f.output, "output", "o", "tokens.dict", "path to write the newline-separated token dictionary")
	root.Flags().IntVar(&f.minASCII, "min-ascii", 3, "minimum length of an ASCII run to keep")
	root.Flags().IntVar(&f.minUTF16, "min-utf16", 4, "minimum code-unit length of a UTF-16LE run to keep")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(paths []string, f tokenizeFlags) error {
	extractor := tokenize.MakeExtractor(f.minASCII, f.minUTF16)

	seen := map[string]struct{}{}
	var tokens [][]byte
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("simfuzz-tokenize: read %s: %w", p, err)
		}
		for _, tok := range extractor.FromBytes(data) {
			key := string(tok)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			tokens = append(tokens, tok)
		}
	}

	out, err := os.Create(f.output)
	if err != nil {
		return fmt.Errorf("simfuzz-tokenize: create %s: %w", f.output, err)
	}
	defer out.Close()
	for _, tok := range tokens {
		if _, err := out.Write(tok); err != nil {
			return fmt.Errorf("simfuzz-tokenize: write %s: %w", f.output, err)
		}
		if _, err := out.Write([]byte("\n")); err != nil {
			return fmt.Errorf("simfuzz-tokenize: write %s: %w", f.output, err)
		}
	}
	fmt.Printf("simfuzz-tokenize: wrote %d tokens to %s\n", len(tokens), f.output)
	return nil
}
