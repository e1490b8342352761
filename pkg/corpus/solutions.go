package corpus

import "fmt"

// SolutionKind names the classification tag spec.md §3/§6 attach to a
// solution's file name: timeout, exc<n>, bp<n>, manual.
type SolutionKind string

const (
	SolutionTimeout SolutionKind = "timeout"
	SolutionManual  SolutionKind = "manual"
)

// ExceptionKind and BreakpointKind build the exc<n>/bp<n> tags.
func ExceptionKind(n int64) SolutionKind  { return SolutionKind(fmt.Sprintf("exc%d", n)) }
func BreakpointKind(n int64) SolutionKind { return SolutionKind(fmt.Sprintf("bp%d", n)) }

// Solutions persists solution entries to <solutions_dir>/<kind>-<fingerprint>,
// reusing the corpus List machinery with a kind-prefixed fingerprint.
type Solutions struct {
	list *List
}

func NewSolutions(backend Backend) *Solutions {
	return &Solutions{list: NewList(backend)}
}

// Save records testcase under the given classification; returns the
// fingerprinted file name it was stored as.
func (s *Solutions) Save(testcase []byte, kind SolutionKind, coveredEdges []byte) (string, error) {
	name := fmt.Sprintf("%s-%s", kind, Fingerprint(coveredEdges))
	if _, err := s.list.Add(testcase, name); err != nil {
		return "", err
	}
	return name, nil
}

// Len returns how many solutions have been recorded.
func (s *Solutions) Len() int { return s.list.Len() }

// All returns every recorded solution entry.
func (s *Solutions) All() []*Entry { return s.list.All() }
