package cfg

import (
	"fmt"
	"strings"
)

// NoTerminalNodesError reports a CFG in which every block has a successor.
type NoTerminalNodesError struct{}

func (e *NoTerminalNodesError) Error() string {
	return "fleshing requires the CFG to have at least one terminal node"
}

// AllTerminalNodesUnreachableError reports that generation was requested from a
// doomed block.
type AllTerminalNodesUnreachableError struct {
	Block string
	Exits []string
}

func (e *AllTerminalNodesUnreachableError) Error() string {
	return fmt.Sprintf("no terminal node is reachable from %s (terminal nodes: %s)", e.Block, strings.Join(e.Exits, ", "))
}

// TerminalNodesUnreachableError reports that a walk could not be completed to an
// exit block from Block.
type TerminalNodesUnreachableError struct {
	Block string
	Exits []string
}

func (e *TerminalNodesUnreachableError) Error() string {
	return fmt.Sprintf("no terminal node could be found starting at node %s (terminal nodes: %s)", e.Block, strings.Join(e.Exits, ", "))
}

// InvariantError is a structural violation: either the input CFG is malformed or
// an analysis produced an impossible result. It is never retryable.
type InvariantError struct {
	Block string
	Rule  string
}

func (e *InvariantError) Error() string {
	if e.Block == "" {
		return "cfg invariant violated: " + e.Rule
	}
	return fmt.Sprintf("cfg invariant violated at %s: %s", e.Block, e.Rule)
}

func invariantf(block string, format string, args ...any) error {
	return &InvariantError{Block: block, Rule: fmt.Sprintf(format, args...)}
}
