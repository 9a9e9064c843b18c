// Package llm defines the contract for the external extraction collaborator
// and the tolerant parsing of its output.
//
// The completion step itself is a black box: text in, structured operations
// out. This package owns everything around that box — the interface, the
// JSON parsing that never errors on garbage, and the guarded client that
// enforces timeouts, pacing, and circuit breaking at the call site.
package llm

import "context"

// TextGenerator is the interface for LLM text completion.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// OperationProposer turns a prompt (current facts + new exchange) into
// proposed fact operations. A malformed or empty model response yields an
// empty ProposalResult, never an error; errors are reserved for transport
// failures.
type OperationProposer interface {
	Propose(ctx context.Context, prompt string) (ProposalResult, error)
}
