package llm

import "context"

// Proposer adapts a TextGenerator into an OperationProposer by running the
// completion and parsing the response tolerantly.
type Proposer struct {
	client TextGenerator
}

// NewProposer wraps a text-generation client.
func NewProposer(client TextGenerator) *Proposer {
	return &Proposer{client: client}
}

// Propose runs the extraction prompt through the model. Transport errors are
// surfaced; malformed model output is not — it parses to an empty result.
func (p *Proposer) Propose(ctx context.Context, prompt string) (ProposalResult, error) {
	response, err := p.client.Complete(ctx, prompt)
	if err != nil {
		return ProposalResult{}, err
	}
	return ParseProposal(response), nil
}
