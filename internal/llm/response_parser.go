package llm

import (
	"encoding/json"
	"log"
	"strings"
)

// RawOperation is one proposed mutation as emitted by the model, before
// validation and normalization. The Op field is a wire string; the pipeline
// converts it to a typed operation kind and drops anything unrecognized.
type RawOperation struct {
	Op         string  `json:"op"`
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence,omitempty"`
	Importance int     `json:"importance,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// ProposalResult is the parsed output of one extraction call.
type ProposalResult struct {
	Operations []RawOperation `json:"operations"`
	Reasoning  string         `json:"reasoning,omitempty"`
}

// ParseProposal extracts a ProposalResult from raw model output. Models add
// prose and markdown fences around JSON despite instructions, so the parser
// strips fences, brace-scans for the first complete object, and treats any
// parse failure or missing operations array as an empty result — garbage in,
// empty proposal out, never an error.
func ParseProposal(text string) ProposalResult {
	jsonText := extractJSON(text)
	if jsonText == "" {
		return ProposalResult{}
	}

	var result ProposalResult
	if err := json.Unmarshal([]byte(jsonText), &result); err != nil {
		log.Printf("WARNING: llm: failed to parse proposal response: %v", err)
		return ProposalResult{}
	}

	if result.Operations == nil {
		return ProposalResult{Reasoning: result.Reasoning}
	}
	return result
}

// extractJSON returns the first complete JSON object in text, tolerating
// markdown code fences and surrounding prose. Returns "" when no balanced
// object is present.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return ""
}
