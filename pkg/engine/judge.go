package engine

import (
	"fmt"

	"github.com/hivehq/hive/pkg/convo"
	"github.com/hivehq/hive/pkg/graph"
)

// Verdict is the judge's decision about a node's accumulated output.
type Verdict string

const (
	// VerdictAccept means the node's declared requirements are satisfied.
	VerdictAccept Verdict = "accept"
	// VerdictRetry means the node should loop again, bounded by its
	// iteration ceiling.
	VerdictRetry Verdict = "retry"
)

// Judge evaluates whether a node's accumulated output satisfies its
// declared requirements. The judge never sees infrastructure failures:
// those are escalated before judging (see LoopNode).
type Judge interface {
	Evaluate(node graph.Node, acc convo.Accumulator) (Verdict, string)
}

// OutputsJudge accepts when every declared required output is present in
// the accumulator. Nodes without declared outputs accept on any non-empty
// response.
type OutputsJudge struct{}

// Evaluate implements Judge.
func (OutputsJudge) Evaluate(node graph.Node, acc convo.Accumulator) (Verdict, string) {
	if len(node.RequiredOutputs) == 0 {
		if acc.Empty() {
			return VerdictRetry, "response was empty"
		}
		return VerdictAccept, ""
	}

	for _, key := range node.RequiredOutputs {
		if _, ok := acc.Outputs[key]; !ok {
			return VerdictRetry, fmt.Sprintf("missing required output %q", key)
		}
	}
	return VerdictAccept, ""
}
