package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/strand-ai/strand/pkg/model"
	"github.com/strand-ai/strand/pkg/template"
)

// defaultConsensusThreshold is the minimum outcome fraction when the
// consensus config leaves the threshold unset.
const defaultConsensusThreshold = 0.5

type branchOutcome struct {
	Branch model.Branch
	Output string
	Err    error
}

// executeParallel runs every branch concurrently against a state snapshot
// and combines the results with the configured consensus strategy. The
// node succeeds when consensus is reached, otherwise transitions route it
// through Failure rules.
func (d *Driver) executeParallel(ctx context.Context, ec *ExecutionContext, node *model.Node) *model.NodeResult {
	if len(node.Branches) == 0 {
		return model.NewFailureResult(fmt.Errorf("node %s has no branches", node.ID))
	}

	outcomes := make([]branchOutcome, len(node.Branches))
	var wg sync.WaitGroup
	for i, br := range node.Branches {
		wg.Add(1)
		go func(i int, br model.Branch) {
			defer wg.Done()
			snapshot := ec.State.Snapshot()
			ag, err := ec.Agents.Get(br.AgentID)
			if err != nil {
				outcomes[i] = branchOutcome{Branch: br, Err: err}
				return
			}
			prompt := template.Resolve(br.Prompt, snapshot.Context)
			out, err := ag.Execute(ctx, prompt, snapshot.Context)
			outcomes[i] = branchOutcome{Branch: br, Output: out, Err: err}
		}(i, br)
	}
	wg.Wait()

	return d.evaluateConsensus(ctx, ec, node, outcomes)
}

func (d *Driver) evaluateConsensus(ctx context.Context, ec *ExecutionContext, node *model.Node, outcomes []branchOutcome) *model.NodeResult {
	strategy := model.ConsensusMajorityVote
	threshold := defaultConsensusThreshold
	if node.Consensus != nil {
		if node.Consensus.Strategy != "" {
			strategy = node.Consensus.Strategy
		}
		if node.Consensus.Threshold > 0 {
			threshold = node.Consensus.Threshold
		}
	}

	outputs := make([]any, len(outcomes))
	successes := 0
	var successWeight, totalWeight float64
	for i, outcome := range outcomes {
		weight := outcome.Branch.Weight
		if weight <= 0 {
			weight = 1
		}
		totalWeight += weight
		if outcome.Err != nil {
			outputs[i] = map[string]any{"branch": outcome.Branch.ID, "error": outcome.Err.Error()}
			continue
		}
		outputs[i] = outcome.Output
		successes++
		successWeight += weight
	}

	var reached bool
	var share float64
	switch strategy {
	case model.ConsensusMajorityVote:
		share = float64(successes) / float64(len(outcomes))
		reached = share >= threshold
	case model.ConsensusWeightedVote:
		share = successWeight / totalWeight
		reached = share >= threshold
	case model.ConsensusUnanimous:
		share = float64(successes) / float64(len(outcomes))
		reached = successes == len(outcomes)
	case model.ConsensusJudgeDecides:
		return d.judgeConsensus(ctx, ec, node, outcomes, outputs)
	default:
		return model.NewFailureResult(fmt.Errorf("node %s: unknown consensus strategy %q", node.ID, strategy))
	}

	var result *model.NodeResult
	if reached {
		result = model.NewSuccessResult(outputs)
	} else {
		result = model.NewFailureResult(fmt.Errorf("node %s: no consensus (%d/%d branches succeeded)", node.ID, successes, len(outcomes)))
		result.Output = outputs
	}
	result.SetMeta("consensus_strategy", string(strategy))
	result.SetMeta("success_share", share)
	return result
}

// judgeConsensus forwards every branch output to the judge agent and lets
// its verdict decide the outcome. The judge's response becomes the node
// output.
func (d *Driver) judgeConsensus(ctx context.Context, ec *ExecutionContext, node *model.Node, outcomes []branchOutcome, outputs []any) *model.NodeResult {
	if node.Consensus == nil || node.Consensus.JudgeAgent == "" {
		return model.NewFailureResult(fmt.Errorf("node %s: judge_decides requires a judge agent", node.ID))
	}
	judge, err := ec.Agents.Get(node.Consensus.JudgeAgent)
	if err != nil {
		return model.NewFailureResult(err)
	}

	var b strings.Builder
	b.WriteString("Evaluate the candidate responses below and decide whether they reach a satisfactory consensus.\n")
	b.WriteString("Start your answer with VERDICT: PASS or VERDICT: FAIL, then explain.\n\n")
	for i, outcome := range outcomes {
		fmt.Fprintf(&b, "Candidate %d (%s):\n", i+1, outcome.Branch.ID)
		if outcome.Err != nil {
			fmt.Fprintf(&b, "[failed: %s]\n\n", outcome.Err)
		} else {
			fmt.Fprintf(&b, "%s\n\n", outcome.Output)
		}
	}

	verdict, err := judge.Execute(ctx, b.String(), ec.State.Context)
	if err != nil {
		return model.NewFailureResult(fmt.Errorf("node %s: judge agent: %w", node.ID, err))
	}

	var result *model.NodeResult
	if strings.Contains(strings.ToUpper(verdict), "VERDICT: FAIL") {
		result = model.NewFailureResult(fmt.Errorf("node %s: judge rejected the branch results", node.ID))
		result.Output = verdict
	} else {
		result = model.NewSuccessResult(verdict)
	}
	result.SetMeta("consensus_strategy", string(model.ConsensusJudgeDecides))
	result.SetMeta("branch_outputs", outputs)
	return result
}
