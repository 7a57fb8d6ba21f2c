package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/strand-ai/strand/pkg/model"
)

// branchFuture is one fork branch's eventual result. The runner writes
// result exactly once, then closes done.
type branchFuture struct {
	nodeID string
	done   chan struct{}
	result *model.NodeResult
}

func (f *branchFuture) complete(result *model.NodeResult) {
	f.result = result
	close(f.done)
}

// ForkJoinContext holds the in-flight branches of one Fork node until a
// Join consumes them. The Fork executor creates it and transfers it into
// the execution context; the Join executor removes it.
type ForkJoinContext struct {
	ForkNodeID string
	Targets    []string
	StartTime  time.Time

	futures   map[string]*branchFuture
	completed chan *branchFuture
	cancel    context.CancelFunc
}

// executeFork spawns one branch task per target. Each branch runs a
// single-node sub-run on a derived state snapshot; the fork returns
// immediately without blocking.
func (d *Driver) executeFork(ctx context.Context, ec *ExecutionContext, node *model.Node) *model.NodeResult {
	if len(node.Targets) == 0 {
		return model.NewFailureResult(fmt.Errorf("node %s has no fork targets", node.ID))
	}

	branchCtx, cancel := context.WithCancel(ctx)
	fj := &ForkJoinContext{
		ForkNodeID: node.ID,
		Targets:    node.Targets,
		StartTime:  time.Now(),
		futures:    make(map[string]*branchFuture, len(node.Targets)),
		completed:  make(chan *branchFuture, len(node.Targets)),
		cancel:     cancel,
	}

	for _, targetID := range node.Targets {
		target, ok := ec.Workflow.Nodes[targetID]
		if !ok {
			cancel()
			return model.NewFailureResult(fmt.Errorf("node %s: fork target %q does not exist", node.ID, targetID))
		}
		future := &branchFuture{nodeID: targetID, done: make(chan struct{})}
		fj.futures[targetID] = future

		go func(target *model.Node, future *branchFuture) {
			defer func() {
				if r := recover(); r != nil {
					future.complete(model.NewFailureResult(fmt.Errorf("branch %s panicked: %v", future.nodeID, r)))
				}
				fj.completed <- future
			}()
			branchEC := ec.branch(ec.Workflow, ec.State.Snapshot())
			future.complete(d.dispatch(branchCtx, branchEC, target))
		}(target, future)
	}

	ec.storeFork(fj)

	result := model.NewSuccessResult(nil)
	result.SetMeta("fork_id", node.ID)
	return result
}

// executeJoin awaits the fork contexts named in awaitTargets and merges
// their branch results with the configured strategy. The merged value is
// stored under the node's output field.
func (d *Driver) executeJoin(ctx context.Context, ec *ExecutionContext, node *model.Node) *model.NodeResult {
	if len(node.AwaitTargets) == 0 {
		return model.NewFailureResult(fmt.Errorf("node %s has no await targets", node.ID))
	}

	contexts := make([]*ForkJoinContext, 0, len(node.AwaitTargets))
	for _, forkID := range node.AwaitTargets {
		fj, ok := ec.takeFork(forkID)
		if !ok {
			return model.NewFailureResult(fmt.Errorf("node %s: no fork context for %q", node.ID, forkID))
		}
		contexts = append(contexts, fj)
	}
	defer func() {
		for _, fj := range contexts {
			fj.cancel()
		}
	}()

	waitCtx := ctx
	if node.TimeoutMs > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(node.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	strategy := node.MergeStrategy
	if strategy == "" {
		strategy = model.MergeCollectAll
	}

	var merged any
	var err error
	switch strategy {
	case model.MergeCollectAll, model.MergeMajority:
		merged, err = collectAll(waitCtx, node, contexts, strategy == model.MergeMajority)
	case model.MergeFirstSuccess:
		merged, err = firstSuccess(waitCtx, node, contexts)
	default:
		return model.NewFailureResult(fmt.Errorf("node %s: unknown merge strategy %q", node.ID, strategy))
	}
	if err != nil {
		return model.NewFailureResult(err)
	}

	if node.OutputField != "" {
		ec.State.Set(node.OutputField, merged)
	}
	return model.NewSuccessResult(merged)
}

// collectAll waits for every branch and returns outputs ordered by the
// fork's declared target list, not by completion order. Failed branches
// become error-tagged entries unless failOnAnyError is set, in which case
// the whole join fails.
func collectAll(ctx context.Context, node *model.Node, contexts []*ForkJoinContext, majority bool) (any, error) {
	outputs := make([]any, 0)
	counts := make(map[string]int)
	for _, fj := range contexts {
		for _, targetID := range fj.Targets {
			future := fj.futures[targetID]
			select {
			case <-future.done:
			case <-ctx.Done():
				return nil, fmt.Errorf("node %s: join timed out waiting for branch %s", node.ID, targetID)
			}
			result := future.result
			if result.Status != model.StatusSuccess {
				if node.FailOnAnyError {
					return nil, fmt.Errorf("node %s: branch %s failed: %v", node.ID, targetID, result.Err)
				}
				outputs = append(outputs, map[string]any{"branch": targetID, "error": errorText(result)})
				continue
			}
			outputs = append(outputs, result.Output)
			if s, ok := result.Output.(string); ok {
				counts[s]++
			}
		}
	}

	if majority {
		if winner, ok := majorityWinner(counts, len(outputs)); ok {
			return map[string]any{"outputs": outputs, "majority": winner}, nil
		}
	}
	return outputs, nil
}

// firstSuccess returns the first branch output that succeeds, by
// completion order. A timeout before any success fails the join.
func firstSuccess(ctx context.Context, node *model.Node, contexts []*ForkJoinContext) (any, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	total := 0
	agg := make(chan *branchFuture)
	for _, fj := range contexts {
		total += len(fj.Targets)
		go func(fj *ForkJoinContext) {
			for range fj.Targets {
				select {
				case future := <-fj.completed:
					select {
					case agg <- future:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}(fj)
	}

	for failures := 0; failures < total; {
		select {
		case future := <-agg:
			if future.result.Status == model.StatusSuccess {
				return future.result.Output, nil
			}
			failures++
		case <-ctx.Done():
			return nil, fmt.Errorf("node %s: join timed out before any branch succeeded", node.ID)
		}
	}
	return nil, fmt.Errorf("node %s: no branch succeeded", node.ID)
}

func majorityWinner(counts map[string]int, total int) (string, bool) {
	for value, count := range counts {
		if count*2 > total {
			return value, true
		}
	}
	return "", false
}

func errorText(result *model.NodeResult) string {
	if result.Err != nil {
		return result.Err.Error()
	}
	if s, ok := result.Output.(string); ok {
		return s
	}
	return string(result.Status)
}
