// Package node provides the concrete Node implementations a Graph is built
// from: AgentNode and ToolNode wrap external model/tool calls, HumanNode
// suspends for HITL input, ConditionalNode tags a branch decision for the
// edge resolver to act on, and ParallelNode fans out to concurrent branches.
package node

import (
	"context"
	"fmt"
	"sort"

	"github.com/dshills/agentgraph-go/graph"
	"golang.org/x/sync/errgroup"
)

// MergePolicyKind selects how ParallelNode aggregates branch Context
// (metadata) on fan-in (spec.md §4.5).
type MergePolicyKind string

// Recognized MergePolicy kinds.
const (
	MergeNamespace  MergePolicyKind = "namespace"
	MergeLastWrite  MergePolicyKind = "last_write"
	MergeFirstWrite MergePolicyKind = "first_write"
	MergeCustom     MergePolicyKind = "custom"
)

// KeyStrategy is the fallback a Custom MergePolicy applies to a Context key
// that has no explicit Aggregator.
type KeyStrategy string

// Recognized per-key fallback strategies for MergeCustom.
const (
	StrategyFail       KeyStrategy = "fail"
	StrategyLastWrite  KeyStrategy = "last_write"
	StrategyFirstWrite KeyStrategy = "first_write"
	StrategyIgnore     KeyStrategy = "ignore"
)

// Aggregator combines the values observed for one Context key across
// branches, in branch declaration order.
type Aggregator func(key string, values []graph.Value) (graph.Value, error)

// MergePolicy configures ParallelNode's fan-in. Kind selects the strategy;
// Aggregators and Default apply only when Kind is MergeCustom.
type MergePolicy struct {
	Kind        MergePolicyKind
	Aggregators map[string]Aggregator
	Default     KeyStrategy
}

// executionContextKeys are excluded from Namespace's key-prefixing so a
// branch's tenant/user/correlation/agent identity survives fan-in unprefixed
// and identical across branches (spec.md §4.5).
var executionContextKeys = map[string]bool{
	"tenantId":      true,
	"userId":        true,
	"correlationId": true,
	"agentId":       true,
}

// Branch is one fan-out target of a ParallelNode, keyed by a stable,
// non-blank BranchID.
type Branch struct {
	ID   string
	Node graph.Node
}

// ParallelNode fans out to its Branches concurrently with the same input
// Message and merges their results per Policy (spec.md §4.5). Branches are
// iterated in declaration order, which is this implementation's documented
// stable order for LastWrite/FirstWrite.
type ParallelNode struct {
	IDValue  string
	Branches []Branch
	Policy   MergePolicy
	FailFast bool
}

// ID implements graph.Node.
func (p *ParallelNode) ID() string { return p.IDValue }

// Kind implements graph.Node.
func (p *ParallelNode) Kind() graph.NodeKind { return graph.KindParallel }

type branchResult struct {
	id  string
	out graph.Message
	err error
}

// Run implements graph.Node. Every branch receives the same input Message
// unmodified; branch runs have no mutual ordering, only the merge step
// synchronizes them (spec.md §5).
func (p *ParallelNode) Run(ctx context.Context, m graph.Message) (graph.Message, error) {
	if len(p.Branches) == 0 {
		return graph.Message{}, &graph.NodeError{
			NodeID:  p.IDValue,
			Code:    graph.CodeValidationError,
			Message: "parallel node requires at least one branch",
		}
	}
	for _, b := range p.Branches {
		if b.ID == "" {
			return graph.Message{}, &graph.NodeError{
				NodeID:  p.IDValue,
				Code:    graph.CodeValidationError,
				Message: "branch id must not be blank",
			}
		}
	}

	results := make([]branchResult, len(p.Branches))

	var eg *errgroup.Group
	runCtx := ctx
	if p.FailFast {
		eg, runCtx = errgroup.WithContext(ctx)
	} else {
		eg = &errgroup.Group{}
	}

	for i, b := range p.Branches {
		i, b := i, b
		eg.Go(func() error {
			out, err := b.Node.Run(runCtx, m)
			results[i] = branchResult{id: b.ID, out: out, err: err}
			if p.FailFast {
				return err
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return graph.Message{}, &graph.NodeError{
			NodeID:  p.IDValue,
			Code:    graph.CodeExecutionError,
			Message: "branch failed under fail-fast policy",
			Cause:   err,
		}
	}

	return p.merge(m, results)
}

func (p *ParallelNode) merge(in graph.Message, results []branchResult) (graph.Message, error) {
	successes := make([]branchResult, 0, len(results))
	failureCount := 0
	for _, r := range results {
		if r.err != nil {
			failureCount++
			continue
		}
		successes = append(successes, r)
	}

	data := make(graph.ValueMap, len(successes))
	for _, r := range successes {
		data[r.id] = graph.MapValue(r.out.Data)
	}

	mergedContext, err := p.mergeContext(successes)
	if err != nil {
		return graph.Message{}, &graph.NodeError{
			NodeID:  p.IDValue,
			Code:    graph.CodeExecutionError,
			Message: "merge policy rejected branch output",
			Cause:   err,
		}
	}

	for _, r := range successes {
		key := fmt.Sprintf("parallel.%s.%s", p.IDValue, r.id)
		mergedContext[key] = graph.MapValue(graph.ValueMap{
			"state": graph.StringValue(string(r.out.State)),
		})
	}

	mergedContext["parallelSuccessCount"] = graph.NumberValue(float64(len(successes)))
	mergedContext["parallelFailureCount"] = graph.NumberValue(float64(failureCount))
	branchIDs := make([]graph.Value, len(p.Branches))
	for i, b := range p.Branches {
		branchIDs[i] = graph.StringValue(b.ID)
	}
	mergedContext["parallelBranches"] = graph.ListValue(branchIDs)

	out := in.Clone()
	out.Data = data
	out.Context = in.Context.Merge(mergedContext)
	out.NodeID = p.IDValue
	out.State = graph.StateRunning
	return out, nil
}

func (p *ParallelNode) mergeContext(successes []branchResult) (graph.ValueMap, error) {
	switch p.Policy.Kind {
	case MergeNamespace:
		return p.mergeNamespace(successes), nil
	case MergeLastWrite:
		return p.mergeOverwrite(successes, true), nil
	case MergeFirstWrite:
		return p.mergeOverwrite(successes, false), nil
	case MergeCustom:
		return p.mergeCustom(successes)
	default:
		return p.mergeNamespace(successes), nil
	}
}

func (p *ParallelNode) mergeNamespace(successes []branchResult) graph.ValueMap {
	out := make(graph.ValueMap)
	for _, r := range successes {
		for k, v := range r.out.Context {
			if executionContextKeys[k] {
				if _, exists := out[k]; !exists {
					out[k] = v
				}
				continue
			}
			out[fmt.Sprintf("parallel.%s.%s.%s", p.IDValue, r.id, k)] = v
		}
	}
	return out
}

// mergeOverwrite applies LastWrite/FirstWrite in branch-id lexicographic
// order, the stable ordering this implementation picked for the source's
// unspecified branch iteration order (spec.md §9 open question (ii)).
func (p *ParallelNode) mergeOverwrite(successes []branchResult, laterWins bool) graph.ValueMap {
	ordered := append([]branchResult(nil), successes...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].id < ordered[j].id })

	out := make(graph.ValueMap)
	for _, r := range ordered {
		for k, v := range r.out.Context {
			if !laterWins {
				if _, exists := out[k]; exists {
					continue
				}
			}
			out[k] = v
		}
	}
	return out
}

func (p *ParallelNode) mergeCustom(successes []branchResult) (graph.ValueMap, error) {
	collected := make(map[string][]graph.Value)
	order := make([]string, 0)
	for _, r := range successes {
		for k, v := range r.out.Context {
			if _, ok := collected[k]; !ok {
				order = append(order, k)
			}
			collected[k] = append(collected[k], v)
		}
	}

	out := make(graph.ValueMap, len(order))
	for _, k := range order {
		values := collected[k]
		if agg, ok := p.Policy.Aggregators[k]; ok {
			v, err := agg(k, values)
			if err != nil {
				return nil, fmt.Errorf("aggregate key %q: %w", k, err)
			}
			out[k] = v
			continue
		}

		switch p.Policy.Default {
		case StrategyFail:
			if len(values) > 1 {
				return nil, fmt.Errorf("key %q set by multiple branches with no aggregator under fail strategy", k)
			}
			out[k] = values[0]
		case StrategyFirstWrite:
			out[k] = values[0]
		case StrategyIgnore:
			// key dropped
		case StrategyLastWrite:
			fallthrough
		default:
			out[k] = values[len(values)-1]
		}
	}
	return out, nil
}
