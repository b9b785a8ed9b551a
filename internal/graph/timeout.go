package graph

import (
	"context"
	"time"

	"github.com/kestrelhq/qaflow/internal/apperrors"
	"github.com/kestrelhq/qaflow/internal/domain"
)

// runNodeWithTimeout wraps node execution with timeout enforcement: it
// resolves the effective timeout via policy/default precedence, then checks
// whether the context deadline was exceeded after Run returns.
func runNodeWithTimeout(ctx context.Context, node Node, id NodeID, state domain.AgentState, policy *NodePolicy, defaultTimeout time.Duration) (NodeResult, error) {
	timeout := getNodeTimeout(policy, defaultTimeout)
	if timeout == 0 {
		return node.Run(ctx, state), nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := node.Run(timeoutCtx, state)

	if timeoutCtx.Err() == context.DeadlineExceeded {
		return result, &apperrors.NodeError{
			NodeID:    string(id),
			Stage:     string(id),
			Message:   "node exceeded configured timeout",
			Retryable: true,
		}
	}
	return result, nil
}
