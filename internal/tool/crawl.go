package tool

import (
	"context"
	"fmt"

	"github.com/kestrelhq/qaflow/internal/domain"
)

// httpDoer is satisfied by HTTPTool and by test doubles.
type httpDoer interface {
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// TargetedCrawl fetches a single URL named by the routing decision's
// Target and returns its body as one Evidence entry. It wraps the generic
// HTTPTool rather than reimplementing HTTP handling — the only genuinely
// new behavior here is normalizing the raw envelope into Evidence.
type TargetedCrawl struct {
	http httpDoer
}

func NewTargetedCrawl(http httpDoer) *TargetedCrawl {
	return &TargetedCrawl{http: http}
}

func (c *TargetedCrawl) Name() domain.ToolKind { return domain.ToolTargetedCrawl }

func (c *TargetedCrawl) Call(ctx context.Context, query, target string) ([]domain.Evidence, error) {
	if target == "" {
		return nil, fmt.Errorf("targeted_crawl: target URL required")
	}

	out, err := c.http.Call(ctx, map[string]interface{}{
		"method": "GET",
		"url":    target,
	})
	if err != nil {
		return nil, fmt.Errorf("targeted_crawl: %w", err)
	}

	body, _ := out["body"].(string)
	status, _ := out["status_code"].(int)
	if status >= 400 {
		return nil, fmt.Errorf("targeted_crawl: %s returned status %d", target, status)
	}

	return []domain.Evidence{
		{Text: body, Source: target},
	}, nil
}
