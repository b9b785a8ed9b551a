package tool

import (
	"context"
	"testing"
)

type stubHTTPDoer struct {
	out map[string]interface{}
	err error
}

func (s *stubHTTPDoer) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return s.out, s.err
}

func TestTargetedCrawlRequiresTarget(t *testing.T) {
	c := NewTargetedCrawl(&stubHTTPDoer{})

	_, err := c.Call(context.Background(), "q", "")
	if err == nil {
		t.Fatal("expected an error when target is empty")
	}
}

func TestTargetedCrawlReturnsBodyAsEvidence(t *testing.T) {
	c := NewTargetedCrawl(&stubHTTPDoer{out: map[string]interface{}{
		"status_code": 200,
		"body":        "page contents",
	}})

	evidence, err := c.Call(context.Background(), "q", "https://example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(evidence) != 1 || evidence[0].Text != "page contents" || evidence[0].Source != "https://example.com" {
		t.Errorf("unexpected evidence: %+v", evidence)
	}
}

func TestTargetedCrawlSurfacesHTTPErrorStatus(t *testing.T) {
	c := NewTargetedCrawl(&stubHTTPDoer{out: map[string]interface{}{
		"status_code": 404,
		"body":        "not found",
	}})

	_, err := c.Call(context.Background(), "q", "https://example.com/missing")
	if err == nil {
		t.Fatal("expected an error for a 404 status")
	}
}
