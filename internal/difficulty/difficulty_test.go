package difficulty

import (
	"context"
	"testing"
)

func TestNoOpReturnsZeroEstimate(t *testing.T) {
	est, err := NoOp{}.Classify(context.Background(), "rewrite the billing pipeline")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if est != (Estimate{}) {
		t.Fatalf("expected zero estimate, got %+v", est)
	}
}
