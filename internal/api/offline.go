package api

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/jasonewillis/specialists/internal/registry"
)

// OfflineWorker produces deterministic placeholder answers without calling
// any model. It is used for dry runs and demos.
type OfflineWorker struct{}

// Invoke implements registry.Handle.
func (OfflineWorker) Invoke(ctx context.Context, req registry.InvokeRequest) (registry.InvokeResult, error) {
	if err := ctx.Err(); err != nil {
		return registry.InvokeResult{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[offline] %s would review this %s request as %s.\n", req.WorkerID, req.TaskType, Role(req.WorkerID))
	fmt.Fprintf(&b, "Request: %s\n", firstLine(req.Query))
	if len(req.HumanInput) > 0 {
		fmt.Fprintf(&b, "Human input received for: %s\n", strings.Join(slices.Sorted(maps.Keys(req.HumanInput)), ", "))
	}
	if req.PreviousResult != "" {
		fmt.Fprintf(&b, "Builds on the previous answer (%d chars).\n", len(req.PreviousResult))
	}
	return registry.InvokeResult{
		Success:  true,
		Output:   b.String(),
		Metadata: map[string]string{"provider": "offline"},
	}, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
