package limits

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LevelRequest is the input of a multi-level check.
type LevelRequest struct {
	// Request identifies the client and the account-level tier.
	Request

	// EndpointTier is the tier of the per-endpoint bucket. Empty skips the
	// endpoint level. Requires Endpoint.
	EndpointTier string `json:"endpoint_tier,omitempty"`

	// GlobalTier is the tier of the bucket shared by all clients. Empty
	// skips the global level.
	GlobalTier string `json:"global_tier,omitempty"`

	// SkipAccount skips the account level.
	SkipAccount bool `json:"skip_account,omitempty"`
}

type levelCheck struct {
	level    Level
	tierName string
}

// CheckLevels runs up to three independent bucket checks in a fixed order:
// endpoint, account, global. It stops at the first rejection and returns it,
// so the most specific limit is reported. If every level admits, the result
// with the fewest remaining tokens is returned.
//
// Levels are not atomic together: tokens debited at an earlier level stay
// debited when a later level rejects.
func (c *Coordinator) CheckLevels(ctx context.Context, req LevelRequest) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.EndpointTier != "" && req.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required for an endpoint-level check", ErrInvalidRequest)
	}

	var checks []levelCheck
	if req.EndpointTier != "" {
		checks = append(checks, levelCheck{LevelEndpoint, req.EndpointTier})
	}
	if !req.SkipAccount {
		checks = append(checks, levelCheck{LevelAccount, req.Tier})
	}
	if req.GlobalTier != "" {
		checks = append(checks, levelCheck{LevelGlobal, req.GlobalTier})
	}
	if len(checks) == 0 {
		return nil, fmt.Errorf("%w: no levels selected", ErrInvalidRequest)
	}

	ctx, span := c.tracer.Start(ctx, "limits.CheckLevels", trace.WithAttributes(
		attribute.String("gatekeeper.client_id", req.ClientID),
		attribute.String("gatekeeper.endpoint", req.Endpoint),
		attribute.Int("gatekeeper.levels", len(checks)),
	))
	defer span.End()

	var tightest *Result
	for _, lc := range checks {
		cfg := c.resolveTier(ctx, lc.tierName)

		res, err := c.checkLevel(ctx, req.Request, cfg, lc.level)
		if err != nil {
			endSpan(span, nil, err)
			return nil, err
		}
		if !res.Allowed {
			endSpan(span, res, nil)
			return res, nil
		}
		if tightest == nil || res.Remaining < tightest.Remaining {
			tightest = res
		}
	}

	endSpan(span, tightest, nil)
	return tightest, nil
}
