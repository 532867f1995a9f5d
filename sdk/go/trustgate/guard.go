package trustgate

import "context"

// ToolFunc is the function signature that Guard protects. The caller
// provides the Action describing the intended operation.
type ToolFunc func(ctx context.Context, action Action) (any, error)

// Guard returns a ToolFunc that checks the gate before calling fn.
// A deny returns a *BlockedError without calling fn. A gate that cannot
// be reached also blocks: an unauditable action never executes.
func (c *Client) Guard(tenantID string, fn ToolFunc) ToolFunc {
	return func(ctx context.Context, action Action) (any, error) {
		decision, err := c.Check(ctx, tenantID, action)
		if err != nil {
			return nil, &BlockedError{
				Action:     action,
				Verdict:    Deny,
				ReasonCode: ReasonGateUnreachable,
			}
		}
		if !decision.Allowed() {
			return nil, &BlockedError{
				Action:     action,
				Verdict:    decision.Verdict,
				ReasonCode: decision.ReasonCode,
			}
		}

		// Pass any monetary cap to the tool so it can clamp its spend.
		if capAmount, ok := decision.MaxAmount(); ok {
			if action.Params == nil {
				action.Params = map[string]any{}
			}
			action.Params["max_amount"] = capAmount
		}
		return fn(ctx, action)
	}
}
