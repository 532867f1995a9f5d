// Package trustgate is the Go client for a trustgate server. It gates
// agent actions behind per-tenant trust levels and reports verified
// outcomes that earn (or lose) autonomy over time.
//
// Usage:
//
//	tg := trustgate.New(trustgate.WithBaseURL("http://gate:8370"), trustgate.WithAgentID("support-bot"))
//	refund := tg.Guard("acme", issueRefund)
//	result, err := refund(ctx, trustgate.Action{
//	    Type:   "issue_refund",
//	    Params: map[string]any{"amount": 25.0, "issue_type": "damaged"},
//	})
//
// Guarded functions fail closed: if the gate denies the action or cannot
// be reached, the tool is never called and a *BlockedError is returned.
// After the action completes, report its verified outcome:
//
//	tg.ReportOutcome(ctx, "acme", actionID, map[string]float64{"accuracy": 1.0})
package trustgate
