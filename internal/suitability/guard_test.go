package suitability

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/meridianfin/advisor-agent/pkg/models"
)

type fakeValidator struct {
	validateErr error
	resolved    string
}

func (f *fakeValidator) Validate(baseName string, args json.RawMessage) error {
	return f.validateErr
}

func (f *fakeValidator) Resolve(baseName string) (string, bool) {
	if f.resolved == "" {
		return "", false
	}
	return f.resolved, true
}

type fakeInvoker struct {
	payload json.RawMessage
	err     error
	gotCall models.ToolCall
}

func (f *fakeInvoker) Invoke(ctx context.Context, call models.ToolCall) (json.RawMessage, error) {
	f.gotCall = call
	return f.payload, f.err
}

func TestCheckAllow(t *testing.T) {
	invoker := &fakeInvoker{payload: json.RawMessage(`{"decision": "allow"}`)}
	g := New(&fakeValidator{resolved: "fin___suitability_guard"}, invoker)

	decision, result := g.Check(context.Background(), "trace-1", models.RouteDecision{Intent: models.IntentSummary}, "tóm tắt chi tiêu")
	if decision != models.SuitabilityAllow {
		t.Fatalf("decision = %s, want allow", decision)
	}
	if result.Status != models.ToolStatusOK {
		t.Errorf("result status = %s", result.Status)
	}
	if invoker.gotCall.ResolvedName != "fin___suitability_guard" {
		t.Errorf("resolved name = %q", invoker.gotCall.ResolvedName)
	}
	if invoker.gotCall.CallID == "" || invoker.gotCall.TraceID != "trace-1" {
		t.Errorf("call ids not propagated: %+v", invoker.gotCall)
	}
}

func TestCheckEducationOnlyForInvestIntent(t *testing.T) {
	invoker := &fakeInvoker{payload: json.RawMessage(`{"decision": "education_only", "reason": "investment advice"}`)}
	g := New(&fakeValidator{}, invoker)

	decision, _ := g.Check(context.Background(), "trace-1", models.RouteDecision{Intent: models.IntentInvest}, "tôi có nên mua cổ phiếu X không?")
	if decision != models.SuitabilityEducationOnly {
		t.Fatalf("decision = %s, want education_only", decision)
	}

	var in Input
	if err := json.Unmarshal(invoker.gotCall.Arguments, &in); err != nil {
		t.Fatal(err)
	}
	if in.RequestedAction != "investment_recommendation" {
		t.Errorf("requested_action = %q", in.RequestedAction)
	}
}

func TestCheckDegradesToDenyOnTransportError(t *testing.T) {
	g := New(&fakeValidator{}, &fakeInvoker{err: errors.New("gateway unreachable")})
	decision, result := g.Check(context.Background(), "trace-1", models.RouteDecision{Intent: models.IntentSummary}, "hello")
	if decision != models.SuitabilityDenyExecution {
		t.Fatalf("decision = %s, want deny_execution when the guard is unreachable", decision)
	}
	if result.Status == models.ToolStatusOK {
		t.Error("failed guard call must not report ok")
	}
}

func TestCheckDegradesToDenyOnUnknownDecision(t *testing.T) {
	g := New(&fakeValidator{}, &fakeInvoker{payload: json.RawMessage(`{"decision": "maybe"}`)})
	decision, _ := g.Check(context.Background(), "trace-1", models.RouteDecision{Intent: models.IntentRisk}, "kiểm tra giao dịch lạ")
	if decision != models.SuitabilityDenyExecution {
		t.Fatalf("decision = %s, want deny_execution for unrecognized verdict", decision)
	}
}

func TestCheckDegradesToDenyOnValidationError(t *testing.T) {
	g := New(&fakeValidator{validateErr: errors.New("missing required field")}, &fakeInvoker{})
	decision, _ := g.Check(context.Background(), "trace-1", models.RouteDecision{Intent: models.IntentSummary}, "hi")
	if decision != models.SuitabilityDenyExecution {
		t.Fatalf("decision = %s, want deny_execution", decision)
	}
}
