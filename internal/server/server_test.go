package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/meridianfin/advisor-agent/internal/ratelimit"
	"github.com/meridianfin/advisor-agent/pkg/models"
)

type stubAdvisor struct {
	envelope models.ResponseEnvelope
	gotTrace string
	gotReq   models.Request
}

func (s *stubAdvisor) Handle(ctx context.Context, traceID string, req models.Request) (models.ResponseEnvelope, error) {
	s.gotTrace = traceID
	s.gotReq = req
	env := s.envelope
	env.TraceID = traceID
	return env, nil
}

func TestInvokeStreamsSSE(t *testing.T) {
	advisor := &stubAdvisor{
		envelope: models.ResponseEnvelope{
			Body:       "Summary\n- spending is stable",
			Disclaimer: "Educational information only.",
			ResponseMeta: models.ResponseMeta{
				Mode: models.ResponseModeLLMEnforce,
			},
			ToolsInvoked: []string{"spend_analytics", "cashflow_forecast"},
		},
	}
	srv := New(Config{}, advisor, nil, nil, nil)

	body := `{"prompt":"Tóm tắt chi tiêu tháng này","user_id":"u1","locale":"vi-VN"}`
	req := httptest.NewRequest(http.MethodPost, "/invoke", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if advisor.gotReq.Locale != "vi-VN" {
		t.Errorf("locale = %q, want vi-VN", advisor.gotReq.Locale)
	}
	if advisor.gotTrace == "" {
		t.Error("expected a generated trace id")
	}

	out := rec.Body.String()
	for _, want := range []string{
		"data: Summary\n",
		"data: - spending is stable\n",
		"data: Trace: " + advisor.gotTrace + "\n",
		"data: Disclaimer: Educational information only.\n",
		"data: Tools: spend_analytics,cashflow_forecast\n",
		"data: ResponseMode: llm_enforce\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("stream missing %q in:\n%s", want, out)
		}
	}
	if !strings.HasSuffix(out, "\n\n") {
		t.Error("event must terminate with a blank line")
	}
}

func TestInvokeRejectsMissingFields(t *testing.T) {
	srv := New(Config{}, &stubAdvisor{}, nil, nil, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty body", `{}`, http.StatusBadRequest},
		{"missing user", `{"prompt":"hi"}`, http.StatusBadRequest},
		{"missing prompt", `{"user_id":"u1"}`, http.StatusBadRequest},
		{"not json", `nope`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/invoke", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestInvokeMethodNotAllowed(t *testing.T) {
	srv := New(Config{}, &stubAdvisor{}, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/invoke", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestInvokeRateLimited(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 1, BurstSize: 1})
	srv := New(Config{}, &stubAdvisor{}, limiter, nil, nil)

	body := `{"prompt":"hello","user_id":"u-limited"}`
	first := httptest.NewRequest(http.MethodPost, "/invoke", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/invoke", strings.NewReader(body))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, second)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv := New(Config{}, &stubAdvisor{}, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected healthz body %q", rec.Body.String())
	}
}

func TestWriteEnvelopeFraming(t *testing.T) {
	var buf bytes.Buffer
	err := WriteEnvelope(&buf, models.ResponseEnvelope{
		Body:       "line one\nline two",
		TraceID:    "trace-1",
		Disclaimer: "first\nsecond",
		Citations:  []models.Citation{{ID: "doc-1"}, {ID: "doc-2"}},
		ResponseMeta: models.ResponseMeta{
			Mode:        models.ResponseModeTemplate,
			Fallback:    "facts_only_compact",
			ReasonCodes: []string{"tool_plane_unavailable"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := buf.String()
	want := "data: line one\n" +
		"data: line two\n" +
		"data: Trace: trace-1\n" +
		"data: Citations: doc-1,doc-2\n" +
		"data: Disclaimer: first second\n" +
		"data: ResponseMode: template\n" +
		"data: ResponseFallback: facts_only_compact\n" +
		"data: ResponseReasonCodes: tool_plane_unavailable\n" +
		"\n"
	if got != want {
		t.Errorf("framing mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}
