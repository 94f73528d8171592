package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"anova-service/internal/command"
	"anova-service/internal/protocol"
	"anova-service/internal/transport"
)

func TestOutcome(t *testing.T) {
	decodeErr := &command.DecodeError{Raw: "garbage"}

	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeOK},
		{context.Canceled, OutcomeCancelled},
		{&protocol.CommandError{Command: "get id card", Reason: "unsupported", Err: protocol.ErrUnsupported}, OutcomeUnsupported},
		{fmt.Errorf("wrapped: %w", decodeErr), OutcomeDecode},
		{&protocol.ConnectionError{Address: "AA", Err: transport.ErrLinkLost}, OutcomeConnection},
		{&protocol.CommandError{Command: "read temp", Reason: "timed out", Err: transport.ErrTimeout}, OutcomeTimeout},
		{&protocol.CommandError{Command: "read temp", Reason: "empty response", Err: transport.ErrEmptyResponse}, OutcomeEmpty},
		{errors.New("boom"), OutcomeError},
	}

	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Fatalf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestCollectorObserves(t *testing.T) {
	c := NewCollector("anova")

	c.ObserveExchange("AA", command.KindGetStatus, 20*time.Millisecond, nil)
	c.ObserveExchange("AA", command.KindGetStatus, time.Second, transport.ErrTimeout)
	c.ObserveRetry("AA", command.KindGetStatus)
	c.SetDevices(2)

	if got := testutil.ToFloat64(c.exchanges.WithLabelValues(string(command.KindGetStatus), OutcomeOK)); got != 1 {
		t.Fatalf("ok exchanges = %v", got)
	}
	if got := testutil.ToFloat64(c.exchanges.WithLabelValues(string(command.KindGetStatus), OutcomeTimeout)); got != 1 {
		t.Fatalf("timeout exchanges = %v", got)
	}
	if got := testutil.ToFloat64(c.retries.WithLabelValues(string(command.KindGetStatus))); got != 1 {
		t.Fatalf("retries = %v", got)
	}
	if got := testutil.ToFloat64(c.devices); got != 2 {
		t.Fatalf("devices = %v", got)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := NewCollector("anova")

	router := gin.New()
	router.Use(c.Middleware())
	router.GET("/devices/:id", func(ctx *gin.Context) { ctx.Status(http.StatusNotFound) })
	router.GET("/metrics", gin.WrapH(c.Handler()))

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/devices/AA", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `anova_http_requests_total{method="GET",route="/devices/:id",status="404"} 1`) {
		t.Fatalf("request counter missing from exposition:\n%s", body)
	}
}
