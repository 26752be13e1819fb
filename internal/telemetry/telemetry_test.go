package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

func TestCounterVecsAcceptLabels(t *testing.T) {
	before := testutil.ToFloat64(SpamAlerts.WithLabelValues("burst", "sent"))
	SpamAlerts.WithLabelValues("burst", "sent").Inc()
	if got := testutil.ToFloat64(SpamAlerts.WithLabelValues("burst", "sent")); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}
}

func TestObserveSince(t *testing.T) {
	start := time.Now().Add(-time.Second)
	if d := ObserveSince(SweepDuration, start); d < time.Second {
		t.Fatalf("expected at least 1s, got %s", d)
	}
	if d := ObserveSince(nil, start); d < time.Second {
		t.Fatalf("nil observer still returns the duration, got %s", d)
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing("stakan-guard", "test", "", true, zap.NewNop())
	if err != nil {
		t.Fatalf("init tracing: %v", err)
	}
	shutdown()

	_, span := StartSpan(context.Background(), "test", "g1")
	End(span, errors.New("boom"))
}
