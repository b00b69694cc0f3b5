package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestObserveOperation_IncrementsCounter(t *testing.T) {
	m := New()

	m.ObserveOperation("CONSULTAR_SALDO", "EXITO", time.Now())

	got := testutil.ToFloat64(m.OperationsTotal.WithLabelValues("CONSULTAR_SALDO", "EXITO"))
	if got != 1 {
		t.Errorf("worker_operations_total = %v, want 1", got)
	}
}

func TestServe_DisabledWhenAddrEmpty(t *testing.T) {
	m := New()
	if err := m.Serve(context.Background(), "", zerolog.Nop()); err != nil {
		t.Errorf("Serve() with empty addr error = %v, want nil", err)
	}
}
