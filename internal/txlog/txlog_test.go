package txlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestAppend_WritesExpectedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transacciones_locales.log")
	l, err := New(path, "w1", zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	l.Append("tx-123", 100001, 100002, 500.5, WithWorker(TagExitoIntraParticion, "w1"))

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := strings.TrimSpace(string(raw))

	if !strings.HasPrefix(line, "TxGlobal:tx-123|100001|100002|500.50|") {
		t.Errorf("log line has unexpected prefix: %q", line)
	}
	if !strings.HasSuffix(line, "|EXITO_INTRA_PARTICION_w1") {
		t.Errorf("log line has unexpected suffix: %q", line)
	}
}

func TestAppend_Serializes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transacciones_locales.log")
	l, err := New(path, "w1", zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	const n = 50
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			l.Append("tx", int64(i), -1, 1.0, TagPrepararDebitoOk)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != n {
		t.Fatalf("expected %d log lines, got %d", n, len(lines))
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "TxGlobal:") {
			t.Errorf("interleaved/corrupted log line: %q", line)
		}
	}
}

func TestWithWorker(t *testing.T) {
	if got := WithWorker(TagRechazadaSaldoInsuf, "w9"); got != "RECHAZADA_SALDO_INSUF_w9" {
		t.Errorf("WithWorker() = %q, want %q", got, "RECHAZADA_SALDO_INSUF_w9")
	}
}
