package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func seedAccounts(t *testing.T, s *Store, partitionID string) {
	t.Helper()
	rows := []AccountRow{
		{AccountID: 100001, ClientID: 1, Balance: 5000, AccountKind: "AHORRO"},
		{AccountID: 100002, ClientID: 2, Balance: 3000, AccountKind: "AHORRO"},
		{AccountID: 100003, ClientID: 3, Balance: 1500, AccountKind: "CORRIENTE"},
	}
	if err := s.WriteAccountSeed(partitionID, rows); err != nil {
		t.Fatalf("WriteAccountSeed() error = %v", err)
	}
}

func TestReadBalance(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s, "CUENTA_P1")

	tests := []struct {
		name      string
		accountID int64
		want      float64
		wantErr   error
	}{
		{"known account", 100001, 5000, nil},
		{"another known account", 100003, 1500, nil},
		{"unknown account", 999999, 0, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ReadBalance("CUENTA_P1", tt.accountID)
			if tt.wantErr != nil {
				if err != tt.wantErr {
					t.Fatalf("ReadBalance() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadBalance() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ReadBalance() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUpdateOne(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s, "CUENTA_P1")

	if err := s.UpdateOne("CUENTA_P1", 100001, 4500.50); err != nil {
		t.Fatalf("UpdateOne() error = %v", err)
	}

	got, err := s.ReadBalance("CUENTA_P1", 100001)
	if err != nil {
		t.Fatalf("ReadBalance() error = %v", err)
	}
	if got != 4500.50 {
		t.Errorf("balance after UpdateOne = %v, want 4500.50", got)
	}

	// Untouched rows must keep their balance.
	other, err := s.ReadBalance("CUENTA_P1", 100002)
	if err != nil || other != 3000 {
		t.Errorf("unrelated row mutated: balance = %v, err = %v", other, err)
	}
}

func TestUpdateOne_NotFoundLeavesFileUnchanged(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s, "CUENTA_P1")

	path := filepath.Join(s.dataDir, "CUENTA_P1.txt")
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read partition file: %v", err)
	}

	if err := s.UpdateOne("CUENTA_P1", 999999, 1.23); err != ErrNotFound {
		t.Fatalf("UpdateOne() error = %v, want ErrNotFound", err)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read partition file after failed update: %v", err)
	}
	if string(before) != string(after) {
		t.Errorf("partition file changed after a NotFound update")
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind after a NotFound update")
	}
}

func TestUpdateTwo(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s, "CUENTA_P1")

	if err := s.UpdateTwo("CUENTA_P1", 100001, 4500, 100002, 3500); err != nil {
		t.Fatalf("UpdateTwo() error = %v", err)
	}

	src, _ := s.ReadBalance("CUENTA_P1", 100001)
	dst, _ := s.ReadBalance("CUENTA_P1", 100002)
	if src != 4500 || dst != 3500 {
		t.Errorf("UpdateTwo balances = (%v, %v), want (4500, 3500)", src, dst)
	}
}

func TestUpdateTwo_MissingDestLeavesFileUnchanged(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s, "CUENTA_P1")

	path := filepath.Join(s.dataDir, "CUENTA_P1.txt")
	before, _ := os.ReadFile(path)

	if err := s.UpdateTwo("CUENTA_P1", 100001, 4500, 777777, 1); err != ErrDestNotFound {
		t.Fatalf("UpdateTwo() error = %v, want ErrDestNotFound", err)
	}

	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Errorf("partition file changed despite a missing destination account")
	}
}

func TestSumBalances(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s, "CUENTA_P1")

	total, err := s.SumBalances("CUENTA_P1")
	if err != nil {
		t.Fatalf("SumBalances() error = %v", err)
	}
	if total != 9500 {
		t.Errorf("SumBalances() = %v, want 9500", total)
	}
}

func TestParseBalance_CommaAndPeriod(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1500.00", 1500},
		{"1500,00", 1500},
		{"0.00", 0},
	}
	for _, tt := range tests {
		got, err := parseBalance(tt.in)
		if err != nil {
			t.Fatalf("parseBalance(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("parseBalance(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReadBalance_CommaSeparatedInput(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(s.dataDir, "CUENTA_P2.txt")
	content := strings.Join([]string{
		accountHeader,
		"100001|1|1500,00|AHORRO",
	}, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}

	got, err := s.ReadBalance("CUENTA_P2", 100001)
	if err != nil {
		t.Fatalf("ReadBalance() error = %v", err)
	}
	if got != 1500 {
		t.Errorf("ReadBalance() = %v, want 1500", got)
	}
}

func TestWriteBackNormalizesToPeriod(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(s.dataDir, "CUENTA_P3.txt")
	content := accountHeader + "\n100001|1|1500,00|AHORRO\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}

	if err := s.UpdateOne("CUENTA_P3", 100001, 1600); err != nil {
		t.Fatalf("UpdateOne() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read partition file: %v", err)
	}
	if strings.Contains(string(raw), ",") {
		t.Errorf("partition file still contains a comma decimal separator: %q", raw)
	}
	if !strings.Contains(string(raw), "1600.00") {
		t.Errorf("partition file missing rewritten balance: %q", raw)
	}
}

// UpdateOne assumes the caller already holds the partition's writer lock;
// Lock is what actually serializes concurrent writers.
func TestLock_SerializesConcurrentWriters(t *testing.T) {
	s := newTestStore(t)
	seedAccounts(t, s, "CUENTA_P1")

	writeOne := func(accountID int64, newBalance float64) error {
		unlock := s.Lock("CUENTA_P1")
		defer unlock()
		return s.UpdateOne("CUENTA_P1", accountID, newBalance)
	}

	done := make(chan error, 2)
	go func() { done <- writeOne(100001, 1) }()
	go func() { done <- writeOne(100002, 2) }()

	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Errorf("concurrent UpdateOne() error = %v", err)
		}
	}

	src, _ := s.ReadBalance("CUENTA_P1", 100001)
	dst, _ := s.ReadBalance("CUENTA_P1", 100002)
	if src != 1 || dst != 2 {
		t.Errorf("concurrent updates did not both land: src=%v dst=%v", src, dst)
	}
}
