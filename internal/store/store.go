// Package store implements the partition store (C1): durable, pipe-delimited
// flat-file storage for account and client partitions, with atomic
// temp-file-then-rename updates and per-partition writer serialization.
package store

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Sentinel errors returned by the read/update paths. Callers (the operation
// engine) translate these into the response status taxonomy.
var (
	ErrNotFound       = errors.New("store: account not found")
	ErrSourceNotFound = errors.New("store: source account not found")
	ErrDestNotFound   = errors.New("store: destination account not found")
)

const (
	accountHeader = "ID_CUENTA|ID_CLIENTE|SALDO|TIPO_CUENTA"
	clientHeader  = "ID_CLIENTE|NOMBRE|EMAIL|TELEFONO"
)

// AccountRow is one row of seed data for an account partition.
type AccountRow struct {
	AccountID   int64
	ClientID    int64
	Balance     float64
	AccountKind string
}

// ClientRow is one row of seed data for a client partition.
type ClientRow struct {
	ClientID int64
	Name     string
	Email    string
	Phone    string
}

// Store owns the per-worker data directory and the set of per-partition
// writer mutexes that enforce per-partition mutual exclusion of writers.
type Store struct {
	dataDir string
	log     zerolog.Logger

	mu    sync.Mutex // guards the locks map itself, not partition content
	locks map[string]*sync.Mutex
}

// New creates a Store rooted at dataDir, creating the directory if absent.
func New(dataDir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{
		dataDir: dataDir,
		log:     log,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) partitionMutex(partitionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[partitionID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[partitionID] = m
	}
	return m
}

func (s *Store) path(partitionID string) string {
	return filepath.Join(s.dataDir, partitionID+".txt")
}

// Lock acquires the partition's writer mutex and returns the function that
// releases it. Every caller that reads a balance and then
// conditionally writes it back MUST hold this lock across the whole
// read-compute-write sequence, not just around the final write — otherwise
// two concurrent writers can interleave and lose an update. UpdateOne and
// UpdateTwo assume the lock is already held; they do not acquire it
// themselves.
func (s *Store) Lock(partitionID string) func() {
	m := s.partitionMutex(partitionID)
	m.Lock()
	return m.Unlock
}

// WriteAccountSeed materializes seed rows into a fresh account partition
// file. Called once, at registration, before the task server starts.
func (s *Store) WriteAccountSeed(partitionID string, rows []AccountRow) error {
	lock := s.partitionMutex(partitionID)
	lock.Lock()
	defer lock.Unlock()

	var b strings.Builder
	b.WriteString(accountHeader)
	b.WriteByte('\n')
	for _, r := range rows {
		fmt.Fprintf(&b, "%d|%d|%s|%s\n", r.AccountID, r.ClientID, formatBalance(r.Balance), r.AccountKind)
	}
	return os.WriteFile(s.path(partitionID), []byte(b.String()), 0o644)
}

// WriteClientSeed materializes seed rows into a fresh client partition file.
func (s *Store) WriteClientSeed(partitionID string, rows []ClientRow) error {
	lock := s.partitionMutex(partitionID)
	lock.Lock()
	defer lock.Unlock()

	var b strings.Builder
	b.WriteString(clientHeader)
	b.WriteByte('\n')
	for _, r := range rows {
		fmt.Fprintf(&b, "%d|%s|%s|%s\n", r.ClientID, r.Name, r.Email, r.Phone)
	}
	return os.WriteFile(s.path(partitionID), []byte(b.String()), 0o644)
}

// ReadBalance streams the partition file looking for accountID, returning
// ErrNotFound if no row matches. Malformed lines are skipped with a warning,
// matching the Python source's tolerant parsing.
func (s *Store) ReadBalance(partitionID string, accountID int64) (float64, error) {
	f, err := os.Open(s.path(partitionID))
	if err != nil {
		return 0, fmt.Errorf("open partition %s: %w", partitionID, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		parts := strings.Split(scanner.Text(), "|")
		if len(parts) < 3 {
			s.log.Warn().Str("partition", partitionID).Str("line", scanner.Text()).Msg("skipping malformed line")
			continue
		}
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			s.log.Warn().Str("partition", partitionID).Str("line", scanner.Text()).Msg("skipping malformed line")
			continue
		}
		if id != accountID {
			continue
		}
		bal, err := parseBalance(parts[2])
		if err != nil {
			s.log.Warn().Str("partition", partitionID).Str("line", scanner.Text()).Msg("skipping malformed balance")
			continue
		}
		return bal, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read partition %s: %w", partitionID, err)
	}
	return 0, ErrNotFound
}

// SumBalances streams the partition file, summing column 2 (balance).
func (s *Store) SumBalances(partitionID string) (float64, error) {
	f, err := os.Open(s.path(partitionID))
	if err != nil {
		return 0, fmt.Errorf("open partition %s: %w", partitionID, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	first := true
	var total float64
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		parts := strings.Split(scanner.Text(), "|")
		if len(parts) < 3 {
			continue
		}
		bal, err := parseBalance(parts[2])
		if err != nil {
			s.log.Warn().Str("partition", partitionID).Str("line", scanner.Text()).Msg("skipping malformed balance in arqueo")
			continue
		}
		total += bal
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read partition %s: %w", partitionID, err)
	}
	return total, nil
}

// UpdateOne atomically rewrites a single account's balance. Returns
// ErrNotFound if the account is absent; the original file is left untouched
// in that case. The caller must hold the partition's writer lock (see Lock).
func (s *Store) UpdateOne(partitionID string, accountID int64, newBalance float64) error {
	path := s.path(partitionID)
	lines, err := readLines(path)
	if err != nil {
		return fmt.Errorf("read partition %s: %w", partitionID, err)
	}

	found := false
	for i, line := range lines {
		if i == 0 {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 4 {
			continue
		}
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			continue
		}
		if id == accountID {
			lines[i] = fmt.Sprintf("%d|%s|%s|%s", id, parts[1], formatBalance(newBalance), parts[3])
			found = true
			break
		}
	}

	if !found {
		return ErrNotFound
	}

	return atomicReplace(path, lines)
}

// UpdateTwo atomically rewrites two accounts' balances in one pass. If
// either account is missing after the full scan, the original file is
// left untouched. The caller must hold the partition's writer lock (see Lock).
func (s *Store) UpdateTwo(partitionID string, srcID int64, newSrcBalance float64, dstID int64, newDstBalance float64) error {
	path := s.path(partitionID)
	lines, err := readLines(path)
	if err != nil {
		return fmt.Errorf("read partition %s: %w", partitionID, err)
	}

	srcFound, dstFound := false, false
	for i, line := range lines {
		if i == 0 {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 4 {
			continue
		}
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			continue
		}
		switch id {
		case srcID:
			lines[i] = fmt.Sprintf("%d|%s|%s|%s", id, parts[1], formatBalance(newSrcBalance), parts[3])
			srcFound = true
		case dstID:
			lines[i] = fmt.Sprintf("%d|%s|%s|%s", id, parts[1], formatBalance(newDstBalance), parts[3])
			dstFound = true
		}
	}

	if !srcFound {
		return ErrSourceNotFound
	}
	if !dstFound {
		return ErrDestNotFound
	}

	return atomicReplace(path, lines)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// atomicReplace writes lines to a sibling .tmp file and renames it over
// path. The temp file is removed on any
// write failure so a half-written temp never leaks.
func atomicReplace(path string, lines []string) error {
	tmpPath := path + ".tmp"

	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	if err := os.WriteFile(tmpPath, []byte(b.String()), 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write temp partition file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp partition file: %w", err)
	}

	return nil
}

func formatBalance(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// parseBalance accepts both period and comma decimal separators, per
// a tolerance requirement for mixed-locale input.
func parseBalance(s string) (float64, error) {
	return strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
}
