// Package memory is an in-process journal used when no spreadsheet is
// configured and in tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"envelopes/internal/core"
	ports "envelopes/internal/sheets"
)

type Journal struct {
	mu   sync.Mutex
	rows []core.Transaction
}

var _ ports.Journal = (*Journal)(nil)

func New() *Journal {
	return &Journal{}
}

// AppendTransaction stores the transaction and returns a synthetic row reference.
func (j *Journal) AppendTransaction(_ context.Context, t core.Transaction) (string, error) {
	if t.ID == 0 || t.Source == nil {
		return "", fmt.Errorf("journal row needs a committed transaction")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rows = append(j.rows, t)
	return fmt.Sprintf("mem:%d", len(j.rows)), nil
}

func (j *Journal) ListTransactionIDs(_ context.Context, year int) ([]int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var ids []int64
	for _, t := range j.rows {
		if t.Date.Year() == year {
			ids = append(ids, t.ID)
		}
	}
	return ids, nil
}

// Rows returns a copy of everything appended so far.
func (j *Journal) Rows() []core.Transaction {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]core.Transaction(nil), j.rows...)
}
