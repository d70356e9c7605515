package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/txwatch/internal/core/domain"
)

func TestErrorRepo_FIFOEviction(t *testing.T) {
	ctx := context.Background()
	repo := NewErrorRepo(NewMemoryStorage(3))

	for i := 0; i < 5; i++ {
		if err := repo.Append(ctx, &domain.ErrorReport{ID: fmt.Sprintf("e%d", i), Network: "ethereum"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, _ := repo.List(ctx, domain.ErrorFilter{})
	if len(got) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(got))
	}
	for i, want := range []string{"e2", "e3", "e4"} {
		if got[i].ID != want {
			t.Errorf("report[%d] = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestErrorRepo_Filter(t *testing.T) {
	ctx := context.Background()
	repo := NewErrorRepo(NewMemoryStorage(0))

	_ = repo.Append(ctx, &domain.ErrorReport{ID: "a", Network: "ethereum", Severity: domain.SeverityCritical})
	_ = repo.Append(ctx, &domain.ErrorReport{ID: "b", Network: "polkadot", Severity: domain.SeverityCritical})
	_ = repo.Append(ctx, &domain.ErrorReport{ID: "c", Network: "ethereum", Severity: domain.SeverityMedium})

	got, _ := repo.List(ctx, domain.ErrorFilter{Network: "ethereum", Severity: domain.SeverityCritical})
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("unexpected filter result: %+v", got)
	}

	got, _ = repo.List(ctx, domain.ErrorFilter{Limit: 2})
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Errorf("limit should keep the most recent reports, got %+v", got)
	}
}

func TestErrorRepo_ContextIsolatesCaller(t *testing.T) {
	ctx := context.Background()
	repo := NewErrorRepo(NewMemoryStorage(0))

	report := &domain.ErrorReport{ID: "a", Network: "ethereum", Context: map[string]string{"endpoint": "node-a"}}
	_ = repo.Append(ctx, report)
	report.Context["endpoint"] = "changed"

	got, _ := repo.List(ctx, domain.ErrorFilter{})
	got[0].Context["endpoint"] = "listed"
	got[0].Context["extra"] = "x"

	got, _ = repo.List(ctx, domain.ErrorFilter{})
	if got[0].Context["endpoint"] != "node-a" || len(got[0].Context) != 1 {
		t.Errorf("stored context = %v, want only endpoint=node-a", got[0].Context)
	}
}

func TestHistoryRepo_AppendIsolatesCaller(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepo(NewMemoryStorage(0))

	tx := &domain.MonitoredTransaction{ID: "1", Network: "ethereum", Status: domain.TxStatusConfirmed}
	_ = repo.Append(ctx, tx)
	tx.Status = domain.TxStatusFailed

	got, _ := repo.List(ctx, domain.HistoryFilter{})
	if got[0].Status != domain.TxStatusConfirmed {
		t.Error("stored record changed when the caller mutated its copy")
	}
}

func TestHistoryRepo_WindowAndRetention(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepo(NewMemoryStorage(0))
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		_ = repo.Append(ctx, &domain.MonitoredTransaction{
			ID:          fmt.Sprint(i),
			Network:     "ethereum",
			SubmittedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	_ = repo.Append(ctx, &domain.MonitoredTransaction{ID: "p", Network: "polkadot", SubmittedAt: base})

	got, _ := repo.List(ctx, domain.HistoryFilter{
		Network: "ethereum",
		From:    base.Add(time.Hour),
		To:      base.Add(3 * time.Hour),
	})
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "2" {
		t.Errorf("window [1h,3h) should hold records 1 and 2, got %d records", len(got))
	}

	removed, err := repo.DeleteOlderThan(ctx, "ethereum", base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	all, _ := repo.List(ctx, domain.HistoryFilter{})
	if len(all) != 3 {
		t.Errorf("expected 3 records left (2 ethereum + 1 polkadot), got %d", len(all))
	}
}

func TestHistoryRepo_ConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepo(NewMemoryStorage(0))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = repo.Append(ctx, &domain.MonitoredTransaction{ID: fmt.Sprint(i), Network: "ethereum"})
		}(i)
	}
	wg.Wait()

	got, _ := repo.List(ctx, domain.HistoryFilter{})
	if len(got) != 100 {
		t.Errorf("expected 100 records, got %d", len(got))
	}
}
