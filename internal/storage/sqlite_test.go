package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gateway-fm/tvt/pkg/types"
)

func TestIsValidIdentifier(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{name: "simple", in: "runs", want: true},
		{name: "underscore and digits", in: "fee_records_2", want: true},
		{name: "empty", in: "", want: false},
		{name: "quote", in: "runs'; DROP TABLE runs; --", want: false},
		{name: "space", in: "run s", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidIdentifier(tt.in); got != tt.want {
				t.Errorf("isValidIdentifier(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNullUint64(t *testing.T) {
	if got := nullUint64(nil); got.Valid {
		t.Errorf("nullUint64(nil).Valid = true")
	}
	v := uint64(42)
	got := nullUint64(&v)
	if !got.Valid || got.Int64 != 42 {
		t.Errorf("nullUint64(&42) = %+v", got)
	}
	back := uint64Ptr(got)
	if back == nil || *back != 42 {
		t.Errorf("uint64Ptr() = %v", back)
	}
}

// createTestStorage creates a new SQLite storage with a temporary database.
func createTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	storage, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

func newRun(id string, started time.Time) *types.RunResult {
	return &types.RunResult{
		ID:        id,
		Network:   types.NetworkTestnet,
		Status:    types.StatusRunning,
		StartedAt: started,
		Items:     6,
		Config: types.StartRunRequest{
			Quantity:    2,
			Actions:     []types.ActionKind{types.ActionTransferHbar, types.ActionMintNFT, types.ActionEthTransaction},
			Concurrency: 3,
		},
	}
}

func TestNewSQLiteStorage_InvalidPath(t *testing.T) {
	// A regular file as a parent directory fails for every user, root included.
	parent := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(parent, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := NewSQLiteStorage(filepath.Join(parent, "data", "test.db"))
	if err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestNewSQLiteStorage_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	first, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	first.Close()

	// Migrations must be idempotent.
	second, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	second.Close()
}

func TestCreateAndCompleteRun(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()
	started := time.Now().Add(-time.Minute).Truncate(time.Second)

	run := newRun("run-1", started)
	if err := storage.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	got, err := storage.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected run, got nil")
	}
	if got.Status != types.StatusRunning || got.Network != types.NetworkTestnet {
		t.Errorf("got %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.Config.Quantity != 2 || len(got.Config.Actions) != 3 || got.Config.Actions[2] != types.ActionEthTransaction {
		t.Errorf("Config = %+v", got.Config)
	}

	run.Status = types.StatusCompleted
	run.CompletedAt = started.Add(30 * time.Second)
	run.DurationMs = 30_000
	run.Records = 7
	run.RetryRounds = 1
	run.Resynced = true
	run.ReportDir = "reports/01022025-101500"
	run.PriceUSD = 0.0712
	if err := storage.CompleteRun(ctx, run); err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}
	if err := storage.InsertFailures(ctx, "run-1", []Failure{{Kind: types.ActionMintNFT, Seq: 3}}); err != nil {
		t.Fatalf("InsertFailures failed: %v", err)
	}

	got, err = storage.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != types.StatusCompleted || got.Records != 7 || got.RetryRounds != 1 || !got.Resynced {
		t.Errorf("completed run = %+v", got)
	}
	if got.ReportDir != run.ReportDir || got.PriceUSD != run.PriceUSD || got.Error != "" {
		t.Errorf("completed run = %+v", got)
	}
	if len(got.Unrecovered) != 1 || got.Unrecovered[0] != types.ActionMintNFT {
		t.Errorf("Unrecovered = %v", got.Unrecovered)
	}
}

func TestCompleteRun_NotFound(t *testing.T) {
	storage := createTestStorage(t)
	err := storage.CompleteRun(context.Background(), newRun("missing", time.Now()))
	if err == nil {
		t.Error("expected error for unknown run")
	}
}

func TestGetRun_NotFound(t *testing.T) {
	storage := createTestStorage(t)

	got, err := storage.GetRun(context.Background(), "nonexistent-id")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for nonexistent run, got %+v", got)
	}
}

func TestListRuns(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"a", "b", "c"} {
		if err := storage.CreateRun(ctx, newRun(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("CreateRun(%s) failed: %v", id, err)
		}
	}

	page, err := storage.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if page.Total != 3 || len(page.Runs) != 2 {
		t.Fatalf("page = total %d, %d runs", page.Total, len(page.Runs))
	}
	if page.Runs[0].ID != "c" || page.Runs[1].ID != "b" {
		t.Errorf("order = %s, %s, want c, b", page.Runs[0].ID, page.Runs[1].ID)
	}

	page, err = storage.ListRuns(ctx, 2, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(page.Runs) != 1 || page.Runs[0].ID != "a" {
		t.Errorf("second page = %+v", page.Runs)
	}

	empty := createTestStorage(t)
	page, err = empty.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if page.Runs == nil || len(page.Runs) != 0 {
		t.Errorf("empty Runs = %#v, want empty slice", page.Runs)
	}
}

func TestFeeRecords(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()
	if err := storage.CreateRun(ctx, newRun("run-f", time.Now())); err != nil {
		t.Fatal(err)
	}

	gasUsed, gasPrice := uint64(21_000), uint64(71)
	records := []types.FeeRecord{
		{Type: types.ResultCryptoTransfer, TransactionID: "0.0.2@1700000000.1", FeeTinybars: 83_000, RecordedAt: time.Now()},
		{Type: types.ResultEthereumTransaction, TransactionID: "0xabc", FeeTinybars: 1_491_000, GasUsed: &gasUsed, GasPrice: &gasPrice, RecordedAt: time.Now()},
	}
	if err := storage.BulkInsertFeeRecords(ctx, "run-f", records); err != nil {
		t.Fatalf("BulkInsertFeeRecords failed: %v", err)
	}
	if err := storage.BulkInsertFeeRecords(ctx, "run-f", nil); err != nil {
		t.Fatalf("BulkInsertFeeRecords(nil) failed: %v", err)
	}

	got, err := storage.GetFeeRecords(ctx, "run-f")
	if err != nil {
		t.Fatalf("GetFeeRecords failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].GasUsed != nil || got[0].FeeTinybars != 83_000 || got[0].Type != types.ResultCryptoTransfer {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].GasUsed == nil || *got[1].GasUsed != 21_000 || got[1].GasPrice == nil || *got[1].GasPrice != 71 {
		t.Errorf("got[1] gas = %v, %v", got[1].GasUsed, got[1].GasPrice)
	}

	// Deleting a run cascades to its records.
	if err := storage.DeleteRun(ctx, "run-f"); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	got, err = storage.GetFeeRecords(ctx, "run-f")
	if err != nil || len(got) != 0 {
		t.Errorf("after delete: %v, %v", got, err)
	}
}

func TestFailures(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()
	if err := storage.CreateRun(ctx, newRun("run-x", time.Now())); err != nil {
		t.Fatal(err)
	}

	want := []Failure{{Kind: types.ActionCreateAccount, Seq: 4}, {Kind: types.ActionFileAppend, Seq: 9}}
	if err := storage.InsertFailures(ctx, "run-x", want); err != nil {
		t.Fatalf("InsertFailures failed: %v", err)
	}
	got, err := storage.GetFailures(ctx, "run-x")
	if err != nil {
		t.Fatalf("GetFailures failed: %v", err)
	}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("GetFailures() = %+v, want %+v", got, want)
	}
}

func TestResources(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()

	got, err := storage.LoadResources(ctx, types.NetworkTestnet)
	if err != nil || got != nil {
		t.Fatalf("LoadResources() on empty cache = %v, %v", got, err)
	}

	res := types.Resources{TopicID: "0.0.10", NFTTokenID: "0.0.11", FTTokenID: "0.0.12", FileID: "0.0.13"}
	if err := storage.SaveResources(ctx, types.NetworkTestnet, res); err != nil {
		t.Fatalf("SaveResources failed: %v", err)
	}
	res.ContractID = "0.0.14"
	if err := storage.SaveResources(ctx, types.NetworkTestnet, res); err != nil {
		t.Fatalf("SaveResources (update) failed: %v", err)
	}

	got, err = storage.LoadResources(ctx, types.NetworkTestnet)
	if err != nil {
		t.Fatalf("LoadResources failed: %v", err)
	}
	if got == nil || *got != res {
		t.Errorf("LoadResources() = %+v, want %+v", got, res)
	}

	other, err := storage.LoadResources(ctx, types.NetworkMainnet)
	if err != nil || other != nil {
		t.Errorf("LoadResources(mainnet) = %v, %v", other, err)
	}
}
