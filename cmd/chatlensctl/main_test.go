package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/onnwee/chatlens/analytics"
	"github.com/onnwee/chatlens/config"
	"github.com/onnwee/chatlens/models"
	"github.com/onnwee/chatlens/retention"
	"github.com/onnwee/chatlens/store"
)

func sampleRecord() models.StreamRecord {
	var chat []models.Message
	for i, body := range []string{
		"this is a long copypasta line",
		"this is a long copypasta line",
		"this is a long copypasta line!",
		"this is a long copypasta line!",
		"short",
		"short",
	} {
		chat = append(chat, models.Message{ID: fmt.Sprintf("m%d", i), Content: models.MessageContent{Body: body}})
	}
	return models.StreamRecord{VideoID: "42", Chat: chat}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("DATA_DIR", t.TempDir())
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func TestLoadRecordFromStore(t *testing.T) {
	cfg := testConfig(t)
	st := store.New(cfg.DataDir, store.JSON{})
	if _, _, err := st.PutIfAbsent(store.Streams, "42", sampleRecord()); err != nil {
		t.Fatal(err)
	}

	rec, err := loadRecord(cfg, "", "42")
	if err != nil {
		t.Fatalf("loadRecord: %v", err)
	}
	if rec.VideoID != "42" || len(rec.Chat) != 6 {
		t.Errorf("record = %+v", rec)
	}

	if _, err := loadRecord(cfg, "", "missing"); err == nil {
		t.Error("expected error for missing broadcast")
	}
}

func TestLoadRecordFromFile(t *testing.T) {
	cfg := testConfig(t)
	raw, err := json.Marshal(sampleRecord())
	if err != nil {
		t.Fatal(err)
	}

	plain := filepath.Join(t.TempDir(), "42.json")
	if err := os.WriteFile(plain, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	compressedData, err := store.Zstd{}.Encode(raw)
	if err != nil {
		t.Fatal(err)
	}
	compressed := filepath.Join(t.TempDir(), "42.json.zst")
	if err := os.WriteFile(compressed, compressedData, 0o644); err != nil {
		t.Fatal(err)
	}

	for _, file := range []string{plain, compressed} {
		rec, err := loadRecord(cfg, file, "")
		if err != nil {
			t.Fatalf("loadRecord(%s): %v", file, err)
		}
		if len(rec.Chat) != 6 {
			t.Errorf("%s: chat len = %d", file, len(rec.Chat))
		}
	}
}

func TestLoadRecordFlagValidation(t *testing.T) {
	cfg := testConfig(t)
	if _, err := loadRecord(cfg, "", ""); err == nil {
		t.Error("expected error without --file or --id")
	}
	if _, err := loadRecord(cfg, "a.json", "42"); err == nil {
		t.Error("expected error with both --file and --id")
	}
}

func TestRunPastas(t *testing.T) {
	rec := sampleRecord()
	var buf bytes.Buffer
	if err := runPastas(&rec, analytics.DefaultPastaOptions(), 5, &buf); err != nil {
		t.Fatalf("runPastas: %v", err)
	}
	var groups []analytics.PastaGroup
	if err := json.Unmarshal(buf.Bytes(), &groups); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("groups = %+v, want one group", groups)
	}
	if groups[0].TotalCount != 4 || len(groups[0].Variants) != 1 {
		t.Errorf("group = %+v", groups[0])
	}
}

func TestRunSweep(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()
	cfg.Retention.Roots = []string{root}
	cfg.Retention.MaxAgeDays = 1

	old := filepath.Join(root, "old.json")
	if err := os.WriteFile(old, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := runSweep(t.Context(), cfg, &buf); err != nil {
		t.Fatalf("runSweep: %v", err)
	}
	var rep retention.Report
	if err := json.Unmarshal(buf.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", rep.Deleted)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("old entry still present: %v", err)
	}
}
