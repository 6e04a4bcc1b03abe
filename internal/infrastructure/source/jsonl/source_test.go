package jsonl

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

func TestNextSkipsBlankLinesAndReportsBadOnes(t *testing.T) {
	input := strings.Join([]string{
		`{"case_id":"a","text":"first"}`,
		``,
		`not json`,
		`[1,2]`,
		`{"case_id":"b","text":"second"}`,
	}, "\n")
	src := NewReader(strings.NewReader(input))
	ctx := context.Background()

	first, err := src.Next(ctx)
	if err != nil || first.Line != 1 || first.Data["case_id"] != "a" {
		t.Fatalf("unexpected first payload %+v err=%v", first, err)
	}

	_, err = src.Next(ctx)
	if !domain.IsKind(err, domain.ErrInvalidInput) || !strings.Contains(err.Error(), "line 3") {
		t.Fatalf("expected invalid line 3, got %v", err)
	}
	_, err = src.Next(ctx)
	if !domain.IsKind(err, domain.ErrInvalidInput) || !strings.Contains(err.Error(), "line 4") {
		t.Fatalf("expected invalid line 4, got %v", err)
	}

	second, err := src.Next(ctx)
	if err != nil || second.Line != 5 || second.Data["case_id"] != "b" {
		t.Fatalf("unexpected second payload %+v err=%v", second, err)
	}
	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestNextRejectsInvalidUTF8(t *testing.T) {
	src := NewReader(strings.NewReader("{\"text\":\"\xff\xfe\"}\n"))
	_, err := src.Next(context.Background())
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestNextStopsOnCancelledContext(t *testing.T) {
	src := NewReader(strings.NewReader(`{"case_id":"a"}`))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOpenReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cases.jsonl")
	if err := os.WriteFile(path, []byte("{\"case_id\":\"x\"}\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	src, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer src.Close()

	payload, err := src.Next(context.Background())
	if err != nil || payload.Data["case_id"] != "x" {
		t.Fatalf("unexpected payload %+v err=%v", payload, err)
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing.jsonl")); err == nil {
		t.Fatalf("expected missing file error")
	}
}
