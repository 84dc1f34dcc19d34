package bundle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dropagent/internal/common"
	"dropagent/internal/exchange"
	"dropagent/internal/trigger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeUploader struct {
	err   error
	calls []uploadCall
}

type uploadCall struct {
	resultPath     string
	companionPath  string
	companionField string
}

func (f *fakeUploader) UploadBundle(ctx context.Context, resultPath, companionPath, companionField string) error {
	f.calls = append(f.calls, uploadCall{resultPath, companionPath, companionField})
	return f.err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func fastOptions() Options {
	return Options{
		SettleDelay:   time.Millisecond,
		CompanionWait: 20 * time.Millisecond,
		CompanionPoll: 2 * time.Millisecond,
	}
}

func TestProcess_UploadsAndDeletesResult(t *testing.T) {
	dir := t.TempDir()
	resultPath := filepath.Join(dir, "Q1.xml")
	writeFile(t, resultPath, "<resultat/>")
	target := filepath.Join(dir, "Q1.xlsx")
	writeFile(t, target, "workbook")

	up := &fakeUploader{}
	b := New(testLogger(), up, fastOptions())
	job := trigger.Job{Filename: "Q1.rak", Action: trigger.ActionGenerate, TargetPath: target}
	rf := exchange.ResultFile{Name: "Q1.xml", Path: resultPath, ModifiedAt: time.Now()}

	if err := b.Process(context.Background(), job, rf); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(up.calls) != 1 {
		t.Fatalf("upload calls = %d", len(up.calls))
	}
	call := up.calls[0]
	if call.resultPath != resultPath || call.companionPath != target || call.companionField != common.BundleFieldWorkbook {
		t.Fatalf("upload call = %+v", call)
	}
	if _, err := os.Stat(resultPath); !os.IsNotExist(err) {
		t.Fatalf("result file should be deleted after successful upload")
	}
}

func TestProcess_UploadFailurePreservesResult(t *testing.T) {
	dir := t.TempDir()
	resultPath := filepath.Join(dir, "Q1.xml")
	writeFile(t, resultPath, "<resultat/>")

	up := &fakeUploader{err: errors.New("backend down")}
	b := New(testLogger(), up, fastOptions())
	job := trigger.Job{Filename: "Q1.rak", Action: trigger.ActionGenerate}
	rf := exchange.ResultFile{Name: "Q1.xml", Path: resultPath}

	if err := b.Process(context.Background(), job, rf); err == nil {
		t.Fatalf("expected upload error to surface")
	}
	if _, err := os.Stat(resultPath); err != nil {
		t.Fatalf("result file must stay on disk after a failed upload: %v", err)
	}
}

func TestProcess_PdfCompanionBesideTarget(t *testing.T) {
	dir := t.TempDir()
	resultPath := filepath.Join(dir, "Q2.xml")
	writeFile(t, resultPath, "<resultat/>")
	target := filepath.Join(dir, "projets", "Q2.xlsx")
	writeFile(t, target, "workbook")
	writeFile(t, filepath.Join(dir, "projets", "Q2.pdf"), "document")

	up := &fakeUploader{}
	b := New(testLogger(), up, fastOptions())
	job := trigger.Job{Filename: "Q2.rak", Action: trigger.ActionGeneratePdf, TargetPath: target}
	rf := exchange.ResultFile{Name: "Q2.xml", Path: resultPath}

	if err := b.Process(context.Background(), job, rf); err != nil {
		t.Fatalf("Process: %v", err)
	}
	call := up.calls[0]
	if call.companionPath != filepath.Join(dir, "projets", "Q2.pdf") || call.companionField != common.BundleFieldDocument {
		t.Fatalf("upload call = %+v", call)
	}
}

func TestProcess_PdfCompanionInAuxDirAfterDelay(t *testing.T) {
	dir := t.TempDir()
	resultPath := filepath.Join(dir, "Q3.xml")
	writeFile(t, resultPath, "<resultat/>")
	target := filepath.Join(dir, "projets", "Q3.xlsx")
	writeFile(t, target, "workbook")
	auxDir := filepath.Join(dir, "pdf")
	pdfPath := filepath.Join(auxDir, "Q3.pdf")

	// The document shows up only after the primary result, mid-wait.
	go func() {
		time.Sleep(8 * time.Millisecond)
		_ = os.MkdirAll(auxDir, 0o750)
		_ = os.WriteFile(pdfPath, []byte("document"), 0o644)
	}()

	up := &fakeUploader{}
	opts := fastOptions()
	opts.CompanionWait = 500 * time.Millisecond
	b := New(testLogger(), up, opts)
	job := trigger.Job{Filename: "Q3.rak", Action: trigger.ActionGeneratePdf, TargetPath: target, AuxDir: auxDir}
	rf := exchange.ResultFile{Name: "Q3.xml", Path: resultPath}

	if err := b.Process(context.Background(), job, rf); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if up.calls[0].companionPath != pdfPath {
		t.Fatalf("companion = %q, want %q", up.calls[0].companionPath, pdfPath)
	}
}

func TestProcess_PdfUploadsWithoutCompanionOnExpiry(t *testing.T) {
	dir := t.TempDir()
	resultPath := filepath.Join(dir, "Q4.xml")
	writeFile(t, resultPath, "<resultat/>")
	target := filepath.Join(dir, "projets", "Q4.xlsx")
	writeFile(t, target, "workbook")

	up := &fakeUploader{}
	b := New(testLogger(), up, fastOptions())
	job := trigger.Job{Filename: "Q4.rak", Action: trigger.ActionGeneratePdf, TargetPath: target}
	rf := exchange.ResultFile{Name: "Q4.xml", Path: resultPath}

	if err := b.Process(context.Background(), job, rf); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if up.calls[0].companionPath != "" {
		t.Fatalf("expected upload without companion, got %q", up.calls[0].companionPath)
	}
}

func TestProcess_OversizedResultIsRejected(t *testing.T) {
	dir := t.TempDir()
	resultPath := filepath.Join(dir, "Q5.xml")
	writeFile(t, resultPath, "0123456789")

	up := &fakeUploader{}
	opts := fastOptions()
	opts.MaxResultSize = 5
	b := New(testLogger(), up, opts)
	rf := exchange.ResultFile{Name: "Q5.xml", Path: resultPath}

	if err := b.Process(context.Background(), trigger.Job{Filename: "Q5.rak"}, rf); err == nil {
		t.Fatalf("expected size-cap error")
	}
	if len(up.calls) != 0 {
		t.Fatalf("oversized result must not be uploaded")
	}
	if _, err := os.Stat(resultPath); err != nil {
		t.Fatalf("oversized result should stay on disk: %v", err)
	}
}
