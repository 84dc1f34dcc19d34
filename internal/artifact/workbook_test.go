package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tealeg/xlsx/v3"
)

func TestProbeWorkbook_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.xlsx")
	wb := xlsx.NewFile()
	sheet, err := wb.AddSheet("Devis")
	if err != nil {
		t.Fatalf("add sheet: %v", err)
	}
	row := sheet.AddRow()
	row.AddCell().SetString("total")
	if err := wb.Save(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}

	if err := ProbeWorkbook(path); err != nil {
		t.Fatalf("ProbeWorkbook on valid file: %v", err)
	}
}

func TestProbeWorkbook_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.xlsx")
	if err := os.WriteFile(path, []byte("this is not a zip archive"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ProbeWorkbook(path); err == nil {
		t.Fatalf("expected error for non-xlsx content")
	}
}

func TestProbeWorkbook_MissingFile(t *testing.T) {
	if err := ProbeWorkbook(filepath.Join(t.TempDir(), "absent.xlsx")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
