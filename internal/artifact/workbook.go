package artifact

import (
	"fmt"

	"github.com/tealeg/xlsx/v3"
)

// ProbeWorkbook checks that path holds a readable xlsx workbook with at
// least one sheet. It is a warn-only diagnostic: callers log failures and
// keep going, since the automation tool is the final judge of the file.
func ProbeWorkbook(path string) error {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	if len(wb.Sheets) == 0 {
		return fmt.Errorf("workbook has no sheets")
	}
	return nil
}
