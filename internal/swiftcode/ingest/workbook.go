// Package ingest reads SWIFT code rows out of an .xlsx workbook.
package ingest

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ErrUnreadableWorkbook is returned for anything that is not a readable
// workbook with at least one sheet.
var ErrUnreadableWorkbook = errors.New("unreadable workbook")

// ReadWorkbook returns the data rows of the first sheet. The header row is
// dropped; cells are returned as displayed in the sheet.
func ReadWorkbook(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableWorkbook, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrUnreadableWorkbook)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: read rows of %q: %v", ErrUnreadableWorkbook, sheet, err)
	}
	if len(rows) <= 1 {
		return [][]string{}, nil
	}
	return rows[1:], nil
}
