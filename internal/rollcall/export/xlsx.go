// Package export converts the CSV ledger into other formats.
package export

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// Sheet is the name of the worksheet WriteXLSX produces.
const Sheet = "Attendance"

var bom = []byte{0xEF, 0xBB, 0xBF}

// WriteXLSX reads a ledger (BOM, header row, quoted rows) from src and
// writes it to dst as a single-sheet workbook.  Timestamps become numeric
// cells; everything else stays text.
func WriteXLSX(dst io.Writer, src io.Reader) error {
	br := bufio.NewReader(src)
	if head, err := br.Peek(len(bom)); err == nil && bytes.Equal(head, bom) {
		_, _ = br.Discard(len(bom))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", Sheet); err != nil {
		return fmt.Errorf("WriteXLSX: %w", err)
	}
	sw, err := f.NewStreamWriter(Sheet)
	if err != nil {
		return fmt.Errorf("WriteXLSX: %w", err)
	}

	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("WriteXLSX: read row %d: %w", row, err)
		}

		cells := make([]any, len(rec))
		for i, v := range rec {
			cells[i] = v
		}
		if row > 1 && len(rec) > 0 {
			if ts, err := strconv.ParseUint(rec[0], 10, 64); err == nil {
				cells[0] = ts
			}
		}

		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return fmt.Errorf("WriteXLSX: %w", err)
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return fmt.Errorf("WriteXLSX: write row %d: %w", row, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("WriteXLSX: %w", err)
	}
	if _, err := f.WriteTo(dst); err != nil {
		return fmt.Errorf("WriteXLSX: %w", err)
	}
	return nil
}
