package user

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

func (s *Service) ExportExcel(ctx context.Context, f ListFilter) ([]byte, error) {
	f.Skip = 0
	f.Limit = 10000
	items, err := s.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return usersWorkbook(items)
}

func usersWorkbook(items []User) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)
	headers := []string{"id", "email", "nombre", "apellido", "roles", "creado_en"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, it := range items {
		values := []any{
			it.ID.String(),
			it.Email,
			it.FirstName,
			it.LastName,
			strings.Join(it.Roles, ", "),
			it.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "F", 24)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}
