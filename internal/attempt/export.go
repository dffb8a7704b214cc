package attempt

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const exportLimit = 10000

// ExportExcel renders the attempts matching f as an xlsx workbook.
func (s *Service) ExportExcel(ctx context.Context, f ListFilter) ([]byte, error) {
	f.Skip = 0
	f.Limit = exportLimit
	items, err := s.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return attemptsWorkbook(items)
}

func attemptsWorkbook(items []Attempt) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)
	headers := []string{"intento_id", "usuario_id", "tipo", "evaluacion_id", "inscripcion_id", "numero_intento", "puntaje", "resultado", "iniciado_en", "finalizado_en"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, it := range items {
		kind, target := "QUIZ", ""
		if it.QuizID != nil {
			target = it.QuizID.String()
		}
		if it.ExamID != nil {
			kind, target = "EXAMEN_FINAL", it.ExamID.String()
		}
		var score any = ""
		if it.Score != nil {
			score = *it.Score
		}
		result, finished := "", ""
		if it.Result != nil {
			result = *it.Result
		}
		if it.FinishedAt != nil {
			finished = it.FinishedAt.Format("2006-01-02 15:04:05")
		}
		values := []any{
			it.ID.String(),
			it.UserID.String(),
			kind,
			target,
			it.EnrollmentID.String(),
			it.Number,
			score,
			result,
			it.StartedAt.Format("2006-01-02 15:04:05"),
			finished,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "J", 24)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}
