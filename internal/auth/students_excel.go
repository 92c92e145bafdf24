package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

type StudentImportRowError struct {
	Row      int    `json:"row"`
	FullName string `json:"full_name,omitempty"`
	Error    string `json:"error"`
}

// StudentImportReport summarizes a bulk import. Credentials carry the
// generated passwords for the rows that succeeded; this response is the only
// place they ever appear.
type StudentImportReport struct {
	TotalRows   int                     `json:"total_rows"`
	SuccessRows int                     `json:"success_rows"`
	FailedRows  int                     `json:"failed_rows"`
	Errors      []StudentImportRowError `json:"errors"`
	Credentials []StudentCredentials    `json:"credentials"`
}

func (s *Service) ExportStudentsExcel(ctx context.Context) ([]byte, error) {
	items, err := s.ListStudents(ctx)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	headers := []string{"username", "full_name", "email", "created_at"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, it := range items {
		row := i + 2
		email := ""
		if it.Email != nil {
			email = *it.Email
		}
		values := []any{
			it.Username,
			it.FullName,
			email,
			it.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "D", 22)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportStudentsExcel registers one student per data row. Expected columns:
// full_name (required) and email.
func (s *Service) ImportStudentsExcel(ctx context.Context, r io.Reader) (*StudentImportReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open excel: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel sheet is empty")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, errors.New("no data rows found")
	}

	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := header["full_name"]; !ok {
		return nil, errors.New("missing required column: full_name")
	}

	report := &StudentImportReport{
		Errors:      make([]StudentImportRowError, 0),
		Credentials: make([]StudentCredentials, 0),
	}
	for i := 1; i < len(rows); i++ {
		rowNo := i + 1
		row := rows[i]
		report.TotalRows++

		get := func(key string) string {
			idx, ok := header[key]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		creds, err := s.CreateStudent(ctx, get("full_name"), get("email"))
		if err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, StudentImportRowError{
				Row:      rowNo,
				FullName: get("full_name"),
				Error:    err.Error(),
			})
			continue
		}
		report.SuccessRows++
		report.Credentials = append(report.Credentials, *creds)
	}
	return report, nil
}
