package service

import (
	"bytes"
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/luizmoretti/erp-backend/internal/attendance/repository"
	"github.com/luizmoretti/erp-backend/pkg/actor"
	"github.com/luizmoretti/erp-backend/pkg/errors"
)

const reportSheet = "Payroll"

// ReportTotals sums every row of a report
type ReportTotals struct {
	Payrolls      int             `json:"payrolls"`
	DaysWorked    int             `json:"days_worked"`
	HoursWorked   decimal.Decimal `json:"hours_worked"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	AmountPending decimal.Decimal `json:"amount_pending"`
}

// PayrollReport aggregates a company's payrolls over a date range
type PayrollReport struct {
	CompanyID string                         `json:"company_id"`
	StartDate repository.Date                `json:"start_date"`
	EndDate   repository.Date                `json:"end_date"`
	Employees []*repository.PayrollReportRow `json:"employees"`
	Totals    ReportTotals                   `json:"totals"`
}

// Report aggregates, per employee, the payrolls whose period overlaps
// [start, end]. Dates are YYYY-MM-DD.
func (s *PayrollService) Report(ctx context.Context, a *actor.Actor, start, end string) (*PayrollReport, error) {
	if a == nil || a.CompanyID == "" {
		return nil, errors.AccessDenied("missing company context")
	}
	startDate, endDate, err := s.validator.ValidateReportParameters(start, end)
	if err != nil {
		return nil, err
	}

	rows, err := s.stores.Payrolls.Report(ctx, a.CompanyID, startDate, endDate)
	if err != nil {
		s.logger.Error().Err(err).Str("start_date", start).Str("end_date", end).Msg("failed to build payroll report")
		return nil, err
	}

	report := &PayrollReport{
		CompanyID: a.CompanyID,
		StartDate: startDate,
		EndDate:   endDate,
		Employees: rows,
	}
	for _, row := range rows {
		report.Totals.Payrolls += row.Payrolls
		report.Totals.DaysWorked += row.DaysWorked
		report.Totals.HoursWorked = report.Totals.HoursWorked.Add(row.HoursWorked)
		report.Totals.AmountPaid = report.Totals.AmountPaid.Add(row.AmountPaid)
		report.Totals.AmountPending = report.Totals.AmountPending.Add(row.AmountPending)
	}
	return report, nil
}

// ExportReport renders the report as an XLSX workbook
func (s *PayrollService) ExportReport(ctx context.Context, a *actor.Actor, start, end string) ([]byte, *PayrollReport, error) {
	report, err := s.Report(ctx, a, start, end)
	if err != nil {
		return nil, nil, err
	}

	data, err := renderReport(report)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to render payroll report")
		return nil, nil, errors.Internal("failed to render payroll report")
	}
	return data, report, nil
}

func renderReport(report *PayrollReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return nil, err
	}

	headers := []interface{}{"Employee", "Payment type", "Payrolls", "Days worked", "Hours worked", "Amount paid", "Amount pending"}
	if err := setRow(f, 1, headers...); err != nil {
		return nil, err
	}

	row := 2
	for _, r := range report.Employees {
		if err := setTotalsRow(f, row, r.EmployeeName, string(r.PaymentType), r.Payrolls, r.DaysWorked, r.HoursWorked, r.AmountPaid, r.AmountPending); err != nil {
			return nil, err
		}
		row++
	}
	t := report.Totals
	if err := setTotalsRow(f, row, "Total", "", t.Payrolls, t.DaysWorked, t.HoursWorked, t.AmountPaid, t.AmountPending); err != nil {
		return nil, err
	}

	if err := setRow(f, row+2, "Period", report.StartDate.String()+" - "+report.EndDate.String()); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setTotalsRow(f *excelize.File, row int, name, paymentType string, payrolls, days int, hours, paid, pending decimal.Decimal) error {
	return setRow(f, row, name, paymentType, payrolls, days,
		hours.InexactFloat64(), paid.InexactFloat64(), pending.InexactFloat64())
}

// setRow writes values from column A and stops at the first error
func setRow(f *excelize.File, row int, values ...interface{}) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(reportSheet, cell, v); err != nil {
			return fmt.Errorf("failed to write report cell %s: %w", cell, err)
		}
	}
	return nil
}
