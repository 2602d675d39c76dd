package services

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/nzwater/compliance-core/modules/compliance/domain/aggregates/plan"
	"github.com/nzwater/compliance-core/pkg/authz"
)

const exportSheet = "Plans"

var exportHeader = []string{
	"ID", "Title", "Type", "Status", "Version", "Completeness", "Missing Elements",
	"Created At", "Updated At", "Submitted At", "Approved At", "Rejection Reason",
}

// Export streams every plan of the organization matching params as an XLSX workbook.
func (s *PlanService) Export(ctx context.Context, params *plan.FindParams, w io.Writer) (err error) {
	defer func() { recordOperation("export", err) }()

	sc, err := s.scope(ctx)
	if err != nil {
		return mapError(err)
	}
	if err := s.authorize(ctx, sc, PlansAuthzObject, authz.ActionExport); err != nil {
		return mapError(err)
	}

	filter := plan.FindParams{}
	if params != nil {
		filter = *params
	}
	filter.Limit = s.maxPageSize
	filter.Offset = 0
	s.clampPage(&filter)

	var plans []plan.Plan
	err = s.readTx(ctx, func(txCtx context.Context) error {
		for {
			page, total, err := s.repo.GetPaginated(txCtx, sc.tenantID, &filter)
			if err != nil {
				return err
			}
			plans = append(plans, page...)
			filter.Offset += len(page)
			if len(page) == 0 || int64(filter.Offset) >= total {
				return nil
			}
		}
	})
	if err != nil {
		return mapError(err)
	}
	return WritePlansWorkbook(w, plans)
}

// WritePlansWorkbook renders plans into a single-sheet workbook.
func WritePlansWorkbook(w io.Writer, plans []plan.Plan) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return err
	}
	header := make([]any, len(exportHeader))
	for i, h := range exportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetRowStyle(exportSheet, 1, 1, bold); err != nil {
		return err
	}
	if err := f.SetPanes(exportSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}

	for i, p := range plans {
		report := p.Completeness()
		row := []any{
			p.ID().String(),
			p.Title(),
			string(p.PlanType()),
			string(p.Status()),
			p.Version(),
			report.CompletenessScore,
			strings.Join(report.MissingElements, "; "),
			formatTime(p.CreatedAt()),
			formatTime(p.UpdatedAt()),
			formatTimePtr(p.SubmittedAt()),
			formatTimePtr(p.ApprovedAt()),
			p.RejectionReason(),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(exportSheet, "B", "B", 40); err != nil {
		return err
	}
	if err := f.SetColWidth(exportSheet, "G", "G", 60); err != nil {
		return err
	}
	return f.Write(w)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
