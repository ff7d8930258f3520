// Package report renders a deliverable's audit trail as an Excel workbook.
package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/ad-pipeline/internal/domain/entity"
)

const (
	sheetSummary   = "Summary"
	sheetTasks     = "Tasks"
	sheetVersions  = "Versions"
	sheetApprovals = "Approvals"
)

// History is everything the workbook shows
type History struct {
	Deliverable *entity.Deliverable
	Tasks       []*entity.TaskInstance
	Versions    []*entity.VersionRecord
	Approvals   []*entity.ApprovalRecord
}

// Config controls how timestamps are rendered
type Config struct {
	Timezone   string
	TimeFormat string
}

// HistoryExporter writes history workbooks
type HistoryExporter struct {
	loc    *time.Location
	layout string
	logger *zap.Logger
	now    func() time.Time
}

// NewHistoryExporter creates an exporter. An unknown timezone is a
// configuration error.
func NewHistoryExporter(cfg Config, logger *zap.Logger) (*HistoryExporter, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("invalid report timezone %q: %w", cfg.Timezone, err)
		}
	}
	layout := cfg.TimeFormat
	if layout == "" {
		layout = "2006-01-02 15:04"
	}
	return &HistoryExporter{loc: loc, layout: layout, logger: logger, now: time.Now}, nil
}

// FileName returns the download name for a deliverable's workbook
func (e *HistoryExporter) FileName(d *entity.Deliverable) string {
	return fmt.Sprintf("deliverable-%d-history.xlsx", d.ID)
}

// Write renders the workbook to w
func (e *HistoryExporter) Write(w io.Writer, h History) error {
	if h.Deliverable == nil {
		return fmt.Errorf("history has no deliverable")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{sheetTasks, sheetVersions, sheetApprovals} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	taskNames := make(map[int64]string, len(h.Tasks))
	for _, t := range h.Tasks {
		taskNames[t.ID] = t.Name
	}

	steps := []func(*excelize.File, int) error{
		func(f *excelize.File, style int) error { return e.fillSummary(f, style, h) },
		func(f *excelize.File, style int) error { return e.fillTasks(f, style, h.Tasks) },
		func(f *excelize.File, style int) error { return e.fillVersions(f, style, h.Versions, taskNames) },
		func(f *excelize.File, style int) error { return e.fillApprovals(f, style, h.Approvals, taskNames) },
	}
	for _, step := range steps {
		if err := step(f, header); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("History workbook written",
		zap.Int64("deliverable_id", h.Deliverable.ID),
		zap.Int("tasks", len(h.Tasks)),
		zap.Int("versions", len(h.Versions)),
		zap.Int("approvals", len(h.Approvals)))
	return nil
}

func (e *HistoryExporter) fillSummary(f *excelize.File, style int, h History) error {
	d := h.Deliverable
	deadline := ""
	if d.Deadline != nil {
		deadline = e.format(*d.Deadline)
	}

	rows := [][]interface{}{
		{"Deliverable", d.Title},
		{"ID", d.ID},
		{"Phase", string(d.Phase)},
		{"Workflow", d.WorkflowID},
		{"Deadline", deadline},
		{"Created", e.format(d.CreatedAt)},
		{"Exported", e.format(e.now())},
	}
	for i, row := range rows {
		if err := setRow(f, sheetSummary, i+1, row); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(sheetSummary, "A1", fmt.Sprintf("A%d", len(rows)), style); err != nil {
		return fmt.Errorf("failed to style summary: %w", err)
	}
	return f.SetColWidth(sheetSummary, "B", "B", 40)
}

func (e *HistoryExporter) fillTasks(f *excelize.File, style int, tasks []*entity.TaskInstance) error {
	if err := writeHeader(f, sheetTasks, style, "Order", "Task", "Status", "Assignee", "Cycle", "Completed"); err != nil {
		return err
	}
	for i, t := range tasks {
		completed := ""
		if t.CompletedAt != nil {
			completed = e.format(*t.CompletedAt)
		}
		row := []interface{}{t.Order, t.Name, t.Status.String(), t.AssigneeID, t.Cycle, completed}
		if err := setRow(f, sheetTasks, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func (e *HistoryExporter) fillVersions(f *excelize.File, style int, versions []*entity.VersionRecord, taskNames map[int64]string) error {
	if err := writeHeader(f, sheetVersions, style, "ID", "Task", "Cycle", "File", "Type", "Final", "Locator", "Uploaded"); err != nil {
		return err
	}
	for i, v := range versions {
		final := ""
		if v.IsFinal {
			final = "yes"
		}
		row := []interface{}{v.ID, taskNames[v.TaskID], v.Cycle, v.FileName, v.FileType, final, v.Locator, e.format(v.CreatedAt)}
		if err := setRow(f, sheetVersions, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func (e *HistoryExporter) fillApprovals(f *excelize.File, style int, approvals []*entity.ApprovalRecord, taskNames map[int64]string) error {
	if err := writeHeader(f, sheetApprovals, style, "ID", "Task", "Cycle", "Version", "Status", "Reviewer", "Comment", "Requested", "Decided"); err != nil {
		return err
	}
	for i, a := range approvals {
		decided := ""
		if a.DecidedAt != nil {
			decided = e.format(*a.DecidedAt)
		}
		row := []interface{}{
			a.ID, taskNames[a.TaskID], a.Cycle, a.SubmittedVersionID, string(a.Status),
			a.ReviewerID, a.Comment, e.format(a.CreatedAt), decided,
		}
		if err := setRow(f, sheetApprovals, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func (e *HistoryExporter) format(t time.Time) string {
	return t.In(e.loc).Format(e.layout)
}

func writeHeader(f *excelize.File, sheet string, style int, titles ...string) error {
	row := make([]interface{}, len(titles))
	for i, title := range titles {
		row[i] = title
	}
	if err := setRow(f, sheet, 1, row); err != nil {
		return err
	}

	last, err := excelize.CoordinatesToCellName(len(titles), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("failed to style %s header: %w", sheet, err)
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	if err := f.SetSheetRow(sheet, "A"+strconv.Itoa(row), &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}
