package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/ad-pipeline/internal/domain/entity"
	"github.com/garyjia/ad-pipeline/internal/domain/workflow"
)

func sampleHistory() History {
	created := time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC)
	decided := created.Add(2 * time.Hour)
	return History{
		Deliverable: &entity.Deliverable{ID: 7, Title: "Summer spot", Phase: entity.PhaseInPreparation, WorkflowID: 2, CreatedAt: created},
		Tasks: []*entity.TaskInstance{
			{ID: 11, Name: "Storyboard", Order: 1, Status: workflow.StateInProgress, AssigneeID: "ou_artist", Cycle: 2},
			{ID: 12, Name: "Rough cut", Order: 2, Status: workflow.StatePending, Cycle: 1},
		},
		Versions: []*entity.VersionRecord{
			{ID: 21, TaskID: 11, Cycle: 1, FileName: "draft.mp4", FileType: "video/mp4", Locator: "blob://a", IsFinal: true, CreatedAt: created},
		},
		Approvals: []*entity.ApprovalRecord{
			{ID: 31, TaskID: 11, SubmittedVersionID: 21, Cycle: 1, Status: entity.ApprovalStatusRejected,
				Comment: "wrong aspect ratio", ReviewerID: "ou_lead", CreatedAt: created, DecidedAt: &decided},
		},
	}
}

func TestHistoryExporter_Write(t *testing.T) {
	exporter, err := NewHistoryExporter(Config{Timezone: "Asia/Shanghai"}, zap.NewNop())
	require.NoError(t, err)
	exporter.now = func() time.Time { return time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC) }

	var buf bytes.Buffer
	require.NoError(t, exporter.Write(&buf, sampleHistory()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{sheetSummary, sheetTasks, sheetVersions, sheetApprovals}, f.GetSheetList())

	title, err := f.GetCellValue(sheetSummary, "B1")
	require.NoError(t, err)
	assert.Equal(t, "Summer spot", title)

	created, err := f.GetCellValue(sheetSummary, "B6")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-01 17:30", created, "timestamps are rendered in the configured zone")

	rows, err := f.GetRows(sheetTasks)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Order", "Task", "Status", "Assignee", "Cycle", "Completed"}, rows[0])
	assert.Equal(t, "Storyboard", rows[1][1])
	assert.Equal(t, "IN_PROGRESS", rows[1][2])

	versions, err := f.GetRows(sheetVersions)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "Storyboard", versions[1][1])
	assert.Equal(t, "yes", versions[1][5])

	approvals, err := f.GetRows(sheetApprovals)
	require.NoError(t, err)
	require.Len(t, approvals, 2)
	assert.Equal(t, "REJECTED", approvals[1][4])
	assert.Equal(t, "wrong aspect ratio", approvals[1][6])
	assert.Equal(t, "2026-10-01 19:30", approvals[1][8])
}

func TestHistoryExporter_EmptyHistory(t *testing.T) {
	exporter, err := NewHistoryExporter(Config{}, zap.NewNop())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, exporter.Write(&buf, History{Deliverable: &entity.Deliverable{ID: 1, Title: "Empty"}}))
	assert.NotZero(t, buf.Len())

	assert.Error(t, exporter.Write(&buf, History{}))
}

func TestNewHistoryExporter_InvalidTimezone(t *testing.T) {
	_, err := NewHistoryExporter(Config{Timezone: "Mars/Olympus"}, zap.NewNop())
	assert.Error(t, err)
}

func TestHistoryExporter_FileName(t *testing.T) {
	exporter, err := NewHistoryExporter(Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "deliverable-7-history.xlsx", exporter.FileName(&entity.Deliverable{ID: 7}))
}
