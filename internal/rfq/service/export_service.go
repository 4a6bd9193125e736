package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"
)

// ExportService 流转统计导出服务
type ExportService struct {
	historySvc *HistoryService
}

// NewExportService 创建导出服务
func NewExportService(historySvc *HistoryService) *ExportService {
	return &ExportService{historySvc: historySvc}
}

// ExportStats 导出组织流转统计为xlsx工作簿
func (s *ExportService) ExportStats(ctx context.Context, orgID string, from, to *time.Time) (*excelize.File, error) {
	stats, err := s.historySvc.GetStageTransitionStats(ctx, orgID, from, to)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	const sheet = "Transitions"
	f.SetSheetName("Sheet1", sheet)

	f.SetCellValue(sheet, "A1", "Stage Transition Statistics")
	f.SetCellValue(sheet, "A2", "Generated At")
	f.SetCellValue(sheet, "B2", time.Now().Format("2006-01-02 15:04:05"))
	f.SetCellValue(sheet, "A3", "Total Transitions")
	f.SetCellValue(sheet, "B3", stats.TotalTransitions)
	f.SetCellValue(sheet, "A4", "Bypassed")
	f.SetCellValue(sheet, "B4", stats.BypassedCount)

	// 按阶段计数，阶段名排序保证输出稳定
	f.SetCellValue(sheet, "A6", "Stage")
	f.SetCellValue(sheet, "B6", "Transitions")
	names := make([]string, 0, len(stats.ByStage))
	for name := range stats.ByStage {
		names = append(names, name)
	}
	sort.Strings(names)
	row := 7
	for _, name := range names {
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), name)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), stats.ByStage[name])
		row++
	}

	if len(stats.BypassReasons) > 0 {
		row++
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), "Bypass Reasons")
		row++
		for _, reason := range stats.BypassReasons {
			f.SetCellValue(sheet, fmt.Sprintf("A%d", row), reason)
			row++
		}
	}

	return f, nil
}
