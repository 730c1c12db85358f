package stats

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const tradesSheet = "Trades"

// ExportExcel writes the trade history and a summary row to an XLSX file
func (s *Store) ExportExcel(path string) error {
	s.mu.Lock()
	stats := s.stats
	trades := make([]TradeRecord, len(s.stats.Trades))
	copy(trades, s.stats.Trades)
	s.mu.Unlock()

	fx := excelize.NewFile()
	defer fx.Close()

	sheet, err := fx.NewSheet(tradesSheet)
	if err != nil {
		return fmt.Errorf("failed to create trades sheet: %w", err)
	}
	fx.SetActiveSheet(sheet)
	fx.DeleteSheet("Sheet1")

	headerStyle, err := fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	headers := []string{"Cycle", "Entry Price", "Exit Price", "Quantity", "Profit", "Emergency", "Completed At"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(tradesSheet, cell, h)
	}
	fx.SetCellStyle(tradesSheet, "A1", "G1", headerStyle)

	for i, trade := range trades {
		row := i + 2
		fx.SetCellValue(tradesSheet, fmt.Sprintf("A%d", row), trade.CycleID)
		fx.SetCellValue(tradesSheet, fmt.Sprintf("B%d", row), trade.EntryPrice)
		fx.SetCellValue(tradesSheet, fmt.Sprintf("C%d", row), trade.ExitPrice)
		fx.SetCellValue(tradesSheet, fmt.Sprintf("D%d", row), trade.Quantity)
		fx.SetCellValue(tradesSheet, fmt.Sprintf("E%d", row), trade.Profit)
		fx.SetCellValue(tradesSheet, fmt.Sprintf("F%d", row), trade.Emergency)
		fx.SetCellValue(tradesSheet, fmt.Sprintf("G%d", row), trade.CompletedAt.Format("2006-01-02 15:04:05"))
	}

	summaryRow := len(trades) + 3
	fx.SetCellValue(tradesSheet, fmt.Sprintf("A%d", summaryRow), "Total Cycles")
	fx.SetCellValue(tradesSheet, fmt.Sprintf("B%d", summaryRow), stats.TotalCycles)
	fx.SetCellValue(tradesSheet, fmt.Sprintf("A%d", summaryRow+1), "Successful Cycles")
	fx.SetCellValue(tradesSheet, fmt.Sprintf("B%d", summaryRow+1), stats.SuccessfulCycles)
	fx.SetCellValue(tradesSheet, fmt.Sprintf("A%d", summaryRow+2), "Total Profit")
	fx.SetCellValue(tradesSheet, fmt.Sprintf("B%d", summaryRow+2), stats.TotalProfit)

	fx.SetColWidth(tradesSheet, "A", "G", 16)

	if err := fx.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save excel report: %w", err)
	}
	return nil
}
