// Package exports renders companion files uploaded next to the CSV curve.
package exports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/dbourene/kinjo-production/internal/production"
)

const (
	summarySheet = "Summary"
	hourlySheet  = "Hourly"
	monthlySheet = "Monthly"
)

// XLSXExporter writes a workbook with a summary, monthly totals and the
// hourly series.
type XLSXExporter struct{}

func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

func (XLSXExporter) Extension() string { return "xlsx" }

func (XLSXExporter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (XLSXExporter) Export(series production.HourlySeries, rows []production.QuarterHourRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(monthlySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(hourlySheet); err != nil {
		return nil, err
	}

	installationID := ""
	if len(rows) > 0 {
		installationID = rows[0].InstallationID
	}
	_ = f.SetCellValue(summarySheet, "A1", "Production Estimate")
	_ = f.SetCellValue(summarySheet, "A3", "Installation")
	_ = f.SetCellValue(summarySheet, "B3", installationID)
	_ = f.SetCellValue(summarySheet, "A4", "Year")
	_ = f.SetCellValue(summarySheet, "B4", series.Year)
	_ = f.SetCellValue(summarySheet, "A5", "Source")
	_ = f.SetCellValue(summarySheet, "B5", series.Source)
	_ = f.SetCellValue(summarySheet, "A6", "Simulated")
	_ = f.SetCellValue(summarySheet, "B6", series.Simulated)
	_ = f.SetCellValue(summarySheet, "A7", "Hourly Samples")
	_ = f.SetCellValue(summarySheet, "B7", len(series.ACWh))
	_ = f.SetCellValue(summarySheet, "A8", "Total Energy (kWh)")
	_ = f.SetCellValue(summarySheet, "B8", production.TotalKWh(rows))

	_ = f.SetCellValue(monthlySheet, "A1", "Month")
	_ = f.SetCellValue(monthlySheet, "B1", "Energy (kWh)")
	for i, total := range MonthlyKWh(series) {
		row := i + 2
		_ = f.SetCellValue(monthlySheet, fmt.Sprintf("A%d", row), fmt.Sprintf("%d-%02d", series.Year, i+1))
		_ = f.SetCellValue(monthlySheet, fmt.Sprintf("B%d", row), total)
	}

	// Stream writer keeps memory flat for 8760+ rows.
	sw, err := f.NewStreamWriter(hourlySheet)
	if err != nil {
		return nil, err
	}
	if err := sw.SetRow("A1", []interface{}{"time", "production_ac_kWh"}); err != nil {
		return nil, err
	}
	start := series.Start()
	for i, v := range series.ACWh {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		ts := start.Add(time.Duration(i) * time.Hour)
		if err := sw.SetRow(cell, []interface{}{ts.Format("2006-01-02 15:04:05"), v / 1000}); err != nil {
			return nil, err
		}
	}
	if err := sw.Flush(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MonthlyKWh sums the hourly series per calendar month.
func MonthlyKWh(series production.HourlySeries) [12]float64 {
	var totals [12]float64
	start := series.Start()
	for i, v := range series.ACWh {
		ts := start.Add(time.Duration(i) * time.Hour)
		if ts.Year() != series.Year {
			break
		}
		totals[ts.Month()-1] += v
	}
	for i := range totals {
		totals[i] = production.Round2(totals[i] / 1000)
	}
	return totals
}
