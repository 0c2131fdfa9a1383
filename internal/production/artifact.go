package production

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
)

// CSVHeader is the fixed column order of a production curve.
var CSVHeader = []string{"date", "time", "value_wh", "interval_length", "installation_id"}

const (
	csvContentType    = "text/csv"
	artifactSuffix    = "_Prod_CDC"
	simulatedSuffix   = "_SIMULE"
	filenameDateStamp = "02012006"
)

// ArtifactBasename derives the deterministic name (without extension) of a
// production curve from the site code and the first/last row dates.
func ArtifactBasename(prm string, rows []QuarterHourRow, simulated bool) (string, error) {
	if len(rows) == 0 {
		return "", fmt.Errorf("%w: no rows to name", ErrUpstream)
	}
	first := rows[0].Timestamp.Format(filenameDateStamp)
	last := rows[len(rows)-1].Timestamp.Format(filenameDateStamp)
	name := fmt.Sprintf("%s_%s_%s%s", prm, first, last, artifactSuffix)
	if simulated {
		name += simulatedSuffix
	}
	return name, nil
}

// ArtifactFilename returns `{prm}_{ddmmyyyy}_{ddmmyyyy}_Prod_CDC.csv`.
func ArtifactFilename(prm string, rows []QuarterHourRow) (string, error) {
	base, err := ArtifactBasename(prm, rows, false)
	if err != nil {
		return "", err
	}
	return base + ".csv", nil
}

// WriteCSV serializes rows with the fixed header, preserving their order.
func WriteCSV(rows []QuarterHourRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(CSVHeader); err != nil {
		return nil, err
	}
	record := make([]string, len(CSVHeader))
	for _, r := range rows {
		record[0] = r.Date()
		record[1] = r.Time()
		record[2] = strconv.FormatFloat(r.ValueWh, 'f', 2, 64)
		record[3] = r.IntervalLength
		record[4] = r.InstallationID
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildArtifact writes the CSV and places it under prefix.
func BuildArtifact(prefix, prm string, rows []QuarterHourRow, simulated bool) (Artifact, error) {
	base, err := ArtifactBasename(prm, rows, simulated)
	if err != nil {
		return Artifact{}, err
	}
	content, err := WriteCSV(rows)
	if err != nil {
		return Artifact{}, fmt.Errorf("write csv: %w", err)
	}
	filename := base + ".csv"
	return Artifact{
		Filename:    filename,
		Path:        prefix + filename,
		ContentType: csvContentType,
		Content:     content,
	}, nil
}
