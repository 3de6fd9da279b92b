package main

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleLog() *DetectionLog {
	ts := time.Date(2024, 5, 17, 13, 4, 5, 0, time.Local)
	log := &DetectionLog{}
	log.Append(NewDetectionRecord(ts, 12, "34IST34", Authorized, 0.876))
	log.Append(NewDetectionRecord(ts.Add(2*time.Second), 40, "XY987Z", Unknown, 0.5))
	return log
}

func TestNewDetectionRecordRoundsConfidence(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.876, 0.88},
		{0.874, 0.87},
		{0.25, 0.25},
		{0.125, 0.12},
		{0.375, 0.38},
		{1, 1},
	}
	for _, tt := range tests {
		r := NewDetectionRecord(time.Now(), 1, "ABCDE", Unknown, tt.in)
		require.InDelta(t, tt.want, r.Confidence, 1e-9, "confidence %v", tt.in)
	}
}

func TestDetectionLogRecordsIsCopy(t *testing.T) {
	log := sampleLog()
	recs := log.Records()
	recs[0].Plate = "CHANGED"
	require.Equal(t, "34IST34", log.Records()[0].Plate)
	require.Equal(t, 2, log.Len())
}

func TestExportCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plate_report.csv")
	require.NoError(t, sampleLog().Export(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"Timestamp", "Frame_ID", "Detected_Plate", "Status", "Confidence_Score"},
		{"13:04:05", "12", "34IST34", "ACCESS GRANTED", "0.88"},
		{"13:04:07", "40", "XY987Z", "UNKNOWN", "0.50"},
	}, rows)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestExportXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plate_report.XLSX")
	require.NoError(t, sampleLog().Export(path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(reportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, reportColumns, rows[0])
	require.Equal(t, []string{"13:04:05", "12", "34IST34", "ACCESS GRANTED", "0.88"}, rows[1])
	require.Equal(t, "XY987Z", rows[2][2])
}

func TestExportEmptyLogWritesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plate_report.csv")

	err := (&DetectionLog{}).Export(path)
	require.True(t, errors.Is(err, ErrNothingToExport))

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestExportFailureLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	// The target is an existing directory, so the final rename fails.
	target := filepath.Join(dir, "report.csv")
	require.NoError(t, os.Mkdir(target, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "keep"), nil, 0o644))

	require.Error(t, sampleLog().Export(target))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "report.csv", entries[0].Name())
}

func TestExportMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "report.csv")
	require.Error(t, sampleLog().Export(path))
}
