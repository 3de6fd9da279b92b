package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// DetectionRecord is one classified plate sighting. Records are immutable once
// created by NewDetectionRecord.
type DetectionRecord struct {
	Timestamp  time.Time
	FrameID    int64
	Plate      string
	Status     Classification
	Confidence float64
}

// NewDetectionRecord builds a record, rounding confidence to two decimals with
// ties going to the even digit.
func NewDetectionRecord(ts time.Time, frameID int64, plate string, status Classification, confidence float64) DetectionRecord {
	return DetectionRecord{
		Timestamp:  ts,
		FrameID:    frameID,
		Plate:      plate,
		Status:     status,
		Confidence: math.RoundToEven(confidence*100) / 100,
	}
}

// reportColumns is the fixed column order of every exported report.
var reportColumns = []string{"Timestamp", "Frame_ID", "Detected_Plate", "Status", "Confidence_Score"}

// reportTimeLayout renders the local wall-clock time of a detection.
const reportTimeLayout = "15:04:05"

func (r DetectionRecord) row() []string {
	return []string{
		r.Timestamp.Local().Format(reportTimeLayout),
		strconv.FormatInt(r.FrameID, 10),
		r.Plate,
		r.Status.String(),
		strconv.FormatFloat(r.Confidence, 'f', 2, 64),
	}
}

// ErrNothingToExport is returned by Export when the log holds no records.
var ErrNothingToExport = errors.New("no detections to export")

// DetectionLog is the append-only, insertion-ordered record of a run.
// It is owned by the pipeline goroutine and is not safe for concurrent use.
type DetectionLog struct {
	records []DetectionRecord
}

// Append adds a record to the end of the log.
func (l *DetectionLog) Append(record DetectionRecord) {
	l.records = append(l.records, record)
}

// Len returns the number of records.
func (l *DetectionLog) Len() int {
	return len(l.records)
}

// Records returns a copy of the records in insertion order.
func (l *DetectionLog) Records() []DetectionRecord {
	out := make([]DetectionRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Export writes the log to path. The format follows the extension: ".xlsx"
// produces a workbook, anything else CSV. An empty log returns
// ErrNothingToExport and leaves the filesystem untouched.
func (l *DetectionLog) Export(path string) error {
	if len(l.records) == 0 {
		return ErrNothingToExport
	}

	write := l.writeCSV
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		write = l.writeXLSX
	}

	return writeFileAtomic(path, write)
}

func (l *DetectionLog) writeCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportColumns); err != nil {
		return err
	}
	for _, r := range l.records {
		if err := cw.Write(r.row()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// reportSheet is the worksheet name used for XLSX reports.
const reportSheet = "Detections"

func (l *DetectionLog) writeXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]interface{}, len(reportColumns))
	for i, c := range reportColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(reportSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, r := range l.records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			r.Timestamp.Local().Format(reportTimeLayout),
			r.FrameID,
			r.Plate,
			r.Status.String(),
			r.Confidence,
		}
		if err := f.SetSheetRow(reportSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	return f.Write(w)
}

// writeFileAtomic writes to a temporary file next to path and renames it into
// place, so a failed export never leaves a truncated report behind.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	tmpName := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close report: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod report: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename report: %w", err)
	}
	return nil
}
