package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Placeholder marks a value that could not be determined.
const Placeholder = "N/A"

// File names written by WriteDir.
const (
	SummaryFile = "summary.csv"
	DetailsFile = "details.csv"
)

// DirLayout is the timestamp layout of report directory names (ddMMyyyy-HHmmss).
const DirLayout = "02012006-150405"

// SummaryHeader is the column layout of the summary report.
var SummaryHeader = []string{
	"Transaction",
	"Count",
	"Total fee (HBar)",
	"Total fee (USD)",
	"Avg fee (USD)",
	"Std dev (USD)",
	"Max (USD)",
	"P25 (USD)",
	"Median (USD)",
	"P75 (USD)",
	"Schedule fee (USD)",
	"Schedule - Avg (USD)",
	"Avg gas price fee (USD)",
	"Avg gas consumed fee (USD)",
	"Actl Closer to",
}

// DetailHeader is the column layout of the detail report.
var DetailHeader = []string{
	"Id",
	"Type",
	"Fee(HBar)",
	"Gas used",
	"Gas consumed",
	"Gas Price",
	"Total Gas Fee",
	"Comment",
	"Hashscan link",
}

// WriteSummary writes the summary CSV.
func WriteSummary(w io.Writer, rows []SummaryRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SummaryHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(summaryRecord(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func summaryRecord(r SummaryRow) []string {
	rec := []string{
		string(r.Type),
		strconv.Itoa(r.Hbar.Count),
		formatHbar(r.Hbar.Total),
	}

	if r.USD == nil {
		for i := 0; i < 7; i++ {
			rec = append(rec, Placeholder)
		}
		rec = append(rec, formatUSD(r.ScheduleUSD), Placeholder)
	} else {
		u := r.USD
		rec = append(rec,
			formatUSD(u.Total),
			formatUSD(u.Mean),
			formatUSD(u.StdDev),
			formatUSD(u.Max),
			formatUSD(u.P25),
			formatUSD(u.Median),
			formatUSD(u.P75),
			formatUSD(r.ScheduleUSD),
			formatUSD(r.ScheduleUSD-u.Mean),
		)
	}

	switch {
	case !r.Type.IsEVM():
		rec = append(rec, "", "")
	case r.AvgGasUSD == nil:
		rec = append(rec, Placeholder, Placeholder)
	default:
		rec = append(rec, formatUSD(*r.AvgGasUSD), formatUSD(*r.AvgConsUSD))
	}

	if len(r.CloserTo) == 0 {
		rec = append(rec, Placeholder)
	} else {
		rec = append(rec, strings.Join(r.CloserTo, "|"))
	}
	return rec
}

// WriteDetails writes the detail CSV.
func WriteDetails(w io.Writer, rows []DetailRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(DetailHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(detailRecord(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func detailRecord(r DetailRow) []string {
	rec := []string{
		r.Record.TransactionID,
		string(r.Record.Type),
		FormatTinybars(r.Record.FeeTinybars),
	}

	switch {
	case !r.Record.Type.IsEVM():
		rec = append(rec, "", "", "", "")
	case r.Gas == nil:
		rec = append(rec, Placeholder, Placeholder, Placeholder, Placeholder)
	default:
		g := r.Gas
		rec = append(rec,
			strconv.FormatUint(g.GasUsed, 10),
			strconv.FormatUint(g.GasConsumed, 10),
			strconv.FormatUint(g.GasPriceTinybars, 10),
			FormatTinybars(int64(g.GasUsed*g.GasPriceTinybars)),
		)
	}

	return append(rec, r.Comment, r.Link)
}

// maxDirSuffix bounds the -N suffixes tried when report directories collide.
const maxDirSuffix = 100

// WriteDir writes both CSV files into a new timestamped directory under root
// and returns the directory path. Runs started within the same second get
// "-2", "-3", ... appended so existing reports are never overwritten.
func WriteDir(root string, at time.Time, rep *Report) (string, error) {
	dir, err := createReportDir(root, at.Format(DirLayout))
	if err != nil {
		return "", err
	}

	if err := writeFile(filepath.Join(dir, SummaryFile), func(w io.Writer) error {
		return WriteSummary(w, rep.Summary)
	}); err != nil {
		return dir, err
	}
	if err := writeFile(filepath.Join(dir, DetailsFile), func(w io.Writer) error {
		return WriteDetails(w, rep.Details)
	}); err != nil {
		return dir, err
	}
	return dir, nil
}

func createReportDir(root, name string) (string, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("failed to create reports root: %w", err)
	}
	for i := 1; i <= maxDirSuffix; i++ {
		dir := filepath.Join(root, name)
		if i > 1 {
			dir += "-" + strconv.Itoa(i)
		}
		err := os.Mkdir(dir, 0755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	return "", fmt.Errorf("failed to create report directory: %s has %d siblings", name, maxDirSuffix)
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// FormatTinybars renders an exact tinybar amount as HBAR with eight decimals.
func FormatTinybars(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%08d", sign, v/100_000_000, v%100_000_000)
}

func formatHbar(v float64) string {
	return strconv.FormatFloat(v, 'f', 8, 64)
}

func formatUSD(v float64) string {
	return strconv.FormatFloat(v, 'f', 8, 64)
}
