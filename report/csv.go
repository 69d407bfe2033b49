package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// SummaryHeader is the first row of every summary file.
var SummaryHeader = []string{
	"Server Address",
	"Speedtest-Mode",
	"Average RTT",
	"Median RTT",
	"Minimum RTT",
	"Maximum RTT",
	"Variance RTT",
	"Standard Deviation RTT",
	"95th Percentile RTT",
}

// CSVSink appends summaries to one file per server and mode under Dir.
type CSVSink struct {
	Dir string
}

// Path is the file a summary for server and mode is appended to.
func (c CSVSink) Path(server, mode string) string {
	name := "rtt_times_" + strings.ReplaceAll(server, string(filepath.Separator), "_") + "_" + mode + ".csv"
	return filepath.Join(c.Dir, name)
}

// Append writes s, preceded by the header when the file is new.
func (c CSVSink) Append(s Summary) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return errors.Wrap(err, "create results dir")
	}

	path := c.Path(s.ServerAddr, s.Mode)
	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "open summary file")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write(SummaryHeader); err != nil {
			return errors.Wrap(err, "write summary header")
		}
	}

	st := s.Stats
	err = w.Write([]string{
		s.ServerAddr,
		s.Mode,
		formatFloat(st.Mean),
		strconv.FormatInt(st.Median, 10),
		strconv.FormatInt(st.Min, 10),
		strconv.FormatInt(st.Max, 10),
		formatFloat(st.Variance),
		formatFloat(st.StdDev),
		strconv.FormatInt(st.P95, 10),
	})
	if err != nil {
		return errors.Wrap(err, "write summary row")
	}

	w.Flush()
	return errors.Wrap(w.Error(), "flush summary file")
}

// WriteRaw replaces path with one RTT sample per row.
func WriteRaw(path string, samples []int64) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create raw output")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, s := range samples {
		if err := w.Write([]string{strconv.FormatInt(s, 10)}); err != nil {
			return errors.Wrap(err, "write raw sample")
		}
	}
	w.Flush()
	return errors.Wrap(w.Error(), "flush raw output")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
