package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/benothman/xnio/util"
)

var ErrNoSamples = errors.New("no report lines found")

// Report summarizes the average latencies of a run log: the third column of
// every "<max> <min> <avg>" line.
type Report struct {
	Clients int
	AvgMax  float64
	AvgMin  float64
	AvgAvg  float64
}

// ParseReport reads a run log. Lines which are not made of three numbers
// are skipped.
func ParseReport(r io.Reader) (Report, error) {
	stats := util.NewOnlineStats()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		avg, ok := parseLine(scanner.Text())
		if ok {
			stats.Add(avg)
		}
	}
	if err := scanner.Err(); err != nil {
		return Report{}, err
	}

	if stats.Len() == 0 {
		return Report{}, ErrNoSamples
	}

	res := stats.Result()
	return Report{
		Clients: stats.Len(),
		AvgMax:  res.Max,
		AvgMin:  res.Min,
		AvgAvg:  res.Avg,
	}, nil
}

func parseLine(line string) (float64, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return 0, false
	}

	var avg float64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return 0, false
		}
		avg = v
	}
	return avg, true
}

func (r Report) WriteTo(w io.Writer) (int64, error) {
	n, err := fmt.Fprintf(w,
		"---------- STATS ----------\n"+
			"AVG MAX: %.3f ms\n"+
			"AVG MIN: %.3f ms\n"+
			"AVG AVG: %.3f ms\n",
		r.AvgMax, r.AvgMin, r.AvgAvg)
	return int64(n), err
}

// AppendReport parses the run log at path and appends its STATS block to it.
func AppendReport(path string) (Report, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0)
	if err != nil {
		return Report{}, err
	}
	defer f.Close()

	report, err := ParseReport(f)
	if err != nil {
		return report, fmt.Errorf("parse %s: %w", path, err)
	}

	if _, err := report.WriteTo(f); err != nil {
		return report, fmt.Errorf("append to %s: %w", path, err)
	}
	return report, f.Sync()
}
