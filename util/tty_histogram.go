package util

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

var reportPercentiles = []float64{50, 75, 90, 95, 99, 99.9}

type TtyHistOpts struct {
	Name  string
	Scale string

	// MinPct hides the bins holding less than this percentage of samples.
	MinPct float64

	Min       int64
	Max       int64
	Precision int

	Writer io.Writer
}

// TtyHist prints a latency histogram in a terminal friendly layout:
// a summary, a few percentiles and one bar per populated bin.
type TtyHist struct {
	opts TtyHistOpts

	hdr *hdrhistogram.Histogram
	n   int
}

func NewTtyHist(opts TtyHistOpts) *TtyHist {
	return &TtyHist{
		opts: opts,
		hdr:  hdrhistogram.New(opts.Min, opts.Max, opts.Precision),
	}
}

func (h *TtyHist) Add(xs ...int64) {
	for _, x := range xs {
		_ = h.hdr.RecordValue(x)
	}
}

// Merge adds every sample of other. Samples out of the range of h are
// dropped and counted in the returned value.
func (h *TtyHist) Merge(other *hdrhistogram.Histogram) int64 {
	return h.hdr.Merge(other)
}

func (h *TtyHist) Count() int64 {
	return h.hdr.TotalCount()
}

// Reported returns the number of reports written so far.
func (h *TtyHist) Reported() int {
	return h.n
}

// Report writes the samples added since the last report and clears them.
// Nothing is written when there is no sample.
func (h *TtyHist) Report() {
	if h.opts.Writer == nil || h.hdr.TotalCount() == 0 {
		return
	}

	h.n++
	h.report(h.opts.Writer)
	h.hdr.Reset()
}

func (h *TtyHist) report(w io.Writer) {
	scale := h.opts.Scale

	fmt.Fprint(w, strings.Repeat("-", 46)+"\n")
	fmt.Fprintf(w,
		"%v histogram report=%d name=%s samples=%d scale=%s\n\n",
		time.Now().Format("2006-01-02 15:04:05"),
		h.n, h.opts.Name, h.hdr.TotalCount(), scale,
	)
	fmt.Fprintf(w,
		"summary min/avg/max/stddev = %d/%.3f/%d/%.3f %s\n",
		h.hdr.Min(), h.hdr.Mean(), h.hdr.Max(), h.hdr.StdDev(), scale)
	for _, p := range reportPercentiles {
		fmt.Fprintf(w, "p%g=%d %s\n", p, h.hdr.ValueAtPercentile(p), scale)
	}
	fmt.Fprintln(w)

	total := float64(h.hdr.TotalCount())

	var bins []hdrhistogram.Bar
	var minCount, maxCount int64 = math.MaxInt64, math.MinInt64
	for _, bin := range h.hdr.Distribution() {
		if float64(bin.Count)*100.0/total < h.opts.MinPct || bin.Count == 0 {
			continue
		}
		bins = append(bins, bin)
		minCount = min(minCount, bin.Count)
		maxCount = max(maxCount, bin.Count)
	}

	tabw := tabwriter.NewWriter(w, 2, 2, 2, ' ', 0)
	for _, bin := range bins {
		bar := 1
		if maxCount != minCount {
			fraction := float64(bin.Count-minCount) / float64(maxCount-minCount)
			bar = max(1, int(math.Ceil(fraction*10)))
		}

		to := bin.To
		if bin.From == to {
			to++
		}

		fmt.Fprintf(tabw,
			"%d-%d %s\t%.3g%%\t%s\t%s\n",
			bin.From, to, scale,
			float64(bin.Count)*100.0/total,
			strings.Repeat("|", bar),
			strconv.FormatInt(bin.Count, 10),
		)
	}
	_ = tabw.Flush()
}
