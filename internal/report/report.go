// Package report renders the static versus adaptive comparison of a run.
package report

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jmylchreest/vidpace/internal/models"
	"github.com/jmylchreest/vidpace/pkg/format"
)

// Group aggregates the streams of one kind. Latency and jitter are means
// weighted by frames pushed.
type Group struct {
	Streams        int           `json:"streams"`
	FramesPushed   uint64        `json:"frames_pushed"`
	MeanLatency    time.Duration `json:"mean_latency"`
	MeanJitter     time.Duration `json:"mean_jitter"`
	MeanBitrate    int           `json:"mean_final_bitrate_kbps"`
	BitrateChanges int           `json:"bitrate_changes"`
}

// Report compares static streams against adaptive ones.
type Report struct {
	Rows     []models.StreamResult `json:"rows"`
	Static   Group                 `json:"static"`
	Adaptive Group                 `json:"adaptive"`
}

// New builds a report from results. Rows are ordered static first, then by
// stream name.
func New(results []models.StreamResult) Report {
	rows := slices.Clone(results)
	slices.SortFunc(rows, func(a, b models.StreamResult) int {
		if a.Adaptive != b.Adaptive {
			if a.Adaptive {
				return 1
			}
			return -1
		}
		return strings.Compare(a.StreamName, b.StreamName)
	})

	var static, adaptive []models.StreamResult
	for _, r := range rows {
		if r.Adaptive {
			adaptive = append(adaptive, r)
		} else {
			static = append(static, r)
		}
	}
	return Report{Rows: rows, Static: aggregate(static), Adaptive: aggregate(adaptive)}
}

func aggregate(rows []models.StreamResult) Group {
	g := Group{Streams: len(rows)}
	if len(rows) == 0 {
		return g
	}

	var latency, jitter float64
	var bitrate int
	for _, r := range rows {
		g.FramesPushed += r.FramesPushed
		g.BitrateChanges += r.BitrateChanges
		bitrate += r.FinalBitrate
	}
	for _, r := range rows {
		w := 1 / float64(len(rows))
		if g.FramesPushed > 0 {
			w = float64(r.FramesPushed) / float64(g.FramesPushed)
		}
		latency += float64(r.MeanLatency) * w
		jitter += float64(r.MeanJitter) * w
	}
	g.MeanLatency = time.Duration(latency)
	g.MeanJitter = time.Duration(jitter)
	g.MeanBitrate = bitrate / len(rows)
	return g
}

// Comparable reports whether both kinds of stream are present.
func (r Report) Comparable() bool {
	return r.Static.Streams > 0 && r.Adaptive.Streams > 0
}

// Write renders the per-stream table followed by the group summary.
func (r Report) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "STREAM\tMODE\tFRAMES\tMEAN LATENCY\tMEAN JITTER\tINITIAL\tFINAL\tCHANGES")
	for _, row := range r.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			row.StreamName,
			mode(row.Adaptive),
			format.Number(int64(row.FramesPushed)),
			format.Millis(row.MeanLatency),
			format.Millis(row.MeanJitter),
			format.Bitrate(row.InitialBitrate),
			format.Bitrate(row.FinalBitrate),
			row.BitrateChanges,
		)
	}

	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "GROUP\tSTREAMS\tFRAMES\tMEAN LATENCY\tMEAN JITTER\tMEAN FINAL\tCHANGES")
	for _, g := range []struct {
		name string
		g    Group
	}{{"static", r.Static}, {"adaptive", r.Adaptive}} {
		if g.g.Streams == 0 {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%d\n",
			g.name,
			g.g.Streams,
			format.Number(int64(g.g.FramesPushed)),
			format.Millis(g.g.MeanLatency),
			format.Millis(g.g.MeanJitter),
			format.Bitrate(g.g.MeanBitrate),
			g.g.BitrateChanges,
		)
	}

	if r.Comparable() {
		fmt.Fprintf(tw, "\nadaptive vs static: latency %s, jitter %s\n",
			format.Change(float64(r.Static.MeanLatency), float64(r.Adaptive.MeanLatency)),
			format.Change(float64(r.Static.MeanJitter), float64(r.Adaptive.MeanJitter)),
		)
	}
	return tw.Flush()
}

func mode(adaptive bool) string {
	if adaptive {
		return "adaptive"
	}
	return "static"
}
