package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/newscorpus/internal/allocator"
	"github.com/JakeFAU/newscorpus/internal/feed"
	"github.com/JakeFAU/newscorpus/internal/harvest"
	"github.com/JakeFAU/newscorpus/internal/output"
)

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	return t
}

func renderCollect(w io.Writer, report feed.Report) {
	t := newTable(w, "Collection")
	t.AppendHeader(table.Row{"Category", "New", "Duplicate", "Skipped", "Error"})
	for _, fr := range report.Feeds {
		errText := ""
		if fr.Err != nil {
			errText = fr.Err.Error()
		}
		t.AppendRow(table.Row{fr.Category, fr.New, fr.Duplicate, fr.Skipped, errText})
	}
	t.AppendFooter(table.Row{"Total", report.New, report.Duplicate, report.Skipped, fmt.Sprintf("%d failed", report.Failed)})
	t.Render()
}

func renderCrawl(w io.Writer, report allocator.Report) {
	t := newTable(w, "Crawl")
	t.AppendHeader(table.Row{"Category", "Train", "Test", "Candidates", "Attempted", "Accepted", "Failures", "State"})
	for _, cr := range report.Categories {
		state := "ok"
		if cr.Shortfall() {
			state = "shortfall"
		}
		t.AppendRow(table.Row{
			cr.Category,
			fmt.Sprintf("%d/%d", cr.Train.Filled, cr.Train.Quota),
			fmt.Sprintf("%d/%d", cr.Test.Filled, cr.Test.Quota),
			cr.Candidates,
			cr.Attempted,
			cr.Accepted,
			formatFailures(cr.Failures),
			state,
		})
	}
	t.AppendFooter(table.Row{"Total", "", "", "", "", report.Accepted(), "", ""})
	t.Render()
}

func formatFailures(failures map[harvest.FailureReason]int) string {
	if len(failures) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(failures))
	for reason, n := range failures {
		parts = append(parts, fmt.Sprintf("%s=%d", reason, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func renderStoreStats(w io.Writer, stats harvest.Stats, categories []harvest.Category) {
	t := newTable(w, "Record store")
	t.AppendHeader(table.Row{"Category", "Total", "Pending", "Attempted", "Used"})
	for _, category := range categories {
		cs := stats.ByCategory[category]
		t.AppendRow(table.Row{category, cs.Total, cs.Pending, cs.Attempted, cs.Used})
	}
	t.AppendFooter(table.Row{"Total", stats.Total, stats.Pending, stats.Attempted, stats.Used})
	t.Render()
}

func renderDatasetStats(w io.Writer, dataset output.DatasetStats, categories []harvest.Category) {
	t := newTable(w, "Dataset")
	t.AppendHeader(table.Row{"Category", "Train", "Test"})
	for _, category := range categories {
		t.AppendRow(table.Row{
			category,
			dataset[harvest.SplitTrain][category],
			dataset[harvest.SplitTest][category],
		})
	}
	t.AppendFooter(table.Row{"Total", sumSplit(dataset, harvest.SplitTrain), sumSplit(dataset, harvest.SplitTest)})
	t.Render()
}

func sumSplit(dataset output.DatasetStats, split harvest.Split) int {
	total := 0
	for _, n := range dataset[split] {
		total += n
	}
	return total
}
