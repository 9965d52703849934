// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/kbtasks/internal/tasks"
	"github.com/jeranaias/kbtasks/internal/util"
)

// Column widths for the task table. The title takes what is left.
const (
	colID       = 8
	colStatus   = 9
	colType     = 5
	colProgress = 17
	colTime     = 7
	colGap      = 2
	minTitle    = 12
	barWidth    = 10
)

// typeLabel is the short type name used in tables.
func typeLabel(t tasks.Type) string {
	switch t {
	case tasks.TypeEmbedDocument:
		return "doc"
	case tasks.TypeEmbedKnowledgeBase:
		return "kb"
	case tasks.TypeCrawlWebpage:
		return "crawl"
	default:
		return string(t)
	}
}

// ProgressBar renders "[#####-----]  50%".
func ProgressBar(percent int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * barWidth / 100
	return fmt.Sprintf("[%s%s] %3d%%",
		strings.Repeat("#", filled),
		strings.Repeat("-", barWidth-filled),
		percent)
}

// =============================================================================
// TABLE
// =============================================================================

// RenderTaskTable renders list as a table fitted to width columns.
func RenderTaskTable(list []tasks.Task, width int) string {
	if len(list) == 0 {
		return DimStyle.Render("No tasks.") + "\n"
	}

	fixed := colID + colStatus + colType + colProgress + colTime + 5*colGap
	titleWidth := width - fixed
	if titleWidth < minTitle {
		titleWidth = minTitle
	}
	gap := strings.Repeat(" ", colGap)

	var b strings.Builder
	header := strings.Join([]string{
		util.PadWidth("ID", colID),
		util.PadWidth("STATUS", colStatus),
		util.PadWidth("TYPE", colType),
		util.PadWidth("PROGRESS", colProgress),
		util.PadWidth("TIME", colTime),
		"TITLE",
	}, gap)
	b.WriteString(HeaderStyle.Render(header))
	b.WriteString("\n")

	for _, t := range list {
		status := StatusStyle(t.Status).Render(util.PadWidth(string(t.Status), colStatus))
		row := strings.Join([]string{
			util.PadWidth(t.ShortID(), colID),
			status,
			util.PadWidth(typeLabel(t.Type), colType),
			util.PadWidth(ProgressBar(t.Progress), colProgress),
			util.PadWidth(util.FormatDuration(t.Duration()), colTime),
			util.TruncateWidth(t.Title, titleWidth),
		}, gap)
		b.WriteString(row)
		b.WriteString("\n")

		if t.Status == tasks.StatusFailed && t.Error != "" {
			indent := strings.Repeat(" ", colID+colGap)
			b.WriteString(indent)
			b.WriteString(ErrorStyle.Render(util.TruncateWidth(t.Error, width-len(indent))))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// RenderSummary renders per-status counts, skipping empty ones.
func RenderSummary(counts map[tasks.Status]int) string {
	var parts []string
	total := 0
	for _, s := range tasks.Statuses {
		n := counts[s]
		total += n
		if n == 0 {
			continue
		}
		parts = append(parts, StatusStyle(s).Render(fmt.Sprintf("%d %s", n, s)))
	}
	if total == 0 {
		return DimStyle.Render("0 tasks")
	}
	return fmt.Sprintf("%d tasks: %s", total, strings.Join(parts, ", "))
}

// =============================================================================
// DETAIL
// =============================================================================

// RenderTaskDetail renders every field of one task.
func RenderTaskDetail(t tasks.Task) string {
	var b strings.Builder
	line := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(LabelStyle.Render(label))
		b.WriteString(ValueStyle.Render(value))
		b.WriteString("\n")
	}
	stamp := func(ts *time.Time) string {
		if ts == nil {
			return ""
		}
		return ts.Local().Format(time.DateTime)
	}

	b.WriteString(TitleStyle.Render(t.Title))
	b.WriteString("\n")
	line("ID", t.ID)
	line("Type", string(t.Type))
	b.WriteString(LabelStyle.Render("Status"))
	b.WriteString(StatusStyle(t.Status).Render(string(t.Status)))
	b.WriteString("\n")
	line("Progress", ProgressBar(t.Progress))
	if pd := t.ProgressData; pd != nil {
		if pd.Total > 0 {
			line("Units", fmt.Sprintf("%d/%d", pd.Current, pd.Total))
		}
		if pd.ETA > 0 {
			line("ETA", util.FormatDuration(time.Duration(pd.ETA*float64(time.Second))))
		}
		if pd.RetryCount > 0 {
			line("Retries", fmt.Sprintf("%d/%d", pd.RetryCount, pd.MaxRetries))
		}
	}
	line("Remote job", t.JobID)
	line("Created", t.CreatedAt.Local().Format(time.DateTime))
	line("Started", stamp(t.StartedAt))
	line("Finished", stamp(t.CompletedAt))
	if d := t.Duration(); d > 0 {
		line("Duration", util.FormatDuration(d))
	}
	for _, kv := range payloadFields(t.Data) {
		line(kv[0], kv[1])
	}
	if t.Error != "" {
		b.WriteString(LabelStyle.Render("Error"))
		b.WriteString(ErrorStyle.Render(t.Error))
		b.WriteString("\n")
	}
	return b.String()
}

// payloadFields lists the set fields of a payload as label/value pairs.
func payloadFields(data tasks.Data) [][2]string {
	var out [][2]string
	add := func(label, value string) {
		if value != "" {
			out = append(out, [2]string{label, value})
		}
	}
	switch d := data.(type) {
	case tasks.EmbedDocumentData:
		add("Document", d.DocumentID)
		add("Operator", d.OperatorID)
	case tasks.EmbedKnowledgeBaseData:
		add("KB", d.KnowledgeBaseID)
		add("Operator", d.OperatorID)
	case tasks.CrawlWebpageData:
		d = d.WithDefaults()
		add("URL", d.URL)
		add("KB", d.KnowledgeBaseID)
		add("Mode", d.Mode)
		add("Limits", fmt.Sprintf("depth %d, pages %d", d.MaxDepth, d.MaxPages))
		add("Label", d.SourceLabel)
		add("Operator", d.OperatorID)
	}
	return out
}
