package tui

import (
	"fmt"
	"strconv"
	"strings"

	"swallow/internal/processor"
)

type Tone int

const (
	ToneNeutral Tone = iota
	ToneGood
	ToneWarn
	ToneBad
)

type SummaryRow struct {
	Label string
	Value string
	Tone  Tone
}

func RenderSummary(rows []SummaryRow) string {
	labelWidth := 0
	valueWidth := 0
	for _, row := range rows {
		if len(row.Label) > labelWidth {
			labelWidth = len(row.Label)
		}
		if len(row.Value) > valueWidth {
			valueWidth = len(row.Value)
		}
	}

	hline := strings.Repeat("-", labelWidth+valueWidth+3)
	lines := []string{hline}

	for _, row := range rows {
		label := padRight(row.Label, labelWidth)
		value := padRight(row.Value, valueWidth)
		line := fmt.Sprintf("%s | %s", labelStyle.Render(label), toneStyles[row.Tone].Render(value))
		lines = append(lines, line)
	}

	lines = append(lines, hline)
	return strings.Join(lines, "\n")
}

// RunRows describes the summary of one pipeline run.
func RunRows(pipeline string, s processor.Summary, dryRun bool) []SummaryRow {
	mode := "import"
	if dryRun {
		mode = "dry run"
	}
	rows := []SummaryRow{
		{Label: "Pipeline", Value: pipeline},
		{Label: "Mode", Value: mode},
		{Label: "Discovered", Value: strconv.Itoa(s.Discovered)},
		{Label: "Done", Value: strconv.Itoa(s.Done), Tone: ToneGood},
		{Label: "Errors", Value: strconv.Itoa(s.Errors), Tone: countTone(s.Errors, ToneBad)},
		{Label: "Postponed", Value: strconv.Itoa(s.Postponed), Tone: countTone(s.Postponed, ToneWarn)},
		{Label: "Skipped", Value: strconv.Itoa(s.Skipped)},
		{Label: "Swept", Value: strconv.Itoa(s.Swept)},
	}
	if s.Invalid > 0 {
		rows = append(rows, SummaryRow{Label: "Invalid names", Value: strconv.Itoa(s.Invalid), Tone: ToneBad})
	}
	if s.Duplicates > 0 {
		rows = append(rows, SummaryRow{Label: "Duplicates", Value: strconv.Itoa(s.Duplicates), Tone: ToneWarn})
	}
	if s.Stopped {
		rows = append(rows, SummaryRow{Label: "Stopped", Value: "yes", Tone: ToneWarn})
	}
	return rows
}

func countTone(n int, tone Tone) Tone {
	if n == 0 {
		return ToneNeutral
	}
	return tone
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
