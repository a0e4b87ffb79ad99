package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/CTAG07/charkov/pkg/corpus"
	"github.com/CTAG07/charkov/pkg/markov"
)

const columnGap = "  "

type windowRow struct {
	window string
	total  int
	next   int
	top    markov.CharCount
}

// writeStatsTable prints the model summary and the limit windows with the
// most observed transitions, busiest first.
func writeStatsTable(w io.Writer, model *markov.Model, limit int) error {
	stats := model.Stats()
	_, err := fmt.Fprintf(w, "window length: %d\nwindows: %d\ntransitions: %d\ntotal frequency: %d\nalphabet: %d\n\n",
		stats.WindowLength, stats.Windows, stats.Transitions, stats.TotalFrequency, stats.Alphabet)
	if err != nil {
		return err
	}

	rows := make([]windowRow, 0, stats.Windows)
	for _, window := range model.Windows() {
		table, _ := model.Table(window)
		row := windowRow{window: window, total: table.Total(), next: table.Len()}
		for _, e := range table.Entries() {
			if e.Count > row.top.Count {
				row.top = e
			}
		}
		rows = append(rows, row)
	}
	// Windows() is sorted, so ties stay in window order.
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].total > rows[j].total })
	if limit >= 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	cells := [][]string{{"WINDOW", "TOTAL", "NEXT", "TOP"}}
	for _, row := range rows {
		cells = append(cells, []string{
			displayText(row.window),
			strconv.Itoa(row.total),
			strconv.Itoa(row.next),
			row.top.String(),
		})
	}
	return writeAligned(w, cells)
}

func writeCorpusTable(w io.Writer, infos []corpus.Info) error {
	cells := [][]string{{"NAME", "RUNES", "BYTES", "CREATED", "ID"}}
	for _, info := range infos {
		cells = append(cells, []string{
			info.Name,
			strconv.Itoa(info.Runes),
			strconv.Itoa(info.Bytes),
			info.CreatedAt.Format("2006-01-02 15:04:05"),
			info.ID,
		})
	}
	return writeAligned(w, cells)
}

// writeAligned pads every column to its widest cell measured in terminal
// cells, so wide characters in windows line up.
func writeAligned(w io.Writer, cells [][]string) error {
	var widths []int
	for _, row := range cells {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	var sb strings.Builder
	for _, row := range cells {
		for i, cell := range row {
			if i == len(row)-1 {
				sb.WriteString(cell)
				break
			}
			sb.WriteString(runewidth.FillRight(cell, widths[i]))
			sb.WriteString(columnGap)
		}
		sb.WriteByte('\n')
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// displayText escapes control and other non-graphic characters.
func displayText(s string) string {
	quoted := strconv.QuoteToGraphic(s)
	return quoted[1 : len(quoted)-1]
}
