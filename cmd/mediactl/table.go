package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/romariotrain/vod-pipeline/internal/media/models"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

var statusOrder = []models.Status{
	models.DraftStatus,
	models.ProcessingStatus,
	models.ReadyStatus,
	models.FailedStatus,
}

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render() + "\n"
}

// buildStatusRows lists non-zero counts in lifecycle order followed by a total.
func buildStatusRows(stats map[models.Status]int) [][]string {
	var rows [][]string
	total := 0
	for _, s := range statusOrder {
		if n := stats[s]; n > 0 {
			rows = append(rows, []string{string(s), strconv.Itoa(n)})
			total += n
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return append(rows, []string{"TOTAL", strconv.Itoa(total)})
}

func itemRows(item *models.ContentItem) [][]string {
	rows := [][]string{
		{"ID", item.ID.String()},
		{"Kind", string(item.Kind)},
		{"Status", string(item.Status)},
		{"Raw asset", item.RawAssetRef},
		{"Attempts", strconv.Itoa(item.Attempts)},
	}
	if item.Status == models.ProcessingStatus {
		rows = append(rows, []string{"Progress", strconv.Itoa(item.Progress) + "%"})
	}
	if item.DerivativeAssetRef != "" {
		rows = append(rows,
			[]string{"Derivative", item.DerivativeAssetRef},
			[]string{"Duration", (time.Duration(item.DurationSeconds * float64(time.Second))).Round(time.Second).String()},
			[]string{"Size", fmt.Sprintf("%d bytes", item.SizeBytes)},
		)
	}
	if item.SubtitleAssetRef != "" {
		rows = append(rows, []string{"Subtitles", item.SubtitleAssetRef})
	}
	if item.LastError != "" {
		rows = append(rows, []string{"Last error", item.LastError})
	}
	return append(rows,
		[]string{"Created", item.CreatedAt.UTC().Format(time.RFC3339)},
		[]string{"Updated", item.UpdatedAt.UTC().Format(time.RFC3339)},
	)
}

func renderItem(item *models.ContentItem) string {
	return renderTable([]string{"Field", "Value"}, itemRows(item), nil)
}
