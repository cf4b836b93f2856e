package main

import (
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/lynN18he/reviewops/internal/oracle"
	"github.com/lynN18he/reviewops/internal/rag"
	"github.com/lynN18he/reviewops/internal/review"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// cellWidth bounds free-text columns in runes.
const cellWidth = 48

var (
	actionHeaders = []string{"Record", "Action", "Priority", "Title"}

	entryHeaders = []string{"Record", "Rating", "Risk", "Outcome", "Action", "Text"}
	entryAligns  = []columnAlignment{alignLeft, alignRight}

	sourceHeaders = []string{"#", "Source", "Distance", "Excerpt"}
	sourceAligns  = []columnAlignment{alignRight, alignLeft, alignRight}
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
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

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func actionRows(plans []review.ActionPlan) [][]string {
	rows := make([][]string, 0, len(plans))
	for _, p := range plans {
		rows = append(rows, []string{p.RecordID, string(p.Kind), string(p.Priority), oracle.Excerpt(p.Title, cellWidth)})
	}
	return rows
}

func entryRows(entries []review.Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		outcome, action := "-", "-"
		if e.Attribution != nil {
			outcome = string(e.Attribution.Outcome)
		}
		if e.Action != nil {
			action = string(e.Action.Kind) + "/" + string(e.Action.Priority)
		}
		risk := string(e.RiskLevel)
		if risk == "" {
			risk = "-"
		}
		rows = append(rows, []string{e.ID, strconv.Itoa(e.Rating), risk, outcome, action, oracle.Excerpt(e.Text, cellWidth)})
	}
	return rows
}

func sourceRows(chunks []rag.Chunk) [][]string {
	rows := make([][]string, 0, len(chunks))
	for i, c := range chunks {
		dist := "-"
		if c.HasDistance {
			dist = strconv.FormatFloat(c.Distance, 'f', 3, 64)
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), c.Source, dist, oracle.Excerpt(c.Content, cellWidth)})
	}
	return rows
}
