package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/harness"
)

func printScenarioTable(w io.Writer, results []harness.Result) {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		verdict := "PASS"
		detail := r.Detail
		switch {
		case r.Err != nil:
			verdict = "ERROR"
			detail = r.Err.Error()
		case !r.Passed:
			verdict = "FAIL"
		}
		rows = append(rows, []string{r.Name, string(r.Expect), verdict, detail})
	}
	printTable(w, []string{"SCENARIO", "EXPECT", "RESULT", "DETAIL"}, rows)
}

func printTable(w io.Writer, headers []string, rows [][]string) {
	// Determine column widths
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = maxInt(widths[i], len(cell))
			}
		}
	}

	dashes := make([]string, len(widths))
	for i, width := range widths {
		dashes[i] = strings.Repeat("-", width)
	}
	sep := "+-" + strings.Join(dashes, "-+-") + "-+\n"

	line := func(cells []string) {
		padded := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			padded[i] = pad(cell, widths[i])
		}
		fmt.Fprintf(w, "| %s |\n", strings.Join(padded, " | "))
	}

	fmt.Fprint(w, sep)
	line(headers)
	fmt.Fprint(w, sep)
	for _, row := range rows {
		line(row)
	}
	fmt.Fprint(w, sep)
}

func pad(s string, w int) string {
	if len(s) >= w {
		return s
	}
	return s + strings.Repeat(" ", w-len(s))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
