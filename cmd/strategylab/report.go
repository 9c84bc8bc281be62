package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"strategylab/internal/scenario"
	"strategylab/internal/stats"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4")).Padding(0, 1)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(26)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	gainStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8")).Padding(0, 1)
)

// signed colors v green when positive and red when negative.
func signed(v float64, format string) string {
	s := fmt.Sprintf(format, v)
	switch {
	case v > 0:
		return gainStyle.Render(s)
	case v < 0:
		return lossStyle.Render(s)
	}
	return valueStyle.Render(s)
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

func metricsBlock(m stats.Metrics) string {
	rows := []string{
		row("Trades", valueStyle.Render(fmt.Sprintf("%d (%d won / %d lost)", m.TotalTrades, m.WinningTrades, m.LosingTrades))),
		row("Win rate", valueStyle.Render(fmt.Sprintf("%.1f%%", m.WinRate*100))),
		row("Total P&L", signed(m.TotalPnL, "%.2f")+dimStyle.Render(" (")+signed(m.TotalPnLPercent, "%.2f%%")+dimStyle.Render(")")),
		row("Balance", valueStyle.Render(fmt.Sprintf("%.2f -> %.2f (peak %.2f)", m.StartBalance, m.EndBalance, m.PeakBalance))),
		row("Max drawdown", lossStyle.Render(fmt.Sprintf("%.2f (%.2f%%)", m.MaxDrawdown, m.MaxDrawdownPercent))),
		row("Sharpe / Sortino", valueStyle.Render(fmt.Sprintf("%.3f / %.3f", m.SharpeRatio, m.SortinoRatio))),
		row("Calmar", valueStyle.Render(fmt.Sprintf("%.3f", m.CalmarRatio))),
		row("Annual return", signed(m.AnnualReturnPercent, "%.2f%%")),
		row("Profit factor", valueStyle.Render(fmt.Sprintf("%.3f", m.ProfitFactor))),
		row("Avg win / loss", gainStyle.Render(fmt.Sprintf("%.2f", m.AvgWin))+dimStyle.Render(" / ")+lossStyle.Render(fmt.Sprintf("%.2f", m.AvgLoss))),
		row("Avg duration", valueStyle.Render(fmt.Sprintf("%.1fh", m.AvgTradeDurationHours))),
		row("Streaks (win / loss)", valueStyle.Render(fmt.Sprintf("%d / %d", m.MaxConsecutiveWins, m.MaxConsecutiveLosses))),
		row("Commission", valueStyle.Render(fmt.Sprintf("%.4f", m.TotalCommission))),
	}
	return boxStyle.Render(strings.Join(rows, "\n"))
}

func renderRun(w io.Writer, title string, res *scenario.RunResult) {
	fmt.Fprintln(w, titleStyle.Render(title))
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("%s  %s  %s -> %s  strategy=%s",
		strings.Join(res.Config.Symbols, ","), res.Config.Interval,
		res.Config.Start.Format("2006-01-02"), res.Config.End.Format("2006-01-02"), res.Config.Strategy.Type)))
	fmt.Fprintln(w, metricsBlock(res.Metrics))

	if len(res.Report.PerSymbol) > 1 {
		fmt.Fprintln(w, headerStyle.Render("Per symbol"))
		for _, s := range res.Report.PerSymbol {
			fmt.Fprintf(w, "  %-12s %4d trades  %s  %s\n", s.Symbol, s.Trades,
				signed(s.PnL, "%10.2f"), dimStyle.Render(fmt.Sprintf("%.1f%% of total", s.ContributionPercent)))
		}
	}
	if n := len(res.Report.DrawdownPeriods); n > 0 {
		worst := res.Report.DrawdownPeriods[0]
		for _, p := range res.Report.DrawdownPeriods[1:] {
			if p.DepthPercent > worst.DepthPercent {
				worst = p
			}
		}
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("%d drawdown periods, deepest %.2f%% over %.0fh", n, worst.DepthPercent, worst.DurationHours)))
	}
	for _, warn := range res.Warnings {
		fmt.Fprintln(w, warnStyle.Render("warning: "+warn))
	}
}

func renderOptimization(w io.Writer, res *scenario.OptimizationResult, top int) {
	renderRun(w, fmt.Sprintf("Best of %d (%s by %s)", len(res.Table), res.Method, res.Metric), &res.RunResult)
	fmt.Fprintln(w, headerStyle.Render("Best params ")+valueStyle.Render(formatParams(res.BestParams)))

	cells := append([]scenario.Cell(nil), res.Table...)
	sort.SliceStable(cells, func(i, j int) bool {
		if (cells[i].Rank == 0) != (cells[j].Rank == 0) {
			return cells[j].Rank == 0
		}
		return cells[i].Rank < cells[j].Rank
	})
	if top > 0 && len(cells) > top {
		cells = cells[:top]
	}
	for _, c := range cells {
		if c.Error != "" {
			fmt.Fprintf(w, "  %4s  %-40s %s\n", "-", formatParams(c.Params), errorStyle.Render(c.Error))
			continue
		}
		fmt.Fprintf(w, "  %4d  %-40s %s\n", c.Rank, formatParams(c.Params), signed(c.Score, "%.4f"))
	}
}

func renderComparison(w io.Writer, res *scenario.ComparisonResult) {
	renderRun(w, "Best variant: "+res.Best, &res.RunResult)
	fmt.Fprintln(w, headerStyle.Render("Blended ranking"))
	for i, b := range res.Blended {
		fmt.Fprintf(w, "  %d. %-20s %s\n", i+1, b.Name, dimStyle.Render(fmt.Sprintf("mean rank %.2f", b.MeanRank)))
	}
	metrics := make([]string, 0, len(res.Rankings))
	for m := range res.Rankings {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)
	for _, m := range metrics {
		fmt.Fprintf(w, "  %-22s %s\n", dimStyle.Render(m), strings.Join(res.Rankings[m], " > "))
	}
	for _, v := range res.Variants {
		if v.Error != "" {
			fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("variant %s failed: %s", v.Name, v.Error)))
		}
	}
}

func formatParams(p map[string]float64) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, p[k])
	}
	return strings.Join(parts, " ")
}
