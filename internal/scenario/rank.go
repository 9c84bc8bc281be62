package scenario

import (
	"sort"

	"strategylab/internal/stats"
)

// rankedMetrics are the metrics a comparison ranks on.
var rankedMetrics = []string{
	"total_pnl_percent",
	"sharpe_ratio",
	"sortino_ratio",
	"win_rate",
	"profit_factor",
	"calmar_ratio",
	"max_drawdown_percent",
}

// Named pairs a variant name with its metrics.
type Named struct {
	Name    string
	Metrics stats.Metrics
}

// RankResults orders variants best-first on each metric independently and
// blends the orders into a mean rank (1 = best). Ties keep input order.
func RankResults(variants []Named) (map[string][]string, []BlendedRank) {
	rankings := make(map[string][]string, len(rankedMetrics))
	sum := make([]float64, len(variants))

	for _, metric := range rankedMetrics {
		idx := make([]int, len(variants))
		scores := make([]float64, len(variants))
		for i, v := range variants {
			idx[i] = i
			scores[i], _ = Score(v.Metrics, metric)
		}
		sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })

		order := make([]string, len(idx))
		for rank, i := range idx {
			order[rank] = variants[i].Name
			sum[i] += float64(rank + 1)
		}
		rankings[metric] = order
	}

	blended := make([]BlendedRank, len(variants))
	for i, v := range variants {
		blended[i] = BlendedRank{Name: v.Name, MeanRank: sum[i] / float64(len(rankedMetrics))}
	}
	sort.SliceStable(blended, func(a, b int) bool { return blended[a].MeanRank < blended[b].MeanRank })
	return rankings, blended
}
