package analyzer

import (
	"math"
	"sort"
	"time"

	"golang-chip-analysis/internal/entity"
	"golang-chip-analysis/pkg/logger"
	"golang-chip-analysis/pkg/utils"
)

// brokerNames maps common broker codes to display names.
var brokerNames = map[string]string{
	"1160": "日盛證券",
	"1020": "合庫證券",
	"5720": "大華證券",
	"5380": "第一金證券",
	"5920": "元富證券",
	"5850": "統一證券",
	"6450": "康和證券",
	"9100": "群益證券",
	"9200": "凱基證券",
	"9600": "富邦證券",
	"9800": "元大證券",
	"9900": "國泰證券",
}

const unknownBrokerName = "未知券商"

// BrokerName resolves a broker code to its display name.
func BrokerName(code string) string {
	if name, ok := brokerNames[code]; ok {
		return name
	}
	return unknownBrokerName
}

// BrokerStat is one broker's aggregate across all branches in the input set.
type BrokerStat struct {
	BrokerCode  string `json:"broker_code"`
	BrokerName  string `json:"broker_name"`
	BuyVolume   int64  `json:"buy_volume"`
	SellVolume  int64  `json:"sell_volume"`
	BuyAmount   int64  `json:"buy_amount"`
	SellAmount  int64  `json:"sell_amount"`
	NetVolume   int64  `json:"net_volume"`
	NetAmount   int64  `json:"net_amount"`
	BranchCount int    `json:"branch_count"`
	TotalVolume int64  `json:"total_volume"`
	TotalAmount int64  `json:"total_amount"`
}

// BranchStat is one (broker, branch) aggregate in the input set.
type BranchStat struct {
	BrokerCode  string `json:"broker_code"`
	BrokerName  string `json:"broker_name"`
	BranchName  string `json:"branch_name"`
	BuyVolume   int64  `json:"buy_volume"`
	SellVolume  int64  `json:"sell_volume"`
	NetVolume   int64  `json:"net_volume"`
	NetAmount   int64  `json:"net_amount"`
	TotalVolume int64  `json:"total_volume"`
}

// Report bundles the analytical tables for one stock. Rendering to
// spreadsheets or charts is a downstream concern.
type Report struct {
	StockCode       string                  `json:"stock_code"`
	GeneratedAt     time.Time               `json:"generated_at"`
	RecordCount     int                     `json:"record_count"`
	BrokerCount     int                     `json:"broker_count"`
	BranchCount     int                     `json:"branch_count"`
	TopBuyerBroker  string                  `json:"top_buyer_broker"`
	TopSellerBroker string                  `json:"top_seller_broker"`
	TopBrokers      []BrokerStat            `json:"top_brokers"`
	ActiveBranches  []BranchStat            `json:"active_branches"`
	Anomalies       []entity.UnusualTrading `json:"anomalies"`
}

// Config holds the analysis thresholds.
type Config struct {
	TopBrokersCount int
	MinTotalVolume  int64
	StdThreshold    float64
}

// Analyzer cleans, aggregates, ranks, and flags anomalies in trade records.
type Analyzer struct {
	cfg    Config
	logger *logger.Logger
}

// New creates an analyzer with the given thresholds.
func New(cfg Config, log *logger.Logger) *Analyzer {
	if cfg.TopBrokersCount <= 0 {
		cfg.TopBrokersCount = 20
	}
	if cfg.MinTotalVolume <= 0 {
		cfg.MinTotalVolume = 1000
	}
	if cfg.StdThreshold <= 0 {
		cfg.StdThreshold = 2.0
	}
	return &Analyzer{cfg: cfg, logger: log}
}

// Clean drops rows with no activity on either side and recomputes the
// derived net fields.
func (a *Analyzer) Clean(records []entity.BrokerTrading) []entity.BrokerTrading {
	cleaned := make([]entity.BrokerTrading, 0, len(records))
	for _, rec := range records {
		if rec.BuyVolume == 0 && rec.SellVolume == 0 {
			continue
		}
		rec.ComputeNet()
		cleaned = append(cleaned, rec)
	}
	return cleaned
}

// TopBrokersByAmount groups records by broker across all branches and ranks
// by total traded amount (buy + sell) descending. Equal totals break on
// ascending broker code.
func (a *Analyzer) TopBrokersByAmount(records []entity.BrokerTrading, topN int) []BrokerStat {
	if topN <= 0 {
		topN = a.cfg.TopBrokersCount
	}

	stats := make(map[string]*BrokerStat)
	branches := make(map[string]map[string]struct{})
	for _, rec := range records {
		st, ok := stats[rec.BrokerCode]
		if !ok {
			st = &BrokerStat{BrokerCode: rec.BrokerCode, BrokerName: BrokerName(rec.BrokerCode)}
			stats[rec.BrokerCode] = st
			branches[rec.BrokerCode] = make(map[string]struct{})
		}
		st.BuyVolume += rec.BuyVolume
		st.SellVolume += rec.SellVolume
		st.BuyAmount += rec.BuyAmount
		st.SellAmount += rec.SellAmount
		st.NetVolume += rec.NetVolume
		st.NetAmount += rec.NetAmount
		branches[rec.BrokerCode][rec.BranchName] = struct{}{}
	}

	ranked := make([]BrokerStat, 0, len(stats))
	for code, st := range stats {
		st.BranchCount = len(branches[code])
		st.TotalVolume = st.BuyVolume + st.SellVolume
		st.TotalAmount = st.BuyAmount + st.SellAmount
		ranked = append(ranked, *st)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].TotalAmount != ranked[j].TotalAmount {
			return ranked[i].TotalAmount > ranked[j].TotalAmount
		}
		return ranked[i].BrokerCode < ranked[j].BrokerCode
	})

	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}

// ActiveBranches groups records by (broker, branch), drops groups whose
// total traded volume is below minTotalVolume, and ranks by net volume
// descending.
func (a *Analyzer) ActiveBranches(records []entity.BrokerTrading, minTotalVolume int64) []BranchStat {
	if minTotalVolume <= 0 {
		minTotalVolume = a.cfg.MinTotalVolume
	}

	type branchKey struct{ broker, branch string }
	stats := make(map[branchKey]*BranchStat)
	for _, rec := range records {
		key := branchKey{rec.BrokerCode, rec.BranchName}
		st, ok := stats[key]
		if !ok {
			st = &BranchStat{
				BrokerCode: rec.BrokerCode,
				BrokerName: BrokerName(rec.BrokerCode),
				BranchName: rec.BranchName,
			}
			stats[key] = st
		}
		st.BuyVolume += rec.BuyVolume
		st.SellVolume += rec.SellVolume
		st.NetVolume += rec.NetVolume
		st.NetAmount += rec.NetAmount
	}

	ranked := make([]BranchStat, 0, len(stats))
	for _, st := range stats {
		st.TotalVolume = st.BuyVolume + st.SellVolume
		if st.TotalVolume < minTotalVolume {
			continue
		}
		ranked = append(ranked, *st)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].NetVolume != ranked[j].NetVolume {
			return ranked[i].NetVolume > ranked[j].NetVolume
		}
		if ranked[i].BrokerCode != ranked[j].BrokerCode {
			return ranked[i].BrokerCode < ranked[j].BrokerCode
		}
		return ranked[i].BranchName < ranked[j].BranchName
	})
	return ranked
}

// DetectAnomalies flags records whose net volume lies strictly outside
// [mean - k*sigma, mean + k*sigma], where mean and sigma are the population
// statistics of the input set. When sigma is zero nothing is flagged.
// Flagged rows are sorted by descending anomaly score.
func (a *Analyzer) DetectAnomalies(records []entity.BrokerTrading, k float64) []entity.UnusualTrading {
	if k <= 0 {
		k = a.cfg.StdThreshold
	}
	if len(records) == 0 {
		return nil
	}

	mean, sigma := netVolumeStats(records)
	if sigma == 0 {
		return nil
	}

	upper := mean + k*sigma
	lower := mean - k*sigma

	var flagged []entity.UnusualTrading
	for _, rec := range records {
		nv := float64(rec.NetVolume)
		if nv <= upper && nv >= lower {
			continue
		}
		flagged = append(flagged, entity.UnusualTrading{
			Date:         rec.Date,
			StockCode:    rec.StockCode,
			BrokerCode:   rec.BrokerCode,
			BranchName:   rec.BranchName,
			NetVolume:    rec.NetVolume,
			NetAmount:    rec.NetAmount,
			AnomalyScore: math.Abs(nv-mean) / sigma,
			AnomalyType:  entity.AnomalyTypeNetVolumeOutlier,
		})
	}

	sort.Slice(flagged, func(i, j int) bool {
		return flagged[i].AnomalyScore > flagged[j].AnomalyScore
	})

	a.logger.Info("Anomaly detection finished",
		logger.Field("records", len(records)), logger.Field("flagged", len(flagged)))
	return flagged
}

// BuildReport assembles the counts and analytical tables for one stock.
func (a *Analyzer) BuildReport(records []entity.BrokerTrading, stockCode string) *Report {
	cleaned := a.Clean(records)

	report := &Report{
		StockCode:   stockCode,
		GeneratedAt: utils.TimeNowTaipei(),
		RecordCount: len(cleaned),
	}

	brokers := make(map[string]int64)
	branches := make(map[[2]string]struct{})
	for _, rec := range cleaned {
		brokers[rec.BrokerCode] += rec.NetVolume
		branches[[2]string{rec.BrokerCode, rec.BranchName}] = struct{}{}
	}
	report.BrokerCount = len(brokers)
	report.BranchCount = len(branches)
	report.TopBuyerBroker, report.TopSellerBroker = topBuyerSeller(brokers)

	report.TopBrokers = a.TopBrokersByAmount(cleaned, a.cfg.TopBrokersCount)
	report.ActiveBranches = a.ActiveBranches(cleaned, a.cfg.MinTotalVolume)
	report.Anomalies = a.DetectAnomalies(cleaned, a.cfg.StdThreshold)

	return report
}

func netVolumeStats(records []entity.BrokerTrading) (mean, sigma float64) {
	n := float64(len(records))
	var sum float64
	for _, rec := range records {
		sum += float64(rec.NetVolume)
	}
	mean = sum / n

	var sqSum float64
	for _, rec := range records {
		d := float64(rec.NetVolume) - mean
		sqSum += d * d
	}
	sigma = math.Sqrt(sqSum / n)
	return mean, sigma
}

// topBuyerSeller picks the brokers with the largest positive and largest
// negative net volume. Ties break on ascending broker code.
func topBuyerSeller(netByBroker map[string]int64) (buyer, seller string) {
	var maxNet, minNet int64
	for code, net := range netByBroker {
		if net > 0 && (buyer == "" || net > maxNet || (net == maxNet && code < buyer)) {
			buyer, maxNet = code, net
		}
		if net < 0 && (seller == "" || net < minNet || (net == minNet && code < seller)) {
			seller, minNet = code, net
		}
	}
	return buyer, seller
}
