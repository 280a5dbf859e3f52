package analyzer

import (
	"testing"

	"golang-chip-analysis/internal/entity"
	"golang-chip-analysis/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAnalyzer() *Analyzer {
	return New(Config{}, &logger.Logger{Logger: zap.NewNop()})
}

func recordsWithNetVolumes(netVolumes ...int64) []entity.BrokerTrading {
	records := make([]entity.BrokerTrading, 0, len(netVolumes))
	for i, nv := range netVolumes {
		rec := entity.BrokerTrading{
			Date:       "2025-06-16",
			StockCode:  "2330",
			BrokerCode: "9800",
			BranchName: string(rune('A' + i)),
			BuyVolume:  nv + 1000,
			SellVolume: 1000,
			BuyAmount:  (nv + 1000) * 100,
			SellAmount: 1000 * 100,
		}
		rec.ComputeNet()
		records = append(records, rec)
	}
	return records
}

func TestClean(t *testing.T) {
	a := newTestAnalyzer()

	records := []entity.BrokerTrading{
		{BrokerCode: "9800", BranchName: "A", BuyVolume: 100, SellVolume: 40},
		{BrokerCode: "9600", BranchName: "B", BuyVolume: 0, SellVolume: 0},
		{BrokerCode: "9900", BranchName: "C", BuyVolume: 0, SellVolume: 300, BuyAmount: 0, SellAmount: 900},
	}

	cleaned := a.Clean(records)
	require.Len(t, cleaned, 2)
	assert.Equal(t, int64(60), cleaned[0].NetVolume)
	assert.Equal(t, int64(-300), cleaned[1].NetVolume)
	assert.Equal(t, int64(-900), cleaned[1].NetAmount)
}

func TestDetectAnomaliesBoundaryIsStrict(t *testing.T) {
	a := newTestAnalyzer()

	// mean=28, population sigma=36; upper threshold is exactly 100, and the
	// boundary value must not be flagged.
	records := recordsWithNetVolumes(10, 10, 10, 10, 100)
	flagged := a.DetectAnomalies(records, 2.0)
	assert.Empty(t, flagged)
}

func TestDetectAnomaliesFlagsOutlier(t *testing.T) {
	a := newTestAnalyzer()

	// mean=109, population sigma=297; 1000 is exactly 3 sigma out.
	records := recordsWithNetVolumes(10, 10, 10, 10, 10, 10, 10, 10, 10, 1000)
	flagged := a.DetectAnomalies(records, 2.0)

	require.Len(t, flagged, 1)
	assert.Equal(t, int64(1000), flagged[0].NetVolume)
	assert.InDelta(t, 3.0, flagged[0].AnomalyScore, 1e-9)
	assert.Equal(t, entity.AnomalyTypeNetVolumeOutlier, flagged[0].AnomalyType)
}

func TestDetectAnomaliesSortedByScore(t *testing.T) {
	a := newTestAnalyzer()

	records := recordsWithNetVolumes(10, 10, 10, 10, 10, 10, 10, 10, -2000, 1000)
	flagged := a.DetectAnomalies(records, 1.0)

	require.NotEmpty(t, flagged)
	for i := 1; i < len(flagged); i++ {
		assert.GreaterOrEqual(t, flagged[i-1].AnomalyScore, flagged[i].AnomalyScore)
	}
	assert.Equal(t, int64(-2000), flagged[0].NetVolume)
}

func TestDetectAnomaliesZeroVariance(t *testing.T) {
	a := newTestAnalyzer()

	records := recordsWithNetVolumes(50, 50, 50)
	assert.Empty(t, a.DetectAnomalies(records, 2.0))
	assert.Empty(t, a.DetectAnomalies(records, 0.1))
	assert.Empty(t, a.DetectAnomalies(nil, 2.0))
}

func TestTopBrokersByAmount(t *testing.T) {
	a := newTestAnalyzer()

	records := []entity.BrokerTrading{
		{BrokerCode: "9800", BranchName: "總公司", BuyVolume: 100, SellVolume: 50, BuyAmount: 5000, SellAmount: 2000},
		{BrokerCode: "9800", BranchName: "台北", BuyVolume: 200, SellVolume: 100, BuyAmount: 8000, SellAmount: 3000},
		{BrokerCode: "9600", BranchName: "總公司", BuyVolume: 50, SellVolume: 20, BuyAmount: 2000, SellAmount: 500},
	}
	for i := range records {
		records[i].ComputeNet()
	}

	ranked := a.TopBrokersByAmount(records, 10)
	require.Len(t, ranked, 2)

	assert.Equal(t, "9800", ranked[0].BrokerCode)
	assert.Equal(t, "元大證券", ranked[0].BrokerName)
	assert.Equal(t, int64(18000), ranked[0].TotalAmount)
	assert.Equal(t, 2, ranked[0].BranchCount)
	assert.Equal(t, int64(150), ranked[0].NetVolume)

	assert.Equal(t, "9600", ranked[1].BrokerCode)
	assert.Equal(t, int64(2500), ranked[1].TotalAmount)
}

func TestTopBrokersByAmountTieBreak(t *testing.T) {
	a := newTestAnalyzer()

	// Identical total traded amounts must rank by ascending broker code.
	records := []entity.BrokerTrading{
		{BrokerCode: "9900", BranchName: "A", BuyVolume: 10, SellVolume: 5, BuyAmount: 700, SellAmount: 300},
		{BrokerCode: "1160", BranchName: "B", BuyVolume: 10, SellVolume: 5, BuyAmount: 600, SellAmount: 400},
		{BrokerCode: "5850", BranchName: "C", BuyVolume: 10, SellVolume: 5, BuyAmount: 500, SellAmount: 500},
	}

	ranked := a.TopBrokersByAmount(records, 10)
	require.Len(t, ranked, 3)
	assert.Equal(t, "1160", ranked[0].BrokerCode)
	assert.Equal(t, "5850", ranked[1].BrokerCode)
	assert.Equal(t, "9900", ranked[2].BrokerCode)
}

func TestTopBrokersByAmountTruncates(t *testing.T) {
	a := newTestAnalyzer()

	var records []entity.BrokerTrading
	for i := 0; i < 5; i++ {
		records = append(records, entity.BrokerTrading{
			BrokerCode: string(rune('1' + i)),
			BranchName: "A",
			BuyVolume:  int64(10 * (i + 1)),
			BuyAmount:  int64(1000 * (i + 1)),
		})
	}

	ranked := a.TopBrokersByAmount(records, 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, "5", ranked[0].BrokerCode)
}

func TestActiveBranches(t *testing.T) {
	a := newTestAnalyzer()

	records := []entity.BrokerTrading{
		{BrokerCode: "9800", BranchName: "總公司", BuyVolume: 5000, SellVolume: 1000},
		{BrokerCode: "9800", BranchName: "台北", BuyVolume: 300, SellVolume: 200},
		{BrokerCode: "9600", BranchName: "新竹", BuyVolume: 2000, SellVolume: 4000},
	}
	for i := range records {
		records[i].ComputeNet()
	}

	ranked := a.ActiveBranches(records, 1000)
	require.Len(t, ranked, 2)

	// Ranked by net volume descending; the small branch is filtered out.
	assert.Equal(t, "總公司", ranked[0].BranchName)
	assert.Equal(t, int64(4000), ranked[0].NetVolume)
	assert.Equal(t, "新竹", ranked[1].BranchName)
	assert.Equal(t, int64(-2000), ranked[1].NetVolume)
}

func TestBuildReport(t *testing.T) {
	a := newTestAnalyzer()

	records := []entity.BrokerTrading{
		{Date: "2025-06-16", StockCode: "2330", BrokerCode: "9800", BranchName: "總公司", BuyVolume: 5000, SellVolume: 1000, BuyAmount: 500000, SellAmount: 100000},
		{Date: "2025-06-16", StockCode: "2330", BrokerCode: "9800", BranchName: "台北", BuyVolume: 2000, SellVolume: 500, BuyAmount: 200000, SellAmount: 50000},
		{Date: "2025-06-16", StockCode: "2330", BrokerCode: "9600", BranchName: "新竹", BuyVolume: 1000, SellVolume: 6000, BuyAmount: 100000, SellAmount: 600000},
		{Date: "2025-06-16", StockCode: "2330", BrokerCode: "9900", BranchName: "台中", BuyVolume: 0, SellVolume: 0},
	}

	report := a.BuildReport(records, "2330")
	require.NotNil(t, report)

	assert.Equal(t, "2330", report.StockCode)
	assert.Equal(t, 3, report.RecordCount)
	assert.Equal(t, 2, report.BrokerCount)
	assert.Equal(t, 3, report.BranchCount)
	assert.Equal(t, "9800", report.TopBuyerBroker)
	assert.Equal(t, "9600", report.TopSellerBroker)
	assert.NotEmpty(t, report.TopBrokers)
	assert.NotEmpty(t, report.ActiveBranches)
}
