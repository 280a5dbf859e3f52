package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang-chip-analysis/internal/entity"
	"golang-chip-analysis/pkg/logger"
	"golang-chip-analysis/pkg/utils"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL   = "https://www.twse.com.tw/exchangeReport/BFIAMU"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	statOK = "OK"
)

// expectedFields is the column contract with the exchange API. The payload
// maps rows positionally, so a reordering upstream must fail parsing rather
// than silently swap columns.
var expectedFields = []string{"券商", "分點", "買進股數", "賣出股數", "買進金額", "賣出金額"}

// Config holds the collector settings.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	RequestDelay time.Duration
	CacheTTL     time.Duration
}

// Collector fetches per-broker, per-branch trade detail from the exchange.
type Collector struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	cache   *gocache.Cache
	logger  *logger.Logger
}

// New creates a collector. RequestDelay is the minimum spacing between any
// two requests issued through this collector.
func New(cfg Config, log *logger.Logger) *Collector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestDelay <= 0 {
		cfg.RequestDelay = time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	return &Collector{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(cfg.RequestDelay), 1),
		cache:   gocache.New(cfg.CacheTTL, cfg.CacheTTL),
		logger:  log,
	}
}

// apiResponse is the raw tabular payload returned by the exchange.
type apiResponse struct {
	Stat   string              `json:"stat"`
	Fields []string            `json:"fields"`
	Data   [][]json.RawMessage `json:"data"`
}

// Fetch retrieves broker-branch trade detail for one stock on one date.
// A zero date means today in the exchange's timezone. A well-formed response
// with no rows (non-trading day, no broker activity) returns (nil, nil).
func (c *Collector) Fetch(ctx context.Context, stockCode string, date time.Time) ([]entity.BrokerTrading, error) {
	if strings.TrimSpace(stockCode) == "" {
		return nil, &ParseError{StockCode: stockCode, Reason: "empty stock code"}
	}
	if date.IsZero() {
		date = utils.TimeNowTaipei()
	}
	dateStr := date.Format(utils.DateLayout)
	compact := date.Format(utils.CompactDateLayout)

	cacheKey := stockCode + "|" + compact
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached.([]entity.BrokerTrading), nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &NetworkError{StockCode: stockCode, Date: dateStr, Err: err}
	}

	query := url.Values{}
	query.Set("response", "json")
	query.Set("date", compact)
	query.Set("stockNo", stockCode)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, &NetworkError{StockCode: stockCode, Date: dateStr, Err: err}
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	c.logger.Info("Fetching broker trade detail",
		logger.Field("stock_code", stockCode), logger.Field("date", dateStr))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &NetworkError{StockCode: stockCode, Date: dateStr, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NetworkError{StockCode: stockCode, Date: dateStr, StatusCode: resp.StatusCode}
	}

	var payload apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &ParseError{StockCode: stockCode, Date: dateStr, Reason: "malformed JSON body", Err: err}
	}

	if payload.Stat != statOK {
		c.logger.Info("No broker data available",
			logger.Field("stock_code", stockCode), logger.Field("date", dateStr),
			logger.Field("stat", payload.Stat))
		return nil, nil
	}
	if len(payload.Data) == 0 {
		return nil, nil
	}

	records, err := parseRows(stockCode, dateStr, payload)
	if err != nil {
		return nil, err
	}

	c.cache.Set(cacheKey, records, gocache.DefaultExpiration)
	return records, nil
}

// FetchBatch collects all trading-day records in the inclusive [startDate,
// endDate] range for every stock code, keyed by stock code. Weekends are
// skipped entirely. A date with no data contributes no rows; a per-date fetch
// failure is logged and skipped rather than aborting the batch. Only context
// cancellation stops the run early.
func (c *Collector) FetchBatch(ctx context.Context, stockCodes []string, startDate, endDate time.Time) (map[string][]entity.BrokerTrading, error) {
	results := make(map[string][]entity.BrokerTrading)

	for _, stockCode := range stockCodes {
		for _, date := range utils.TradingDates(startDate, endDate) {
			records, err := c.Fetch(ctx, stockCode, date)
			if err != nil {
				if ctx.Err() != nil {
					return results, ctx.Err()
				}
				c.logger.Warn("Skipping failed fetch in batch",
					logger.Field("stock_code", stockCode),
					logger.Field("date", date.Format(utils.DateLayout)),
					logger.ErrorField(err))
				continue
			}
			results[stockCode] = append(results[stockCode], records...)
		}
		c.logger.Info("Batch collection finished for stock",
			logger.Field("stock_code", stockCode),
			logger.Field("records", len(results[stockCode])))
	}

	return results, nil
}

func parseRows(stockCode, dateStr string, payload apiResponse) ([]entity.BrokerTrading, error) {
	if len(payload.Fields) < len(expectedFields) {
		return nil, &ParseError{StockCode: stockCode, Date: dateStr,
			Reason: fmt.Sprintf("expected %d fields, got %d", len(expectedFields), len(payload.Fields))}
	}
	for i, want := range expectedFields {
		if payload.Fields[i] != want {
			return nil, &ParseError{StockCode: stockCode, Date: dateStr,
				Reason: fmt.Sprintf("unexpected field %q at position %d", payload.Fields[i], i)}
		}
	}

	records := make([]entity.BrokerTrading, 0, len(payload.Data))
	for i, row := range payload.Data {
		if len(row) < len(expectedFields) {
			return nil, &ParseError{StockCode: stockCode, Date: dateStr,
				Reason: fmt.Sprintf("row %d has %d cells, want %d", i, len(row), len(expectedFields))}
		}

		brokerCode, err := cellString(row[0])
		if err != nil {
			return nil, &ParseError{StockCode: stockCode, Date: dateStr, Reason: fmt.Sprintf("row %d broker code", i), Err: err}
		}
		branchName, err := cellString(row[1])
		if err != nil {
			return nil, &ParseError{StockCode: stockCode, Date: dateStr, Reason: fmt.Sprintf("row %d branch name", i), Err: err}
		}

		nums := make([]int64, 4)
		for j := 0; j < 4; j++ {
			n, err := cellInt(row[2+j])
			if err != nil {
				return nil, &ParseError{StockCode: stockCode, Date: dateStr,
					Reason: fmt.Sprintf("row %d field %q", i, expectedFields[2+j]), Err: err}
			}
			nums[j] = n
		}

		rec := entity.BrokerTrading{
			Date:       dateStr,
			StockCode:  stockCode,
			BrokerCode: brokerCode,
			BranchName: branchName,
			BuyVolume:  nums[0],
			SellVolume: nums[1],
			BuyAmount:  nums[2],
			SellAmount: nums[3],
		}
		rec.ComputeNet()
		records = append(records, rec)
	}
	return records, nil
}

// cellString decodes a raw cell that must be a JSON string.
func cellString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// cellInt decodes a raw cell that may be a JSON number or a string with
// thousands separators, e.g. "1,234,567".
func cellInt(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.Int64()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
