package collector

import "fmt"

// NetworkError is a transport-level failure reaching the exchange API:
// timeout, connection refused, or a non-2xx status.
type NetworkError struct {
	StockCode  string
	Date       string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("network error fetching %s on %s: status %d", e.StockCode, e.Date, e.StatusCode)
	}
	return fmt.Sprintf("network error fetching %s on %s: %v", e.StockCode, e.Date, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError is a response payload that does not match the expected tabular
// shape. A well-formed "no data" response is not a ParseError.
type ParseError struct {
	StockCode string
	Date      string
	Reason    string
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error for %s on %s: %s", e.StockCode, e.Date, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }
