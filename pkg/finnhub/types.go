package finnhub

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Quote mirrors the /quote response.
type Quote struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	PercentChange float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PrevClose     float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

// Candles mirrors the /stock/candle response (parallel arrays).
type Candles struct {
	Close     []float64 `json:"c"`
	High      []float64 `json:"h"`
	Low       []float64 `json:"l"`
	Open      []float64 `json:"o"`
	Volume    []float64 `json:"v"`
	Timestamp []int64   `json:"t"`
	Status    string    `json:"s"` // "ok" or "no_data"
}

// NewsItem is one /company-news article.
type NewsItem struct {
	Category string `json:"category"`
	Datetime int64  `json:"datetime"`
	Headline string `json:"headline"`
	ID       int64  `json:"id"`
	Image    string `json:"image"`
	Related  string `json:"related"`
	Source   string `json:"source"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
}

// CompanyProfile mirrors /stock/profile2.
type CompanyProfile struct {
	Country          string  `json:"country"`
	Currency         string  `json:"currency"`
	Exchange         string  `json:"exchange"`
	Industry         string  `json:"finnhubIndustry"`
	IPO              string  `json:"ipo"`
	Logo             string  `json:"logo"`
	MarketCap        float64 `json:"marketCapitalization"`
	Name             string  `json:"name"`
	Phone            string  `json:"phone"`
	ShareOutstanding float64 `json:"shareOutstanding"`
	Ticker           string  `json:"ticker"`
	WebURL           string  `json:"weburl"`
}

// ErrNoPrice is returned by DecodeQuote when the provider has no price
// (Finnhub answers unknown symbols with an all-zero quote).
var ErrNoPrice = errors.New("finnhub: quote has no price")

// DecodeQuote parses a /quote body and rejects empty quotes.
func DecodeQuote(body []byte) (Quote, error) {
	var q Quote
	if err := json.Unmarshal(body, &q); err != nil {
		return Quote{}, fmt.Errorf("decode quote: %w", err)
	}
	if q.Current <= 0 {
		return q, ErrNoPrice
	}
	return q, nil
}

// DecodeCandles parses a /stock/candle body.
func DecodeCandles(body []byte) (Candles, error) {
	var c Candles
	if err := json.Unmarshal(body, &c); err != nil {
		return Candles{}, fmt.Errorf("decode candles: %w", err)
	}
	return c, nil
}

// DecodeProfile parses a /stock/profile2 body.
func DecodeProfile(body []byte) (CompanyProfile, error) {
	var p CompanyProfile
	if err := json.Unmarshal(body, &p); err != nil {
		return CompanyProfile{}, fmt.Errorf("decode profile: %w", err)
	}
	return p, nil
}
