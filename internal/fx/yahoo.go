package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const yahooChartURL = "https://query1.finance.yahoo.com/v8/finance/chart/%s%s=X?range=1d&interval=1d"

// YahooSource quotes currency pairs from the Yahoo Finance chart endpoint
// using the FROMTO=X symbol convention.
type YahooSource struct {
	client *http.Client
}

func NewYahooSource() *YahooSource {
	return &YahooSource{
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (y *YahooSource) Quote(ctx context.Context, from, to string) (float64, error) {
	url := fmt.Sprintf(yahooChartURL, from, to)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "splitbot/1.0")

	resp, err := y.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("yahoo chart API returned status %d for %s%s=X", resp.StatusCode, from, to)
	}

	var chart yahooChartResponse
	if err := json.NewDecoder(resp.Body).Decode(&chart); err != nil {
		return 0, fmt.Errorf("failed to decode chart response: %w", err)
	}
	if chart.Chart.Error != nil {
		return 0, fmt.Errorf("yahoo chart API error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return 0, fmt.Errorf("empty chart result for %s%s=X", from, to)
	}

	price := chart.Chart.Result[0].Meta.RegularMarketPrice
	if price <= 0 {
		return 0, fmt.Errorf("no market price for %s%s=X", from, to)
	}
	return price, nil
}
