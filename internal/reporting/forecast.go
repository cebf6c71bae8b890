package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ForecastClient wraps interactions with the demand forecasting API.
type ForecastClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewForecastClient constructs a new client.
func NewForecastClient(baseURL string) *ForecastClient {
	return &ForecastClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Ping checks if the remote forecasting service is available.
func (c *ForecastClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/health", c.baseURL), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("forecast service returned status %d", resp.StatusCode)
	}
	return nil
}

// PredictDemand returns the expected unit sales of a product over the given
// number of months.
func (c *ForecastClient) PredictDemand(ctx context.Context, productID int64, periodMonths int) (float64, error) {
	url := fmt.Sprintf("%s/v1/products/%d/demand?months=%d", c.baseURL, productID, periodMonths)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("demand prediction failed with status %d", resp.StatusCode)
	}
	var payload struct {
		PredictedDemand float64 `json:"predicted_demand"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, err
	}
	return payload.PredictedDemand, nil
}
