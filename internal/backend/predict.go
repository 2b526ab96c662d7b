package backend

import (
	"context"
	"net/http"
)

// PredictRequest asks the forecaster for a refreshed prediction.
type PredictRequest struct {
	BaseCurrency    string   `json:"base_currency"`
	TargetCurrency  string   `json:"target_currency"`
	HorizonDays     int      `json:"horizon_days"`
	SentimentAdjust *float64 `json:"sentiment_adjust,omitempty"`
}

// PredictClient calls POST {base}/predict.
type PredictClient struct {
	baseURL string
	client  *http.Client
}

// NewPredictClient builds a client against baseURL.
func NewPredictClient(baseURL string, client *http.Client) *PredictClient {
	return &PredictClient{baseURL: baseURL, client: client}
}

// Predict posts req. Only the status is checked.
func (c *PredictClient) Predict(ctx context.Context, req PredictRequest) error {
	return postJSON(ctx, c.client, "predict", joinURL(c.baseURL, "/predict"), req, nil)
}
