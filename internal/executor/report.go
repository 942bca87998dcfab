package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPReporter delivers step results to the engine's result endpoint.
// Workers use it so outcomes survive even when the engine restarts
// between dispatch and completion.
type HTTPReporter struct {
	// BaseURL is the engine's root URL, e.g. http://localhost:8321.
	BaseURL string
	Client  *http.Client
}

// NewHTTPReporter builds a reporter with a bounded request timeout.
func NewHTTPReporter(baseURL string) *HTTPReporter {
	return &HTTPReporter{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Report posts the step output to the engine.
func (r *HTTPReporter) Report(ctx context.Context, _ StepInput, output StepOutput) error {
	body, err := json.Marshal(output)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.BaseURL+"/api/v1/steps/result", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("report step %d: status %d: %s", output.StepRunID, resp.StatusCode, msg)
	}
	return nil
}
