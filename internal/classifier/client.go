package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Config drives the model service client behaviour.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Prediction holds the probability pair returned by the model service.
type Prediction struct {
	Human    float64
	Nonhuman float64
}

// ErrUnavailable is returned for any failure to obtain a usable prediction:
// network errors, timeouts, non-200 statuses and malformed response bodies.
// Callers may treat it as transient and retry.
var ErrUnavailable = errors.New("classifier unavailable")

// Client calls the external voice-authenticity model service. It is stateless
// apart from the endpoint and timeout fixed at construction.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient constructs a model service client with defaults applied.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// Classify submits the audio bytes to the model service and returns the
// validated probability pair. The context cancels the in-flight request.
func (c *Client) Classify(ctx context.Context, audio []byte, filename string) (Prediction, error) {
	if c == nil {
		return Prediction{}, errors.New("classifier client is nil")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return Prediction{}, fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return Prediction{}, fmt.Errorf("build multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Prediction{}, fmt.Errorf("build multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", &body)
	if err != nil {
		return Prediction{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Prediction{}, ctx.Err()
		}
		return Prediction{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Prediction{}, fmt.Errorf("%w: model api status %d", ErrUnavailable, resp.StatusCode)
	}

	var payload predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Prediction{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	return payload.validate()
}

// predictResponse mirrors the model service contract. Pointer fields let us
// distinguish absent values from zero probabilities.
type predictResponse struct {
	YProb *struct {
		Human    *float64 `json:"human"`
		Nonhuman *float64 `json:"nonhuman"`
	} `json:"y_prob"`
}

func (p predictResponse) validate() (Prediction, error) {
	if p.YProb == nil || p.YProb.Human == nil || p.YProb.Nonhuman == nil {
		return Prediction{}, fmt.Errorf("%w: response missing y_prob fields", ErrUnavailable)
	}
	human := *p.YProb.Human
	nonhuman := *p.YProb.Nonhuman
	if human < 0 || human > 1 || nonhuman < 0 || nonhuman > 1 {
		return Prediction{}, fmt.Errorf("%w: probabilities out of range (human=%v nonhuman=%v)", ErrUnavailable, human, nonhuman)
	}
	return Prediction{Human: human, Nonhuman: nonhuman}, nil
}
