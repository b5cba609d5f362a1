// Package openai is the client for the external deep research provider.
// Jobs are submitted in background mode; the provider signals completion via
// webhook and the full output is fetched separately by response ID.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/yoyaba/gtmdocs/internal/retry"
)

// Sentinel errors for provider failures.
var (
	ErrRateLimited = errors.New("openai rate limited")
	ErrUnavailable = errors.New("openai unavailable")
	ErrRejected    = errors.New("openai rejected request")
)

// Client is the interface for the research provider.
type Client interface {
	// SubmitResearch submits a background research job and returns the
	// provider-assigned response ID.
	SubmitResearch(ctx context.Context, input string) (string, error)
	// RetrieveResponse fetches the state and output of a response by ID.
	RetrieveResponse(ctx context.Context, responseID string) (*Response, error)
}

// Response is the retrieved state of a background job.
type Response struct {
	ID         string
	Status     string
	OutputText string
}

// ResponseStatusCompleted is the provider's terminal success status.
const ResponseStatusCompleted = "completed"

// HTTPClient implements Client against the Responses API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey, model string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type submitRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Tools      []tool `json:"tools"`
	Background bool   `json:"background"`
}

type tool struct {
	Type      string          `json:"type"`
	Container json.RawMessage `json:"container,omitempty"`
}

func (c *HTTPClient) SubmitResearch(ctx context.Context, input string) (string, error) {
	payload := submitRequest{
		Model: c.model,
		Input: input,
		Tools: []tool{
			{Type: "web_search_preview"},
			{Type: "code_interpreter", Container: json.RawMessage(`{"type":"auto"}`)},
		},
		Background: true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	u := c.baseURL + "/v1/responses"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return "", err
	}

	var created responseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("%w: response missing id", ErrRejected)
	}
	return created.ID, nil
}

func (c *HTTPClient) RetrieveResponse(ctx context.Context, responseID string) (*Response, error) {
	u := fmt.Sprintf("%s/v1/responses/%s", c.baseURL, responseID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}

	var env responseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &Response{
		ID:         env.ID,
		Status:     env.Status,
		OutputText: env.outputText(),
	}, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

// Classify maps provider errors onto the retry taxonomy: rate limits and
// transient unavailability are retriable, everything else is fatal.
func Classify(err error) retry.Classification {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable) {
		return retry.Retriable
	}
	return retry.Fatal
}

func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, detail)
	}
}

// classifyTransportError maps transport-level errors to sentinel errors.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// --- Responses API types ---

type responseEnvelope struct {
	ID         string       `json:"id"`
	Status     string       `json:"status"`
	OutputText string       `json:"output_text"`
	Output     []outputItem `json:"output"`
}

type outputItem struct {
	Type    string        `json:"type"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// outputText flattens the output items the way the provider SDK's
// output_text convenience accessor does.
func (e responseEnvelope) outputText() string {
	if e.OutputText != "" {
		return e.OutputText
	}
	var buf bytes.Buffer
	for _, item := range e.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				buf.WriteString(part.Text)
			}
		}
	}
	return buf.String()
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
