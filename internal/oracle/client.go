// internal/oracle/client.go
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/halcyondata/browser-operator/api/schemas"
	"github.com/halcyondata/browser-operator/internal/config"
)

// Client queries a computer-use style HTTP API. Transient failures are
// retried with exponential backoff inside the per-query timeout; a process
// wide rate limiter throttles calls across all running jobs.
type Client struct {
	cfg        config.OracleConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	viewportW int
	viewportH int
}

// -- Wire structures for the computer-use API --

type apiTool struct {
	Type          string `json:"type"`
	DisplayWidth  int    `json:"display_width"`
	DisplayHeight int    `json:"display_height"`
	Environment   string `json:"environment"`
}

type apiContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type apiInputItem struct {
	Role    string           `json:"role"`
	Content []apiContentPart `json:"content"`
}

type apiRequestPayload struct {
	Model       string         `json:"model"`
	Input       []apiInputItem `json:"input"`
	Tools       []apiTool      `json:"tools"`
	Truncation  string         `json:"truncation"`
	Temperature float64        `json:"temperature"`
}

type apiAction struct {
	Type    string   `json:"type"`
	X       int      `json:"x"`
	Y       int      `json:"y"`
	ScrollX int      `json:"scroll_x"`
	ScrollY int      `json:"scroll_y"`
	Text    string   `json:"text"`
	URL     string   `json:"url"`
	Ms      int      `json:"ms"`
	Keys    []string `json:"keys"`
	Path    []struct {
		X int `json:"x"`
		Y int `json:"y"`
	} `json:"path"`
}

type apiOutputItem struct {
	Type    string     `json:"type"`
	Action  *apiAction `json:"action,omitempty"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content,omitempty"`
}

type apiResponsePayload struct {
	Output []apiOutputItem `json:"output"`
}

// NewClient initializes the oracle client.
func NewClient(cfg config.OracleConfig, viewportW, viewportH int, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("oracle API key is required")
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.QueryTimeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		logger:     logger.Named("oracle_client"),
	}
	c.viewportW, c.viewportH = viewportW, viewportH
	return c, nil
}

// Decide sends one decision query and parses the ordered action batch.
func (c *Client) Decide(ctx context.Context, req Request) (Decision, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Decision{}, fmt.Errorf("oracle rate limit wait: %w", err)
	}

	body, err := json.Marshal(c.buildPayload(req))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to marshal oracle payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.cfg.QueryTimeout
	b.MaxInterval = 10 * time.Second

	var decision Decision
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		httpReq.Header.Set("Openai-Beta", "responses=v1")

		start := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			c.logger.Warn("Network error during oracle query, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute oracle request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read oracle response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var payload apiResponsePayload
		if err := json.Unmarshal(respBody, &payload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode oracle response: %w", err))
		}
		d, err := parseDecision(payload)
		if err != nil {
			return backoff.Permanent(err)
		}
		decision = d

		c.logger.Info("Oracle decision received.",
			zap.Duration("duration", time.Since(start)),
			zap.Int("actions", len(d.Actions)),
			zap.Bool("done", d.Done))
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return Decision{}, err
	}
	return decision, nil
}

func (c *Client) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Oracle API returned error status",
		zap.Int("status", statusCode), zap.ByteString("response", body))
	err := fmt.Errorf("oracle API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		return err // Transient, retry.
	default:
		return backoff.Permanent(err)
	}
}

func (c *Client) buildPayload(req Request) apiRequestPayload {
	var parts []apiContentPart
	parts = append(parts, apiContentPart{Type: "input_text", Text: buildPrompt(req)})
	if req.Context != nil && req.Context.Screenshot != "" {
		parts = append(parts, apiContentPart{
			Type:     "input_image",
			ImageURL: "data:image/png;base64," + req.Context.Screenshot,
		})
	}
	return apiRequestPayload{
		Model: c.cfg.Model,
		Input: []apiInputItem{{Role: "user", Content: parts}},
		Tools: []apiTool{{
			Type:          "computer-preview",
			DisplayWidth:  c.viewportW,
			DisplayHeight: c.viewportH,
			Environment:   "browser",
		}},
		Truncation:  "auto",
		Temperature: 0.2,
	}
}

// buildPrompt renders the instruction, page summary, and recent history into
// the text part of the query.
func buildPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("Instruction: ")
	sb.WriteString(req.Instruction)
	sb.WriteString("\n")

	if pc := req.Context; pc != nil {
		fmt.Fprintf(&sb, "\nCurrent page: %s\nTitle: %s\nKind: %s\n", pc.URL, pc.Title, pc.Kind)
		if pc.Heading != "" {
			fmt.Fprintf(&sb, "Heading: %s\n", pc.Heading)
		}
		if len(pc.Elements) > 0 {
			sb.WriteString("Visible elements:\n")
			for _, el := range pc.Elements {
				fmt.Fprintf(&sb, "- %s %q at (%d, %d)\n", el.Kind, el.Label, el.CenterX, el.CenterY)
			}
		}
	}

	if len(req.History) > 0 {
		sb.WriteString("\nRecent actions:\n")
		for _, out := range req.History {
			status := "ok"
			if !out.Success {
				status = fmt.Sprintf("failed (%s)", out.Code)
			}
			fmt.Fprintf(&sb, "- %s: %s, %s\n", out.Action.Type, out.Detail, status)
		}
	}
	return sb.String()
}

// parseDecision maps the response items onto a Decision. Computer calls apply
// in order; a message-only response means the task is finished and the text
// is the summary. An empty output is malformed.
func parseDecision(payload apiResponsePayload) (Decision, error) {
	if len(payload.Output) == 0 {
		return Decision{}, fmt.Errorf("oracle returned no output items")
	}

	var d Decision
	var messages []string
	for _, item := range payload.Output {
		switch item.Type {
		case "computer_call":
			if item.Action == nil {
				return Decision{}, fmt.Errorf("computer_call item is missing its action")
			}
			action, err := mapAction(item.Action)
			if err != nil {
				return Decision{}, err
			}
			d.Actions = append(d.Actions, action)
		case "message":
			for _, part := range item.Content {
				if part.Text != "" {
					messages = append(messages, part.Text)
				}
			}
		}
	}

	d.Summary = strings.Join(messages, "\n")
	if len(d.Actions) == 0 {
		if d.Summary == "" {
			return Decision{}, fmt.Errorf("oracle returned neither actions nor a message")
		}
		d.Done = true
	}
	return d, nil
}

func mapAction(a *apiAction) (schemas.Action, error) {
	switch a.Type {
	case "click":
		return schemas.Action{Type: schemas.ActionClick, X: a.X, Y: a.Y}, nil
	case "double_click":
		return schemas.Action{Type: schemas.ActionDoubleClick, X: a.X, Y: a.Y}, nil
	case "type":
		return schemas.Action{Type: schemas.ActionTypeText, Text: a.Text}, nil
	case "keypress":
		return schemas.Action{Type: schemas.ActionKeypress, Key: strings.Join(a.Keys, "+")}, nil
	case "scroll":
		return schemas.Action{Type: schemas.ActionScroll, X: a.X, Y: a.Y, DeltaX: a.ScrollX, DeltaY: a.ScrollY}, nil
	case "drag":
		act := schemas.Action{Type: schemas.ActionDrag}
		if len(a.Path) > 0 {
			act.X, act.Y = a.Path[0].X, a.Path[0].Y
			last := a.Path[len(a.Path)-1]
			act.X2, act.Y2 = last.X, last.Y
		}
		return act, nil
	case "wait", "screenshot":
		// A screenshot request is satisfied by the capture every outcome
		// already carries.
		return schemas.Action{Type: schemas.ActionWait, DurationMs: a.Ms}, nil
	case "goto", "navigate":
		return schemas.Action{Type: schemas.ActionNavigate, URL: a.URL}, nil
	default:
		return schemas.Action{}, fmt.Errorf("oracle proposed unknown action type %q", a.Type)
	}
}
