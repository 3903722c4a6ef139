// internal/oracle/client_test.go
package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/halcyondata/browser-operator/api/schemas"
	"github.com/halcyondata/browser-operator/internal/config"
)

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := NewClient(config.OracleConfig{
		Endpoint:          endpoint,
		APIKey:            "test-key",
		Model:             "computer-use-preview",
		QueryTimeout:      5 * time.Second,
		MaxRetries:        2,
		RequestsPerMinute: 6000,
	}, 1280, 800, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(config.OracleConfig{}, 1280, 800, zap.NewNop())
	require.Error(t, err)
}

func TestDecideParsesComputerCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"output":[
			{"type":"computer_call","action":{"type":"click","x":120,"y":340}},
			{"type":"computer_call","action":{"type":"type","text":"wireless mouse"}},
			{"type":"computer_call","action":{"type":"keypress","keys":["Enter"]}},
			{"type":"computer_call","action":{"type":"scroll","x":640,"y":400,"scroll_x":0,"scroll_y":300}}
		]}`))
	}))
	defer srv.Close()

	d, err := newTestClient(t, srv.URL).Decide(context.Background(), Request{Instruction: "search for a mouse"})
	require.NoError(t, err)
	assert.False(t, d.Done)
	require.Len(t, d.Actions, 4)
	assert.Equal(t, schemas.ActionClick, d.Actions[0].Type)
	assert.Equal(t, 120, d.Actions[0].X)
	assert.Equal(t, schemas.ActionTypeText, d.Actions[1].Type)
	assert.Equal(t, "wireless mouse", d.Actions[1].Text)
	assert.Equal(t, "Enter", d.Actions[2].Key)
	assert.Equal(t, 300, d.Actions[3].DeltaY)
}

func TestDecideMessageOnlyMeansDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"output":[
			{"type":"message","content":[{"type":"output_text","text":"The order was placed."}]}
		]}`))
	}))
	defer srv.Close()

	d, err := newTestClient(t, srv.URL).Decide(context.Background(), Request{Instruction: "buy it"})
	require.NoError(t, err)
	assert.True(t, d.Done)
	assert.Empty(t, d.Actions)
	assert.Equal(t, "The order was placed.", d.Summary)
}

func TestDecideRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"output":[{"type":"computer_call","action":{"type":"wait","ms":500}}]}`))
	}))
	defer srv.Close()

	d, err := newTestClient(t, srv.URL).Decide(context.Background(), Request{Instruction: "wait"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	require.Len(t, d.Actions, 1)
	assert.Equal(t, schemas.ActionWait, d.Actions[0].Type)
}

func TestDecideClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Decide(context.Background(), Request{Instruction: "x"})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load(), "4xx must not be retried")
}

func TestDecideMalformedResponses(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"empty output", `{"output":[]}`},
		{"call without action", `{"output":[{"type":"computer_call"}]}`},
		{"unknown action type", `{"output":[{"type":"computer_call","action":{"type":"teleport"}}]}`},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL).Decide(context.Background(), Request{Instruction: "x"})
			require.Error(t, err)
			assert.EqualValues(t, 1, calls.Load(), "malformed payloads must not be retried")
		})
	}
}

func TestBuildPromptIncludesContextAndHistory(t *testing.T) {
	req := Request{
		Instruction: "add the first result to the cart",
		Context: &schemas.PageContext{
			URL:   "https://shop.example/search?q=mouse",
			Title: "Search results",
			Kind:  schemas.PageListing,
			Elements: []schemas.PageElement{
				{Kind: "button", Label: "Add to cart", CenterX: 510, CenterY: 340},
			},
		},
		History: []schemas.ActionOutcome{
			{Action: schemas.Action{Type: schemas.ActionClick}, Success: false,
				Code: schemas.CodeInvalidTarget, Detail: "nothing interactive at (3,3)"},
		},
	}
	prompt := buildPrompt(req)
	assert.Contains(t, prompt, "add the first result to the cart")
	assert.Contains(t, prompt, "https://shop.example/search?q=mouse")
	assert.Contains(t, prompt, `button "Add to cart" at (510, 340)`)
	assert.Contains(t, prompt, "failed (INVALID_TARGET)")
}
