// internal/mcp/server_test.go
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/halcyondata/browser-operator/api/schemas"
	"github.com/halcyondata/browser-operator/internal/config"
	"github.com/halcyondata/browser-operator/internal/jobs"
	"github.com/halcyondata/browser-operator/internal/notes"
)

type stubRunner struct{}

func (stubRunner) CreateSession(ctx context.Context, projectID string) (*schemas.OperationResult, error) {
	return &schemas.OperationResult{Text: "session ready"}, nil
}
func (stubRunner) Navigate(ctx context.Context, projectID, url string) (*schemas.OperationResult, error) {
	return &schemas.OperationResult{Text: "navigated", FinalURL: url}, nil
}
func (stubRunner) Operate(ctx context.Context, projectID, instruction string) (*schemas.OperationResult, error) {
	return &schemas.OperationResult{Text: "did: " + instruction, Steps: 2}, nil
}
func (stubRunner) CloseSession(ctx context.Context, projectID string) (*schemas.OperationResult, error) {
	return &schemas.OperationResult{Text: "closed"}, nil
}

type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

func newTestServer(t *testing.T) (*Server, *jobs.Manager) {
	t.Helper()
	jm := jobs.NewManager(stubRunner{}, config.JobsConfig{
		MaxJobs: 100, MaxAge: time.Hour, MaxConcurrent: 4, DrainTimeout: time.Second,
	}, time.Minute, zap.NewNop())
	t.Cleanup(func() { _ = jm.Close(context.Background()) })

	ns, err := notes.NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return NewServer(jm, nil, ns, zap.NewNop()), jm
}

// roundTrip feeds one request line through Serve and decodes the reply.
func roundTrip(t *testing.T, s *Server, line string) rpcReply {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, s.Serve(context.Background(), strings.NewReader(line+"\n"), &out))

	var reply rpcReply
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &reply),
		"each request line yields exactly one response line")
	assert.Equal(t, "2.0", reply.JSONRPC)
	return reply
}

func TestServeParseError(t *testing.T) {
	s, _ := newTestServer(t)
	reply := roundTrip(t, s, `{not json`)
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32700, reply.Error.Code)
}

func TestServeInvalidRequest(t *testing.T) {
	s, _ := newTestServer(t)

	reply := roundTrip(t, s, `{"jsonrpc":"1.0","id":1,"method":"x"}`)
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32600, reply.Error.Code)

	reply = roundTrip(t, s, `{"jsonrpc":"2.0","id":2}`)
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32600, reply.Error.Code)
}

func TestServeMethodNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	reply := roundTrip(t, s, `{"jsonrpc":"2.0","id":3,"method":"mcp__browser-operator__levitate"}`)
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32601, reply.Error.Code)
	assert.Contains(t, reply.Error.Message, "levitate")
}

func TestServeInvalidParams(t *testing.T) {
	s, _ := newTestServer(t)

	reply := roundTrip(t, s, `{"jsonrpc":"2.0","id":4,"method":"mcp__browser-operator__operate-browser","params":{"project_id":"p"}}`)
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32602, reply.Error.Code)

	reply = roundTrip(t, s, `{"jsonrpc":"2.0","id":5,"method":"mcp__browser-operator__navigate-browser"}`)
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32602, reply.Error.Code)
}

func TestServeUnknownFieldsTolerated(t *testing.T) {
	s, _ := newTestServer(t)
	reply := roundTrip(t, s, `{"jsonrpc":"2.0","id":6,"method":"mcp__browser-operator__create-browser","params":{"project_id":"p","surprise":true}}`)
	assert.Nil(t, reply.Error)
}

func TestOperateSubmitsAndCompletes(t *testing.T) {
	s, jm := newTestServer(t)

	reply := roundTrip(t, s, `{"jsonrpc":"2.0","id":7,"method":"mcp__browser-operator__operate-browser","params":{"project_id":"p","instruction":"buy a mouse"}}`)
	require.Nil(t, reply.Error)

	var sub submitResult
	require.NoError(t, json.Unmarshal(reply.Result, &sub))
	assert.Regexp(t, `^job-[0-9a-f]{32}$`, sub.JobID)
	assert.Equal(t, schemas.JobPending, sub.Status)

	require.Eventually(t, func() bool {
		job, err := jm.Status(sub.JobID)
		require.NoError(t, err)
		return job.Status == schemas.JobCompleted
	}, 5*time.Second, 5*time.Millisecond)

	statusLine := fmt.Sprintf(`{"jsonrpc":"2.0","id":8,"method":"mcp__browser-operator__get-job-status","params":{"job_id":"%s"}}`, sub.JobID)
	reply = roundTrip(t, s, statusLine)
	require.Nil(t, reply.Error)
	var job schemas.Job
	require.NoError(t, json.Unmarshal(reply.Result, &job))
	assert.Equal(t, schemas.JobCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, "did: buy a mouse", job.Result.Text)
}

func TestGetJobStatusUnknown(t *testing.T) {
	s, _ := newTestServer(t)
	reply := roundTrip(t, s, `{"jsonrpc":"2.0","id":9,"method":"mcp__browser-operator__get-job-status","params":{"job_id":"job-nope"}}`)
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32000, reply.Error.Code)
	assert.Contains(t, string(reply.Error.Data), string(schemas.CodeJobNotFound))
}

func TestListJobsDefaultsLimit(t *testing.T) {
	s, _ := newTestServer(t)
	for i := 0; i < 3; i++ {
		line := fmt.Sprintf(`{"jsonrpc":"2.0","id":10,"method":"mcp__browser-operator__create-browser","params":{"project_id":"p%d"}}`, i)
		roundTrip(t, s, line)
	}

	reply := roundTrip(t, s, `{"jsonrpc":"2.0","id":11,"method":"mcp__browser-operator__list-jobs"}`)
	require.Nil(t, reply.Error)
	var list []schemas.JobSummary
	require.NoError(t, json.Unmarshal(reply.Result, &list))
	assert.Len(t, list, 3)
	assert.Equal(t, "p2", list[0].ProjectID, "newest first")
}

func TestNotesRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)

	reply := roundTrip(t, s, `{"jsonrpc":"2.0","id":12,"method":"mcp__browser-operator__add-note","params":{"project_id":"p","note":"remember the login flow"}}`)
	require.Nil(t, reply.Error)

	reply = roundTrip(t, s, `{"jsonrpc":"2.0","id":13,"method":"mcp__browser-operator__list-notes","params":{"project_id":"p"}}`)
	require.Nil(t, reply.Error)
	var got []notes.Note
	require.NoError(t, json.Unmarshal(reply.Result, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "remember the login flow", got[0].Text)
}

func TestServeReturnsOnContextCancel(t *testing.T) {
	s, _ := newTestServer(t)

	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, pr, &bytes.Buffer{}) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation with an idle transport")
	}
}

func TestPendingJobOmitsUnsetTimestamps(t *testing.T) {
	data, err := jsonAPI.Marshal(schemas.Job{
		ID: "job-00", Kind: schemas.JobOperate, ProjectID: "p", Status: schemas.JobPending,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "started_at")
	assert.NotContains(t, string(data), "finished_at")
	assert.Contains(t, string(data), "created_at")
}

func TestServeMultipleLines(t *testing.T) {
	s, _ := newTestServer(t)
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"mcp__browser-operator__create-browser","params":{"project_id":"p"}}`,
		``,
		`{"jsonrpc":"2.0","id":2,"method":"mcp__browser-operator__list-jobs","params":{"limit":5}}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, s.Serve(context.Background(), strings.NewReader(input), &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 2, "blank lines are skipped, one response per request")
}
