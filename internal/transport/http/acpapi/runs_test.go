package acpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaohan0616/acpd/internal/agent"
	"github.com/xiaohan0616/acpd/internal/domain"
	"github.com/xiaohan0616/acpd/internal/elicit"
	"github.com/xiaohan0616/acpd/internal/runstore"
	"github.com/xiaohan0616/acpd/internal/service"
	"github.com/xiaohan0616/acpd/internal/transport/http/acpapi"
)

type env struct {
	handler *acpapi.Handler
	echo    *echo.Echo
	store   runstore.Store
	svc     *service.Service
}

func newEnv(t *testing.T, turns ...[]agent.Step) *env {
	t.Helper()

	store := runstore.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	elicits := elicit.NewManager()
	registry := agent.NewRegistry()
	registry.Register("scripted", func(string) agent.Agent {
		return agent.NewScripted(elicits, turns...)
	})

	svc := service.New(store, registry, elicits, nil, nil)
	return &env{
		handler: acpapi.NewHandler(svc, nil),
		echo:    echo.New(),
		store:   store,
		svc:     svc,
	}
}

func createBody(t *testing.T, mode domain.RunMode) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(domain.RunCreateRequest{
		AgentName: "scripted",
		Mode:      mode,
		Input: []domain.Message{
			{Role: domain.RoleUser, Parts: []domain.MessagePart{domain.TextPart("hello")}},
		},
	})
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func (e *env) postRun(t *testing.T, mode domain.RunMode) (*httptest.ResponseRecorder, domain.Run) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/runs", createBody(t, mode))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.echo.NewContext(req, rec)

	require.NoError(t, e.handler.CreateRun(c))

	var run domain.Run
	if rec.Header().Get(echo.HeaderContentType) != "text/event-stream" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	}
	return rec, run
}

func (e *env) awaitStatus(t *testing.T, runID string, want domain.RunStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := e.store.Get(context.Background(), runID)
		require.NoError(t, err)
		if run.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached %s", runID, want)
}

func TestCreateRunSync(t *testing.T) {
	e := newEnv(t, []agent.Step{
		agent.Emit{Event: agent.MessageEvent{Message: agent.AssistantText("done")}},
	})

	rec, run := e.postRun(t, domain.RunModeSync)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.True(t, strings.HasPrefix(run.RunID, "run_"))
	require.Len(t, run.Output, 1)
	assert.Equal(t, "done", run.Output[0].Parts[0].Content)
}

func TestCreateRunInvalidMode(t *testing.T) {
	e := newEnv(t)

	body, _ := json.Marshal(map[string]string{"agent_name": "scripted", "mode": "batch"})
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.echo.NewContext(req, rec)

	require.NoError(t, e.handler.CreateRun(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRunDefaultsToSync(t *testing.T) {
	e := newEnv(t, []agent.Step{
		agent.Emit{Event: agent.MessageEvent{Message: agent.AssistantText("ok")}},
	})

	body, _ := json.Marshal(map[string]any{
		"agent_name": "scripted",
		"input": []domain.Message{
			{Role: domain.RoleUser, Parts: []domain.MessagePart{domain.TextPart("hi")}},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.echo.NewContext(req, rec)

	require.NoError(t, e.handler.CreateRun(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var run domain.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
}

func TestCreateRunStreamSSE(t *testing.T) {
	e := newEnv(t, []agent.Step{
		agent.Emit{Event: agent.MessageEvent{Message: agent.AssistantText("streamed")}},
	})

	rec, _ := e.postRun(t, domain.RunModeStream)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	body := rec.Body.String()
	assert.Contains(t, body, `"type":"run.created"`)
	assert.Contains(t, body, `"type":"message.part"`)
	assert.Contains(t, body, `"type":"run.completed"`)

	// Each SSE frame is a data: line followed by a blank line.
	for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
		if line == "" {
			continue
		}
		assert.True(t, strings.HasPrefix(line, "data: "), "unexpected SSE line: %q", line)
	}
}

func TestGetRunNotFound(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/runs/run_missing", nil)
	rec := httptest.NewRecorder()
	c := e.echo.NewContext(req, rec)
	c.SetPath("/runs/:run_id")
	c.SetParamNames("run_id")
	c.SetParamValues("run_missing")

	require.NoError(t, e.handler.GetRun(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResumeFlow(t *testing.T) {
	e := newEnv(t, []agent.Step{
		agent.PauseElicitation{ID: "elicit-1", Message: "pick"},
	})

	rec, run := e.postRun(t, domain.RunModeAsync)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RunStatusCreated, run.Status)

	e.awaitStatus(t, run.RunID, domain.RunStatusAwaiting)

	body, _ := json.Marshal(domain.RunResumeRequest{
		AwaitResume: domain.AwaitResume{Data: json.RawMessage(`{"pick":"a"}`)},
	})
	req := httptest.NewRequest(http.MethodPost, "/runs/"+run.RunID, bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	resumeRec := httptest.NewRecorder()
	c := e.echo.NewContext(req, resumeRec)
	c.SetPath("/runs/:run_id")
	c.SetParamNames("run_id")
	c.SetParamValues(run.RunID)

	require.NoError(t, e.handler.ResumeRun(c))
	assert.Equal(t, http.StatusOK, resumeRec.Code)

	var resumed domain.Run
	require.NoError(t, json.Unmarshal(resumeRec.Body.Bytes(), &resumed))
	assert.Equal(t, domain.RunStatusInProgress, resumed.Status)
	assert.Nil(t, resumed.AwaitRequest)

	e.awaitStatus(t, run.RunID, domain.RunStatusCompleted)
}

func TestResumeNotAwaiting(t *testing.T) {
	e := newEnv(t, []agent.Step{
		agent.Emit{Event: agent.MessageEvent{Message: agent.AssistantText("done")}},
	})

	_, run := e.postRun(t, domain.RunModeSync)

	req := httptest.NewRequest(http.MethodPost, "/runs/"+run.RunID, strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.echo.NewContext(req, rec)
	c.SetPath("/runs/:run_id")
	c.SetParamNames("run_id")
	c.SetParamValues(run.RunID)

	require.NoError(t, e.handler.ResumeRun(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelRunEndpoint(t *testing.T) {
	e := newEnv(t, []agent.Step{
		agent.PauseElicitation{ID: "elicit-c", Message: "pick"},
	})

	_, run := e.postRun(t, domain.RunModeAsync)
	e.awaitStatus(t, run.RunID, domain.RunStatusAwaiting)

	req := httptest.NewRequest(http.MethodPost, "/runs/"+run.RunID+"/cancel", nil)
	rec := httptest.NewRecorder()
	c := e.echo.NewContext(req, rec)
	c.SetPath("/runs/:run_id/cancel")
	c.SetParamNames("run_id")
	c.SetParamValues(run.RunID)

	require.NoError(t, e.handler.CancelRun(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	e.awaitStatus(t, run.RunID, domain.RunStatusCancelled)
}

func TestCancelTerminalRun(t *testing.T) {
	e := newEnv(t, []agent.Step{
		agent.Emit{Event: agent.MessageEvent{Message: agent.AssistantText("done")}},
	})

	_, run := e.postRun(t, domain.RunModeSync)

	req := httptest.NewRequest(http.MethodPost, "/runs/"+run.RunID+"/cancel", nil)
	rec := httptest.NewRecorder()
	c := e.echo.NewContext(req, rec)
	c.SetPath("/runs/:run_id/cancel")
	c.SetParamNames("run_id")
	c.SetParamValues(run.RunID)

	require.NoError(t, e.handler.CancelRun(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetRunEventsEndpoint(t *testing.T) {
	e := newEnv(t, []agent.Step{
		agent.Emit{Event: agent.MessageEvent{Message: agent.AssistantText("done")}},
	})

	_, run := e.postRun(t, domain.RunModeSync)

	req := httptest.NewRequest(http.MethodGet, "/runs/"+run.RunID+"/events", nil)
	rec := httptest.NewRecorder()
	c := e.echo.NewContext(req, rec)
	c.SetPath("/runs/:run_id/events")
	c.SetParamNames("run_id")
	c.SetParamValues(run.RunID)

	require.NoError(t, e.handler.GetRunEvents(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Events []domain.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Events)
	assert.Equal(t, domain.EventTypeRunCreated, resp.Events[0].Type)
	assert.Equal(t, domain.EventTypeRunCompleted, resp.Events[len(resp.Events)-1].Type)
}

func TestListRunsEndpoint(t *testing.T) {
	e := newEnv(t,
		[]agent.Step{agent.Emit{Event: agent.MessageEvent{Message: agent.AssistantText("one")}}},
		[]agent.Step{agent.Emit{Event: agent.MessageEvent{Message: agent.AssistantText("two")}}},
	)

	e.postRun(t, domain.RunModeSync)
	e.postRun(t, domain.RunModeSync)

	req := httptest.NewRequest(http.MethodGet, "/runs?limit=1", nil)
	rec := httptest.NewRecorder()
	c := e.echo.NewContext(req, rec)

	require.NoError(t, e.handler.ListRuns(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Runs []domain.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Runs, 1)
}
