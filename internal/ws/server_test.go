package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/config"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/pipeline"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/protocol"
	"github.com/tupakulamanoj/elastic-contributor-copilot/tests/helpers"
)

type testEnv struct {
	url        string
	hub        *Hub
	controller *pipeline.Controller
	registry   *pipeline.Registry
}

func testConfig() *config.Config {
	return &config.Config{
		ObserverPollInterval: 5 * time.Millisecond,
		PingInterval:         time.Second,
		WriteTimeout:         time.Second,
		ReadTimeout:          5 * time.Second,
		MaxMessageSize:       65536,
	}
}

func newTestEnv(t *testing.T, provider pipeline.StepProvider) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	hub := NewHub()
	go hub.Run(ctx)

	registry := pipeline.NewRegistry(pipeline.RegistryOptions{})
	pool := pipeline.NewWorkerPool(4)
	controller := pipeline.NewController(ctx, registry, pool, provider,
		pipeline.WithHooks(hub),
		pipeline.WithPollInterval(5*time.Millisecond))

	srv := NewServer(testConfig(), hub, controller)
	e := echo.New()
	e.GET("/ws/pipeline", srv.HandlePipeline)
	e.GET("/ws/events", srv.HandleEvents)
	server := httptest.NewServer(e)

	t.Cleanup(func() {
		server.Close()
		controller.Wait()
		pool.Close()
		cancel()
	})

	return &testEnv{
		url:        "ws" + strings.TrimPrefix(server.URL, "http"),
		hub:        hub,
		controller: controller,
		registry:   registry,
	}
}

func (env *testEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(env.url+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

// readAll reads frames until the server closes the connection.
func readAll(t *testing.T, conn *websocket.Conn) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected read error: %v", err)
			return frames
		}
		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		frames = append(frames, frame)
	}
}

func typesOf(frames []map[string]any) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f["type"].(string))
	}
	return out
}

func TestObserverNewRun(t *testing.T) {
	env := newTestEnv(t, helpers.StaticSteps("similar issues: #1"))
	conn := env.dial(t, "/ws/pipeline")

	require.NoError(t, conn.WriteJSON(map[string]any{"mode": "issue", "number": 500}))

	ack := readFrame(t, conn)
	assert.Equal(t, "run_id", ack["type"])
	assert.Equal(t, "pending", ack["status"])
	assert.Equal(t, "issue", ack["mode"])
	assert.EqualValues(t, 500, ack["number"])
	runID := ack["run_id"].(string)
	require.NotEmpty(t, runID)

	frames := readAll(t, conn)
	types := typesOf(frames)
	require.NotEmpty(t, types)
	assert.Equal(t, "start", types[0])
	assert.Equal(t, "complete", types[len(types)-1])

	for i, f := range frames {
		assert.EqualValues(t, i, f["seq"], "frames must arrive in order without gaps")
	}

	run, ok := env.registry.Get(runID)
	require.True(t, ok)
	assert.Equal(t, domain.RunStatusComplete, run.Status)
	assert.True(t, run.Success)
}

func TestObserverUnknownRunID(t *testing.T) {
	env := newTestEnv(t, helpers.StaticSteps("x"))
	conn := env.dial(t, "/ws/pipeline")

	require.NoError(t, conn.WriteJSON(map[string]any{"run_id": "does-not-exist"}))

	ack := readFrame(t, conn)
	assert.Equal(t, "run_id", ack["type"])
	assert.Equal(t, "does-not-exist", ack["run_id"])
	assert.Equal(t, "not_found", ack["status"])

	assert.Empty(t, readAll(t, conn))
	_, ok := env.registry.Get("does-not-exist")
	assert.False(t, ok)
	assert.Equal(t, 0, env.registry.Len())
}

func TestObserverMalformedRequest(t *testing.T) {
	env := newTestEnv(t, helpers.StaticSteps("x"))

	t.Run("invalid json", func(t *testing.T) {
		conn := env.dial(t, "/ws/pipeline")
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
		frame := readFrame(t, conn)
		assert.Equal(t, "error", frame["type"])
		assert.Equal(t, "invalid_message", frame["code"])
	})

	t.Run("unknown mode", func(t *testing.T) {
		conn := env.dial(t, "/ws/pipeline")
		require.NoError(t, conn.WriteJSON(map[string]any{"mode": "deploy", "number": 1}))
		frame := readFrame(t, conn)
		assert.Equal(t, "error", frame["type"])
	})

	assert.Equal(t, 0, env.registry.Len())
}

func TestObserverResumeReplaysHistory(t *testing.T) {
	gate := make(chan struct{})
	provider := pipeline.StepProviderFunc(func(domain.Run) map[domain.StepID]pipeline.Operation {
		return map[domain.StepID]pipeline.Operation{
			domain.StepContextRetrieval: func(ctx context.Context, n int, logf pipeline.LogFunc) (string, error) {
				<-gate
				return "triage", nil
			},
		}
	})
	env := newTestEnv(t, provider)

	first := env.dial(t, "/ws/pipeline")
	require.NoError(t, first.WriteJSON(map[string]any{"mode": "issue", "number": 7}))
	runID := readFrame(t, first)["run_id"].(string)
	assert.Equal(t, "start", readFrame(t, first)["type"])
	assert.Equal(t, "agent_start", readFrame(t, first)["type"])
	first.Close()

	close(gate)

	second := env.dial(t, "/ws/pipeline")
	require.NoError(t, second.WriteJSON(map[string]any{"run_id": runID}))
	ack := readFrame(t, second)
	assert.Equal(t, runID, ack["run_id"])

	frames := readAll(t, second)
	types := typesOf(frames)
	assert.Equal(t, []string{"start", "agent_start"}, types[:2])
	assert.Equal(t, "complete", types[len(types)-1])
	assert.EqualValues(t, 0, frames[0]["seq"])
}

func TestObserverResumeFromCursor(t *testing.T) {
	env := newTestEnv(t, helpers.StaticSteps("done"))
	run, err := env.controller.Trigger(domain.ModePR, 95103)
	require.NoError(t, err)
	env.controller.Wait()

	conn := env.dial(t, "/ws/pipeline")
	require.NoError(t, conn.WriteJSON(map[string]any{"run_id": run.RunID, "after": 3}))
	ack := readFrame(t, conn)
	assert.Equal(t, "complete", ack["status"])

	frames := readAll(t, conn)
	require.NotEmpty(t, frames)
	assert.EqualValues(t, 3, frames[0]["seq"])
	assert.Equal(t, "complete", frames[len(frames)-1]["type"])
}

func TestObserversReplayIndependently(t *testing.T) {
	env := newTestEnv(t, helpers.StaticSteps("done"))
	run, err := env.controller.Trigger(domain.ModeConflict, 502)
	require.NoError(t, err)
	env.controller.Wait()

	a := env.dial(t, "/ws/pipeline")
	b := env.dial(t, "/ws/pipeline")
	require.NoError(t, a.WriteJSON(map[string]any{"run_id": run.RunID}))
	require.NoError(t, b.WriteJSON(map[string]any{"run_id": run.RunID}))
	readFrame(t, a)
	readFrame(t, b)

	assert.Equal(t, typesOf(readAll(t, a)), typesOf(readAll(t, b)))
}

func TestObserverSeesRunError(t *testing.T) {
	empty := pipeline.StepProviderFunc(func(domain.Run) map[domain.StepID]pipeline.Operation { return nil })
	env := newTestEnv(t, empty)
	conn := env.dial(t, "/ws/pipeline")

	require.NoError(t, conn.WriteJSON(map[string]any{"mode": "pr", "number": 501}))
	readFrame(t, conn)

	frames := readAll(t, conn)
	types := typesOf(frames)
	require.NotEmpty(t, types)
	assert.NotContains(t, types, "complete")
	last := frames[len(frames)-1]
	assert.Equal(t, "run_error", last["type"])
	assert.Contains(t, last["error"], "no operation registered")
}

func TestActivityFeed(t *testing.T) {
	env := newTestEnv(t, helpers.StaticSteps("done"))
	feed := env.dial(t, "/ws/events")

	require.Eventually(t, func() bool { return env.hub.GetSubscriberCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	run, err := env.controller.Trigger(domain.ModeIssue, 11)
	require.NoError(t, err)

	start := readFrame(t, feed)
	assert.Equal(t, "pipeline_start", start["type"])
	assert.Equal(t, run.RunID, start["run_id"])

	done := readFrame(t, feed)
	assert.Equal(t, "pipeline_complete", done["type"])
	assert.Equal(t, true, done["success"])

	feed.Close()
	require.Eventually(t, func() bool { return env.hub.GetSubscriberCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestObserverCountTracksConnections(t *testing.T) {
	gate := make(chan struct{})
	provider := pipeline.StepProviderFunc(func(domain.Run) map[domain.StepID]pipeline.Operation {
		return map[domain.StepID]pipeline.Operation{
			domain.StepContextRetrieval: func(context.Context, int, pipeline.LogFunc) (string, error) {
				<-gate
				return "ok", nil
			},
		}
	})
	env := newTestEnv(t, provider)
	defer close(gate)

	conn := env.dial(t, "/ws/pipeline")
	require.NoError(t, conn.WriteJSON(map[string]any{"mode": "issue", "number": 1}))
	runID := readFrame(t, conn)["run_id"].(string)

	require.Eventually(t, func() bool { return env.hub.GetObserverCount(runID) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, env.hub.GetWatchedRunCount())
}

func TestObserverResumesRehydratedRun(t *testing.T) {
	store := helpers.NewTestSQLiteStore(t)

	// A previous process completes and persists the run.
	before := pipeline.NewRegistry(pipeline.RegistryOptions{})
	pool := pipeline.NewWorkerPool(2)
	previous := pipeline.NewController(context.Background(), before, pool, helpers.StaticSteps("similar issues: #1"),
		pipeline.WithStore(store),
		pipeline.WithPollInterval(5*time.Millisecond))
	run, err := previous.Trigger(domain.ModeIssue, 500)
	require.NoError(t, err)
	previous.Wait()
	pool.Close()

	records, err := store.SearchRuns(context.Background(), 100)
	require.NoError(t, err)

	env := newTestEnv(t, helpers.StaticSteps("unused"))
	require.Equal(t, 1, env.registry.Rehydrate(records))

	conn := env.dial(t, "/ws/pipeline")
	require.NoError(t, conn.WriteJSON(map[string]any{"run_id": run.RunID}))

	ack := readFrame(t, conn)
	assert.Equal(t, run.RunID, ack["run_id"])
	assert.Equal(t, "complete", ack["status"])

	frames := readAll(t, conn)
	types := typesOf(frames)
	require.NotEmpty(t, types)
	assert.Equal(t, "start", types[0])
	assert.Equal(t, "complete", types[len(types)-1])
	assert.Equal(t, true, frames[len(frames)-1]["success"])
}

func seqsOf(frames []map[string]any) []int {
	out := make([]int, 0, len(frames))
	for _, f := range frames {
		out = append(out, int(f["seq"].(float64)))
	}
	return out
}

func TestObserverFreshStartsAreIndependent(t *testing.T) {
	env := newTestEnv(t, helpers.StaticSteps("done"))

	a := env.dial(t, "/ws/pipeline")
	b := env.dial(t, "/ws/pipeline")
	require.NoError(t, a.WriteJSON(map[string]any{"mode": "pr", "number": 501}))
	require.NoError(t, b.WriteJSON(map[string]any{"mode": "pr", "number": 501}))

	idA := readFrame(t, a)["run_id"].(string)
	idB := readFrame(t, b)["run_id"].(string)
	assert.NotEqual(t, idA, idB)

	for _, conn := range []*websocket.Conn{a, b} {
		types := typesOf(readAll(t, conn))
		require.NotEmpty(t, types)
		assert.Equal(t, "start", types[0])
		assert.Equal(t, "complete", types[len(types)-1])
	}

	for _, id := range []string{idA, idB} {
		run, ok := env.registry.Get(id)
		require.True(t, ok)
		assert.Equal(t, domain.RunStatusComplete, run.Status)
		assert.Equal(t, 501, run.Number)
	}
	assert.Equal(t, 2, env.registry.Len())
}

func TestObserverResumeMatchesContinuousObserver(t *testing.T) {
	gate := make(chan struct{})
	provider := pipeline.StepProviderFunc(func(domain.Run) map[domain.StepID]pipeline.Operation {
		return map[domain.StepID]pipeline.Operation{
			domain.StepContextRetrieval: func(ctx context.Context, n int, logf pipeline.LogFunc) (string, error) {
				logf("fetched #%d", n)
				<-gate
				logf("agent answered")
				return "triage", nil
			},
		}
	})
	env := newTestEnv(t, provider)

	resumer := env.dial(t, "/ws/pipeline")
	require.NoError(t, resumer.WriteJSON(map[string]any{"mode": "issue", "number": 7}))
	runID := readFrame(t, resumer)["run_id"].(string)

	steady := env.dial(t, "/ws/pipeline")
	require.NoError(t, steady.WriteJSON(map[string]any{"run_id": runID}))
	readFrame(t, steady)

	// start, agent_start and the first log line exist before the gate opens.
	var seen []map[string]any
	for i := 0; i < 3; i++ {
		seen = append(seen, readFrame(t, resumer))
	}
	resumer.Close()

	close(gate)

	again := env.dial(t, "/ws/pipeline")
	last := seqsOf(seen)[len(seen)-1]
	require.NoError(t, again.WriteJSON(map[string]any{"run_id": runID, "after": last + 1}))
	readFrame(t, again)
	resumed := append(seqsOf(seen), seqsOf(readAll(t, again))...)

	continuous := seqsOf(readAll(t, steady))
	assert.Equal(t, continuous, resumed)
	for i, seq := range continuous {
		assert.Equal(t, i, seq)
	}
}

func TestResolveDiscardsRunWhenAckFails(t *testing.T) {
	env := newTestEnv(t, helpers.StaticSteps("x"))
	srv := NewServer(testConfig(), env.hub, env.controller)

	client := env.dial(t, "/ws/events")
	require.NoError(t, client.Close())
	conn := env.hub.NewConnection(client)

	_, ok := srv.resolve(conn, protocol.PipelineRequest{Mode: "pr", Number: 1})
	assert.False(t, ok)
	assert.Equal(t, 0, env.registry.Len())
}
