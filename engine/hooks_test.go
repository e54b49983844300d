package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/testutil"
	"github.com/hupe1980/agentrelay/logging"
)

func TestHookManager_ExecuteRunsAllHooksInOrder(t *testing.T) {
	m := NewHookManager()

	var order []string
	m.Register(
		NewFunctionHook(HookAfterStage, func(context.Context, *HookContext) error {
			order = append(order, "first")
			return errors.New("boom")
		}),
		NewFunctionHook(HookAfterStage, func(context.Context, *HookContext) error {
			order = append(order, "second")
			return errors.New("ignored")
		}),
		NewFunctionHook(HookBeforeStage, func(context.Context, *HookContext) error {
			order = append(order, "before")
			return nil
		}),
	)

	hc := &HookContext{RunID: "r"}
	err := m.Execute(context.Background(), HookAfterStage, hc)
	require.EqualError(t, err, "boom")
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, HookAfterStage, hc.Type)

	assert.NoError(t, m.Execute(context.Background(), HookRunComplete, &HookContext{}))
}

func TestEngine_HookLifecycle(t *testing.T) {
	e := newTestEngine(testutil.NewClock(), 3)

	var events []string
	record := func(ht HookType) Hook {
		return NewFunctionHook(ht, func(_ context.Context, hc *HookContext) error {
			switch ht {
			case HookBeforeStage:
				events = append(events, "before:"+hc.Stage.Name)
			case HookAfterStage:
				events = append(events, "after:"+hc.Result.Stage+":"+hc.Result.Status.String())
			case HookRunComplete:
				events = append(events, "complete:"+hc.Report.RunID)
			}
			return errors.New("hook errors never change the outcome")
		})
	}
	e.Hooks().Register(record(HookBeforeStage), record(HookAfterStage), record(HookRunComplete))

	report, err := e.Run(context.Background(), Request{
		RunID: "run-7",
		Task:  "task",
		Stages: []core.StageSpec{
			testutil.NewStageBuilder("A").Invoker(testutil.Succeed(core.KindPlan, "a")).Build(),
			testutil.NewStageBuilder("B").Requires("A").Invoker(testutil.AlwaysFail()).Build(),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"before:A", "after:A:success",
		"before:B", "after:B:failed",
		"complete:run-7",
	}, events)
	assert.Equal(t, []core.Status{core.StatusSuccess, core.StatusFailed}, report.Statuses())
}

func TestLoggingHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Output: &buf, Format: "json"})

	e := newTestEngine(testutil.NewClock(), 3)
	e.Hooks().Register(LoggingHooks(logger)...)

	_, err := e.Run(context.Background(), Request{
		RunID: "run-log",
		Task:  "task",
		Stages: []core.StageSpec{
			testutil.NewStageBuilder("A").Invoker(testutil.Succeed(core.KindPlan, "a")).Build(),
			testutil.NewStageBuilder("B").Requires("A").Invoker(testutil.AlwaysFail()).UnusableFallback().Build(),
			testutil.NewStageBuilder("C").Requires("B").Invoker(testutil.Succeed(core.KindReport, "c")).Build(),
		},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)

	var entries []map[string]any
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		assert.Equal(t, "run-log", entry["run_id"])
		entries = append(entries, entry)
	}

	assert.Equal(t, "Stage completed", entries[0]["msg"])
	assert.Equal(t, "A", entries[0]["stage"])

	assert.Equal(t, "Stage failed", entries[1]["msg"])
	assert.Equal(t, "ERROR", entries[1]["level"])
	assert.Contains(t, entries[1]["error"], "transient capability failure")

	assert.Equal(t, "Stage completed", entries[2]["msg"])
	assert.Equal(t, "C", entries[2]["stage"])

	assert.Equal(t, "Run completed", entries[3]["msg"])
	assert.EqualValues(t, 3, entries[3]["stage_count"])
	assert.EqualValues(t, 1, entries[3]["degraded_count"])
}
