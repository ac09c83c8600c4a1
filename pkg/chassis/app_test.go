package chassis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodaTao/CallForge/pkg/function"
	"github.com/KodaTao/CallForge/pkg/scheduler"
	"github.com/KodaTao/CallForge/pkg/storage"
	"github.com/KodaTao/CallForge/pkg/template"
)

func newTestApp(t *testing.T, opts ...Option) *App {
	t.Helper()
	db, err := storage.Open(storage.Config{Path: ":memory:"})
	require.NoError(t, err)

	app := New(opts...)
	require.NoError(t, app.InitializeWithDB(db))
	t.Cleanup(func() {
		if app.Scheduler() != nil {
			app.Scheduler().Stop()
		}
	})
	return app
}

func TestNew_AppliesOptions(t *testing.T) {
	app := New(WithServerPort(9090), WithLogLevel("debug"), WithScheduler(false), WithMetrics(true))
	cfg := app.GetConfig()
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.True(t, cfg.Observability.Metrics.Enabled)
	assert.Equal(t, 10, cfg.Engine.ArgCountLimit)
}

func TestApp_DeletingFunctionRemovesSchedules(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	rec, _, err := app.Functions().Teach(ctx, function.TeachInput{
		Template: template.RequestTemplate{URL: "https://api.example.com/users/{{id}}", Method: "GET"},
	})
	require.NoError(t, err)

	_, err = app.Scheduler().Create(ctx, scheduler.CreateInput{
		Name: "poll", FunctionID: rec.ID, CronExpr: "0 0 * * * *",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, app.Scheduler().EntryCount())

	require.NoError(t, app.Functions().Delete(ctx, rec.ID))
	schedules, err := app.Scheduler().List(0, 0)
	require.NoError(t, err)
	assert.Empty(t, schedules)
	assert.Equal(t, 0, app.Scheduler().EntryCount())
}

func TestApp_SchedulerDisabled(t *testing.T) {
	app := newTestApp(t, WithScheduler(false))
	assert.Nil(t, app.Scheduler())
	assert.NotNil(t, app.Functions())
}

func TestApp_LLMRequiresKey(t *testing.T) {
	db, err := storage.Open(storage.Config{Path: ":memory:"})
	require.NoError(t, err)

	app := New(WithScheduler(false))
	app.config.LLM.Enabled = true
	assert.Error(t, app.InitializeWithDB(db))
}
