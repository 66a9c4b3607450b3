package registry_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-media-flow/internal/domain"
	"github.com/ramiqadoumi/go-media-flow/internal/registry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func result(paths ...string) *domain.Result {
	r := &domain.Result{}
	for i, p := range paths {
		r.Artifacts = append(r.Artifacts, domain.Artifact{Index: i, LocalPath: p})
	}
	return r
}

func TestCreate_AssignsPendingTask(t *testing.T) {
	clk := newClock()
	r := registry.New(registry.WithClock(clk.Now))

	a := r.Create("minimaxi-image")
	b := r.Create("minimaxi-image")

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID, "ids must be unique")
	assert.Equal(t, domain.StatusPending, a.Status)
	assert.Equal(t, clk.Now(), a.CreatedAt)
	assert.Nil(t, a.CompletedAt)
	assert.Equal(t, 2, r.Len())
}

func TestGet_UnknownID(t *testing.T) {
	r := registry.New()
	_, err := r.Get("missing")
	var nf *domain.TaskNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "missing", nf.TaskID)
}

func TestUpdate_Lifecycle(t *testing.T) {
	clk := newClock()
	r := registry.New(registry.WithClock(clk.Now))
	task := r.Create("kling-video")

	clk.Advance(time.Second)
	got, err := r.Update(task.ID, registry.Change{Status: domain.StatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.Nil(t, got.CompletedAt)

	clk.Advance(time.Second)
	got, err = r.Update(task.ID, registry.Change{Status: domain.StatusCompleted, Result: result("a.mp4")})
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, clk.Now(), *got.CompletedAt)
	assert.Equal(t, "a.mp4", got.Result.Artifacts[0].LocalPath)
	assert.Empty(t, got.Error)
}

func TestUpdate_TerminalIsFinal(t *testing.T) {
	r := registry.New()
	task := r.Create("kling-image")
	_, err := r.Update(task.ID, registry.Change{Status: domain.StatusFailed, Error: "boom", ErrorKind: domain.ErrorKindTimeout})
	require.NoError(t, err)

	before, err := r.Get(task.ID)
	require.NoError(t, err)

	_, err = r.Update(task.ID, registry.Change{Status: domain.StatusCompleted, Result: result("x.png")})
	var fin *domain.AlreadyFinalizedError
	require.True(t, errors.As(err, &fin))
	assert.Equal(t, domain.StatusFailed, fin.Status)

	after, err := r.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after, "terminal record must not change")
	assert.Equal(t, domain.ErrorKindTimeout, after.ErrorKind)
}

func TestUpdate_FailedDefaultsKind(t *testing.T) {
	r := registry.New()
	task := r.Create("k")
	got, err := r.Update(task.ID, registry.Change{Status: domain.StatusFailed, Error: "boom"})
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorKindInternal, got.ErrorKind)
}

func TestUpdate_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name   string
		change registry.Change
	}{
		{"back to pending", registry.Change{Status: domain.StatusPending}},
		{"completed without result", registry.Change{Status: domain.StatusCompleted}},
		{"completed with error", registry.Change{Status: domain.StatusCompleted, Result: result(), Error: "x"}},
		{"failed without error", registry.Change{Status: domain.StatusFailed}},
		{"failed with result", registry.Change{Status: domain.StatusFailed, Error: "x", Result: result()}},
		{"processing with error", registry.Change{Status: domain.StatusProcessing, Error: "x"}},
		{"unknown status", registry.Change{Status: domain.Status("DONE")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := registry.New()
			task := r.Create("k")
			_, err := r.Update(task.ID, tt.change)
			var inv *domain.InvalidTransitionError
			require.True(t, errors.As(err, &inv), "got %v", err)

			got, err := r.Get(task.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusPending, got.Status)
		})
	}
}

func TestUpdate_UnknownID(t *testing.T) {
	r := registry.New()
	_, err := r.Update("nope", registry.Change{Status: domain.StatusProcessing})
	var nf *domain.TaskNotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestGet_ReturnsIndependentCopy(t *testing.T) {
	r := registry.New()
	task := r.Create("k")
	_, err := r.Update(task.ID, registry.Change{Status: domain.StatusCompleted, Result: result("a.png")})
	require.NoError(t, err)

	got, _ := r.Get(task.ID)
	got.Result.Artifacts[0].LocalPath = "tampered"
	got.Status = domain.StatusPending

	again, _ := r.Get(task.ID)
	assert.Equal(t, "a.png", again.Result.Artifacts[0].LocalPath)
	assert.Equal(t, domain.StatusCompleted, again.Status)
}

func TestEvict(t *testing.T) {
	clk := newClock()
	r := registry.New(registry.WithClock(clk.Now))

	old := r.Create("k")
	_, err := r.Update(old.ID, registry.Change{Status: domain.StatusFailed, Error: "x"})
	require.NoError(t, err)
	running := r.Create("k")
	_, err = r.Update(running.ID, registry.Change{Status: domain.StatusProcessing})
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	fresh := r.Create("k")
	_, err = r.Update(fresh.ID, registry.Change{Status: domain.StatusCompleted, Result: result()})
	require.NoError(t, err)

	assert.Equal(t, 1, r.Evict(time.Hour))
	assert.Equal(t, 2, r.Len())

	_, err = r.Get(old.ID)
	assert.Error(t, err)
	_, err = r.Get(running.ID)
	assert.NoError(t, err, "non-terminal tasks are never evicted")
	_, err = r.Get(fresh.ID)
	assert.NoError(t, err)
}

func TestConcurrentUpdates_SingleFinalization(t *testing.T) {
	r := registry.New()
	task := r.Create("k")

	const writers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Update(task.ID, registry.Change{
				Status: domain.StatusCompleted,
				Result: result(fmt.Sprintf("%d.png", i)),
			})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.Get(task.ID)
			if assert.NoError(t, err) && got.Status == domain.StatusCompleted {
				assert.NotNil(t, got.Result)
				assert.NotNil(t, got.CompletedAt)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success, "exactly one completion must win")
}
