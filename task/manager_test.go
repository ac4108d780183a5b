package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttsapi/config"
	"ttsapi/tts"
)

// mockEngine is a stub synthesis collaborator for testing.
type mockEngine struct {
	synthFunc func(ctx context.Context, p tts.Params, outputPath string) error
}

func (m *mockEngine) Synthesize(ctx context.Context, p tts.Params, outputPath string) error {
	if m.synthFunc != nil {
		return m.synthFunc(ctx, p, outputPath)
	}
	// Default success behavior: write a small dummy artifact.
	return os.WriteFile(outputPath, []byte("RIFF dummy audio"), 0o644)
}

func testConfig() *config.Config {
	return &config.Config{
		MaxConcurrency: 1,
		QueueSize:      100,
		TTSTimeout:     10 * time.Second,
	}
}

// taskIDFromOutput recovers the task ID a stub engine was invoked for.
func taskIDFromOutput(outputPath string) string {
	return strings.TrimSuffix(filepath.Base(outputPath), ".wav")
}

func waitTerminal(t *testing.T, store *Store, id string) Task {
	t.Helper()
	require.Eventually(t, func() bool {
		rec, found := store.Get(id)
		return found && rec.Status.Terminal()
	}, 2*time.Second, 5*time.Millisecond)

	rec, _ := store.Get(id)
	return rec
}

func TestManager_Submit(t *testing.T) {
	store := NewStore(t.TempDir())
	mgr, err := NewManager(testConfig(), store, &mockEngine{})
	require.NoError(t, err)

	// Manager not started: the snapshot stays pending, which is exactly what
	// an immediate status poll must see.
	rec := mgr.Submit(tts.Params{Text: "hello"})
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, StatusPending, rec.Status)

	polled, found := store.Get(rec.ID)
	require.True(t, found)
	assert.Equal(t, StatusPending, polled.Status)
}

func TestManager_ProcessTask(t *testing.T) {
	t.Run("successful processing", func(t *testing.T) {
		store := NewStore(t.TempDir())
		engine := &mockEngine{
			synthFunc: func(ctx context.Context, p tts.Params, out string) error {
				time.Sleep(10 * time.Millisecond) // Simulate work
				return os.WriteFile(out, []byte("RIFF dummy audio"), 0o644)
			},
		}
		mgr, err := NewManager(testConfig(), store, engine)
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mgr.Start(ctx)

		rec := mgr.Submit(tts.Params{Text: "hello", PromptAudio: "speaker.wav"})
		done := waitTerminal(t, store, rec.ID)

		assert.Equal(t, StatusCompleted, done.Status)
		assert.Equal(t, store.OutputPath(rec.ID), done.OutputPath)
		assert.Empty(t, done.Error)
		require.NotNil(t, done.CompletedAt)
		assert.False(t, done.CompletedAt.Before(done.CreatedAt))
	})

	t.Run("engine failure is recorded", func(t *testing.T) {
		store := NewStore(t.TempDir())
		engine := &mockEngine{
			synthFunc: func(ctx context.Context, p tts.Params, out string) error {
				return errors.New("model overloaded")
			},
		}
		mgr, err := NewManager(testConfig(), store, engine)
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mgr.Start(ctx)

		rec := mgr.Submit(tts.Params{Text: "hello"})
		done := waitTerminal(t, store, rec.ID)

		assert.Equal(t, StatusFailed, done.Status)
		assert.Equal(t, "model overloaded", done.Error)
		assert.Empty(t, done.OutputPath)
		assert.NotNil(t, done.CompletedAt)
	})

	t.Run("engine success without artifact is a failure", func(t *testing.T) {
		store := NewStore(t.TempDir())
		engine := &mockEngine{
			synthFunc: func(ctx context.Context, p tts.Params, out string) error {
				return nil // claims success, writes nothing
			},
		}
		mgr, err := NewManager(testConfig(), store, engine)
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mgr.Start(ctx)

		rec := mgr.Submit(tts.Params{Text: "hello"})
		done := waitTerminal(t, store, rec.ID)

		assert.Equal(t, StatusFailed, done.Status)
		assert.Contains(t, done.Error, "produced no output")
		assert.Empty(t, done.OutputPath)
	})

	t.Run("engine success with empty artifact is a failure", func(t *testing.T) {
		store := NewStore(t.TempDir())
		engine := &mockEngine{
			synthFunc: func(ctx context.Context, p tts.Params, out string) error {
				return os.WriteFile(out, nil, 0o644)
			},
		}
		mgr, err := NewManager(testConfig(), store, engine)
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mgr.Start(ctx)

		rec := mgr.Submit(tts.Params{Text: "hello"})
		done := waitTerminal(t, store, rec.ID)

		assert.Equal(t, StatusFailed, done.Status)
		assert.Contains(t, done.Error, "produced no output")
	})

	t.Run("panicking engine still terminates the record", func(t *testing.T) {
		store := NewStore(t.TempDir())
		engine := &mockEngine{
			synthFunc: func(ctx context.Context, p tts.Params, out string) error {
				panic("inference blew up")
			},
		}
		mgr, err := NewManager(testConfig(), store, engine)
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mgr.Start(ctx)

		rec := mgr.Submit(tts.Params{Text: "hello"})
		done := waitTerminal(t, store, rec.ID)

		assert.Equal(t, StatusFailed, done.Status)
		assert.Contains(t, done.Error, "inference blew up")
	})
}

func TestManager_RunSync(t *testing.T) {
	t.Run("returns terminal snapshot inline", func(t *testing.T) {
		store := NewStore(t.TempDir())
		mgr, err := NewManager(testConfig(), store, &mockEngine{})
		require.NoError(t, err)

		rec := mgr.RunSync(tts.Params{Text: "hello", PromptAudio: "speaker.wav"})
		assert.Equal(t, StatusCompleted, rec.Status)
		assert.Equal(t, store.OutputPath(rec.ID), rec.OutputPath)
		assert.NotNil(t, rec.CompletedAt)
	})

	t.Run("passes through processing", func(t *testing.T) {
		store := NewStore(t.TempDir())
		var observed Status
		engine := &mockEngine{
			synthFunc: func(ctx context.Context, p tts.Params, out string) error {
				mid, _ := store.Get(taskIDFromOutput(out))
				observed = mid.Status
				return os.WriteFile(out, []byte("RIFF dummy audio"), 0o644)
			},
		}
		mgr, err := NewManager(testConfig(), store, engine)
		require.NoError(t, err)

		rec := mgr.RunSync(tts.Params{Text: "hello"})
		assert.Equal(t, StatusProcessing, observed)
		assert.Equal(t, StatusCompleted, rec.Status)
	})

	t.Run("surfaces engine error on the record", func(t *testing.T) {
		store := NewStore(t.TempDir())
		engine := &mockEngine{
			synthFunc: func(ctx context.Context, p tts.Params, out string) error {
				return errors.New("model overloaded")
			},
		}
		mgr, err := NewManager(testConfig(), store, engine)
		require.NoError(t, err)

		rec := mgr.RunSync(tts.Params{Text: "hello"})
		assert.Equal(t, StatusFailed, rec.Status)
		assert.Equal(t, "model overloaded", rec.Error)
	})
}

func TestManager_ConcurrentTasks(t *testing.T) {
	store := NewStore(t.TempDir())
	cfg := testConfig()
	cfg.MaxConcurrency = 8

	// Each invocation writes its own task ID into the artifact so cross-task
	// bleed would be visible in the file contents.
	engine := &mockEngine{
		synthFunc: func(ctx context.Context, p tts.Params, out string) error {
			return os.WriteFile(out, []byte(taskIDFromOutput(out)), 0o644)
		},
	}
	mgr, err := NewManager(cfg, store, engine)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	const n = 50
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, mgr.Submit(tts.Params{Text: "hello"}).ID)
	}

	seen := make(map[string]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate task ID: %s", id)
		seen[id] = true

		done := waitTerminal(t, store, id)
		assert.Equal(t, StatusCompleted, done.Status)
		assert.Empty(t, done.Error)

		content, readErr := os.ReadFile(done.OutputPath)
		require.NoError(t, readErr)
		assert.Equal(t, id, string(content))
	}
}

func TestManager_CleanupLoop(t *testing.T) {
	store := NewStore(t.TempDir())
	cfg := testConfig()
	cfg.OutputLocalLifetime = 40 * time.Millisecond

	mgr, err := NewManager(cfg, store, &mockEngine{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	rec := mgr.RunSync(tts.Params{Text: "hello"})
	require.Equal(t, StatusCompleted, rec.Status)

	// Artifact ages out; the record does not.
	require.Eventually(t, func() bool {
		_, statErr := os.Stat(rec.OutputPath)
		return os.IsNotExist(statErr)
	}, 2*time.Second, 10*time.Millisecond)

	kept, found := store.Get(rec.ID)
	require.True(t, found)
	assert.Equal(t, StatusCompleted, kept.Status)
}
