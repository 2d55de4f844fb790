package prompts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedTemplates_RenderEveryVersion(t *testing.T) {
	data := Data{
		Now:      "2024-07-09T10:30:00+05:30",
		Timezone: "Asia/Kolkata",
		Message:  "Collect blood culture today",
	}

	for _, version := range []string{"v1", "v0"} {
		store, err := NewStore(version, "")
		require.NoError(t, err)

		out, err := store.Render(data)
		require.NoError(t, err)
		assert.Equal(t, version, out.Version)
		assert.Contains(t, out.System, "Asia/Kolkata")
		assert.Contains(t, out.System, "Foley's Catheter")
		assert.Contains(t, out.User, data.Now)
		assert.Contains(t, out.User, data.Message)
	}
}

func TestNewStore_DefaultVersion(t *testing.T) {
	store, err := NewStore("", "")
	require.NoError(t, err)
	assert.Equal(t, "v1", store.Version())
}

func TestNewStore_UnknownVersion(t *testing.T) {
	_, err := NewStore("v99", "")
	assert.Error(t, err)
}

func writePromptFile(t *testing.T, path, marker string) {
	t.Helper()
	content := "default: custom\nversions:\n  custom:\n    system: \"" + marker + "\"\n    user: \"{{.Message}}\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestStore_OverrideFileAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	writePromptFile(t, path, "first")

	store, err := NewStore("", path)
	require.NoError(t, err)
	out, err := store.Render(Data{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "first", out.System)
	assert.Equal(t, "hi", out.User)

	writePromptFile(t, path, "second")
	require.NoError(t, store.Reload())
	out, err = store.Render(Data{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "second", out.System)
}

func TestStore_BrokenReloadKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	writePromptFile(t, path, "stable")

	store, err := NewStore("", path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("versions: [not, a, map"), 0o644))
	assert.Error(t, store.Reload())

	out, err := store.Render(Data{Message: "x"})
	require.NoError(t, err)
	assert.Equal(t, "stable", out.System)
}

func TestStore_WatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	writePromptFile(t, path, "before")

	store, err := NewStore("", path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, store.Watch(ctx))

	writePromptFile(t, path, "after")

	assert.Eventually(t, func() bool {
		out, err := store.Render(Data{Message: "x"})
		return err == nil && out.System == "after"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestStore_WatchWithoutFile(t *testing.T) {
	store, err := NewStore("", "")
	require.NoError(t, err)
	assert.Error(t, store.Watch(context.Background()))
}
