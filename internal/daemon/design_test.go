package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/tina/internal/store"
)

func TestExtractTitleFromMeta(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "meta.ts")

	require.NoError(t, os.WriteFile(metaPath, []byte(`export default { title: "My Cool Design" };`), 0o644))
	title, ok := ExtractTitleFromMeta(metaPath)
	require.True(t, ok)
	require.Equal(t, "My Cool Design", title)

	require.NoError(t, os.WriteFile(metaPath, []byte(`export default { title: 'Single Quoted Title' };`), 0o644))
	title, ok = ExtractTitleFromMeta(metaPath)
	require.True(t, ok)
	require.Equal(t, "Single Quoted Title", title)

	require.NoError(t, os.WriteFile(metaPath, []byte(`export default { description: 'no title here' };`), 0o644))
	_, ok = ExtractTitleFromMeta(metaPath)
	require.False(t, ok)

	_, ok = ExtractTitleFromMeta("/nonexistent/meta.ts")
	require.False(t, ok)
}

func TestExtractPromptFromMeta(t *testing.T) {
	metaPath := filepath.Join(t.TempDir(), "meta.ts")
	require.NoError(t, os.WriteFile(metaPath, []byte(`export default { prompt: "Explore dashboard variants" };`), 0o644))

	prompt, ok := ExtractPromptFromMeta(metaPath)
	require.True(t, ok)
	require.Equal(t, "Explore dashboard variants", prompt)
}

func TestTitleFromSlug(t *testing.T) {
	require.Equal(t, "My Design V2", TitleFromSlug("my-design-v2"))
	require.Equal(t, "Single", TitleFromSlug("single"))
	require.Equal(t, "A B", TitleFromSlug("a--b"))
}

func TestSyncDesignMetadataCreatesDesignsAndVariations(t *testing.T) {
	syncer, client, _, _, _ := testSyncer(t)
	ctx := context.Background()

	worktree := t.TempDir()
	designDir := filepath.Join(worktree, "ui", "designs", "sets", "login-page")
	require.NoError(t, os.MkdirAll(filepath.Join(designDir, "variant-a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(designDir, "variant-b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(designDir, "meta.ts"),
		[]byte(`export default { title: "Login Page", prompt: "Explore login layouts" };`), 0o644))

	projectID := store.StrPtr("project_1")
	require.NoError(t, syncer.SyncDesignMetadata(ctx, "orch_1", projectID, worktree))

	designs, err := client.ListDesigns(ctx, *projectID, nil)
	require.NoError(t, err)
	require.Len(t, designs, 1)
	require.Equal(t, "Login Page", designs[0].Title)
	require.Equal(t, "Explore login layouts", designs[0].Prompt)

	variations, err := client.ListVariations(ctx, designs[0].ID)
	require.NoError(t, err)
	require.Len(t, variations, 2)

	// Re-running touches nothing: existing entries are left alone.
	require.NoError(t, syncer.SyncDesignMetadata(ctx, "orch_1", projectID, worktree))
	designs, err = client.ListDesigns(ctx, *projectID, nil)
	require.NoError(t, err)
	require.Len(t, designs, 1)
	variations, err = client.ListVariations(ctx, designs[0].ID)
	require.NoError(t, err)
	require.Len(t, variations, 2)
}

func TestSyncDesignMetadataFallsBackToSlug(t *testing.T) {
	syncer, client, _, _, _ := testSyncer(t)
	ctx := context.Background()

	worktree := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(worktree, "ui", "designs", "sets", "checkout-flow"), 0o755))

	projectID := store.StrPtr("project_1")
	require.NoError(t, syncer.SyncDesignMetadata(ctx, "orch_1", projectID, worktree))

	designs, err := client.ListDesigns(ctx, *projectID, nil)
	require.NoError(t, err)
	require.Len(t, designs, 1)
	require.Equal(t, "Checkout Flow", designs[0].Title)
	require.Equal(t, "Explore visual direction for Checkout Flow", designs[0].Prompt)
}

func TestSyncDesignMetadataNoSetsDirIsNoop(t *testing.T) {
	syncer, _, _, _, _ := testSyncer(t)
	require.NoError(t, syncer.SyncDesignMetadata(context.Background(), "orch_1", store.StrPtr("p"), t.TempDir()))
}

func TestSyncDesignMetadataSkipsWithoutProject(t *testing.T) {
	syncer, client, _, _, _ := testSyncer(t)
	ctx := context.Background()

	worktree := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(worktree, "ui", "designs", "sets", "some-design"), 0o755))

	require.NoError(t, syncer.SyncDesignMetadata(ctx, "orch_1", nil, worktree))
	designs, err := client.ListDesigns(ctx, "project_1", nil)
	require.NoError(t, err)
	require.Empty(t, designs)
}
