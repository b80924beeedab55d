// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxwell3025/theorem-library/services/catalog/graph"
	"github.com/maxwell3025/theorem-library/services/catalog/status"
)

func testRef(name string) graph.ProofRef {
	return graph.ProofRef{
		RepoURL: "http://git-server:3000/git/" + name + ".git",
		Commit:  "da39a3ee5e6b4b0d3255bfef95601890afd80709",
	}
}

func openTestStore(t *testing.T) *CatalogStore {
	t.Helper()
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewCatalogStore(db)
}

// populate builds base <- algebra through a write-through store and tracker.
func populate(t *testing.T, cs *CatalogStore) (base, algebra graph.ProofRef) {
	t.Helper()
	g := graph.NewStore(graph.WithPersister(cs))
	tr := status.NewTracker(status.WithPersister(cs))

	base, algebra = testRef("base-math"), testRef("algebra-theorems")

	_, err := g.UpsertNode(base, nil)
	require.NoError(t, err)
	deps := []graph.DependencyRef{{PackageName: "base-math", Ref: base}}
	_, err = g.UpsertWithEdges(algebra, deps)
	require.NoError(t, err)

	key, err := tr.Enqueue(base, status.PipelineVerification, "task-1", func(status.JobKey) error { return nil })
	require.NoError(t, err)
	applied, err := tr.Complete(key, status.StateSuccess, "")
	require.NoError(t, err)
	require.True(t, applied)

	// Left queued on purpose: replay must flag it as interrupted.
	_, err = tr.Enqueue(algebra, status.PipelineCompilation, "task-2", func(status.JobKey) error { return nil })
	require.NoError(t, err)

	return base, algebra
}

// TestCatalogStore_RoundTrip verifies a full persist-and-replay cycle.
func TestCatalogStore_RoundTrip(t *testing.T) {
	cs := openTestStore(t)
	base, algebra := populate(t, cs)

	fresh := graph.NewStore()
	tracker := status.NewTracker()
	stats, err := cs.Load(context.Background(), fresh, tracker)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Nodes)
	assert.Equal(t, 1, stats.Edges)
	assert.Equal(t, 2, stats.Statuses)
	assert.Equal(t, 1, stats.Interrupted)
	assert.Equal(t, 0, stats.Dangling)

	// Insertion order survives the restart.
	nodes := fresh.ListNodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, base, nodes[0].Ref)
	assert.Equal(t, algebra, nodes[1].Ref)

	deps, err := fresh.Dependencies(algebra)
	require.NoError(t, err)
	assert.Equal(t, []graph.ProofRef{base}, deps)

	node, err := fresh.GetNode(algebra)
	require.NoError(t, err)
	require.Len(t, node.Dependencies, 1)
	assert.Equal(t, "base-math", node.Dependencies[0].PackageName)

	assert.Equal(t, status.StateSuccess, tracker.Get(base, status.PipelineVerification))
	assert.Equal(t, uint64(1), tracker.Generation(base, status.PipelineVerification))
	assert.Equal(t, status.StateQueued, tracker.Get(algebra, status.PipelineCompilation))
}

// TestCatalogStore_Deletes verifies delete paths clear their records.
func TestCatalogStore_Deletes(t *testing.T) {
	cs := openTestStore(t)
	base, algebra := populate(t, cs)

	g := graph.NewStore(graph.WithPersister(cs))
	tr := status.NewTracker(status.WithPersister(cs))
	_, err := cs.Load(context.Background(), g, tr)
	require.NoError(t, err)

	// Deleting algebra removes its node record and unlinks the edge.
	require.NoError(t, g.DeleteNode(algebra))
	tr.Forget(algebra)

	fresh := graph.NewStore()
	tracker := status.NewTracker()
	stats, err := cs.Load(context.Background(), fresh, tracker)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Nodes)
	assert.Equal(t, 0, stats.Edges)
	assert.Equal(t, 1, stats.Statuses, "only base-math's status should remain")
	assert.False(t, fresh.Contains(algebra))
	assert.True(t, fresh.Contains(base))
}

// TestCatalogStore_DanglingEdgeDropped verifies replay tolerates an edge
// whose endpoint record is gone.
func TestCatalogStore_DanglingEdgeDropped(t *testing.T) {
	cs := openTestStore(t)
	_, algebra := populate(t, cs)

	// Remove the base node record directly, leaving its edge behind.
	require.NoError(t, cs.DeleteNode(testRef("base-math")))

	fresh := graph.NewStore()
	tracker := status.NewTracker()
	stats, err := cs.Load(context.Background(), fresh, tracker)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Nodes)
	assert.Equal(t, 0, stats.Edges)
	assert.Equal(t, 1, stats.Dangling)
	assert.True(t, fresh.Contains(algebra))
}

// TestCatalogStore_PersistentReopen verifies data survives a close and
// reopen on disk.
func TestCatalogStore_PersistentReopen(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig(dir)
	db, err := OpenDB(cfg)
	require.NoError(t, err)

	cs := NewCatalogStore(db)
	base, _ := populate(t, cs)
	require.NoError(t, db.Close())

	db, err = OpenDB(cfg)
	require.NoError(t, err)
	defer db.Close()

	fresh := graph.NewStore()
	tracker := status.NewTracker()
	stats, err := NewCatalogStore(db).Load(context.Background(), fresh, tracker)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Nodes)
	assert.True(t, fresh.Contains(base))
	assert.Equal(t, status.StateSuccess, tracker.Get(base, status.PipelineVerification))
}

// TestOpenDB_RequiresPath verifies the persistent mode precondition.
func TestOpenDB_RequiresPath(t *testing.T) {
	_, err := OpenDB(Config{})
	assert.Error(t, err)
}
