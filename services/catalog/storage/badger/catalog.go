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
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/maxwell3025/theorem-library/services/catalog/graph"
	"github.com/maxwell3025/theorem-library/services/catalog/status"
)

// Key layout. The repo URL is base64url-encoded so keys stay slash-separable:
//
//	node/<enc(repo)>/<commit>                             node record
//	edge/<enc(src repo)>/<src commit>/<enc(dst repo)>/<dst commit>  edge record
//	status/<enc(repo)>/<commit>/<pipeline>                status record
const (
	nodePrefix   = "node/"
	edgePrefix   = "edge/"
	statusPrefix = "status/"
)

func nodeKey(ref graph.ProofRef) []byte {
	return []byte(nodePrefix + ref.EncodedRepo() + "/" + ref.Commit)
}

func edgeKey(src, dst graph.ProofRef) []byte {
	return []byte(edgePrefix + src.EncodedRepo() + "/" + src.Commit + "/" + dst.EncodedRepo() + "/" + dst.Commit)
}

func statusKey(ref graph.ProofRef, p status.Pipeline) []byte {
	return []byte(statusPrefix + ref.EncodedRepo() + "/" + ref.Commit + "/" + p.String())
}

func statusKeyPrefix(ref graph.ProofRef) []byte {
	return []byte(statusPrefix + ref.EncodedRepo() + "/" + ref.Commit + "/")
}

// Records are self-describing JSON: load never parses keys, keys exist for
// prefix scans and exact deletes only.

type dependencyRecord struct {
	PackageName string `json:"package_name"`
	RepoURL     string `json:"repo_url"`
	Commit      string `json:"commit"`
}

type nodeRecord struct {
	RepoURL        string             `json:"repo_url"`
	Commit         string             `json:"commit"`
	Seq            uint64             `json:"seq"`
	CreatedAtMilli int64              `json:"created_at_milli"`
	Dependencies   []dependencyRecord `json:"dependencies,omitempty"`
}

type edgeRecord struct {
	SrcRepoURL string `json:"src_repo_url"`
	SrcCommit  string `json:"src_commit"`
	DstRepoURL string `json:"dst_repo_url"`
	DstCommit  string `json:"dst_commit"`
}

type statusRecord struct {
	RepoURL    string `json:"repo_url"`
	Commit     string `json:"commit"`
	Pipeline   string `json:"pipeline"`
	State      string `json:"state"`
	Generation uint64 `json:"generation"`
}

// LoadStats summarizes one snapshot replay.
type LoadStats struct {
	// Nodes and Edges are the graph records replayed into memory.
	Nodes int
	Edges int

	// Statuses counts replayed status entries; Interrupted counts those
	// found queued or running, whose jobs died with the previous process.
	Statuses    int
	Interrupted int

	// Dangling counts edge records that referenced a missing node and were
	// dropped.
	Dangling int
}

// CatalogStoreOption configures a CatalogStore.
type CatalogStoreOption func(*CatalogStore)

// WithStoreLogger sets the structured logger.
func WithStoreLogger(logger *slog.Logger) CatalogStoreOption {
	return func(s *CatalogStore) {
		s.logger = logger
	}
}

// CatalogStore is the typed persistence layer over the catalog database. It
// satisfies graph.Persister and status.Persister, so the graph store and the
// status tracker write through it, and it replays the snapshot at startup.
//
// Thread Safety: CatalogStore is safe for concurrent use.
type CatalogStore struct {
	db     *DB
	logger *slog.Logger
}

// NewCatalogStore creates a CatalogStore over an open database.
func NewCatalogStore(db *DB, opts ...CatalogStoreOption) *CatalogStore {
	s := &CatalogStore{
		db:     db,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ graph.Persister  = (*CatalogStore)(nil)
	_ status.Persister = (*CatalogStore)(nil)
)

// PersistNode records a node and its insertion sequence number.
func (s *CatalogStore) PersistNode(n graph.Node, seq uint64) error {
	rec := nodeRecord{
		RepoURL:        n.Ref.RepoURL,
		Commit:         n.Ref.Commit,
		Seq:            seq,
		CreatedAtMilli: n.CreatedAt.UnixMilli(),
	}
	for _, dep := range n.Dependencies {
		rec.Dependencies = append(rec.Dependencies, dependencyRecord{
			PackageName: dep.PackageName,
			RepoURL:     dep.Ref.RepoURL,
			Commit:      dep.Ref.Commit,
		})
	}
	return s.put(nodeKey(n.Ref), rec)
}

// DeleteNode removes a node record. Edge records are deleted individually by
// the graph store as it unlinks them, and status records go through
// DeleteStatuses when the tracker forgets the ref.
func (s *CatalogStore) DeleteNode(ref graph.ProofRef) error {
	return s.db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		return txn.Delete(nodeKey(ref))
	})
}

// PersistEdge records a directed edge.
func (s *CatalogStore) PersistEdge(src, dst graph.ProofRef) error {
	rec := edgeRecord{
		SrcRepoURL: src.RepoURL,
		SrcCommit:  src.Commit,
		DstRepoURL: dst.RepoURL,
		DstCommit:  dst.Commit,
	}
	return s.put(edgeKey(src, dst), rec)
}

// DeleteEdge removes an edge record.
func (s *CatalogStore) DeleteEdge(src, dst graph.ProofRef) error {
	return s.db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		return txn.Delete(edgeKey(src, dst))
	})
}

// PersistStatus records one (proof, pipeline) status entry.
func (s *CatalogStore) PersistStatus(ref graph.ProofRef, p status.Pipeline, st status.State, gen uint64) error {
	rec := statusRecord{
		RepoURL:    ref.RepoURL,
		Commit:     ref.Commit,
		Pipeline:   p.String(),
		State:      st.String(),
		Generation: gen,
	}
	return s.put(statusKey(ref, p), rec)
}

// DeleteStatuses removes every pipeline's status record for one proof.
func (s *CatalogStore) DeleteStatuses(ref graph.ProofRef) error {
	return s.db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		for _, p := range status.AllPipelines() {
			if err := txn.Delete(statusKey(ref, p)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load replays the snapshot into a fresh graph store and status tracker.
//
// Description:
//
//	Replays node records in their original insertion order, then edges,
//	then statuses. Edge records whose endpoints no longer exist are dropped
//	with a warning; status entries found queued or running are replayed
//	verbatim but counted as interrupted, since their jobs died with the
//	previous process and only an explicit re-test restarts them.
//
// Inputs:
//
//	ctx - Context for cancellation between prefix scans.
//	g - The graph store to populate. Must be empty.
//	tr - The status tracker to populate. Must be empty.
//
// Outputs:
//
//	LoadStats - Counts of replayed and dropped records.
//	error - Non-nil on a read or decode failure; partial loads are possible
//	and the caller should discard both targets on error.
func (s *CatalogStore) Load(ctx context.Context, g *graph.Store, tr *status.Tracker) (LoadStats, error) {
	var stats LoadStats
	start := time.Now()

	var nodes []nodeRecord
	err := s.scan(ctx, nodePrefix, func(val []byte) error {
		var rec nodeRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("decode node record: %w", err)
		}
		nodes = append(nodes, rec)
		return nil
	})
	if err != nil {
		return stats, err
	}

	// Replay in insertion order so ListNodes keeps its stable ordering
	// across restarts.
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Seq < nodes[j].Seq })
	for _, rec := range nodes {
		n := graph.Node{
			Ref:       graph.ProofRef{RepoURL: rec.RepoURL, Commit: rec.Commit},
			CreatedAt: time.UnixMilli(rec.CreatedAtMilli),
		}
		for _, dep := range rec.Dependencies {
			n.Dependencies = append(n.Dependencies, graph.DependencyRef{
				PackageName: dep.PackageName,
				Ref:         graph.ProofRef{RepoURL: dep.RepoURL, Commit: dep.Commit},
			})
		}
		if err := g.RehydrateNode(n); err != nil {
			s.logger.Warn("skipping node record on replay", "proof", n.Ref.String(), "error", err)
			continue
		}
		stats.Nodes++
	}

	err = s.scan(ctx, edgePrefix, func(val []byte) error {
		var rec edgeRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("decode edge record: %w", err)
		}
		src := graph.ProofRef{RepoURL: rec.SrcRepoURL, Commit: rec.SrcCommit}
		dst := graph.ProofRef{RepoURL: rec.DstRepoURL, Commit: rec.DstCommit}
		if err := g.RehydrateEdge(src, dst); err != nil {
			stats.Dangling++
			s.logger.Warn("dropping dangling edge record",
				"source", src.String(), "dependency", dst.String(), "error", err)
			return nil
		}
		stats.Edges++
		return nil
	})
	if err != nil {
		return stats, err
	}

	err = s.scan(ctx, statusPrefix, func(val []byte) error {
		var rec statusRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("decode status record: %w", err)
		}
		p, err := status.ParsePipeline(rec.Pipeline)
		if err != nil {
			return fmt.Errorf("status record for %s@%s: %w", rec.RepoURL, rec.Commit, err)
		}
		st, err := status.ParseState(rec.State)
		if err != nil {
			return fmt.Errorf("status record for %s@%s: %w", rec.RepoURL, rec.Commit, err)
		}
		ref := graph.ProofRef{RepoURL: rec.RepoURL, Commit: rec.Commit}
		if tr.Rehydrate(ref, p, st, rec.Generation) {
			stats.Interrupted++
			s.logger.Warn("status was in flight at shutdown; re-test to resume",
				"proof", ref.String(), "pipeline", p.String(), "state", st.String())
		}
		stats.Statuses++
		return nil
	})
	if err != nil {
		return stats, err
	}

	s.logger.Info("catalog snapshot replayed",
		"nodes", stats.Nodes,
		"edges", stats.Edges,
		"statuses", stats.Statuses,
		"interrupted", stats.Interrupted,
		"dangling", stats.Dangling,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return stats, nil
}

// put marshals one record and writes it in its own transaction.
func (s *CatalogStore) put(key []byte, rec any) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return s.db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

// scan iterates every value under a key prefix.
func (s *CatalogStore) scan(ctx context.Context, prefix string, fn func(val []byte) error) error {
	return s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				return fn(val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
