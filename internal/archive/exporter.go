// Package archive snapshots membership state into a blob store for offline
// retention. Archives are immutable JSON documents keyed by timestamp.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"groupcore/internal/blob"
	"groupcore/pkg/domain"
)

const defaultPrefix = "archives/"

// Snapshot is the archived document: every entity of the archived kinds, the
// full membership ledger, and the merge retirement log.
type Snapshot struct {
	Entities      []domain.Entity           `json:"entities"`
	Memberships   []domain.MembershipRecord `json:"memberships"`
	RetiredGroups []domain.EntityRef        `json:"retired_groups,omitempty"`
	ArchivedAt    time.Time                 `json:"archived_at"`
}

// Exporter writes snapshots of a persistent store to a blob store.
type Exporter struct {
	store    domain.PersistentStore
	registry *domain.KindRegistry
	blobs    blob.Store
	prefix   string
	nowFn    func() time.Time
}

// NewExporter constructs an exporter. The registry supplies the group kinds
// to archive; member-only kinds are discovered from the membership ledger.
func NewExporter(store domain.PersistentStore, registry *domain.KindRegistry, blobs blob.Store) *Exporter {
	return &Exporter{
		store:    store,
		registry: registry,
		blobs:    blobs,
		prefix:   defaultPrefix,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the exporter clock for tests.
func (e *Exporter) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		e.nowFn = fn
	}
}

// Export writes a snapshot and returns the stored blob's metadata. Extra
// kinds beyond the registry's group kinds may be listed explicitly.
func (e *Exporter) Export(ctx context.Context, kinds ...string) (blob.Info, error) {
	snapshot := e.capture(kinds)
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return blob.Info{}, err
	}
	key := fmt.Sprintf("%s%s.json", e.prefix, snapshot.ArchivedAt.Format("20060102T150405.000000000Z"))
	info, err := e.blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"memberships": fmt.Sprintf("%d", len(snapshot.Memberships)),
			"entities":    fmt.Sprintf("%d", len(snapshot.Entities)),
		},
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("store archive %s: %w", key, err)
	}
	return info, nil
}

func (e *Exporter) capture(extraKinds []string) Snapshot {
	memberships := e.store.ListMemberships()
	retired := e.store.RetiredGroups()

	kindSet := make(map[string]struct{})
	for _, k := range e.registry.GroupKinds() {
		kindSet[k] = struct{}{}
	}
	for _, k := range extraKinds {
		kindSet[k] = struct{}{}
	}
	for _, r := range memberships {
		kindSet[r.Member.Kind] = struct{}{}
		if !r.Named() {
			kindSet[r.Group.Kind] = struct{}{}
		}
	}
	kinds := make([]string, 0, len(kindSet))
	for k := range kindSet {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	var entities []domain.Entity
	for _, k := range kinds {
		entities = append(entities, e.store.ListEntities(k)...)
	}
	return Snapshot{
		Entities:      entities,
		Memberships:   memberships,
		RetiredGroups: retired,
		ArchivedAt:    e.nowFn(),
	}
}

// List returns the stored archive blobs, oldest first. Timestamped keys sort
// chronologically.
func (e *Exporter) List(ctx context.Context) ([]blob.Info, error) {
	return e.blobs.List(ctx, e.prefix)
}

// Fetch loads and decodes an archived snapshot by key.
func (e *Exporter) Fetch(ctx context.Context, key string) (Snapshot, error) {
	_, rc, err := e.blobs.Get(ctx, key)
	if err != nil {
		return Snapshot{}, err
	}
	defer func() { _ = rc.Close() }()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return Snapshot{}, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode archive %s: %w", key, err)
	}
	return snapshot, nil
}
