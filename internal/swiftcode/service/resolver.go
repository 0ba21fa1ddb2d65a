package service

import (
	"context"
	"fmt"

	"swiftregistry/internal/swiftcode/models"
	"swiftregistry/internal/swiftcode/ports"
)

// saveWithHierarchy persists a new record and links it into the hierarchy.
// A branch is attached to its headquarters when one is stored; a headquarters
// adopts every branch sharing its prefix. Returns the number of links made.
func saveWithHierarchy(ctx context.Context, store ports.RecordStore, record *models.Record) (int, error) {
	if !record.IsHeadquarters {
		linked, err := attachToHeadquarters(ctx, store, record)
		if err != nil {
			return 0, err
		}
		if err := store.Put(ctx, record); err != nil {
			return 0, fmt.Errorf("save branch %s: %w", record.Code, err)
		}
		if linked {
			return 1, nil
		}
		return 0, nil
	}

	// The headquarters must be stored before branches can reference it.
	if err := store.Put(ctx, record); err != nil {
		return 0, fmt.Errorf("save headquarters %s: %w", record.Code, err)
	}
	return adoptBranches(ctx, store, record.Code, nil)
}

// attachToHeadquarters sets record's parent when its headquarters exists.
// A missing headquarters leaves the branch an orphan; that is not an error.
func attachToHeadquarters(ctx context.Context, store ports.RecordStore, record *models.Record) (bool, error) {
	hqCode, ok := models.HeadquartersCodeFor(record.Code)
	if !ok {
		return false, nil
	}
	exists, err := store.Exists(ctx, hqCode)
	if err != nil {
		return false, fmt.Errorf("look up headquarters %s: %w", hqCode, err)
	}
	if !exists {
		return false, nil
	}
	return record.SetHeadquarters(hqCode), nil
}

// adoptBranches links every stored non-headquarters code under hqCode's prefix
// to hqCode. Codes in skip are left alone. Headquarters-shaped codes are never
// adopted, even when they share the prefix.
func adoptBranches(ctx context.Context, store ports.RecordStore, hqCode string, skip map[string]struct{}) (int, error) {
	prefix, ok := models.InstitutionPrefix(hqCode)
	if !ok {
		return 0, nil
	}
	candidates, err := store.FindByPrefix(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("find branches of %s: %w", hqCode, err)
	}

	linked := 0
	for _, branch := range candidates {
		if branch.Code == hqCode || models.IsHeadquartersCode(branch.Code) || branch.ParentCode() == hqCode {
			continue
		}
		if _, skipped := skip[branch.Code]; skipped {
			continue
		}
		if !branch.SetHeadquarters(hqCode) {
			continue
		}
		if err := store.Put(ctx, branch); err != nil {
			return linked, fmt.Errorf("link branch %s to %s: %w", branch.Code, hqCode, err)
		}
		linked++
	}
	return linked, nil
}

// PlanLinks computes the parent links for a persisted batch. hqPresent
// reports which headquarters codes exist in the fully populated store.
// The result holds at most one update per branch, in batch order.
func PlanLinks(batch []*models.Record, hqPresent map[string]bool) []models.LinkUpdate {
	updates := make([]models.LinkUpdate, 0)
	seen := make(map[string]struct{}, len(batch))
	for _, r := range batch {
		if r.IsHeadquarters {
			continue
		}
		if _, dup := seen[r.Code]; dup {
			continue
		}
		seen[r.Code] = struct{}{}

		hqCode, ok := models.HeadquartersCodeFor(r.Code)
		if !ok || !hqPresent[hqCode] || r.ParentCode() == hqCode {
			continue
		}
		updates = append(updates, models.LinkUpdate{Code: r.Code, HeadquartersCode: hqCode})
	}
	return updates
}

// headquartersCandidates lists the distinct parent keys referenced by the
// branches of a batch.
func headquartersCandidates(batch []*models.Record) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, r := range batch {
		hqCode, ok := models.HeadquartersCodeFor(r.Code)
		if !ok {
			continue
		}
		if _, dup := seen[hqCode]; dup {
			continue
		}
		seen[hqCode] = struct{}{}
		out = append(out, hqCode)
	}
	return out
}

// carryLinks copies the stored parent onto every batch branch that is
// already linked, so PutAll keeps the link and reconciliation only counts
// links that did not exist before the batch.
func carryLinks(ctx context.Context, store ports.RecordStore, batch []*models.Record) error {
	parents := make(map[string]string)
	for _, hqCode := range headquartersCandidates(batch) {
		children, err := store.FindByParent(ctx, hqCode)
		if err != nil {
			return fmt.Errorf("find branches of %s: %w", hqCode, err)
		}
		for _, child := range children {
			parents[child.Code] = hqCode
		}
	}
	for _, r := range batch {
		if hqCode, ok := parents[r.Code]; ok {
			r.SetHeadquarters(hqCode)
		}
	}
	return nil
}

// reconcileBatch runs the reconciliation pass over a persisted batch: each
// branch is linked to its headquarters and each headquarters in the batch
// adopts pre-existing orphans outside the batch.
func reconcileBatch(ctx context.Context, store ports.RecordStore, batch []*models.Record) (int, error) {
	hqPresent := make(map[string]bool)
	for _, hqCode := range headquartersCandidates(batch) {
		exists, err := store.Exists(ctx, hqCode)
		if err != nil {
			return 0, fmt.Errorf("look up headquarters %s: %w", hqCode, err)
		}
		hqPresent[hqCode] = exists
	}

	updates := PlanLinks(batch, hqPresent)
	if err := applyLinks(ctx, store, updates); err != nil {
		return 0, err
	}
	linked := len(updates)

	inBatch := make(map[string]struct{}, len(batch))
	for _, r := range batch {
		inBatch[r.Code] = struct{}{}
	}
	for _, r := range batch {
		if !r.IsHeadquarters {
			continue
		}
		n, err := adoptBranches(ctx, store, r.Code, inBatch)
		if err != nil {
			return linked, err
		}
		linked += n
	}
	return linked, nil
}

func applyLinks(ctx context.Context, store ports.RecordStore, updates []models.LinkUpdate) error {
	for _, u := range updates {
		branch, err := store.Get(ctx, u.Code)
		if err != nil {
			return fmt.Errorf("load branch %s: %w", u.Code, err)
		}
		if !branch.SetHeadquarters(u.HeadquartersCode) {
			continue
		}
		if err := store.Put(ctx, branch); err != nil {
			return fmt.Errorf("link branch %s to %s: %w", u.Code, u.HeadquartersCode, err)
		}
	}
	return nil
}
