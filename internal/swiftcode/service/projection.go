package service

import (
	"context"
	"fmt"

	"swiftregistry/internal/swiftcode/models"
	"swiftregistry/internal/swiftcode/ports"
)

// ToBasic projects a record without nesting. Branches is always empty.
func ToBasic(r *models.Record) *models.RecordView {
	return &models.RecordView{
		Code:            r.Code,
		InstitutionName: r.InstitutionName,
		Address:         r.Address,
		CountryISO2:     r.CountryISO2,
		CountryName:     r.CountryName,
		IsHeadquarters:  r.IsHeadquarters,
		Branches:        []*models.RecordView{},
	}
}

// ToDetailed projects a record with its branches nested. Headquarters are
// expanded recursively until no further children exist; the visited set keeps
// malformed data with cycles from recursing forever.
func ToDetailed(ctx context.Context, store ports.RecordStore, r *models.Record) (*models.RecordView, error) {
	visited := make(map[string]struct{})
	return toDetailed(ctx, store, r, visited)
}

func toDetailed(ctx context.Context, store ports.RecordStore, r *models.Record, visited map[string]struct{}) (*models.RecordView, error) {
	visited[r.Code] = struct{}{}
	view := ToBasic(r)
	if !r.IsHeadquarters {
		return view, nil
	}

	children, err := store.FindByParent(ctx, r.Code)
	if err != nil {
		return nil, fmt.Errorf("find branches of %s: %w", r.Code, err)
	}
	for _, child := range children {
		if _, seen := visited[child.Code]; seen {
			continue
		}
		childView, err := toDetailed(ctx, store, child, visited)
		if err != nil {
			return nil, err
		}
		view.Branches = append(view.Branches, childView)
	}
	return view, nil
}
