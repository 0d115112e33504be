package reconcile

import (
	"strings"

	"github.com/SorenWeile/comfyui-gallery/internal/identity"
	"github.com/SorenWeile/comfyui-gallery/internal/scan"
	"github.com/SorenWeile/comfyui-gallery/internal/store"
)

// Plan is the set of mutations that brings the store in line with a scan.
type Plan struct {
	Inserts []scan.Entry
	Updates []Update
	Deletes []string // record ids
	// Collisions are disk paths skipped because another path already owns
	// their identifier.
	Collisions []string
	// Retained counts stored records kept because their subtree could not
	// be read.
	Retained int
}

// Update pairs an existing record id with its fresh disk state.
type Update struct {
	ID    string
	Entry scan.Entry
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool {
	return len(p.Inserts) == 0 && len(p.Updates) == 0 && len(p.Deletes) == 0
}

// Diff compares disk entries with stored records keyed by path. A path
// missing from the store is inserted, a path whose mtime differs is updated
// and a stored path missing from disk is deleted. mtime is the only change
// signal. Records at or below an unreadable path are never deleted.
func Diff(disk []scan.Entry, existing []store.Entry, unreadable []scan.SubtreeError) Plan {
	byPath := make(map[string]store.Entry, len(existing))
	for _, e := range existing {
		byPath[e.Path] = e
	}

	var plan Plan
	claimed := make(map[string]bool, len(disk))
	var fresh []scan.Entry

	for _, d := range disk {
		rec, ok := byPath[d.Path]
		if !ok {
			fresh = append(fresh, d)
			continue
		}
		delete(byPath, d.Path)
		claimed[rec.ID] = true
		if rec.MTime != d.MTime {
			plan.Updates = append(plan.Updates, Update{ID: rec.ID, Entry: d})
		}
	}

	for path, rec := range byPath {
		if underAny(path, unreadable) {
			delete(byPath, path)
			claimed[rec.ID] = true
			plan.Retained++
		}
	}

	for _, d := range fresh {
		id := identity.AssignID(d.Path)
		if claimed[id] {
			plan.Collisions = append(plan.Collisions, d.Path)
			continue
		}
		claimed[id] = true
		plan.Inserts = append(plan.Inserts, d)
	}

	for _, rec := range existing {
		if _, gone := byPath[rec.Path]; gone {
			plan.Deletes = append(plan.Deletes, rec.ID)
		}
	}

	return plan
}

func underAny(path string, unreadable []scan.SubtreeError) bool {
	for _, u := range unreadable {
		if path == u.Path || strings.HasPrefix(path, u.Path+"/") {
			return true
		}
	}
	return false
}
