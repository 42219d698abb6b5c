package domain

import "sort"

// Fold replays recorded deltas onto the document lines, setting
// RecordedIdentities, ScannedUnits, AppliedCarriers and CommittedKeys.
// Deltas must be in record order. Deltas for unknown lines are ignored
// and units never go below zero.
func (d *Document) Fold(deltas []Delta) {
	type state struct {
		identities map[string]struct{}
		units      int
	}
	states := make(map[string]*state, len(d.Lines))
	for _, l := range d.Lines {
		states[l.ID] = &state{identities: make(map[string]struct{})}
	}
	carriers := make(map[string]struct{})
	keys := make([]string, 0, len(deltas))

	for _, delta := range deltas {
		if delta.Key != "" {
			keys = append(keys, delta.Key)
		}
		switch delta.Kind {
		case DeltaCarrierApplied:
			carriers[delta.Label] = struct{}{}
			continue
		case DeltaCarrierReleased:
			delete(carriers, delta.Label)
			continue
		}

		st, ok := states[delta.LineItemID]
		if !ok {
			continue
		}
		switch delta.Kind {
		case DeltaIdentityAdded:
			st.identities[delta.Identity] = struct{}{}
		case DeltaIdentityRemoved:
			delete(st.identities, delta.Identity)
		case DeltaUnitsAdded:
			st.units += delta.Units
		case DeltaUnitsRemoved:
			st.units -= delta.Units
			if st.units < 0 {
				st.units = 0
			}
		}
	}

	for i := range d.Lines {
		st := states[d.Lines[i].ID]
		ids := make([]string, 0, len(st.identities))
		for id := range st.identities {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		d.Lines[i].RecordedIdentities = ids
		d.Lines[i].ScannedUnits = st.units
	}

	d.AppliedCarriers = make([]string, 0, len(carriers))
	for label := range carriers {
		d.AppliedCarriers = append(d.AppliedCarriers, label)
	}
	sort.Strings(d.AppliedCarriers)
	d.CommittedKeys = keys
}
