package service

import (
	"os"
	"sort"

	"wdh/internal/services/resolver/domain"

	perr "wdh/internal/platform/errors"

	"gopkg.in/yaml.v3"
)

// OverrideSet is the in-memory priority layer. Aliases match the raw
// trimmed cell value verbatim; no normalization happens here
type OverrideSet struct {
	layers map[domain.MatchType]map[string]string
	total  int
}

// NewOverrideSet indexes mappings by sub-layer. Entries with an empty alias
// or a sentinel id are dropped rather than failing the whole set
func NewOverrideSet(ms []domain.CompanyMapping) *OverrideSet {
	o := &OverrideSet{layers: make(map[domain.MatchType]map[string]string, 5)}
	for _, m := range ms {
		if m.AliasName == "" || !domain.IsValidID(m.CanonicalID) {
			continue
		}
		if _, ok := domain.MatchPriority[m.MatchType]; !ok {
			continue
		}
		layer := o.layers[m.MatchType]
		if layer == nil {
			layer = make(map[string]string)
			o.layers[m.MatchType] = layer
		}
		if _, dup := layer[m.AliasName]; !dup {
			layer[m.AliasName] = m.CanonicalID
			o.total++
		}
	}
	return o
}

// Lookup returns the canonical id for value in one sub-layer
func (o *OverrideSet) Lookup(mt domain.MatchType, value string) (string, bool) {
	if o == nil || value == "" {
		return "", false
	}
	id, ok := o.layers[mt][value]
	return id, ok
}

// Len returns the number of usable mappings across all sub-layers
func (o *OverrideSet) Len() int {
	if o == nil {
		return 0
	}
	return o.total
}

// Layers lists the populated sub-layers in priority order
func (o *OverrideSet) Layers() []domain.MatchType {
	if o == nil {
		return nil
	}
	out := make([]domain.MatchType, 0, len(o.layers))
	for mt := range o.layers {
		out = append(out, mt)
	}
	sort.Slice(out, func(i, j int) bool {
		return domain.MatchPriority[out[i]] < domain.MatchPriority[out[j]]
	})
	return out
}

type overrideFile struct {
	Mappings []domain.CompanyMapping `yaml:"mappings"`
}

// LoadOverrides reads a YAML mapping file. A missing path yields an empty
// set; a malformed file is a configuration error
func LoadOverrides(path string) (*OverrideSet, error) {
	if path == "" {
		return NewOverrideSet(nil), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewOverrideSet(nil), nil
		}
		return nil, perr.Wrap(err, perr.ErrorCodeUnknown, "override file unreadable")
	}
	var f overrideFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeValidation, "override file malformed")
	}
	return NewOverrideSet(f.Mappings), nil
}
