package metadata

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/medcatmlflow/engine/pkg/utils"
)

// Encode flattens meta into registry tags. Structured fields are JSON and
// the version history is comma-joined.
func Encode(meta ModelMetaData) (map[string]string, error) {
	tags := map[string]string{
		TagID:             meta.ID,
		TagCategory:       meta.Category,
		TagVersion:        meta.Version,
		TagVersionHistory: strings.Join(meta.VersionHistory, ","),
		TagModelFileName:  meta.ModelFileName,
		TagCDBHash:        meta.CDBHash,
		TagMCTCDBID:       "",
	}
	if meta.MCTCDBID != nil {
		tags[TagMCTCDBID] = *meta.MCTCDBID
	}

	structured := []struct {
		key string
		val any
	}{
		{TagPerformance, nonNilMap(meta.Performance)},
		{TagStats, nonNilMap(meta.Stats)},
		{TagCUI2AverageConfidence, nonNilMap(meta.CUI2AverageConfidence)},
		{TagCUI2CountTrain, nonNilMap(meta.CUI2CountTrain)},
		{TagChangedParts, nonNilSlice(meta.ChangedParts)},
	}
	for _, s := range structured {
		b, err := json.Marshal(s.val)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", s.key, err)
		}
		tags[s.key] = string(b)
	}
	return tags, nil
}

// Decode builds a ModelMetaData from a registry record. It fails with
// ErrMissingTag when a required key is absent. Values that are present but
// unparseable do not fail the decode; they are kept raw in Undecoded.
func Decode(name, description, runID string, tags map[string]string) (ModelMetaData, error) {
	for _, k := range RequiredTags {
		if _, ok := tags[k]; !ok {
			return ModelMetaData{}, fmt.Errorf("%w: %q on model %q", ErrMissingTag, k, name)
		}
	}

	meta := ModelMetaData{
		ID:             tags[TagID],
		Name:           name,
		Description:    description,
		Category:       tags[TagCategory],
		RunID:          runID,
		Version:        tags[TagVersion],
		VersionHistory: splitHistory(tags[TagVersionHistory]),
		ModelFileName:  tags[TagModelFileName],
		CDBHash:        tags[TagCDBHash],
		MCTCDBID:       optional(tags[TagMCTCDBID]),
	}

	decodeField(&meta, TagPerformance, tags, &meta.Performance)
	decodeField(&meta, TagStats, tags, &meta.Stats)
	decodeField(&meta, TagCUI2AverageConfidence, tags, &meta.CUI2AverageConfidence)
	decodeField(&meta, TagCUI2CountTrain, tags, &meta.CUI2CountTrain)
	decodeField(&meta, TagChangedParts, tags, &meta.ChangedParts)
	return meta, nil
}

func decodeField[T any](meta *ModelMetaData, key string, tags map[string]string, dst *T) {
	var v T
	if err := utils.DecodeLenient(tags[key], &v); err != nil {
		if meta.Undecoded == nil {
			meta.Undecoded = map[string]string{}
		}
		meta.Undecoded[key] = tags[key]
		return
	}
	*dst = v
}

func splitHistory(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var list []string
		if utils.DecodeLenient(raw, &list) == nil {
			return list
		}
	}
	return strings.Split(raw, ",")
}

func optional(v string) *string {
	switch v {
	case "", "None", "null", NotAvailable:
		return nil
	}
	return &v
}

func nonNilMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return m
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
