// Package metadata turns the tag bag stored on a registered model into a
// typed ModelMetaData and regenerates it from the model artifact when the
// stored tags are stale.
package metadata

import "errors"

var (
	// ErrMissingTag marks a tag bag that lacks a required key. The record is
	// stale and has to be recalculated.
	ErrMissingTag = errors.New("required tag missing")
	// ErrNotConverged is returned when the tags are still incomplete after a
	// recalculation wrote them back.
	ErrNotConverged = errors.New("metadata did not converge after recalculation")
)

// Tag keys written to the registry.
const (
	TagID                    = "id"
	TagCategory              = "category"
	TagVersion               = "version"
	TagVersionHistory        = "version_history"
	TagModelFileName         = "model_file_name"
	TagPerformance           = "performance"
	TagStats                 = "stats"
	TagCUI2AverageConfidence = "cui2average_confidence"
	TagCUI2CountTrain        = "cui2count_train"
	TagChangedParts          = "changed_parts"
	TagCDBHash               = "cdb_hash"
	TagMCTCDBID              = "mct_cdb_id"
)

// RequiredTags is checked in order; the first absent key is reported.
var RequiredTags = []string{
	TagID,
	TagCategory,
	TagVersion,
	TagVersionHistory,
	TagModelFileName,
	TagPerformance,
	TagStats,
	TagCUI2AverageConfidence,
	TagCUI2CountTrain,
	TagChangedParts,
	TagCDBHash,
	TagMCTCDBID,
}

// NotAvailable is written in place of a tag value the registry refused.
const NotAvailable = "N/A"

// ModelMetaData is the reconciled record of one uploaded model revision.
// Name, Description and RunID come from the registry record itself, the
// rest from its tags.
type ModelMetaData struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	RunID       string `json:"run_id"`

	Version        string   `json:"version"`
	VersionHistory []string `json:"version_history"`
	ModelFileName  string   `json:"model_file_name"`

	Performance           map[string]any     `json:"performance"`
	Stats                 map[string]any     `json:"stats"`
	CUI2AverageConfidence map[string]float64 `json:"cui2average_confidence"`
	CUI2CountTrain        map[string]int64   `json:"cui2count_train"`
	ChangedParts          []string           `json:"changed_parts"`

	CDBHash  string  `json:"cdb_hash"`
	MCTCDBID *string `json:"mct_cdb_id"`

	// Undecoded keeps raw tag values that could not be parsed.
	Undecoded map[string]string `json:"undecoded,omitempty"`
}

// Ancestors returns the non-empty entries of VersionHistory, oldest first.
func (m ModelMetaData) Ancestors() []string {
	out := make([]string, 0, len(m.VersionHistory))
	for _, v := range m.VersionHistory {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// HistoryEntry pairs an ancestor version with the file of the model that
// carries it. ModelFileName is empty when no registered model has it.
type HistoryEntry struct {
	Version       string `json:"version"`
	ModelFileName string `json:"model_file_name"`
}
