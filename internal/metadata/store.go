package metadata

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medcatmlflow/engine/internal/medcat"
	"github.com/medcatmlflow/engine/internal/registry"
	appErr "github.com/medcatmlflow/engine/pkg/errors"
	"github.com/medcatmlflow/engine/pkg/logger"
)

// Loader opens a model pack.
type Loader interface {
	Load(ctx context.Context, path string) (medcat.ModelInfo, error)
}

// Linker finds the MedCATtrainer concept database with a given hash.
type Linker interface {
	CDBIDForHash(ctx context.Context, cdbHash string) (id string, ok bool, err error)
}

// StoreConfig tunes recalculation.
type StoreConfig struct {
	// StoragePath is the directory holding uploaded model packs.
	StoragePath string
	// SizeLimit caps the encoded size of the oversized training maps.
	SizeLimit int
	DropOrder DropOrder
}

// Store reconciles registry tags with the model packs they describe.
type Store struct {
	registry registry.Registry
	loader   Loader
	linker   Linker
	cfg      StoreConfig
	newID    func() string
	log      *zap.Logger
}

func NewStore(reg registry.Registry, loader Loader, linker Linker, cfg StoreConfig, log *zap.Logger) *Store {
	// A larger limit would let truncated values through that the registry
	// then refuses.
	if cfg.SizeLimit <= 0 || cfg.SizeLimit > registry.MaxTagValueLength {
		cfg.SizeLimit = registry.MaxTagValueLength
	}
	return &Store{
		registry: reg,
		loader:   loader,
		linker:   linker,
		cfg:      cfg,
		newID:    uuid.NewString,
		log:      logger.OrNop(log),
	}
}

// Get decodes the metadata of m. Stale tags are recalculated from the model
// pack, written back and decoded again; if that second decode still fails
// the error wraps ErrNotConverged.
func (s *Store) Get(ctx context.Context, m registry.Model) (ModelMetaData, error) {
	runID, err := s.registry.RunID(ctx, m.Name)
	if err != nil {
		return ModelMetaData{}, err
	}

	meta, err := Decode(m.Name, m.Description, runID, m.Tags)
	if err == nil {
		return meta, nil
	}
	if !errors.Is(err, ErrMissingTag) {
		return ModelMetaData{}, err
	}

	s.log.Warn("recalculating metadata, stored tags are incomplete",
		zap.String("model", m.Name), zap.Error(err))
	tags, err := s.recalculate(ctx, m, runID)
	if err != nil {
		return ModelMetaData{}, err
	}

	meta, err = Decode(m.Name, m.Description, runID, tags)
	if err != nil {
		return ModelMetaData{}, fmt.Errorf("%w: %v", ErrNotConverged, err)
	}
	return meta, nil
}

// Recalculate regenerates and writes back the metadata of the named model
// regardless of the state of its tags.
func (s *Store) Recalculate(ctx context.Context, name string) (ModelMetaData, error) {
	m, err := s.registry.GetModel(ctx, name)
	if err != nil {
		return ModelMetaData{}, err
	}
	runID, err := s.registry.RunID(ctx, name)
	if err != nil {
		return ModelMetaData{}, err
	}
	tags, err := s.recalculate(ctx, m, runID)
	if err != nil {
		return ModelMetaData{}, err
	}
	meta, err := Decode(m.Name, m.Description, runID, tags)
	if err != nil {
		return ModelMetaData{}, fmt.Errorf("%w: %v", ErrNotConverged, err)
	}
	return meta, nil
}

func (s *Store) recalculate(ctx context.Context, m registry.Model, runID string) (map[string]string, error) {
	category, ok := m.Tags[TagCategory]
	if !ok {
		return nil, appErr.New(appErr.CodeInvalid, "cannot recalculate metadata without a stored category").
			WithMeta("model", m.Name)
	}
	fileName := m.Tags[TagModelFileName]
	if fileName == "" {
		fileName = m.Name
	}

	known := map[string]string{}
	if hash, id := m.Tags[TagCDBHash], optional(m.Tags[TagMCTCDBID]); hash != "" && id != nil {
		known[hash] = *id
	}

	meta, err := s.Create(ctx, CreateParams{
		ID:          m.Tags[TagID],
		Name:        m.Name,
		Description: m.Description,
		Category:    category,
		RunID:       runID,
		FileName:    fileName,
	}, known)
	if err != nil {
		return nil, err
	}
	return s.writeBack(ctx, m, meta)
}

// CreateParams carries what the registry knows about a model; the rest
// comes from the pack.
type CreateParams struct {
	ID          string // kept when set, generated otherwise
	Name        string
	Description string
	Category    string
	RunID       string
	FileName    string
}

// Create builds metadata from the model pack p.FileName in the storage
// directory. hashToMCTID short-circuits the MedCATtrainer lookup for
// concept databases already linked on other models.
func (s *Store) Create(ctx context.Context, p CreateParams, hashToMCTID map[string]string) (ModelMetaData, error) {
	path := filepath.Join(s.cfg.StoragePath, p.FileName)
	info, err := s.loader.Load(ctx, path)
	if err != nil {
		return ModelMetaData{}, fmt.Errorf("load model %s: %w", path, err)
	}

	id := p.ID
	if id == "" {
		id = s.newID()
	}
	meta := ModelMetaData{
		ID:             id,
		Name:           p.Name,
		Description:    p.Description,
		Category:       p.Category,
		RunID:          p.RunID,
		Version:        info.Version,
		VersionHistory: info.History,
		ModelFileName:  p.FileName,
		Performance:    info.Performance,
		Stats:          info.Stats,
		CDBHash:        info.CDBHash,
		ChangedParts:   []string{},
	}

	conf, confReport, err := Truncate(info.CUI2AverageConfidence, s.cfg.SizeLimit, s.cfg.DropOrder)
	if err != nil {
		return ModelMetaData{}, fmt.Errorf("truncate %s: %w", TagCUI2AverageConfidence, err)
	}
	counts, countReport, err := Truncate(info.CUI2CountTrain, s.cfg.SizeLimit, s.cfg.DropOrder)
	if err != nil {
		return ModelMetaData{}, fmt.Errorf("truncate %s: %w", TagCUI2CountTrain, err)
	}
	meta.CUI2AverageConfidence, meta.CUI2CountTrain = conf, counts
	for _, part := range []struct {
		name   string
		report Truncation
	}{
		{TagCUI2AverageConfidence, confReport},
		{TagCUI2CountTrain, countReport},
	} {
		if !part.report.Changed() {
			continue
		}
		meta.ChangedParts = append(meta.ChangedParts, part.name)
		s.log.Warn("truncated oversized field",
			zap.String("model", p.Name),
			zap.String("field", part.name),
			zap.Int("passes", part.report.Passes),
			zap.Int("entries_removed", part.report.Removed),
			zap.Int("bytes_before", part.report.Before),
			zap.Int("bytes_after", part.report.After),
		)
	}

	meta.MCTCDBID = s.linkCDB(ctx, info.CDBHash, hashToMCTID)
	return meta, nil
}

func (s *Store) linkCDB(ctx context.Context, hash string, known map[string]string) *string {
	if id, ok := known[hash]; ok && id != "" {
		s.log.Debug("setting MCT CDB id from existing models", zap.String("cdb_hash", hash), zap.String("mct_cdb_id", id))
		return &id
	}
	if s.linker == nil || hash == "" {
		return nil
	}
	id, ok, err := s.linker.CDBIDForHash(ctx, hash)
	if err != nil {
		s.log.Warn("looking up MCT CDB failed", zap.String("cdb_hash", hash), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	s.log.Debug("setting MCT CDB id as read from MedCATtrainer", zap.String("cdb_hash", hash), zap.String("mct_cdb_id", id))
	return &id
}

// writeBack stores the tags of meta that differ from m's. A tag the
// registry refuses is replaced by NotAvailable so the record still
// converges. It returns the resulting tag bag.
func (s *Store) writeBack(ctx context.Context, m registry.Model, meta ModelMetaData) (map[string]string, error) {
	encoded, err := Encode(meta)
	if err != nil {
		return nil, err
	}
	tags := make(map[string]string, len(m.Tags)+len(encoded))
	for k, v := range m.Tags {
		tags[k] = v
	}

	keys := make([]string, 0, len(encoded))
	for k := range encoded {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := encoded[k]
		if cur, ok := m.Tags[k]; ok && cur == v {
			continue
		}
		if err := s.registry.SetTag(ctx, m.Name, k, v); err != nil {
			s.log.Warn("issue setting tag value",
				zap.String("model", m.Name), zap.String("key", k), zap.Error(err))
			if err := s.registry.SetTag(ctx, m.Name, k, NotAvailable); err != nil {
				return nil, fmt.Errorf("set tag %s on %s: %w", k, m.Name, err)
			}
			v = NotAvailable
		}
		tags[k] = v
	}
	return tags, nil
}

// All returns the metadata of every registered model, sorted by name.
func (s *Store) All(ctx context.Context) ([]ModelMetaData, error) {
	models, err := s.registry.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ModelMetaData, 0, len(models))
	for _, m := range models {
		meta, err := s.Get(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("metadata for %s: %w", m.Name, err)
		}
		out = append(out, meta)
	}
	return out, nil
}

// ByName returns the metadata of the registered model called name.
func (s *Store) ByName(ctx context.Context, name string) (ModelMetaData, error) {
	m, err := s.registry.GetModel(ctx, name)
	if err != nil {
		return ModelMetaData{}, err
	}
	return s.Get(ctx, m)
}

// ByID finds the model with the given id. Only the matching record is
// reconciled. When no stored id matches, models without an id tag are
// reconciled in turn, since recalculation may just have generated it;
// models that fail there are logged and skipped.
func (s *Store) ByID(ctx context.Context, id string) (ModelMetaData, error) {
	models, err := s.registry.ListModels(ctx)
	if err != nil {
		return ModelMetaData{}, err
	}
	for _, m := range models {
		if m.Tags[TagID] == id {
			return s.Get(ctx, m)
		}
	}
	for _, m := range models {
		if m.Tags[TagID] != "" {
			continue
		}
		meta, err := s.Get(ctx, m)
		if err != nil {
			s.log.Warn("skipping model with unreadable metadata",
				zap.String("model", m.Name), zap.String("id", id), zap.Error(err))
			continue
		}
		if meta.ID == id {
			return meta, nil
		}
	}
	return ModelMetaData{}, appErr.NoSuchModel(TagID, id)
}

// ByVersion finds the model whose version tag equals version.
func (s *Store) ByVersion(ctx context.Context, version string) (ModelMetaData, error) {
	return s.byTag(ctx, TagVersion, version)
}

func (s *Store) byTag(ctx context.Context, key, value string) (ModelMetaData, error) {
	models, err := s.registry.ListModels(ctx)
	if err != nil {
		return ModelMetaData{}, err
	}
	for _, m := range models {
		if v, ok := m.Tags[key]; ok && v == value {
			return s.Get(ctx, m)
		}
	}
	return ModelMetaData{}, appErr.NoSuchModel(key, value)
}

// HashToMCTID maps concept-db hashes to the MedCATtrainer ids already
// linked on registered models. Only complete tag bags are consulted; this
// never triggers a recalculation.
func (s *Store) HashToMCTID(ctx context.Context) (map[string]string, error) {
	models, err := s.registry.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, m := range models {
		meta, err := Decode(m.Name, m.Description, "", m.Tags)
		if err != nil || meta.MCTCDBID == nil || meta.CDBHash == "" {
			continue
		}
		out[meta.CDBHash] = *meta.MCTCDBID
	}
	return out, nil
}

// Register writes fresh metadata for a registered model that has none yet,
// for instance one created directly in MLflow. Concept databases already
// linked on other models are reused.
func (s *Store) Register(ctx context.Context, name, category string) (ModelMetaData, error) {
	m, err := s.registry.GetModel(ctx, name)
	if err != nil {
		return ModelMetaData{}, err
	}
	runID, err := s.registry.RunID(ctx, name)
	if err != nil {
		return ModelMetaData{}, err
	}
	known, err := s.HashToMCTID(ctx)
	if err != nil {
		return ModelMetaData{}, err
	}
	fileName := m.Tags[TagModelFileName]
	if fileName == "" {
		fileName = m.Name
	}

	meta, err := s.Create(ctx, CreateParams{
		ID:          m.Tags[TagID],
		Name:        m.Name,
		Description: m.Description,
		Category:    category,
		RunID:       runID,
		FileName:    fileName,
	}, known)
	if err != nil {
		return ModelMetaData{}, err
	}
	tags, err := s.writeBack(ctx, m, meta)
	if err != nil {
		return ModelMetaData{}, err
	}
	meta, err = Decode(m.Name, m.Description, runID, tags)
	if err != nil {
		return ModelMetaData{}, fmt.Errorf("%w: %v", ErrNotConverged, err)
	}
	return meta, nil
}
