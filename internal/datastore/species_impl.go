package datastore

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
)

// CreateSpecies stores a species and its calls. Call names are short names;
// duplicates are rejected.
func (s *gormStore) CreateSpecies(ctx context.Context, sp *entities.Species, callNames []string) error {
	seen := make(map[string]struct{}, len(callNames))
	calls := make([]entities.Call, 0, len(callNames))
	for _, name := range callNames {
		name = strings.TrimSpace(name)
		if name == "" {
			return validationFailure("call name must not be empty")
		}
		if _, dup := seen[name]; dup {
			return validationFailure("duplicate call %q", name)
		}
		seen[name] = struct{}{}
		calls = append(calls, entities.Call{ShortName: name, LongName: name})
	}

	return dbError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sp.Calls = nil
		if err := tx.Create(sp).Error; err != nil {
			return err
		}
		for i := range calls {
			calls[i].SpeciesID = sp.ID
		}
		if len(calls) > 0 {
			if err := tx.Create(&calls).Error; err != nil {
				return err
			}
		}
		sp.Calls = calls
		return nil
	}), "create species")
}

func (s *gormStore) GetSpecies(ctx context.Context, id uint) (*entities.Species, error) {
	var sp entities.Species
	err := s.db.WithContext(ctx).
		Preload("Calls", func(db *gorm.DB) *gorm.DB { return db.Order("short_name ASC") }).
		First(&sp, id).Error
	if err != nil {
		return nil, notFound(err, "species", id)
	}
	return &sp, nil
}

// ListCalls returns the calls of a species ordered by short name.
func (s *gormStore) ListCalls(ctx context.Context, speciesID uint) ([]entities.Call, error) {
	var out []entities.Call
	err := s.db.WithContext(ctx).
		Where("species_id = ?", speciesID).
		Order("short_name ASC").
		Find(&out).Error
	return out, dbError(err, "list calls")
}

// CanModifySpecies reports whether the call vocabulary may still change:
// the species is not system-global and no classifier references it.
func (s *gormStore) CanModifySpecies(ctx context.Context, speciesID uint) (bool, error) {
	return canModifySpecies(s.db.WithContext(ctx), speciesID)
}

func canModifySpecies(tx *gorm.DB, speciesID uint) (bool, error) {
	var sp entities.Species
	if err := tx.Select("id", "is_system", "group_id").First(&sp, speciesID).Error; err != nil {
		return false, notFound(err, "species", speciesID)
	}
	if sp.IsSystem || sp.GroupID == nil {
		return false, nil
	}
	var refs int64
	if err := tx.Model(&entities.Classifier{}).Where("species_id = ?", speciesID).Count(&refs).Error; err != nil {
		return false, err
	}
	return refs == 0, nil
}

func speciesLocked(speciesID uint) error {
	return errors.New(ErrSpeciesLocked).
		Component("datastore").
		Category(errors.CategoryConflict).
		Context("species_id", speciesID).
		Build()
}

func (s *gormStore) AddCall(ctx context.Context, speciesID uint, shortName, longName string) (*entities.Call, error) {
	shortName = strings.TrimSpace(shortName)
	if shortName == "" {
		return nil, validationFailure("call name must not be empty")
	}
	call := entities.Call{SpeciesID: speciesID, ShortName: shortName, LongName: longName}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := canModifySpecies(tx, speciesID)
		if err != nil {
			return err
		}
		if !ok {
			return speciesLocked(speciesID)
		}
		var dup int64
		if err := tx.Model(&entities.Call{}).Where("species_id = ? AND short_name = ?", speciesID, shortName).Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return validationFailure("call %q already exists", shortName)
		}
		return tx.Create(&call).Error
	})
	if err != nil {
		return nil, dbError(err, "add call")
	}
	return &call, nil
}

func (s *gormStore) DeleteCall(ctx context.Context, callID uint) error {
	return dbError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var call entities.Call
		if err := tx.First(&call, callID).Error; err != nil {
			return notFound(err, "call", callID)
		}
		ok, err := canModifySpecies(tx, call.SpeciesID)
		if err != nil {
			return err
		}
		if !ok {
			return speciesLocked(call.SpeciesID)
		}
		if err := tx.Where("call_id = ?", callID).Delete(&entities.CallProbability{}).Error; err != nil {
			return err
		}
		if err := tx.Where("call_id = ?", callID).Delete(&entities.ClusterCallMapping{}).Error; err != nil {
			return err
		}
		return tx.Delete(&call).Error
	}), "delete call")
}

func (s *gormStore) CreateClassifier(ctx context.Context, c *entities.Classifier) error {
	switch c.ResponseFormat {
	case entities.ResponseHighestOnly, entities.ResponseFullProbability:
	default:
		return validationFailure("unknown response format %q", c.ResponseFormat)
	}
	return dbError(s.db.WithContext(ctx).Create(c).Error, "create classifier")
}

func (s *gormStore) GetClassifier(ctx context.Context, id uint) (*entities.Classifier, error) {
	var c entities.Classifier
	if err := s.db.WithContext(ctx).Preload("Species").First(&c, id).Error; err != nil {
		return nil, notFound(err, "classifier", id)
	}
	return &c, nil
}

// UpdateClassifier saves every column. Changing an already set species
// fails with entities.ErrClassifierSpeciesImmutable.
func (s *gormStore) UpdateClassifier(ctx context.Context, c *entities.Classifier) error {
	err := s.db.WithContext(ctx).Omit("Species").Save(c).Error
	if errors.Is(err, entities.ErrClassifierSpeciesImmutable) {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryValidation).
			Context("classifier_id", c.ID).
			Build()
	}
	return dbError(err, "update classifier")
}
