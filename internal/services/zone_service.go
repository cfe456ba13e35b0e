package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/models"
)

// ZoneService reads the seeded zone catalogue. Zones are never created at runtime.
type ZoneService struct {
	db *gorm.DB
}

// NewZoneService constructs a ZoneService.
func NewZoneService(db *gorm.DB) (*ZoneService, error) {
	if db == nil {
		return nil, errors.New("zone service: db is required")
	}
	return &ZoneService{db: db}, nil
}

// FindByName resolves a "City(LocalName)/Province" display name.
func (s *ZoneService) FindByName(ctx context.Context, name string) (*models.Zone, error) {
	ctx = ensureContext(ctx)
	return findZoneByName(s.db.WithContext(ctx), name)
}

// List returns every zone ordered by city.
func (s *ZoneService) List(ctx context.Context) ([]models.Zone, error) {
	ctx = ensureContext(ctx)
	var zones []models.Zone
	if err := s.db.WithContext(ctx).Order("city ASC").Find(&zones).Error; err != nil {
		return nil, fmt.Errorf("zone service: list zones: %w", err)
	}
	return zones, nil
}

// DisplayNames lists every zone display name.
func (s *ZoneService) DisplayNames(ctx context.Context) ([]string, error) {
	zones, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(zones))
	for _, zone := range zones {
		names = append(names, zone.DisplayName())
	}
	return names, nil
}

func findZoneByName(db *gorm.DB, name string) (*models.Zone, error) {
	parsed, err := models.ParseZone(name)
	if err != nil {
		return nil, ErrZoneNotFound.WithInternal(err)
	}

	var zone models.Zone
	err = db.Where("city = ? AND province = ?", parsed.City, parsed.Province).Take(&zone).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrZoneNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("zone service: find zone: %w", err)
	}
	return &zone, nil
}
