package database

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/models"
)

//go:embed seed/zones_kr.csv
var zonesCSV []byte

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Account{},
		&models.Tag{},
		&models.Zone{},
		&models.Study{},
		&models.Event{},
		&models.Enrollment{},
		&models.Notification{},
		&models.Session{},
		&models.CacheEntry{},
	)
}

// SeedData populates the zone catalogue. Existing rows are left untouched.
func SeedData(db *gorm.DB) error {
	zones, err := LoadZones(bytes.NewReader(zonesCSV))
	if err != nil {
		return err
	}

	for _, zone := range zones {
		lookup := models.Zone{City: zone.City, Province: zone.Province}
		if err := db.Where(lookup).Attrs(zone).FirstOrCreate(&models.Zone{}).Error; err != nil {
			return fmt.Errorf("seed zone %s: %w", zone.DisplayName(), err)
		}
	}

	return nil
}

// LoadZones parses City,LocalNameOfCity,Province rows.
func LoadZones(r io.Reader) ([]models.Zone, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 3
	reader.TrimLeadingSpace = true

	var zones []models.Zone
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse zones: %w", err)
		}
		zones = append(zones, models.Zone{
			City:            strings.TrimSpace(record[0]),
			LocalNameOfCity: strings.TrimSpace(record[1]),
			Province:        strings.TrimSpace(record[2]),
		})
	}
	return zones, nil
}
