package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidZoneName is returned when a display name cannot be parsed.
var ErrInvalidZoneName = errors.New("zone: expected format City(LocalName)/Province")

// Zone is a seeded geographic area. City and Province together are unique.
type Zone struct {
	BaseModel

	City            string `gorm:"not null;uniqueIndex:idx_zone_city_province" json:"city"`
	LocalNameOfCity string `gorm:"not null" json:"local_name_of_city"`
	Province        string `gorm:"uniqueIndex:idx_zone_city_province" json:"province"`
}

// DisplayName renders the zone as City(LocalName)/Province.
func (z Zone) DisplayName() string {
	return fmt.Sprintf("%s(%s)/%s", z.City, z.LocalNameOfCity, z.Province)
}

// ParseZone extracts City, LocalNameOfCity and Province from a display name.
func ParseZone(name string) (Zone, error) {
	name = strings.TrimSpace(name)
	open := strings.Index(name, "(")
	closing := strings.Index(name, ")/")
	if open <= 0 || closing < open {
		return Zone{}, ErrInvalidZoneName
	}
	zone := Zone{
		City:            strings.TrimSpace(name[:open]),
		LocalNameOfCity: strings.TrimSpace(name[open+1 : closing]),
		Province:        strings.TrimSpace(name[closing+2:]),
	}
	if zone.City == "" || zone.LocalNameOfCity == "" {
		return Zone{}, ErrInvalidZoneName
	}
	return zone, nil
}
