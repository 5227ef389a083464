package geoip

import (
	"time"

	"github.com/biter777/countries"
	"github.com/oschwald/geoip2-golang"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/TomasB/geolocate/internal/data"
)

// SRID of every coordinate returned by this package (WGS 84).
const SRID = 4326

// CountryInfo is the result of a country query.
type CountryInfo struct {
	CountryCode string `json:"country_code"`
	CountryName string `json:"country_name"`
}

// Record is the result of a city query.
type Record struct {
	City           string  `json:"city"`
	ContinentCode  string  `json:"continent_code"`
	CountryCode    string  `json:"country_code"`
	CountryCode3   string  `json:"country_code3"`
	CountryName    string  `json:"country_name"`
	Region         string  `json:"region"`
	RegionName     string  `json:"region_name"`
	PostalCode     string  `json:"postal_code"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	DMACode        uint    `json:"dma_code"`
	TimeZone       string  `json:"time_zone"`
	AccuracyRadius uint16  `json:"accuracy_radius"`
}

// Point returns the record location as (longitude, latitude).
func (r *Record) Point() orb.Point {
	return orb.Point{r.Longitude, r.Latitude}
}

// Feature returns the record as a GeoJSON point feature.
func (r *Record) Feature() *geojson.Feature {
	f := geojson.NewFeature(r.Point())
	f.Properties["city"] = r.City
	f.Properties["country_code"] = r.CountryCode
	f.Properties["country_name"] = r.CountryName
	f.Properties["region"] = r.Region
	f.Properties["srid"] = SRID
	return f
}

// DatabaseInfo describes one loaded database file.
type DatabaseInfo struct {
	Path         string    `json:"path"`
	Edition      string    `json:"edition"`
	DatabaseType string    `json:"database_type"`
	BuildTime    time.Time `json:"build_time"`
	IPVersion    uint      `json:"ip_version"`
	Description  string    `json:"description"`
}

// Info describes the databases currently in service.
type Info struct {
	Country *DatabaseInfo `json:"country,omitempty"`
	City    *DatabaseInfo `json:"city,omitempty"`
}

func newDatabaseInfo(r *data.MmdbReader) *DatabaseInfo {
	if r == nil {
		return nil
	}
	meta := r.Metadata()
	return &DatabaseInfo{
		Path:         r.Path(),
		Edition:      r.Edition().String(),
		DatabaseType: meta.DatabaseType,
		BuildTime:    time.Unix(int64(meta.BuildEpoch), 0).UTC(),
		IPVersion:    meta.IPVersion,
		Description:  meta.Description[DefaultLanguage],
	}
}

func newRecord(c *geoip2.City, lang string) *Record {
	rec := &Record{
		City:           localName(c.City.Names, lang),
		ContinentCode:  c.Continent.Code,
		CountryCode:    c.Country.IsoCode,
		CountryCode3:   alpha3(c.Country.IsoCode),
		CountryName:    localName(c.Country.Names, lang),
		PostalCode:     c.Postal.Code,
		Latitude:       c.Location.Latitude,
		Longitude:      c.Location.Longitude,
		DMACode:        c.Location.MetroCode,
		TimeZone:       c.Location.TimeZone,
		AccuracyRadius: c.Location.AccuracyRadius,
	}
	if len(c.Subdivisions) > 0 {
		rec.Region = c.Subdivisions[0].IsoCode
		rec.RegionName = localName(c.Subdivisions[0].Names, lang)
	}
	return rec
}

func cityFound(c *geoip2.City) bool {
	return c.Country.IsoCode != "" || c.City.GeoNameID != 0 ||
		c.Location.Latitude != 0 || c.Location.Longitude != 0
}

func localName(names map[string]string, lang string) string {
	if name, ok := names[lang]; ok {
		return name
	}
	return names[DefaultLanguage]
}

func alpha3(alpha2 string) string {
	if alpha2 == "" {
		return ""
	}
	c := countries.ByName(alpha2)
	if c == countries.Unknown {
		return ""
	}
	return c.Alpha3()
}
