// Package mmdbtest writes small GeoIP2-shaped mmdb files for tests.
//
// The networks mirror a handful of entries from MaxMind's public test
// databases so that lookups return familiar values.
package mmdbtest

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/maxmind/mmdbwriter"
	"github.com/maxmind/mmdbwriter/mmdbtype"
)

// Database types written into the metadata section.
const (
	CityType    = "GeoLite2-City"
	CountryType = "GeoLite2-Country"
	ASNType     = "GeoLite2-ASN"
)

type place struct {
	network     string
	continent   string
	countryCode string
	countryName string
	cityName    string
	region      string
	regionName  string
	postal      string
	lat, lon    float64
	metro       uint16
	timeZone    string
}

var places = []place{
	{
		network: "216.160.83.56/29", continent: "NA", countryCode: "US", countryName: "United States",
		cityName: "Milton", region: "WA", regionName: "Washington", postal: "98354",
		lat: 47.2513, lon: -122.3149, metro: 819, timeZone: "America/Los_Angeles",
	},
	{
		network: "2.125.160.216/29", continent: "EU", countryCode: "GB", countryName: "United Kingdom",
		cityName: "Boxford", region: "ENG", regionName: "England", postal: "OX1",
		lat: 51.75, lon: -1.25, timeZone: "Europe/London",
	},
	{
		network: "89.160.20.112/28", continent: "EU", countryCode: "SE", countryName: "Sweden",
		cityName: "Linköping", region: "E", regionName: "Östergötland County",
		lat: 58.4167, lon: 15.6167, timeZone: "Europe/Stockholm",
	},
	{
		network: "2001:218::/32", continent: "AS", countryCode: "JP", countryName: "Japan",
		lat: 35.685, lon: 139.7514, timeZone: "Asia/Tokyo",
	},
}

func names(en string) mmdbtype.Map {
	return mmdbtype.Map{"en": mmdbtype.String(en)}
}

func (p place) country() mmdbtype.Map {
	return mmdbtype.Map{
		"continent": mmdbtype.Map{"code": mmdbtype.String(p.continent)},
		"country": mmdbtype.Map{
			"iso_code": mmdbtype.String(p.countryCode),
			"names":    names(p.countryName),
		},
	}
}

func (p place) city() mmdbtype.Map {
	rec := p.country()
	rec["location"] = mmdbtype.Map{
		"latitude":        mmdbtype.Float64(p.lat),
		"longitude":       mmdbtype.Float64(p.lon),
		"metro_code":      mmdbtype.Uint16(p.metro),
		"time_zone":       mmdbtype.String(p.timeZone),
		"accuracy_radius": mmdbtype.Uint16(50),
	}
	if p.cityName != "" {
		rec["city"] = mmdbtype.Map{"geoname_id": mmdbtype.Uint32(1), "names": names(p.cityName)}
	}
	if p.region != "" {
		rec["subdivisions"] = mmdbtype.Slice{mmdbtype.Map{
			"iso_code": mmdbtype.String(p.region),
			"names":    names(p.regionName),
		}}
	}
	if p.postal != "" {
		rec["postal"] = mmdbtype.Map{"code": mmdbtype.String(p.postal)}
	}
	return rec
}

func write(t testing.TB, path string, opts mmdbwriter.Options, records func(p place) mmdbtype.Map) string {
	t.Helper()

	tree, err := mmdbwriter.New(opts)
	if err != nil {
		t.Fatalf("failed to create mmdb tree: %v", err)
	}
	for _, p := range places {
		_, network, err := net.ParseCIDR(p.network)
		if err != nil {
			t.Fatalf("bad fixture network %s: %v", p.network, err)
		}
		if opts.IPVersion == 4 && network.IP.To4() == nil {
			continue
		}
		if err := tree.Insert(network, records(p)); err != nil {
			t.Fatalf("failed to insert %s: %v", p.network, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create %s: %v", path, err)
	}
	defer f.Close()
	if _, err := tree.WriteTo(f); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// City writes a city database named name into dir and returns its path.
func City(t testing.TB, dir, name string) string {
	return write(t, filepath.Join(dir, name), mmdbwriter.Options{
		DatabaseType: CityType,
		Description:  map[string]string{"en": "geolocate test city database"},
		RecordSize:   24,
	}, place.city)
}

// Country writes a country database named name into dir and returns its path.
func Country(t testing.TB, dir, name string) string {
	return write(t, filepath.Join(dir, name), mmdbwriter.Options{
		DatabaseType: CountryType,
		RecordSize:   24,
	}, place.country)
}

// CountryIPv4 writes an IPv4-only country database.
func CountryIPv4(t testing.TB, dir, name string) string {
	return write(t, filepath.Join(dir, name), mmdbwriter.Options{
		DatabaseType: CountryType,
		IPVersion:    4,
		RecordSize:   24,
	}, place.country)
}

// ASN writes an ASN database, which is neither a country nor a city edition.
func ASN(t testing.TB, dir, name string) string {
	return write(t, filepath.Join(dir, name), mmdbwriter.Options{
		DatabaseType: ASNType,
		RecordSize:   24,
	}, func(place) mmdbtype.Map {
		return mmdbtype.Map{
			"autonomous_system_number":       mmdbtype.Uint32(209),
			"autonomous_system_organization": mmdbtype.String("Qwest Communications Company, LLC"),
		}
	})
}
