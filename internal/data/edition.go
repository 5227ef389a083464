package data

import "regexp"

// Edition identifies which kind of GeoIP2 dataset an mmdb file holds.
type Edition int

const (
	EditionUnknown Edition = iota
	EditionCountry
	EditionCity
)

var (
	cityEditionRe    = regexp.MustCompile(`(?i)(city|enterprise)`)
	countryEditionRe = regexp.MustCompile(`(?i)country`)
)

// DetectEdition maps the database_type metadata field of an mmdb file
// (e.g. "GeoLite2-City", "GeoIP2-Country") to an Edition.
func DetectEdition(databaseType string) Edition {
	switch {
	case cityEditionRe.MatchString(databaseType):
		return EditionCity
	case countryEditionRe.MatchString(databaseType):
		return EditionCountry
	default:
		return EditionUnknown
	}
}

func (e Edition) String() string {
	switch e {
	case EditionCountry:
		return "country"
	case EditionCity:
		return "city"
	default:
		return "unknown"
	}
}
