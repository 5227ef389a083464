package geoip

import "errors"

var (
	// ErrInvalidCache is returned for a cache mode outside the supported set.
	ErrInvalidCache = errors.New("invalid GeoIP caching option")

	// ErrNoPath is returned when neither Options.Path nor GEOIP_PATH is set.
	ErrNoPath = errors.New("GeoIP path must be provided via options or the " + PathEnv + " environment variable")

	// ErrInvalidPath is returned when the path is neither a file nor a directory.
	ErrInvalidPath = errors.New("GeoIP path must be a valid file or directory")

	// ErrUnknownEdition is returned when a database file is not a country or city dataset.
	ErrUnknownEdition = errors.New("unable to recognize database edition")

	// ErrEditionMismatch is returned when a file holds a different dataset than its slot expects.
	ErrEditionMismatch = errors.New("database edition does not match")

	ErrNoDatabase     = errors.New("invalid GeoIP country and city data files")
	ErrNoCityDatabase = errors.New("invalid GeoIP city data file")

	// ErrInvalidQuery covers empty queries, non-address queries passed to the
	// *ByAddr methods and hostnames that do not resolve.
	ErrInvalidQuery = errors.New("invalid GeoIP query")

	ErrAddressNotFound = errors.New("address not found in GeoIP database")
)
