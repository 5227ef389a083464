package data

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
)

// ErrUnsupportedQuery marks lookups the database cannot answer by its
// nature: an IPv6 address against an IPv4-only file, or a city lookup
// against a country file.
var ErrUnsupportedQuery = errors.New("query not supported by database")

// MmdbReader wraps a single MaxMind MMDB file.
type MmdbReader struct {
	db        *geoip2.Reader
	path      string
	edition   Edition
	ipVersion uint
}

// NewMmdbReader opens the MMDB file at the given path. With inMemory set the
// whole file is read up front; otherwise it is memory-mapped.
func NewMmdbReader(path string, inMemory bool) (*MmdbReader, error) {
	var (
		db  *geoip2.Reader
		err error
	)
	if inMemory {
		var buf []byte
		buf, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read MMDB file: %w", err)
		}
		db, err = geoip2.FromBytes(buf)
	} else {
		db, err = geoip2.Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open MMDB file: %w", err)
	}
	meta := db.Metadata()
	return &MmdbReader{
		db:        db,
		path:      path,
		edition:   DetectEdition(meta.DatabaseType),
		ipVersion: meta.IPVersion,
	}, nil
}

// Path returns the file the reader was opened from.
func (r *MmdbReader) Path() string { return r.path }

// Edition returns the dataset kind detected from the file metadata.
func (r *MmdbReader) Edition() Edition { return r.edition }

// Metadata returns the MMDB metadata section.
func (r *MmdbReader) Metadata() maxminddb.Metadata {
	return r.db.Metadata()
}

// Country returns the country record for ip.
func (r *MmdbReader) Country(ip net.IP) (*geoip2.Country, error) {
	if err := r.checkFamily(ip); err != nil {
		return nil, err
	}
	record, err := r.db.Country(ip)
	if err != nil {
		return nil, lookupError("country", err)
	}
	return record, nil
}

// City returns the city record for ip. It fails on country-only files.
func (r *MmdbReader) City(ip net.IP) (*geoip2.City, error) {
	if err := r.checkFamily(ip); err != nil {
		return nil, err
	}
	record, err := r.db.City(ip)
	if err != nil {
		return nil, lookupError("city", err)
	}
	return record, nil
}

func (r *MmdbReader) checkFamily(ip net.IP) error {
	if r.ipVersion == 4 && ip.To4() == nil {
		return fmt.Errorf("%w: %s is an IPv6 address and %s is IPv4-only", ErrUnsupportedQuery, ip, r.path)
	}
	return nil
}

func lookupError(kind string, err error) error {
	var ime geoip2.InvalidMethodError
	if errors.As(err, &ime) {
		return fmt.Errorf("%w: %w", ErrUnsupportedQuery, err)
	}
	return fmt.Errorf("%s lookup failed: %w", kind, err)
}

// Close releases the MMDB reader resources.
func (r *MmdbReader) Close() error {
	return r.db.Close()
}

// Verify walks the whole search tree and data section of the file at path
// and reports the first structural problem found.
func Verify(path string) error {
	db, err := maxminddb.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open MMDB file: %w", err)
	}
	defer db.Close()

	if err := db.Verify(); err != nil {
		return fmt.Errorf("MMDB verification failed: %w", err)
	}
	return nil
}
