// Package geoip looks up countries, cities and coordinates for IP addresses
// and hostnames in MaxMind GeoIP2 databases.
package geoip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/TomasB/geolocate/internal/data"
)

const (
	// PathEnv names the environment variable consulted when Options.Path is empty.
	PathEnv = "GEOIP_PATH"

	DefaultCountryFile = "GeoLite2-Country.mmdb"
	DefaultCityFile    = "GeoLite2-City.mmdb"
	DefaultLanguage    = "en"
)

// Resolver resolves hostnames. *net.Resolver satisfies it.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// Locator is the lookup surface served over HTTP and gRPC.
type Locator interface {
	Country(ctx context.Context, query string) (*CountryInfo, error)
	City(ctx context.Context, query string) (*Record, error)
	Info() Info
}

// Options configures New.
type Options struct {
	// Path is a directory holding the database files, or a single database
	// file whose edition is detected from its metadata.
	Path  string
	Cache CacheMode

	// Country and City are filenames inside a directory Path. Files that do
	// not exist are skipped.
	Country string
	City    string

	// Language picks the localized names; missing names fall back to English.
	Language string

	Resolver Resolver
	Logger   *slog.Logger
}

// GeoIP holds an optional country database and an optional city database.
type GeoIP struct {
	cache    CacheMode
	language string
	resolver Resolver
	logger   *slog.Logger

	// attempted file paths, kept for error messages
	countryFile string
	cityFile    string

	mu      sync.RWMutex
	country *data.MmdbReader
	city    *data.MmdbReader
	closed  bool

	watcher *watcher
}

var _ Locator = (*GeoIP)(nil)

// New opens the databases described by opts.
func New(opts Options) (*GeoIP, error) {
	if !opts.Cache.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCache, int(opts.Cache))
	}

	path := opts.Path
	if path == "" {
		path = os.Getenv(PathEnv)
	}
	if path == "" {
		return nil, ErrNoPath
	}
	path = filepath.Clean(path)

	g := &GeoIP{
		cache:    opts.Cache,
		language: opts.Language,
		resolver: opts.Resolver,
		logger:   opts.Logger,
	}
	if g.language == "" {
		g.language = DefaultLanguage
	}
	if g.resolver == nil {
		g.resolver = net.DefaultResolver
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}

	fi, err := os.Stat(path)
	switch {
	case err == nil && fi.IsDir():
		err = g.openDir(path, opts.Country, opts.City)
	case err == nil && fi.Mode().IsRegular():
		err = g.openFile(path)
	default:
		err = fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}
	if err != nil {
		g.Close()
		return nil, err
	}

	if g.cache == CacheCheck {
		if g.watcher, err = g.watch(); err != nil {
			g.Close()
			return nil, err
		}
	}

	g.logger.Info("GeoIP databases opened",
		"path", path,
		"cache", g.cache.String(),
		"country", g.countryFile,
		"city", g.cityFile,
		"has_country", g.HasCountry(),
		"has_city", g.HasCity(),
	)
	return g, nil
}

// Open is New with only a path and cache mode, matching the MaxMind API.
func Open(path string, cache CacheMode) (*GeoIP, error) {
	return New(Options{Path: path, Cache: cache})
}

func (g *GeoIP) openDir(dir, countryName, cityName string) error {
	if countryName == "" {
		countryName = DefaultCountryFile
	}
	if cityName == "" {
		cityName = DefaultCityFile
	}

	g.countryFile = filepath.Join(dir, countryName)
	if isFile(g.countryFile) {
		r, err := g.openSlot(g.countryFile, data.EditionCountry)
		if err != nil {
			return err
		}
		g.country = r
	}

	g.cityFile = filepath.Join(dir, cityName)
	if isFile(g.cityFile) {
		r, err := g.openSlot(g.cityFile, data.EditionCity)
		if err != nil {
			return err
		}
		g.city = r
	}
	return nil
}

func (g *GeoIP) openFile(path string) error {
	r, err := data.NewMmdbReader(path, g.cache.inMemory())
	if err != nil {
		return err
	}
	switch r.Edition() {
	case data.EditionCity:
		g.city, g.cityFile = r, path
	case data.EditionCountry:
		g.country, g.countryFile = r, path
	default:
		r.Close()
		return fmt.Errorf("%w: %q", ErrUnknownEdition, r.Metadata().DatabaseType)
	}
	return nil
}

// openSlot opens path and checks that it can serve a slot of the given
// edition. City databases carry country data too, so they fit either slot.
func (g *GeoIP) openSlot(path string, want data.Edition) (*data.MmdbReader, error) {
	r, err := data.NewMmdbReader(path, g.cache.inMemory())
	if err != nil {
		return nil, err
	}
	if got := r.Edition(); got != data.EditionCity && got != want {
		r.Close()
		return nil, fmt.Errorf("%w: %s holds %q, want a %s database",
			ErrEditionMismatch, path, r.Metadata().DatabaseType, want)
	}
	return r, nil
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// HasCountry reports whether a country database is loaded.
func (g *GeoIP) HasCountry() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.country != nil
}

// HasCity reports whether a city database is loaded.
func (g *GeoIP) HasCity() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.city != nil
}

// Ready returns an error unless at least one database is in service.
func (g *GeoIP) Ready() error {
	if !g.HasCountry() && !g.HasCity() {
		return ErrNoDatabase
	}
	return nil
}

// Info describes the loaded databases.
func (g *GeoIP) Info() Info {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Info{
		Country: newDatabaseInfo(g.country),
		City:    newDatabaseInfo(g.city),
	}
}

func (g *GeoIP) String() string {
	return fmt.Sprintf("<GeoIP cache=%s country=%q city=%q>", g.cache, g.countryFile, g.cityFile)
}

// Close stops reload watching and releases both databases. It is safe to
// call more than once.
func (g *GeoIP) Close() error {
	if g.watcher != nil {
		g.watcher.close()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true

	var firstErr error
	for _, r := range []*data.MmdbReader{g.country, g.city} {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	g.country, g.city = nil, nil
	return firstErr
}

type need int

const (
	needAny need = iota
	needCity
)

func (g *GeoIP) checkDatabase(n need) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	switch {
	case n == needAny && g.country == nil && g.city == nil:
		return ErrNoDatabase
	case n == needCity && g.city == nil:
		return g.noCityDatabase()
	}
	return nil
}

func (g *GeoIP) noCityDatabase() error {
	if g.cityFile == "" {
		return ErrNoCityDatabase
	}
	return fmt.Errorf("%w: %s", ErrNoCityDatabase, g.cityFile)
}

// resolve turns a query into an address. IP literals are used as given;
// anything else is resolved as a hostname.
func (g *GeoIP) resolve(ctx context.Context, query string) (net.IP, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidQuery)
	}
	if ip := net.ParseIP(query); ip != nil {
		return ip, nil
	}

	ips, err := g.resolver.LookupIP(ctx, "ip", query)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot resolve %q: %w", ErrInvalidQuery, query, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: %q resolved to no addresses", ErrInvalidQuery, query)
	}
	for _, ip := range ips {
		if ip.To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}

// queryError reports reader rejections caused by the query itself as
// ErrInvalidQuery.
func queryError(err error) error {
	if errors.Is(err, data.ErrUnsupportedQuery) {
		return fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	return err
}

func (g *GeoIP) lookupCountry(ctx context.Context, query string) (*CountryInfo, error) {
	if err := g.checkDatabase(needAny); err != nil {
		return nil, err
	}
	ip, err := g.resolve(ctx, query)
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	switch {
	case g.country != nil:
		rec, err := g.country.Country(ip)
		if err != nil {
			return nil, queryError(err)
		}
		if rec.Country.IsoCode == "" {
			return nil, fmt.Errorf("%w: %s", ErrAddressNotFound, ip)
		}
		return &CountryInfo{
			CountryCode: rec.Country.IsoCode,
			CountryName: localName(rec.Country.Names, g.language),
		}, nil
	case g.city != nil:
		rec, err := g.city.City(ip)
		if err != nil {
			return nil, queryError(err)
		}
		if rec.Country.IsoCode == "" {
			return nil, fmt.Errorf("%w: %s", ErrAddressNotFound, ip)
		}
		return &CountryInfo{
			CountryCode: rec.Country.IsoCode,
			CountryName: localName(rec.Country.Names, g.language),
		}, nil
	default:
		// closed or reloaded away between the check and the lookup
		return nil, ErrNoDatabase
	}
}

// Country returns the country code and name for an IP address or hostname.
// The city database is used when no country database is loaded.
func (g *GeoIP) Country(ctx context.Context, query string) (*CountryInfo, error) {
	return g.lookupCountry(ctx, query)
}

// CountryCode returns the ISO-3166 alpha-2 code for query.
func (g *GeoIP) CountryCode(ctx context.Context, query string) (string, error) {
	c, err := g.lookupCountry(ctx, query)
	if err != nil {
		return "", err
	}
	return c.CountryCode, nil
}

// CountryName returns the localized country name for query.
func (g *GeoIP) CountryName(ctx context.Context, query string) (string, error) {
	c, err := g.lookupCountry(ctx, query)
	if err != nil {
		return "", err
	}
	return c.CountryName, nil
}

// CountryCodeByAddr is an alias of CountryCode kept for the MaxMind API names.
func (g *GeoIP) CountryCodeByAddr(ctx context.Context, addr string) (string, error) {
	return g.CountryCode(ctx, addr)
}

// CountryCodeByName is an alias of CountryCode.
func (g *GeoIP) CountryCodeByName(ctx context.Context, name string) (string, error) {
	return g.CountryCode(ctx, name)
}

// CountryNameByAddr is an alias of CountryName.
func (g *GeoIP) CountryNameByAddr(ctx context.Context, addr string) (string, error) {
	return g.CountryName(ctx, addr)
}

// CountryNameByName is an alias of CountryName.
func (g *GeoIP) CountryNameByName(ctx context.Context, name string) (string, error) {
	return g.CountryName(ctx, name)
}

// City returns the full city record for query. It requires the city database.
func (g *GeoIP) City(ctx context.Context, query string) (*Record, error) {
	if err := g.checkDatabase(needCity); err != nil {
		return nil, err
	}
	ip, err := g.resolve(ctx, query)
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.city == nil {
		return nil, g.noCityDatabase()
	}
	rec, err := g.city.City(ip)
	if err != nil {
		return nil, queryError(err)
	}
	if !cityFound(rec) {
		return nil, fmt.Errorf("%w: %s", ErrAddressNotFound, ip)
	}
	return newRecord(rec, g.language), nil
}

// Coords returns the location of query as (longitude, latitude).
func (g *GeoIP) Coords(ctx context.Context, query string) (orb.Point, error) {
	rec, err := g.City(ctx, query)
	if err != nil {
		return orb.Point{}, err
	}
	return rec.Point(), nil
}

// LonLat returns [longitude, latitude] for query.
func (g *GeoIP) LonLat(ctx context.Context, query string) ([2]float64, error) {
	p, err := g.Coords(ctx, query)
	if err != nil {
		return [2]float64{}, err
	}
	return [2]float64{p.Lon(), p.Lat()}, nil
}

// LatLon returns [latitude, longitude] for query.
func (g *GeoIP) LatLon(ctx context.Context, query string) ([2]float64, error) {
	p, err := g.Coords(ctx, query)
	if err != nil {
		return [2]float64{}, err
	}
	return [2]float64{p.Lat(), p.Lon()}, nil
}

// Geometry returns the location of query as a GeoJSON point feature in SRID 4326.
func (g *GeoIP) Geometry(ctx context.Context, query string) (*geojson.Feature, error) {
	rec, err := g.City(ctx, query)
	if err != nil {
		return nil, err
	}
	return rec.Feature(), nil
}
