package geoip

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomasB/geolocate/internal/mmdbtest"
)

const (
	testAddr = "216.160.83.56"
	testFQDN = "www.example.test"
)

type fakeResolver map[string][]net.IP

func (f fakeResolver) LookupIP(_ context.Context, _, host string) ([]net.IP, error) {
	ips, ok := f[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return ips, nil
}

var testResolver = fakeResolver{
	testFQDN:       {net.ParseIP("2001:218::1"), net.ParseIP(testAddr)},
	"v6only.test":  {net.ParseIP("2001:218::1")},
	"nothing.test": {},
}

// testDir returns a directory holding a country and a city database under
// their default names.
func testDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	mmdbtest.Country(t, dir, DefaultCountryFile)
	mmdbtest.City(t, dir, DefaultCityFile)
	return dir
}

func open(t *testing.T, opts Options) *GeoIP {
	t.Helper()
	if opts.Resolver == nil {
		opts.Resolver = testResolver
	}
	g, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestNew(t *testing.T) {
	dir := testDir(t)
	t.Setenv(PathEnv, dir)

	g1 := open(t, Options{})
	g2 := open(t, Options{Path: dir, Cache: CacheStandard})
	g3, err := Open(dir, CacheStandard)
	require.NoError(t, err)
	defer g3.Close()

	for _, g := range []*GeoIP{g1, g2, g3} {
		assert.True(t, g.HasCountry())
		assert.True(t, g.HasCity())
		assert.NoError(t, g.Ready())
	}
}

func TestNew_AllCacheModes(t *testing.T) {
	dir := testDir(t)

	for _, mode := range []CacheMode{CacheStandard, CacheMemory, CacheCheck, CacheIndex, CacheMMap} {
		t.Run(mode.String(), func(t *testing.T) {
			g := open(t, Options{Path: dir, Cache: mode})
			code, err := g.CountryCode(context.Background(), testAddr)
			require.NoError(t, err)
			assert.Equal(t, "US", code)
		})
	}
}

func TestNew_SingleFile(t *testing.T) {
	dir := t.TempDir()
	city := mmdbtest.City(t, dir, "GeoLite2-City-Test.mmdb")
	cntry := mmdbtest.Country(t, dir, "GeoLite2-Country-Test.mmdb")

	g4 := open(t, Options{Path: city, Country: ""})
	assert.False(t, g4.HasCountry())
	assert.True(t, g4.HasCity())

	g5 := open(t, Options{Path: cntry, City: ""})
	assert.True(t, g5.HasCountry())
	assert.False(t, g5.HasCity())

	// no city path was configured, so the error names no file
	_, err := g5.City(context.Background(), testAddr)
	require.ErrorIs(t, err, ErrNoCityDatabase)
	assert.Equal(t, ErrNoCityDatabase.Error(), err.Error())
}

func TestNew_UnknownEdition(t *testing.T) {
	path := mmdbtest.ASN(t, t.TempDir(), "GeoLite2-ASN-Test.mmdb")

	_, err := New(Options{Path: path})
	assert.ErrorIs(t, err, ErrUnknownEdition)
}

func TestNew_EditionMismatch(t *testing.T) {
	dir := t.TempDir()
	mmdbtest.Country(t, dir, DefaultCityFile)

	_, err := New(Options{Path: dir})
	assert.ErrorIs(t, err, ErrEditionMismatch)
}

func TestNew_BadParams(t *testing.T) {
	dir := t.TempDir()

	for _, bad := range []CacheMode{23, 3, -1, 16} {
		_, err := New(Options{Path: dir, Cache: bad})
		assert.ErrorIs(t, err, ErrInvalidCache, "cache=%d", bad)
	}

	_, err := Open("foo", CacheStandard)
	assert.ErrorIs(t, err, ErrInvalidPath)

	t.Setenv(PathEnv, "")
	_, err = New(Options{})
	assert.ErrorIs(t, err, ErrNoPath)
}

func TestNew_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultCityFile), []byte("not an mmdb"), 0o644))

	_, err := New(Options{Path: dir})
	assert.Error(t, err)
}

func TestNew_EmptyDir(t *testing.T) {
	g := open(t, Options{Path: t.TempDir()})
	ctx := context.Background()

	assert.ErrorIs(t, g.Ready(), ErrNoDatabase)

	_, err := g.Country(ctx, testAddr)
	assert.ErrorIs(t, err, ErrNoDatabase)

	_, err = g.City(ctx, testAddr)
	assert.ErrorIs(t, err, ErrNoCityDatabase)
}

func TestBadQuery(t *testing.T) {
	dir := testDir(t)
	cntry := open(t, Options{Path: dir, City: "<foo>"})
	ctx := context.Background()

	// No city database available, these calls should fail.
	_, err := cntry.City(ctx, "google.com")
	assert.ErrorIs(t, err, ErrNoCityDatabase)
	_, err = cntry.Coords(ctx, "yahoo.com")
	assert.ErrorIs(t, err, ErrNoCityDatabase)

	for _, q := range []string{"", "   "} {
		_, err = cntry.CountryCode(ctx, q)
		assert.ErrorIs(t, err, ErrInvalidQuery)
		_, err = cntry.CountryName(ctx, q)
		assert.ErrorIs(t, err, ErrInvalidQuery)
	}

	_, err = cntry.CountryCode(ctx, "unknown.test")
	assert.ErrorIs(t, err, ErrInvalidQuery)
	var dnsErr *net.DNSError
	assert.True(t, errors.As(err, &dnsErr))

	_, err = cntry.CountryCode(ctx, "nothing.test")
	assert.ErrorIs(t, err, ErrInvalidQuery)

	// the configured city path is named in the error
	_, err = cntry.City(ctx, testAddr)
	assert.Contains(t, err.Error(), "<foo>")
}

func TestIPv6OnIPv4Database(t *testing.T) {
	dir := t.TempDir()
	mmdbtest.CountryIPv4(t, dir, DefaultCountryFile)
	g := open(t, Options{Path: dir})
	ctx := context.Background()

	_, err := g.Country(ctx, "2001:218::")
	assert.ErrorIs(t, err, ErrInvalidQuery)

	code, err := g.CountryCode(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, "US", code)
}

func TestCountry(t *testing.T) {
	dir := testDir(t)
	g := open(t, Options{Path: dir, City: "<foo>"})
	ctx := context.Background()

	for _, query := range []string{testFQDN, testAddr} {
		for _, fn := range []func(context.Context, string) (string, error){g.CountryCode, g.CountryCodeByAddr, g.CountryCodeByName} {
			code, err := fn(ctx, query)
			require.NoError(t, err)
			assert.Equal(t, "US", code)
		}
		for _, fn := range []func(context.Context, string) (string, error){g.CountryName, g.CountryNameByAddr, g.CountryNameByName} {
			name, err := fn(ctx, query)
			require.NoError(t, err)
			assert.Equal(t, "United States", name)
		}
		c, err := g.Country(ctx, query)
		require.NoError(t, err)
		assert.Equal(t, &CountryInfo{CountryCode: "US", CountryName: "United States"}, c)
	}
}

func TestCity(t *testing.T) {
	dir := testDir(t)
	g := open(t, Options{Path: dir, Country: "<foo>"})
	ctx := context.Background()

	require.False(t, g.HasCountry())

	for _, query := range []string{testFQDN, testAddr} {
		// Country queries fall back to the city database.
		for _, fn := range []func(context.Context, string) (string, error){g.CountryCode, g.CountryCodeByAddr, g.CountryCodeByName} {
			code, err := fn(ctx, query)
			require.NoError(t, err)
			assert.Equal(t, "US", code)
		}
		c, err := g.Country(ctx, query)
		require.NoError(t, err)
		assert.Equal(t, &CountryInfo{CountryCode: "US", CountryName: "United States"}, c)

		d, err := g.City(ctx, query)
		require.NoError(t, err)
		assert.Equal(t, "USA", d.CountryCode3)
		assert.Equal(t, "Milton", d.City)
		assert.Equal(t, "WA", d.Region)
		assert.Equal(t, "NA", d.ContinentCode)
		assert.Equal(t, "98354", d.PostalCode)
		assert.Equal(t, uint(819), d.DMACode)

		lon, lat := -122.0, 47.0
		p, err := g.Coords(ctx, query)
		require.NoError(t, err)
		lonLat, err := g.LonLat(ctx, query)
		require.NoError(t, err)
		latLon, err := g.LatLon(ctx, query)
		require.NoError(t, err)

		for _, tup := range [][2]float64{{p.Lon(), p.Lat()}, lonLat, {latLon[1], latLon[0]}} {
			assert.InDelta(t, lon, tup[0], 0.5)
			assert.InDelta(t, lat, tup[1], 0.5)
		}

		f, err := g.Geometry(ctx, query)
		require.NoError(t, err)
		assert.Equal(t, "Point", f.Geometry.GeoJSONType())
		assert.Equal(t, SRID, f.Properties["srid"])
	}
}

func TestCity_UnicodeNames(t *testing.T) {
	dir := testDir(t)
	g := open(t, Options{Path: dir})

	d, err := g.City(context.Background(), "89.160.20.112")
	require.NoError(t, err)
	assert.Equal(t, "Linköping", d.City)
	assert.Equal(t, "SE", d.CountryCode)
}

func TestLanguageFallback(t *testing.T) {
	dir := testDir(t)
	g := open(t, Options{Path: dir, Language: "xx"})

	name, err := g.CountryName(context.Background(), testAddr)
	require.NoError(t, err)
	assert.Equal(t, "United States", name)
}

func TestResolvePrefersIPv4(t *testing.T) {
	g := &GeoIP{resolver: testResolver}

	ip, err := g.resolve(context.Background(), testFQDN)
	require.NoError(t, err)
	assert.Equal(t, testAddr, ip.String())

	ip, err = g.resolve(context.Background(), "v6only.test")
	require.NoError(t, err)
	assert.Equal(t, "2001:218::1", ip.String())

	ip, err = g.resolve(context.Background(), " 2001:218:: ")
	require.NoError(t, err)
	assert.Equal(t, "2001:218::", ip.String())
}

func TestAddressNotFound(t *testing.T) {
	dir := testDir(t)
	g := open(t, Options{Path: dir})
	ctx := context.Background()

	_, err := g.Country(ctx, "10.0.0.1")
	assert.ErrorIs(t, err, ErrAddressNotFound)
	_, err = g.City(ctx, "10.0.0.1")
	assert.ErrorIs(t, err, ErrAddressNotFound)
}

func TestInfo(t *testing.T) {
	dir := testDir(t)
	g := open(t, Options{Path: dir})

	info := g.Info()
	require.NotNil(t, info.Country)
	require.NotNil(t, info.City)
	assert.Equal(t, "country", info.Country.Edition)
	assert.Equal(t, "city", info.City.Edition)
	assert.Contains(t, info.City.DatabaseType, "City")
	assert.Equal(t, filepath.Join(dir, DefaultCityFile), info.City.Path)
	assert.False(t, info.City.BuildTime.IsZero())

	s := g.String()
	assert.True(t, strings.HasPrefix(s, "<GeoIP "))
	assert.Contains(t, s, DefaultCountryFile)
}

func TestClose(t *testing.T) {
	dir := testDir(t)
	g, err := New(Options{Path: dir, Resolver: testResolver})
	require.NoError(t, err)

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())

	_, err = g.Country(context.Background(), testAddr)
	assert.ErrorIs(t, err, ErrNoDatabase)
	assert.ErrorIs(t, g.Ready(), ErrNoDatabase)
}

func TestReload(t *testing.T) {
	dir := testDir(t)
	g := open(t, Options{Path: dir, Cache: CacheMemory})
	countryPath := filepath.Join(dir, DefaultCountryFile)

	// unrelated files are ignored
	require.NoError(t, g.reload(filepath.Join(dir, "other.mmdb")))

	// a broken file is rejected and the old reader stays in service
	require.NoError(t, os.WriteFile(countryPath, []byte("truncated"), 0o644))
	assert.Error(t, g.reload(countryPath))
	code, err := g.CountryCode(context.Background(), testAddr)
	require.NoError(t, err)
	assert.Equal(t, "US", code)

	// a city database can serve the country slot
	mmdbtest.City(t, dir, DefaultCountryFile)
	require.NoError(t, g.reload(countryPath))
	assert.Contains(t, g.Info().Country.DatabaseType, "City")
}

func TestWatchReload(t *testing.T) {
	dir := testDir(t)
	g := open(t, Options{Path: dir, Cache: CacheCheck})
	countryPath := filepath.Join(dir, DefaultCountryFile)

	require.NotContains(t, g.Info().Country.DatabaseType, "City")

	// replace atomically so the watcher never sees a partial file
	tmp := mmdbtest.City(t, dir, "country.tmp")
	require.NoError(t, os.Rename(tmp, countryPath))

	require.Eventually(t, func() bool {
		return strings.Contains(g.Info().Country.DatabaseType, "City")
	}, 5*time.Second, 20*time.Millisecond)

	code, err := g.CountryCode(context.Background(), testAddr)
	require.NoError(t, err)
	assert.Equal(t, "US", code)
}

func TestWatchPicksUpNewFile(t *testing.T) {
	dir := t.TempDir()
	g := open(t, Options{Path: dir, Cache: CacheCheck})

	require.ErrorIs(t, g.Ready(), ErrNoDatabase)

	tmp := mmdbtest.City(t, dir, "city.tmp")
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, DefaultCityFile)))

	require.Eventually(t, g.HasCity, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, g.Ready())

	d, err := g.City(context.Background(), testAddr)
	require.NoError(t, err)
	assert.Equal(t, "Milton", d.City)
}

func TestReload_MissingAtStartup(t *testing.T) {
	dir := t.TempDir()
	mmdbtest.Country(t, dir, DefaultCountryFile)
	g := open(t, Options{Path: dir, Cache: CacheMemory})
	require.False(t, g.HasCity())

	cityPath := mmdbtest.City(t, dir, DefaultCityFile)
	require.NoError(t, g.reload(cityPath))
	assert.True(t, g.HasCity())
}
