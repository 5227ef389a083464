package geoip

import (
	"fmt"
	"strconv"
	"strings"
)

// CacheMode controls how database files are held in memory. The values
// mirror the flags of the MaxMind C API.
//
// CacheCheck keeps files in memory and watches the configured country and
// city paths: a changed file is verified and swapped in, and a file missing
// at startup is loaded once it appears.
type CacheMode int

const (
	CacheStandard CacheMode = 0
	CacheMemory   CacheMode = 1
	CacheCheck    CacheMode = 2
	CacheIndex    CacheMode = 4
	CacheMMap     CacheMode = 8
)

var cacheNames = map[CacheMode]string{
	CacheStandard: "standard",
	CacheMemory:   "memory",
	CacheCheck:    "check",
	CacheIndex:    "index",
	CacheMMap:     "mmap",
}

// Valid reports whether c is one of the supported modes.
func (c CacheMode) Valid() bool {
	_, ok := cacheNames[c]
	return ok
}

// inMemory reports whether files are read fully into memory rather than
// memory-mapped. CacheCheck reloads files in place, so it never maps them.
func (c CacheMode) inMemory() bool {
	switch c {
	case CacheMemory, CacheCheck, CacheIndex:
		return true
	default:
		return false
	}
}

func (c CacheMode) String() string {
	if name, ok := cacheNames[c]; ok {
		return name
	}
	return strconv.Itoa(int(c))
}

// ParseCacheMode accepts either a mode name ("memory") or its numeric value ("1").
func ParseCacheMode(s string) (CacheMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CacheStandard, nil
	}
	for mode, name := range cacheNames {
		if name == s {
			return mode, nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || !CacheMode(n).Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCache, s)
	}
	return CacheMode(n), nil
}
