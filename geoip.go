package main

import (
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// GeoIPService resolves a connecting client's country using a MaxMind
// GeoIP2 database. Grounded on the teacher's geoip_service.go, trimmed
// to the one lookup our access-control enrichment needs.
type GeoIPService struct {
	mu      sync.RWMutex
	db      *geoip2.Reader
	enabled bool
}

// NewGeoIPService opens dbPath if set; an empty path or unreadable
// database yields a disabled (always-pass) service rather than a fatal
// error, matching the teacher's tolerant fallback.
func NewGeoIPService(dbPath string) (*GeoIPService, error) {
	if dbPath == "" {
		return &GeoIPService{enabled: false}, nil
	}

	db, err := geoip2.Open(dbPath)
	if err != nil {
		logWarnf("geoip: opening database %s: %v; country filter disabled", dbPath, err)
		return &GeoIPService{enabled: false}, nil
	}

	logInfof("geoip: database loaded from %s", dbPath)
	return &GeoIPService{db: db, enabled: true}, nil
}

// Country returns the ISO country code for ip, or "" if the service is
// disabled or the address is not found in the database.
func (g *GeoIPService) Country(ip net.IP) string {
	if g == nil || !g.enabled {
		return ""
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	record, err := g.db.Country(ip)
	if err != nil || record == nil {
		return ""
	}
	return record.Country.IsoCode
}

// Close releases the underlying database handle.
func (g *GeoIPService) Close() {
	if g == nil || !g.enabled {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.db.Close()
}
