package main

// CountryDenied reports whether countryCode is present in the configured
// denied-countries list. This is an additive check (spec.md's SPEC_FULL
// domain-stack expansion): it runs after IPAllowed and never in place of
// it, grounded on the teacher's countryban.go ban-list shape but reduced
// to a static config-driven list rather than a persisted dynamic one,
// since Config here is an immutable snapshot (spec.md §3).
func CountryDenied(countryCode string, cfg *GeoIPConfig) bool {
	if countryCode == "" {
		return false
	}
	for _, c := range cfg.DeniedCountries {
		if c == countryCode {
			return true
		}
	}
	return false
}
