// Package provider maps the user's network provider to a recommended helper mode.
package provider

import (
	"regexp"
	"strings"
)

// DefaultID is the provider ID used when detection finds no match.
const DefaultID = "default"

// Provider is a known network provider.
type Provider struct {
	ID   string
	Name string
	Mode string
}

// keywordRule matches an org string by substring.
type keywordRule struct {
	id       string
	keywords []string
}

// Registry holds the provider table, ASN map and org keyword rules.
type Registry struct {
	providers map[string]Provider
	order     []string
	asn       map[string]string
	keywords  []keywordRule
}

// NewRegistry creates a registry with the built-in tables.
func NewRegistry() *Registry {
	r := &Registry{
		providers: make(map[string]Provider),
		asn:       make(map[string]string),
	}

	for _, p := range []Provider{
		{"rostelecom", "Rostelecom", "ALT7"},
		{"mts", "MTS", "ALT7"},
		{"beeline", "Beeline", "ALT3"},
		{"megafon", "MegaFon", "ALT7"},
		{"tele2", "Tele2", "ALT4"},
		{"mgts", "MGTS", "general"},
		{"tattelecom", "Tattelecom", "ALT7"},
		{"domru", "Dom.ru", "ALT6"},
		{"ertelecom", "ER-Telecom", "ALT6"},
		{"skynet", "SkyNet", "ALT3"},
		{"netbynet", "NetByNet", "ALT7"},
		{"beeline_kz", "Beeline Kazakhstan", "ALT3"},
		{"kcell", "Kcell", "ALT7"},
		{"altel", "Altel", "ALT4"},
		{"kazakhtelecom", "Kazakhtelecom", "ALT7"},
		{"kyivstar", "Kyivstar", "ALT7"},
		{"vodafone_ua", "Vodafone Ukraine", "ALT4"},
		{"lifecell", "lifecell", "ALT3"},
		{"byfly", "ByFly", "ALT7"},
		{"mts_by", "MTS Belarus", "ALT7"},
		{"a1_by", "A1 Belarus", "ALT4"},
		{"uznet", "UzNet", "ALT7"},
		{"moldtelecom", "Moldtelecom", "ALT6"},
		{DefaultID, "Auto-detect", "general"},
	} {
		r.Register(p)
	}

	// Later entries win: 25513 is mgts, 25159 is megafon.
	for _, e := range [][2]string{
		{"12389", "rostelecom"}, {"42610", "rostelecom"}, {"25513", "rostelecom"},
		{"8359", "mts"}, {"25159", "mts"}, {"29497", "mts"},
		{"3216", "beeline"}, {"8402", "beeline"}, {"31163", "beeline"},
		{"31133", "megafon"}, {"25159", "megafon"}, {"31224", "megafon"},
		{"41330", "tele2"}, {"48190", "tele2"}, {"43966", "tele2"},
		{"25513", "mgts"}, {"25478", "mgts"},
		{"41733", "ertelecom"}, {"50544", "domru"}, {"42668", "ertelecom"},
		{"9198", "kazakhtelecom"}, {"48503", "kcell"}, {"43994", "beeline_kz"},
	} {
		r.asn[e[0]] = e[1]
	}

	// Checked in order; the first match wins.
	r.keywords = []keywordRule{
		{"rostelecom", []string{"rostelecom", "ростелеком"}},
		{"mts", []string{"mts", "мтс"}},
		{"beeline", []string{"beeline", "билайн"}},
		{"megafon", []string{"megafon", "мегафон"}},
		{"tele2", []string{"tele2", "теле2"}},
		{"mgts", []string{"mgts", "мгтс"}},
		{"tattelecom", []string{"tattelecom", "таттелеком"}},
		{"domru", []string{"dom.ru", "домру", "domru"}},
		{"ertelecom", []string{"er-telecom", "ertelecom"}},
		{"skynet", []string{"skynet"}},
		{"netbynet", []string{"netbynet"}},
		{"kazakhtelecom", []string{"kazakhtelecom"}},
		{"kcell", []string{"kcell"}},
		{"altel", []string{"altel"}},
		{"kyivstar", []string{"kyivstar"}},
		{"vodafone_ua", []string{"vodafone"}},
		{"lifecell", []string{"lifecell"}},
		{"byfly", []string{"byfly", "beltelecom"}},
		{"a1_by", []string{"a1.by", "velcom"}},
	}
	return r
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider) {
	if _, ok := r.providers[p.ID]; !ok {
		r.order = append(r.order, p.ID)
	}
	r.providers[p.ID] = p
}

// Get returns a provider by ID.
func (r *Registry) Get(id string) (Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// List returns all providers in registration order.
func (r *Registry) List() []Provider {
	result := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.providers[id])
	}
	return result
}

// ModeFor returns the recommended mode for a provider, falling back to the default provider's mode.
func (r *Registry) ModeFor(id string) string {
	if p, ok := r.providers[id]; ok {
		return p.Mode
	}
	return r.providers[DefaultID].Mode
}

// ByASN returns the provider for an AS number (digits only).
func (r *Registry) ByASN(asn string) (string, bool) {
	id, ok := r.asn[asn]
	return id, ok
}

var asnPattern = regexp.MustCompile(`AS(\d+)`)

// ParseASN extracts the AS number from an ipinfo org string such as "AS12389 PJSC Rostelecom".
func ParseASN(org string) (string, bool) {
	m := asnPattern.FindStringSubmatch(org)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Identify resolves an org string to a provider ID: ASN first, then
// keywords, then DefaultID.
func (r *Registry) Identify(org string) string {
	if org == "" {
		return DefaultID
	}
	if asn, ok := ParseASN(org); ok {
		if id, ok := r.ByASN(asn); ok {
			return id
		}
	}
	lower := strings.ToLower(org)
	for _, rule := range r.keywords {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.id
			}
		}
	}
	return DefaultID
}
