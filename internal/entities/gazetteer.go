package entities

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// KnownOrganization is a gazetteer entry
type KnownOrganization struct {
	Name    string   `yaml:"name"`
	Ticker  string   `yaml:"ticker"`
	Sector  string   `yaml:"sector"`
	Aliases []string `yaml:"aliases"`
}

// Names returns the canonical name followed by its aliases
func (o KnownOrganization) Names() []string {
	names := make([]string, 0, len(o.Aliases)+1)
	if o.Name != "" {
		names = append(names, o.Name)
	}
	return append(names, o.Aliases...)
}

var defaultOrganizations = []KnownOrganization{
	{Name: "Apple Inc", Ticker: "AAPL", Sector: "Technology", Aliases: []string{"Apple"}},
	{Name: "Microsoft Corp", Ticker: "MSFT", Sector: "Technology", Aliases: []string{"Microsoft"}},
	{Name: "Alphabet Inc", Ticker: "GOOGL", Sector: "Technology", Aliases: []string{"Alphabet", "Google"}},
	{Name: "Amazon.com Inc", Ticker: "AMZN", Sector: "Consumer Discretionary", Aliases: []string{"Amazon"}},
	{Name: "Meta Platforms Inc", Ticker: "META", Sector: "Technology", Aliases: []string{"Meta Platforms", "Facebook"}},
	{Name: "Nvidia Corp", Ticker: "NVDA", Sector: "Technology", Aliases: []string{"Nvidia", "NVIDIA"}},
	{Name: "Tesla Inc", Ticker: "TSLA", Sector: "Automotive", Aliases: []string{"Tesla"}},
	{Name: "Netflix Inc", Ticker: "NFLX", Sector: "Communication Services", Aliases: []string{"Netflix"}},
	{Name: "Intel Corp", Ticker: "INTC", Sector: "Technology", Aliases: []string{"Intel"}},
	{Name: "JPMorgan Chase & Co", Ticker: "JPM", Sector: "Financials", Aliases: []string{"JPMorgan Chase", "JPMorgan"}},
	{Name: "Goldman Sachs Group Inc", Ticker: "GS", Sector: "Financials", Aliases: []string{"Goldman Sachs"}},
	{Name: "Morgan Stanley", Ticker: "MS", Sector: "Financials"},
	{Name: "Bank of America Corp", Ticker: "BAC", Sector: "Financials", Aliases: []string{"Bank of America"}},
	{Name: "Wells Fargo & Co", Ticker: "WFC", Sector: "Financials", Aliases: []string{"Wells Fargo"}},
	{Name: "Berkshire Hathaway Inc", Ticker: "BRK.B", Sector: "Financials", Aliases: []string{"Berkshire Hathaway"}},
	{Name: "Exxon Mobil Corp", Ticker: "XOM", Sector: "Energy", Aliases: []string{"Exxon Mobil", "ExxonMobil", "Exxon"}},
	{Name: "Chevron Corp", Ticker: "CVX", Sector: "Energy", Aliases: []string{"Chevron"}},
	{Name: "Pfizer Inc", Ticker: "PFE", Sector: "Health Care", Aliases: []string{"Pfizer"}},
	{Name: "Johnson & Johnson", Ticker: "JNJ", Sector: "Health Care"},
	{Name: "Walmart Inc", Ticker: "WMT", Sector: "Consumer Staples", Aliases: []string{"Walmart"}},
	{Name: "Boeing Co", Ticker: "BA", Sector: "Industrials", Aliases: []string{"Boeing"}},
	{Name: "Walt Disney Co", Ticker: "DIS", Sector: "Communication Services", Aliases: []string{"Disney"}},
	{Name: "Oracle Corp", Ticker: "ORCL", Sector: "Technology", Aliases: []string{"Oracle"}},
	{Name: "Salesforce Inc", Ticker: "CRM", Sector: "Technology", Aliases: []string{"Salesforce"}},
	{Name: "Advanced Micro Devices Inc", Ticker: "AMD", Sector: "Technology", Aliases: []string{"Advanced Micro Devices"}},
}

// DefaultRules returns the built-in gazetteer and suffix list
func DefaultRules() Rules {
	orgs := make([]KnownOrganization, len(defaultOrganizations))
	copy(orgs, defaultOrganizations)
	suffixes := make([]string, len(defaultSuffixes))
	copy(suffixes, defaultSuffixes)
	return Rules{Organizations: orgs, CorporateSuffixes: suffixes}
}

// LoadRules reads rules from a YAML file. Organizations in the file are
// added to the built-in gazetteer; a suffix list in the file replaces the
// built-in one.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, eris.Wrapf(err, "failed to read gazetteer %s", path)
	}

	var fileRules Rules
	if err := yaml.Unmarshal(data, &fileRules); err != nil {
		return Rules{}, eris.Wrapf(err, "failed to parse gazetteer %s", path)
	}

	rules.Organizations = append(rules.Organizations, fileRules.Organizations...)
	if len(fileRules.CorporateSuffixes) > 0 {
		rules.CorporateSuffixes = fileRules.CorporateSuffixes
	}
	rules.ExtraPatterns = fileRules.ExtraPatterns

	return rules, nil
}

// gazetteer resolves organization names and aliases to entries
type gazetteer map[string]KnownOrganization

func newGazetteer(orgs []KnownOrganization) gazetteer {
	g := make(gazetteer)
	for _, org := range orgs {
		for _, name := range org.Names() {
			key := gazetteerKey(name)
			if key == "" {
				continue
			}
			if _, exists := g[key]; !exists {
				g[key] = org
			}
		}
	}
	return g
}

func gazetteerKey(name string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(name), "."))
}

// Lookup resolves an organization name or alias against the gazetteer
func (r *Recognizer) Lookup(name string) (KnownOrganization, bool) {
	if r == nil {
		return KnownOrganization{}, false
	}
	org, ok := r.known[gazetteerKey(name)]
	return org, ok
}
