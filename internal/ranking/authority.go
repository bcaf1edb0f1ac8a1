package ranking

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// DefaultAuthority is the score of domains missing from the table.
const DefaultAuthority = 0.5

var builtinAuthority = map[string]float64{
	// premium tech press and first-party AI sources
	"techcrunch.com": 1.0, "theverge.com": 1.0, "arstechnica.com": 1.0,
	"wired.com": 1.0, "engadget.com": 1.0, "theinformation.com": 1.0,
	"stratechery.com": 1.0, "openai.com": 1.0, "anthropic.com": 1.0,
	"deepmind.com": 1.0, "google.com": 1.0, "microsoft.com": 1.0,
	"apple.com": 1.0, "meta.com": 1.0, "nvidia.com": 1.0,

	// academic and research institutions
	"arxiv.org": 0.95, "mit.edu": 0.95, "stanford.edu": 0.95,
	"berkeley.edu": 0.95, "caltech.edu": 0.95, "ox.ac.uk": 0.95,
	"cam.ac.uk": 0.95,

	// journals and publishers
	"nature.com": 0.9, "science.org": 0.9, "sciencedirect.com": 0.9,
	"springer.com": 0.9, "ieee.org": 0.9, "acm.org": 0.9, "plos.org": 0.9,

	// tech media
	"venturebeat.com": 0.85, "zdnet.com": 0.85, "cnet.com": 0.85,
	"technologyreview.com": 0.85, "theatlantic.com": 0.85, "newyorker.com": 0.85,

	// developer communities
	"ycombinator.com": 0.8, "github.com": 0.8, "stackoverflow.com": 0.8,
	"dev.to": 0.8, "medium.com": 0.75,

	// mainstream news
	"reuters.com": 0.7, "bloomberg.com": 0.7, "wsj.com": 0.7,
	"nytimes.com": 0.7, "washingtonpost.com": 0.7, "theguardian.com": 0.7,
	"bbc.co.uk": 0.7, "bbc.com": 0.7,

	// reference
	"wikipedia.org": 0.65,
}

var displayNames = map[string]string{
	"techcrunch.com": "TechCrunch", "theverge.com": "The Verge", "arxiv.org": "ArXiv",
	"anthropic.com": "Anthropic", "openai.com": "OpenAI", "deepmind.com": "DeepMind",
	"microsoft.com": "Microsoft", "google.com": "Google", "stanford.edu": "Stanford HAI",
	"mit.edu": "MIT", "nytimes.com": "The New York Times", "wsj.com": "The Wall Street Journal",
	"wired.com": "WIRED", "arstechnica.com": "Ars Technica", "venturebeat.com": "VentureBeat",
	"forbes.com": "Forbes", "bloomberg.com": "Bloomberg", "reuters.com": "Reuters",
	"bbc.com": "BBC", "cnn.com": "CNN", "nature.com": "Nature", "science.org": "Science",
	"ieee.org": "IEEE", "acm.org": "ACM", "github.com": "GitHub", "medium.com": "Medium",
	"substack.com": "Substack", "towardsai.com": "Towards AI", "huggingface.co": "Hugging Face",
	"ibm.com": "IBM", "meta.com": "Meta", "amazon.com": "Amazon", "nvidia.com": "NVIDIA",
}

// AuthorityTable maps source domains to a trust score in [0,1]. Operator
// overrides take precedence over the built-in table. Safe for concurrent
// use.
type AuthorityTable struct {
	mu        sync.RWMutex
	overrides map[string]float64
	def       float64
}

// NewAuthorityTable returns the built-in table with def as the score of
// unknown domains.
func NewAuthorityTable(def float64) *AuthorityTable {
	return &AuthorityTable{def: clamp01(def), overrides: map[string]float64{}}
}

// Score returns the authority of domain.
func (t *AuthorityTable) Score(domain string) float64 {
	d := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.overrides[d]; ok {
		return s
	}
	if s, ok := builtinAuthority[d]; ok {
		return s
	}
	return t.def
}

// Default returns the score of unknown domains.
func (t *AuthorityTable) Default() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.def
}

// authorityFile is the TOML override format:
//
//	default = 0.5
//
//	[domains]
//	"example.com" = 0.9
type authorityFile struct {
	Default *float64           `toml:"default"`
	Domains map[string]float64 `toml:"domains"`
}

// LoadOverrides replaces the overrides with the contents of a TOML file.
// Scores are clamped to [0,1]. On error the table is left unchanged.
func (t *AuthorityTable) LoadOverrides(path string) error {
	var f authorityFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return fmt.Errorf("decode authority file %s: %w", path, err)
	}
	overrides := make(map[string]float64, len(f.Domains))
	for domain, score := range f.Domains {
		d := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
		if d == "" {
			continue
		}
		overrides[d] = clamp01(score)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.overrides = overrides
	if f.Default != nil {
		t.def = clamp01(*f.Default)
	}
	return nil
}

// Overrides returns the number of operator overrides.
func (t *AuthorityTable) Overrides() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.overrides)
}

// AuthorityTier labels an authority score.
func AuthorityTier(score float64) string {
	switch {
	case score >= 0.95:
		return "Premium"
	case score >= 0.9:
		return "Academic"
	case score >= 0.85:
		return "Respected"
	case score >= 0.8:
		return "Community"
	case score >= 0.7:
		return "Mainstream"
	case score >= 0.6:
		return "Reference"
	default:
		return "Unknown"
	}
}

// DisplayName turns a domain into a reader-facing source name.
func DisplayName(domain string) string {
	if domain == "" || domain == "unknown" {
		return "Unknown Source"
	}
	if name, ok := displayNames[domain]; ok {
		return name
	}
	base := strings.SplitN(domain, ".", 2)[0]
	switch base {
	case "ai", "ml", "api", "gpt", "llm":
		return strings.ToUpper(base)
	}
	if base == "" {
		return "Unknown Source"
	}
	return strings.ToUpper(base[:1]) + base[1:]
}

// ReadTime estimates reading minutes for a text of chars characters,
// assuming five characters per word and 250 words per minute.
func ReadTime(chars int) int {
	minutes := math.Round(float64(chars) / 5 / 250)
	return max(1, int(minutes))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
