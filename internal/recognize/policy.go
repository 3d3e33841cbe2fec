package recognize

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/appforge/internal/types"
)

//go:embed default_policy.yaml
var defaultPolicyYAML []byte

type Bonus struct {
	SemanticTag   float64 `yaml:"semantic_tag" json:"semanticTag"`
	Naming        float64 `yaml:"naming" json:"naming"`
	Engagement    float64 `yaml:"engagement" json:"engagement"`
	EngagementCap float64 `yaml:"engagement_cap" json:"engagementCap"`
}

// ScoringPolicy is the named, versioned set of constants the detectors
// score candidates with.
type ScoringPolicy struct {
	Name                string                        `yaml:"name" json:"name"`
	Version             string                        `yaml:"version" json:"version"`
	Cutoff              float64                       `yaml:"cutoff" json:"cutoff"`
	GapThreshold        time.Duration                 `yaml:"gap_threshold" json:"gapThreshold"`
	ListMinInteractions int                           `yaml:"list_min_interactions" json:"listMinInteractions"`
	BatchMinSelections  int                           `yaml:"batch_min_selections" json:"batchMinSelections"`
	GapPenalty          float64                       `yaml:"gap_penalty" json:"gapPenalty"`
	Bonus               Bonus                         `yaml:"bonus" json:"bonus"`
	Base                map[types.PatternType]float64 `yaml:"base" json:"base"`
}

// DefaultPolicy returns a fresh copy of the built-in policy.
func DefaultPolicy() *ScoringPolicy {
	var p ScoringPolicy
	if err := yaml.Unmarshal(defaultPolicyYAML, &p); err != nil {
		panic(fmt.Sprintf("recognize: bad built-in policy: %v", err))
	}
	return &p
}

// LoadPolicy reads a policy file. Keys the file omits keep their built-in
// values, so a file may override only the constants it cares about.
func LoadPolicy(path string) (*ScoringPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy overlays data on the built-in policy and validates the result.
func ParsePolicy(data []byte) (*ScoringPolicy, error) {
	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

func (p *ScoringPolicy) Validate() error {
	var errs []error
	if p.Name == "" || p.Version == "" {
		errs = append(errs, errors.New("name and version are required"))
	}
	if p.Cutoff < 0 || p.Cutoff > 1 {
		errs = append(errs, fmt.Errorf("cutoff %v outside [0,1]", p.Cutoff))
	}
	if p.GapThreshold <= 0 {
		errs = append(errs, errors.New("gap_threshold must be positive"))
	}
	if p.ListMinInteractions < 1 {
		errs = append(errs, errors.New("list_min_interactions must be at least 1"))
	}
	if p.BatchMinSelections < 1 {
		errs = append(errs, errors.New("batch_min_selections must be at least 1"))
	}
	if p.GapPenalty < 0 || p.Bonus.SemanticTag < 0 || p.Bonus.Naming < 0 ||
		p.Bonus.Engagement < 0 || p.Bonus.EngagementCap < 0 {
		errs = append(errs, errors.New("bonuses and gap_penalty must not be negative"))
	}
	for t, base := range p.Base {
		if !t.Valid() {
			errs = append(errs, fmt.Errorf("unknown pattern type %q", t))
		}
		if base < 0 || base > 1 {
			errs = append(errs, fmt.Errorf("base score for %s outside [0,1]", t))
		}
	}
	for _, t := range types.PatternTypes {
		if _, ok := p.Base[t]; !ok {
			errs = append(errs, fmt.Errorf("missing base score for %s", t))
		}
	}
	return errors.Join(errs...)
}

// Ref identifies the policy on every pattern it scored.
func (p *ScoringPolicy) Ref() string {
	return p.Name + "@" + p.Version
}

func (p *ScoringPolicy) gapMs() int64 {
	return p.GapThreshold.Milliseconds()
}

// signals are the observations a detector collected for one candidate.
type signals struct {
	semantic bool // an explicit action tag named the behavior
	naming   bool // an element or screen name matched a convention
	engaged  int
	gaps     int
}

func (p *ScoringPolicy) score(t types.PatternType, s signals) float64 {
	c := p.Base[t]
	if s.semantic {
		c += p.Bonus.SemanticTag
	}
	if s.naming {
		c += p.Bonus.Naming
	}
	c += math.Min(float64(s.engaged)*p.Bonus.Engagement, p.Bonus.EngagementCap)
	c -= float64(s.gaps) * p.GapPenalty
	c = math.Round(c*1e4) / 1e4
	return math.Max(0, math.Min(1, c))
}
