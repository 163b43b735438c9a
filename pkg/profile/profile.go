// Package profile defines coaching activity profiles: which analyses run,
// at what cadence, and against which pace target.
package profile

import (
	"fmt"
	"time"

	"github.com/voicetyped/speechcoach/pkg/validate"
)

// Activities.
const (
	ActivityRate      = "rate"
	ActivityPause     = "pause"
	ActivityIdealPace = "ideal-pace"
	ActivityFree      = "free"
)

// Domains a profile may enable.
const (
	DomainLoudness = "loudness"
	DomainPace     = "pace"
	DomainPause    = "pause"
	DomainEmotion  = "emotion"
	DomainFiller   = "filler"
)

// Timings holds one duration per domain.
type Timings struct {
	Loudness time.Duration `yaml:"loudness" json:"loudness"`
	Pace     time.Duration `yaml:"pace"     json:"pace"`
	Pause    time.Duration `yaml:"pause"    json:"pause"`
	Emotion  time.Duration `yaml:"emotion"  json:"emotion"`
	Filler   time.Duration `yaml:"filler"   json:"filler"`
}

// Profile configures one coaching activity.
type Profile struct {
	Name          string   `yaml:"name"            json:"name"            validate:"required"`
	Activity      string   `yaml:"activity"        json:"activity"        validate:"required,oneof=rate pause ideal-pace free"`
	Description   string   `yaml:"description"     json:"description,omitempty"`
	TargetWPM     float64  `yaml:"target_wpm"      json:"target_wpm"      validate:"gte=40,lte=300"`
	Tolerance     float64  `yaml:"tolerance"       json:"tolerance"       validate:"gte=0,lte=100"`
	Video         bool     `yaml:"video"           json:"video"`
	AnalyzeOnStop bool     `yaml:"analyze_on_stop" json:"analyze_on_stop"`
	Domains       []string `yaml:"domains"         json:"domains"         validate:"min=1,dive,oneof=loudness pace pause emotion filler"`
	// Intervals is the tick cadence per domain.
	Intervals Timings `yaml:"intervals" json:"intervals"`
	// Windows is the captured duration per domain.
	Windows Timings `yaml:"windows" json:"windows"`
}

// DefaultIntervals are the standard tick cadences.
var DefaultIntervals = Timings{
	Loudness: 3 * time.Second,
	Pace:     2 * time.Second,
	Pause:    3 * time.Second,
	Emotion:  650 * time.Millisecond,
	Filler:   5 * time.Second,
}

// DefaultWindows are the standard captured durations.
var DefaultWindows = Timings{
	Loudness: 3 * time.Second,
	Pace:     2 * time.Second,
	Pause:    3 * time.Second,
	Emotion:  500 * time.Millisecond,
	Filler:   3 * time.Second,
}

func (t *Timings) fill(def Timings) {
	if t.Loudness <= 0 {
		t.Loudness = def.Loudness
	}
	if t.Pace <= 0 {
		t.Pace = def.Pace
	}
	if t.Pause <= 0 {
		t.Pause = def.Pause
	}
	if t.Emotion <= 0 {
		t.Emotion = def.Emotion
	}
	if t.Filler <= 0 {
		t.Filler = def.Filler
	}
}

// Normalize fills unset fields with defaults.
func (p *Profile) Normalize() {
	if p.Activity == "" {
		p.Activity = ActivityFree
	}
	if p.TargetWPM == 0 {
		p.TargetWPM = 125
	}
	if p.Tolerance == 0 {
		p.Tolerance = 15
	}
	if len(p.Domains) == 0 {
		p.Domains = []string{DomainLoudness, DomainPace, DomainPause, DomainFiller}
	}
	p.Intervals.fill(DefaultIntervals)
	p.Windows.fill(DefaultWindows)
}

// Validate checks field constraints.
func (p *Profile) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("profile %q: %w", p.Name, err)
	}
	if p.Has(DomainEmotion) && !p.Video {
		return fmt.Errorf("profile %q: %w: emotion requires video", p.Name, validate.ErrInvalid)
	}
	return nil
}

// Has reports whether domain is enabled.
func (p *Profile) Has(domain string) bool {
	for _, d := range p.Domains {
		if d == domain {
			return true
		}
	}
	return false
}

// Builtin returns the profiles available without any YAML files.
func Builtin() map[string]*Profile {
	list := []*Profile{
		{
			Name:          ActivityRate,
			Activity:      ActivityRate,
			Description:   "Hold a steady speaking rate around the target.",
			TargetWPM:     125,
			Tolerance:     15,
			AnalyzeOnStop: true,
			Domains:       []string{DomainLoudness, DomainPace, DomainFiller},
		},
		{
			Name:          ActivityPause,
			Activity:      ActivityPause,
			Description:   "Reduce long and excessive pauses.",
			AnalyzeOnStop: true,
			Domains:       []string{DomainPause, DomainLoudness},
		},
		{
			Name:        ActivityIdealPace,
			Activity:    ActivityIdealPace,
			Description: "Match the ideal pace chunk by chunk.",
			TargetWPM:   130,
			Domains:     []string{DomainPace},
			Windows:     Timings{Pace: 3 * time.Second},
			Intervals:   Timings{Pace: 3 * time.Second},
		},
		{
			Name:        "presentation",
			Activity:    ActivityFree,
			Description: "Full feedback including facial emotion.",
			Video:       true,
			Domains:     []string{DomainLoudness, DomainPace, DomainPause, DomainEmotion, DomainFiller},
		},
	}
	out := make(map[string]*Profile, len(list))
	for _, p := range list {
		p.Normalize()
		out[p.Name] = p
	}
	return out
}
