// Package replay loads scripted visitor sessions from YAML and drives them
// through an in-memory recorder, producing the journey the script describes.
// Scripts are the fixture format behind the simulate command.
package replay

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Step types understood by the runner.
const (
	StepPageview = "pageview"
	StepWait     = "wait"
	StepLogin    = "login"
	StepSignup   = "signup"
	StepLogout   = "logout"
	StepClear    = "clear"
)

// Script is one recorded visitor session: the visitor's recorder settings
// and the ordered steps they take.
type Script struct {
	Name    string        `yaml:"name"`
	Visitor VisitorConfig `yaml:"visitor"`
	Steps   []Step        `yaml:"steps"`
}

// VisitorConfig sets the scripted visitor's recorder knobs. Zero values take
// the recorder defaults.
type VisitorConfig struct {
	Policy                   string `yaml:"policy"`
	MaxEvents                int    `yaml:"max_events"`
	AttributionExpiryMinutes int    `yaml:"attribution_expiry_minutes"`
	// StartURL is the page the visitor lands on before any step runs. Empty
	// starts the session without a page, so nothing is logged until the
	// first pageview step.
	StartURL string `yaml:"start_url"`
	// Referrer is the external referrer the visitor arrived with.
	Referrer     string `yaml:"referrer"`
	ResetOnLogin *bool  `yaml:"reset_on_login"`
}

// Step is one scripted action. Type selects which of the remaining fields
// apply.
type Step struct {
	Type     string `yaml:"type"`
	URL      string `yaml:"url,omitempty"`
	Title    string `yaml:"title,omitempty"`
	Referrer string `yaml:"referrer,omitempty"`
	Duration string `yaml:"duration,omitempty"`
	UserID   string `yaml:"user_id,omitempty"`
}

// LoadScript reads and validates a visitor script from a YAML file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "replay: read script %s", path)
	}

	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "replay: parse script")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks every step before any of them runs, so a bad script fails
// whole rather than mid-session.
func (s *Script) Validate() error {
	if len(s.Steps) == 0 {
		return eris.New("replay: script has no steps")
	}
	for i, step := range s.Steps {
		if err := step.validate(); err != nil {
			return eris.Wrapf(err, "replay: step %d", i+1)
		}
	}
	return nil
}

func (s Step) validate() error {
	switch s.Type {
	case StepPageview:
		if s.URL == "" {
			return eris.New("pageview step needs url")
		}
	case StepWait:
		if _, err := time.ParseDuration(s.Duration); err != nil {
			return eris.Wrapf(err, "bad duration %q", s.Duration)
		}
	case StepLogin, StepSignup:
		if s.UserID == "" {
			return eris.Errorf("%s step needs user_id", s.Type)
		}
	case StepLogout, StepClear:
	default:
		return eris.Errorf("unknown step type %q", s.Type)
	}
	return nil
}
