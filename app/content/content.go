// Package content provides the marketing copy of the landing and the "coming soon" pages.
// The copy is loaded from a YAML file, the embedded default.yml is used when no file is given.
package content

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed default.yml
var defaultContent []byte

// Landing is the whole content of the public pages
type Landing struct {
	Brand      string     `yaml:"brand" json:"brand" jsonschema:"required,description=brand name shown in the navbar and footer"`
	WhatsApp   WhatsApp   `yaml:"whatsapp" json:"whatsapp" jsonschema:"required"`
	Badge      string     `yaml:"badge" json:"badge,omitempty" jsonschema:"description=availability badge above the hero title"`
	Hero       Hero       `yaml:"hero" json:"hero"`
	Stats      []Stat     `yaml:"stats" json:"stats,omitempty"`
	Features   Section    `yaml:"features" json:"features"`
	Pricing    Section    `yaml:"pricing" json:"pricing"`
	Plans      []Plan     `yaml:"plans" json:"plans" jsonschema:"required,minItems=1"`
	FAQ        []FAQ      `yaml:"faq" json:"faq,omitempty"`
	Footer     string     `yaml:"footer" json:"footer,omitempty"`
	ComingSoon ComingSoon `yaml:"coming_soon" json:"coming_soon"`
}

// WhatsApp is the order channel
type WhatsApp struct {
	Number  string `yaml:"number" json:"number" jsonschema:"required,pattern=^[0-9]+$,description=international number without plus sign"`
	Message string `yaml:"message" json:"message,omitempty" jsonschema:"description=prefilled order message"`
}

// Hero is the top section of the landing
type Hero struct {
	Title        string `yaml:"title" json:"title"`
	Highlight    string `yaml:"highlight" json:"highlight,omitempty"`
	Subtitle     string `yaml:"subtitle" json:"subtitle,omitempty"`
	CTA          string `yaml:"cta" json:"cta,omitempty"`
	SecondaryCTA string `yaml:"secondary_cta" json:"secondary_cta,omitempty"`
}

// Stat is a single number in the stats strip
type Stat struct {
	Label string `yaml:"label" json:"label"`
	Value string `yaml:"value" json:"value"`
}

// Section is a titled block with optional items
type Section struct {
	Title    string    `yaml:"title" json:"title,omitempty"`
	Subtitle string    `yaml:"subtitle" json:"subtitle,omitempty"`
	Items    []Feature `yaml:"items" json:"items,omitempty"`
}

// Feature is a card in the features section
type Feature struct {
	Icon        string `yaml:"icon" json:"icon,omitempty" jsonschema:"enum=zap,enum=users,enum=trending,enum=shield,enum=clock,enum=star"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description,omitempty"`
}

// Plan is a pricing card
type Plan struct {
	Name     string   `yaml:"name" json:"name" jsonschema:"required"`
	Price    string   `yaml:"price" json:"price" jsonschema:"required"`
	Period   string   `yaml:"period" json:"period,omitempty"`
	Items    []string `yaml:"items" json:"items,omitempty"`
	CTA      string   `yaml:"cta" json:"cta,omitempty"`
	Featured bool     `yaml:"featured" json:"featured,omitempty"`
	Badge    string   `yaml:"badge" json:"badge,omitempty"`
}

// FAQ is a question with the answer
type FAQ struct {
	Question string `yaml:"q" json:"q"`
	Answer   string `yaml:"a" json:"a"`
}

// ComingSoon is the content of the locked dashboard page
type ComingSoon struct {
	Badge     string `yaml:"badge" json:"badge,omitempty"`
	Headline  string `yaml:"headline" json:"headline,omitempty"`
	Highlight string `yaml:"highlight" json:"highlight,omitempty"`
	Lead      string `yaml:"lead" json:"lead,omitempty"`
	Note      string `yaml:"note" json:"note,omitempty"`
	Launch    string `yaml:"launch" json:"launch,omitempty"`
}

// Load reads content from the file, empty path means the embedded default
func Load(path string) (*Landing, error) {
	data := defaultContent
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil { //nolint:gosec // path comes from the command line
			return nil, fmt.Errorf("can't read content file: %w", err)
		}
	}
	return Parse(data)
}

// Parse decodes and validates YAML content
func Parse(data []byte) (*Landing, error) {
	res := &Landing{}
	if err := yaml.Unmarshal(data, res); err != nil {
		return nil, fmt.Errorf("can't parse content: %w", err)
	}
	if err := res.Validate(); err != nil {
		return nil, fmt.Errorf("invalid content: %w", err)
	}
	return res, nil
}

// Validate checks the fields the pages can't render without
func (l *Landing) Validate() error {
	var errs []error
	if strings.TrimSpace(l.Brand) == "" {
		errs = append(errs, errors.New("brand is required"))
	}
	if l.WhatsApp.Number == "" {
		errs = append(errs, errors.New("whatsapp number is required"))
	}
	for _, c := range l.WhatsApp.Number {
		if c < '0' || c > '9' {
			errs = append(errs, fmt.Errorf("whatsapp number %q must contain digits only", l.WhatsApp.Number))
			break
		}
	}
	if len(l.Plans) == 0 {
		errs = append(errs, errors.New("at least one plan is required"))
	}
	for i, p := range l.Plans {
		if p.Name == "" || p.Price == "" {
			errs = append(errs, fmt.Errorf("plan %d: name and price are required", i+1))
		}
	}
	return errors.Join(errs...)
}

// OrderLink returns the wa.me link with the prefilled message
func (l *Landing) OrderLink() string {
	link := "https://wa.me/" + l.WhatsApp.Number
	if l.WhatsApp.Message != "" {
		link += "?text=" + url.QueryEscape(l.WhatsApp.Message)
	}
	return link
}

// GenerateSchema returns JSON schema of the content file
func GenerateSchema() *jsonschema.Schema {
	schema := jsonschema.Reflect(&Landing{})
	schema.Title = "AgenClip Content Schema"
	schema.Description = "Schema for the landing page content file"
	schema.Version = "1.0.0"
	return schema
}
