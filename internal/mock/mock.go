// Package mock provides deterministic in-process stand-ins for the external
// services (graph engine, vector index, roster, LLM backends, embeddings) so
// the full chat pipeline runs without any infrastructure. Seed data is
// embedded; the same inputs always produce the same outputs.
package mock

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/campusgraph/advisor/internal/course"
)

//go:embed seed.yaml
var seedYAML []byte

type (
	// SeedCourse is one catalog entry in the seed.
	SeedCourse struct {
		Code        string `yaml:"code"`
		Title       string `yaml:"title"`
		Subject     string `yaml:"subject"`
		Credits     int    `yaml:"credits"`
		Description string `yaml:"description"`
	}

	// SeedEdge is one prerequisite edge in the seed.
	SeedEdge struct {
		From string `yaml:"from"`
		To   string `yaml:"to"`
		Kind string `yaml:"kind"`
	}

	// SeedRequirement is one degree requirement in the seed.
	SeedRequirement struct {
		Major      string   `yaml:"major"`
		ID         string   `yaml:"id"`
		Summary    string   `yaml:"summary"`
		Kind       string   `yaml:"kind"`
		MinCount   int      `yaml:"min_count"`
		MinCredits int      `yaml:"min_credits"`
		Satisfiers []string `yaml:"satisfiers"`
	}

	// SeedBundle is one section bundle in the seed.
	SeedBundle struct {
		Course   string `yaml:"course"`
		BundleID string `yaml:"bundle_id"`
		Meetings []struct {
			Days     string `yaml:"days"`
			StartMin int    `yaml:"start_min"`
			EndMin   int    `yaml:"end_min"`
		} `yaml:"meetings"`
	}

	// Seed is the full embedded dataset.
	Seed struct {
		Courses      []SeedCourse      `yaml:"courses"`
		Edges        []SeedEdge        `yaml:"edges"`
		Requirements []SeedRequirement `yaml:"requirements"`
		Bundles      []SeedBundle      `yaml:"bundles"`
	}
)

var (
	seedOnce sync.Once
	seed     *Seed
	seedErr  error
)

// LoadSeed parses and memoizes the embedded dataset.
func LoadSeed() (*Seed, error) {
	seedOnce.Do(func() {
		var s Seed
		if err := yaml.Unmarshal(seedYAML, &s); err != nil {
			seedErr = fmt.Errorf("mock: decode seed: %w", err)
			return
		}
		seed = &s
	})
	return seed, seedErr
}

// CourseByCode returns the seeded catalog entry, or nil.
func (s *Seed) CourseByCode(code string) *SeedCourse {
	for i := range s.Courses {
		if s.Courses[i].Code == code {
			return &s.Courses[i]
		}
	}
	return nil
}

// PrereqsOf returns the strict prerequisite codes of code.
func (s *Seed) PrereqsOf(code string) []string {
	var out []string
	for _, e := range s.Edges {
		if e.To == code && e.Kind == string(course.EdgePrerequisite) {
			out = append(out, e.From)
		}
	}
	return out
}

// SectionBundlesFor returns the seeded bundles for a course code.
func (s *Seed) SectionBundlesFor(code course.Code) []course.SectionBundle {
	var out []course.SectionBundle
	for _, b := range s.Bundles {
		if b.Course != string(code) {
			continue
		}
		bundle := course.SectionBundle{BundleID: b.BundleID, Course: code}
		for _, m := range b.Meetings {
			bundle.Meetings = append(bundle.Meetings, course.SectionMeeting{
				Days: course.ParseDays(m.Days), StartMin: m.StartMin, EndMin: m.EndMin,
			})
		}
		out = append(out, bundle)
	}
	return out
}
