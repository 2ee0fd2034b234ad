package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Problem bundle layout, one directory per problem:
//
//	<slug>/problem.yaml   (required)
//	<slug>/statement.md   (optional; not read by the engine)
//	<slug>/data/sample/*.in, *.out
//	<slug>/data/secret/*.in, *.out
//
// Bundles are the local-mode source of case manifests; the production
// catalog serves the same data from its own tables.

// problemDoc mirrors problem.yaml.
type problemDoc struct {
	Slug       string `yaml:"slug"`
	Title      string `yaml:"title"`
	Difficulty string `yaml:"difficulty"`
	Active     *bool  `yaml:"active"`
	Limits     struct {
		TimeMS   int `yaml:"time_ms"`
		MemoryMB int `yaml:"memory_mb"`
	} `yaml:"limits"`
	PointsPerCase int `yaml:"points_per_case"`
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

func normalizeSlug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if !slugPattern.MatchString(s) {
		return ""
	}
	return s
}

// LoadProblemBundle reads one bundle directory into a manifest.
func LoadProblemBundle(dir string) (*BundleProblem, error) {
	configBytes, err := os.ReadFile(filepath.Join(dir, "problem.yaml"))
	if err != nil {
		return nil, fmt.Errorf("problem.yaml: %w", err)
	}

	var doc problemDoc
	if err := yaml.Unmarshal(configBytes, &doc); err != nil {
		return nil, fmt.Errorf("problem.yaml: %w", err)
	}

	slug := normalizeSlug(doc.Slug)
	if slug == "" {
		return nil, errors.New("slug is required (lowercase letters, digits, hyphens)")
	}
	if strings.TrimSpace(doc.Title) == "" {
		return nil, errors.New("title is required")
	}
	if doc.Limits.TimeMS <= 0 {
		doc.Limits.TimeMS = 2000
	}
	if doc.Limits.MemoryMB <= 0 {
		doc.Limits.MemoryMB = 256
	}
	if doc.PointsPerCase <= 0 {
		doc.PointsPerCase = 10
	}

	bundle := &BundleProblem{
		Slug:       slug,
		Title:      doc.Title,
		Difficulty: doc.Difficulty,
		Active:     doc.Active == nil || *doc.Active,
	}

	sample, err := collectCases(filepath.Join(dir, "data", "sample"), slug, CaseSample, doc)
	if err != nil {
		return nil, err
	}
	secret, err := collectCases(filepath.Join(dir, "data", "secret"), slug, CaseHidden, doc)
	if err != nil {
		return nil, err
	}
	bundle.Cases = append(sample, secret...)
	if len(bundle.Cases) == 0 {
		return nil, fmt.Errorf("problem %s has no cases", slug)
	}
	return bundle, nil
}

// collectCases pairs NN.in with NN.out files in dir, sorted by name.
func collectCases(dir, slug string, caseType CaseType, doc problemDoc) ([]JudgeCase, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".in") {
			names = append(names, strings.TrimSuffix(e.Name(), ".in"))
		}
	}
	sort.Strings(names)

	var cases []JudgeCase
	for _, name := range names {
		input, err := os.ReadFile(filepath.Join(dir, name+".in"))
		if err != nil {
			return nil, err
		}
		expected, err := os.ReadFile(filepath.Join(dir, name+".out"))
		if err != nil {
			return nil, fmt.Errorf("case %s has no .out file: %w", name, err)
		}
		cases = append(cases, JudgeCase{
			ID:             fmt.Sprintf("%s/%s/%s", slug, strings.ToLower(string(caseType)), name),
			Input:          string(input),
			ExpectedOutput: string(expected),
			Points:         doc.PointsPerCase,
			Type:           caseType,
			TimeLimitMS:    doc.Limits.TimeMS,
			MemoryLimitMB:  doc.Limits.MemoryMB,
		})
	}
	return cases, nil
}

// BundleProblem is one loaded problem bundle.
type BundleProblem struct {
	Slug       string
	Title      string
	Difficulty string
	Active     bool
	Cases      []JudgeCase
}

// FSCatalog serves the Catalog contract from a directory of problem bundles.
// Bundles are loaded once at construction; local mode has no hot reload.
type FSCatalog struct {
	problems map[string]*BundleProblem
	roles    map[string]string
}

// NewFSCatalog loads every bundle under root. Subdirectories that fail to
// parse are an error; a judge must not run against half a manifest.
func NewFSCatalog(root string) (*FSCatalog, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	c := &FSCatalog{
		problems: make(map[string]*BundleProblem),
		roles:    make(map[string]string),
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		bundle, err := LoadProblemBundle(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("bundle %s: %w", e.Name(), err)
		}
		c.problems[bundle.Slug] = bundle
	}
	return c, nil
}

// SetUserRole registers a role for priority computation in local mode.
func (c *FSCatalog) SetUserRole(userID, role string) {
	c.roles[userID] = role
}

func (c *FSCatalog) GetCases(_ context.Context, problemID string) ([]JudgeCase, error) {
	p, ok := c.problems[problemID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]JudgeCase(nil), p.Cases...), nil
}

func (c *FSCatalog) ProblemExists(_ context.Context, problemID string) (bool, error) {
	_, ok := c.problems[problemID]
	return ok, nil
}

func (c *FSCatalog) ProblemIsActive(_ context.Context, problemID string) (bool, error) {
	p, ok := c.problems[problemID]
	return ok && p.Active, nil
}

func (c *FSCatalog) ProblemDifficulty(_ context.Context, problemID string) (string, error) {
	p, ok := c.problems[problemID]
	if !ok {
		return "", nil
	}
	return p.Difficulty, nil
}

func (c *FSCatalog) UserRole(_ context.Context, userID string) (string, error) {
	return c.roles[userID], nil
}
