package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeBundle(t *testing.T, root, slug, yamlDoc string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(root, slug)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "problem.yaml"), []byte(yamlDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

const twoStringYAML = `slug: two-string
title: "Two String"
difficulty: very_easy
limits:
  time_ms: 1500
  memory_mb: 128
points_per_case: 10
`

func TestLoadProblemBundle(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "two-string", twoStringYAML, map[string]string{
		"data/sample/01.in":  "Hello\nOJ\n",
		"data/sample/01.out": "HelloOJ\n",
		"data/secret/01.in":  "abc\nxyz\n",
		"data/secret/01.out": "abcxyz\n",
		"data/secret/02.in":  "a\nb\n",
		"data/secret/02.out": "ab\n",
	})

	bundle, err := LoadProblemBundle(filepath.Join(root, "two-string"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if bundle.Slug != "two-string" || bundle.Difficulty != "very_easy" || !bundle.Active {
		t.Fatalf("bundle meta = %+v", bundle)
	}
	if len(bundle.Cases) != 3 {
		t.Fatalf("cases = %d, want 3", len(bundle.Cases))
	}
	// samples first, then secrets, each sorted by name
	if bundle.Cases[0].Type != CaseSample || bundle.Cases[1].Type != CaseHidden {
		t.Fatalf("case order = %s, %s", bundle.Cases[0].Type, bundle.Cases[1].Type)
	}
	first := bundle.Cases[0]
	if first.Input != "Hello\nOJ\n" || first.ExpectedOutput != "HelloOJ\n" {
		t.Fatalf("first case = %+v", first)
	}
	if first.TimeLimitMS != 1500 || first.MemoryLimitMB != 128 || first.Points != 10 {
		t.Fatalf("limits = %+v", first)
	}
	if MaxPoints(bundle.Cases) != 30 {
		t.Fatalf("max points = %d, want 30", MaxPoints(bundle.Cases))
	}
}

func TestLoadProblemBundleRejectsBroken(t *testing.T) {
	root := t.TempDir()

	writeBundle(t, root, "no-cases", "slug: no-cases\ntitle: x\n", nil)
	if _, err := LoadProblemBundle(filepath.Join(root, "no-cases")); err == nil {
		t.Fatal("bundle without cases accepted")
	}

	writeBundle(t, root, "bad-slug", "slug: \"Bad Slug\"\ntitle: x\n", map[string]string{
		"data/secret/01.in": "1\n", "data/secret/01.out": "1\n",
	})
	if _, err := LoadProblemBundle(filepath.Join(root, "bad-slug")); err == nil {
		t.Fatal("bad slug accepted")
	}

	writeBundle(t, root, "orphan-in", "slug: orphan-in\ntitle: x\n", map[string]string{
		"data/secret/01.in": "1\n",
	})
	if _, err := LoadProblemBundle(filepath.Join(root, "orphan-in")); err == nil {
		t.Fatal("orphan .in accepted")
	}
}

func TestFSCatalogServesContract(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "two-string", twoStringYAML, map[string]string{
		"data/secret/01.in":  "a\nb\n",
		"data/secret/01.out": "ab\n",
	})
	writeBundle(t, root, "retired", "slug: retired\ntitle: x\nactive: false\n", map[string]string{
		"data/secret/01.in":  "1\n",
		"data/secret/01.out": "1\n",
	})

	catalog, err := NewFSCatalog(root)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	ctx := context.Background()

	if ok, _ := catalog.ProblemExists(ctx, "two-string"); !ok {
		t.Fatal("two-string missing")
	}
	if ok, _ := catalog.ProblemExists(ctx, "nope"); ok {
		t.Fatal("phantom problem")
	}
	if active, _ := catalog.ProblemIsActive(ctx, "retired"); active {
		t.Fatal("retired problem active")
	}
	if diff, _ := catalog.ProblemDifficulty(ctx, "two-string"); diff != "very_easy" {
		t.Fatalf("difficulty = %q", diff)
	}

	cases, err := catalog.GetCases(ctx, "two-string")
	if err != nil || len(cases) != 1 {
		t.Fatalf("cases = %v (%v)", cases, err)
	}

	catalog.SetUserRole("root", "admin")
	if role, _ := catalog.UserRole(ctx, "root"); role != "admin" {
		t.Fatalf("role = %q", role)
	}
}
