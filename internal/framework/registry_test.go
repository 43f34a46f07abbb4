package framework

import (
	"strings"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return reg
}

func TestListFrameworks(t *testing.T) {
	reg := newTestRegistry(t)
	metas := reg.List()
	if len(metas) != 3 {
		t.Fatalf("expected 3 frameworks, got %d", len(metas))
	}
	byKey := map[string]Meta{}
	for _, meta := range metas {
		byKey[meta.Key] = meta
	}
	if byKey["cis_v8"].Count != 18 {
		t.Fatalf("expected 18 CIS controls, got %d", byKey["cis_v8"].Count)
	}
	if byKey["nist_csf"].Count != 23 {
		t.Fatalf("expected 23 CSF categories, got %d", byKey["nist_csf"].Count)
	}
	if byKey["nist_csf_2_0"].Publisher != "NIST" {
		t.Fatalf("unexpected publisher %q", byKey["nist_csf_2_0"].Publisher)
	}
}

func TestGetFrameworkFilters(t *testing.T) {
	reg := newTestRegistry(t)

	t.Run("unknown key", func(t *testing.T) {
		if _, ok := reg.Get("iso_27001", "", ""); ok {
			t.Fatal("expected unknown framework")
		}
	})

	t.Run("function filter", func(t *testing.T) {
		fw, ok := reg.Get("nist_csf", "", "pr")
		if !ok {
			t.Fatal("framework missing")
		}
		if len(fw.Controls) != 6 {
			t.Fatalf("expected 6 Protect categories, got %d", len(fw.Controls))
		}
		for _, control := range fw.Controls {
			if control.Function != "PR" {
				t.Fatalf("unexpected function %q", control.Function)
			}
		}
	})

	t.Run("query filter matches id or title", func(t *testing.T) {
		fw, _ := reg.Get("cis_v8", "penetration", "")
		if len(fw.Controls) != 1 || fw.Controls[0].ID != "CIS-18" {
			t.Fatalf("unexpected query result %+v", fw.Controls)
		}
		fw, _ = reg.Get("cis_v8", "cis-03", "")
		if len(fw.Controls) != 1 || fw.Controls[0].Title != "Data Protection" {
			t.Fatalf("unexpected id match %+v", fw.Controls)
		}
	})

	t.Run("filter does not mutate catalog", func(t *testing.T) {
		reg.Get("cis_v8", "penetration", "")
		fw, _ := reg.Get("cis_v8", "", "")
		if len(fw.Controls) != 18 {
			t.Fatalf("catalog mutated, %d controls left", len(fw.Controls))
		}
	})
}

func TestHasControl(t *testing.T) {
	reg := newTestRegistry(t)
	if !reg.HasControl("cis_v8", "CIS-05") {
		t.Fatal("expected CIS-05 to exist")
	}
	if reg.HasControl("cis_v8", "CIS-99") {
		t.Fatal("did not expect CIS-99")
	}
	if reg.HasControl("unknown", "CIS-05") {
		t.Fatal("did not expect control in unknown framework")
	}
}

func TestCategoriesGroupsSubcategories(t *testing.T) {
	reg := newTestRegistry(t)

	groups, ok := reg.Categories("nist_csf_2_0")
	if !ok {
		t.Fatal("framework missing")
	}
	if len(groups) == 0 {
		t.Fatal("expected category groups")
	}
	var policy *CategoryGroup
	for i := range groups {
		if groups[i].Category == "Policy" {
			policy = &groups[i]
		}
	}
	if policy == nil {
		t.Fatal("Policy category missing")
	}
	if policy.Family != "GOVERN" {
		t.Fatalf("unexpected family %q", policy.Family)
	}
	if len(policy.Controls) != 2 {
		t.Fatalf("expected 2 policy subcategories, got %d", len(policy.Controls))
	}

	flat, ok := reg.Categories("cis_v8")
	if !ok || len(flat) != 0 {
		t.Fatalf("expected no groups for cis_v8, got %d", len(flat))
	}
}

func TestCSVExport(t *testing.T) {
	reg := newTestRegistry(t)

	body, filename, ok := reg.CSV("nist_csf")
	if !ok {
		t.Fatal("framework missing")
	}
	if filename != "nist_csf_controls.csv" {
		t.Fatalf("unexpected filename %q", filename)
	}
	lines := strings.Split(string(body), "\n")
	if lines[0] != "id,title,function" {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if len(lines) != 24 {
		t.Fatalf("expected header plus 23 rows, got %d lines", len(lines))
	}
	want := `PR.AC,"Identity Management, Authentication and Access Control",PR`
	found := false
	for _, line := range lines {
		if line == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected quoted PR.AC row in:\n%s", body)
	}

	if _, _, ok := reg.CSV("unknown"); ok {
		t.Fatal("expected csv miss for unknown key")
	}
}
