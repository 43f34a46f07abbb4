package tmpl

import (
	"strings"
	"testing"
)

func TestBuiltinCatalog(t *testing.T) {
	defs := Builtins()
	if len(defs) != 4 {
		t.Fatalf("expected 4 builtin templates, got %d", len(defs))
	}
	if _, ok := Builtin("access_control_policy"); !ok {
		t.Fatal("access_control_policy missing from catalog")
	}
	if _, ok := Builtin("nope"); ok {
		t.Fatal("unexpected template for unknown key")
	}
}

func TestResolveAppliesDefaults(t *testing.T) {
	def, _ := Builtin("access_control_policy")
	params, problems := Resolve(def.Params, map[string]any{"org_name": "Acme"})
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %+v", problems)
	}
	if params["password_min_length"] != 14 {
		t.Fatalf("expected default password_min_length 14, got %v", params["password_min_length"])
	}
	if params["log_retention_days"] != 90 {
		t.Fatalf("expected default log_retention_days 90, got %v", params["log_retention_days"])
	}
}

func TestResolveRejectsMissingRequired(t *testing.T) {
	def, _ := Builtin("access_control_policy")
	_, problems := Resolve(def.Params, map[string]any{"password_min_length": 16})
	if len(problems) != 1 {
		t.Fatalf("expected one problem, got %+v", problems)
	}
	if problems[0].Name != "org_name" {
		t.Fatalf("expected problem on org_name, got %q", problems[0].Name)
	}
}

func TestResolveRejectsOutOfRangeInt(t *testing.T) {
	def, _ := Builtin("access_control_policy")
	cases := []struct {
		name  string
		value any
	}{
		{"below min", 4},
		{"above max", 4096},
		{"not integer", 14.5},
		{"wrong type", "fourteen"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, problems := Resolve(def.Params, map[string]any{
				"org_name":            "Acme",
				"password_min_length": tc.value,
			})
			if len(problems) != 1 || problems[0].Name != "password_min_length" {
				t.Fatalf("expected password_min_length problem, got %+v", problems)
			}
		})
	}
}

func TestResolveRejectsUnknownParameter(t *testing.T) {
	def, _ := Builtin("access_control_policy")
	_, problems := Resolve(def.Params, map[string]any{
		"org_name": "Acme",
		"surprise": true,
	})
	if len(problems) != 1 || problems[0].Name != "surprise" {
		t.Fatalf("expected unknown parameter problem, got %+v", problems)
	}
}

func TestRenderSubstitutesAndConverts(t *testing.T) {
	def, _ := Builtin("access_control_policy")
	params, problems := Resolve(def.Params, map[string]any{
		"org_name":            "Acme",
		"password_min_length": 16,
		"mfa_required_roles":  []any{"Admin", "Engineer"},
	})
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %+v", problems)
	}

	rendered, err := Render(def.Title, def.Body, params)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if rendered.Title != "Access Control Policy" {
		t.Fatalf("unexpected title %q", rendered.Title)
	}
	if !strings.Contains(rendered.HTML, "<h1>Access Control Policy</h1>") {
		t.Fatal("expected h1 heading in HTML")
	}
	if !strings.Contains(rendered.HTML, "Acme") {
		t.Fatal("expected org name in HTML")
	}
	if !strings.Contains(rendered.HTML, "16 characters") {
		t.Fatal("expected substituted password length in HTML")
	}
	if !strings.Contains(rendered.HTML, "Admin, Engineer") {
		t.Fatal("expected joined role list in HTML")
	}
	if strings.Contains(rendered.Markdown, "{{") {
		t.Fatal("unresolved placeholder left in markdown")
	}
}
