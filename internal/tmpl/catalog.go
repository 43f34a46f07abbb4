// Package tmpl holds the builtin policy template catalog: Markdown bodies
// with {{placeholder}} slots plus a typed parameter schema per template.
package tmpl

import (
	"encoding/json"
	"fmt"
)

const (
	TypeString     = "string"
	TypeInt        = "int"
	TypeStringList = "string_list"
)

type ParamSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
	Min      *int   `json:"min,omitempty"`
	Max      *int   `json:"max,omitempty"`
}

type Definition struct {
	Key    string
	Title  string
	Body   string
	Params []ParamSpec
}

func (d Definition) SchemaJSON() string {
	encoded, err := json.Marshal(d.Params)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func ParseSchema(schemaJSON string) ([]ParamSpec, error) {
	var specs []ParamSpec
	if err := json.Unmarshal([]byte(schemaJSON), &specs); err != nil {
		return nil, fmt.Errorf("parse param schema: %w", err)
	}
	return specs, nil
}

func intPtr(v int) *int { return &v }

var builtins = []Definition{
	{
		Key:   "access_control_policy",
		Title: "Access Control Policy",
		Params: []ParamSpec{
			{Name: "org_name", Type: TypeString, Required: true},
			{Name: "password_min_length", Type: TypeInt, Default: 14, Min: intPtr(8), Max: intPtr(128)},
			{Name: "mfa_required_roles", Type: TypeStringList, Default: []any{"Admin"}},
			{Name: "log_retention_days", Type: TypeInt, Default: 90, Min: intPtr(1), Max: intPtr(3650)},
		},
		Body: `# Access Control Policy

## Purpose

This policy defines how {{org_name}} grants, reviews, and revokes access to
information systems and data.

## Scope

All employees, contractors, and third parties with access to {{org_name}}
systems.

## Policy

### Account Provisioning

- Access is granted on a least-privilege basis and must be approved by the
  resource owner before provisioning.
- Accounts are disabled within 24 hours of an employee's departure.

### Authentication

- Passwords must be at least {{password_min_length}} characters long.
- Multi-factor authentication is mandatory for the following roles:
  {{mfa_required_roles}}.
- Shared accounts are prohibited except where a documented exception has been
  approved by the security team.

### Access Review

- Privileged access is reviewed quarterly; standard access annually.
- Access and authentication logs are retained for {{log_retention_days}} days.

## Enforcement

Violations of this policy may result in disciplinary action up to and
including termination.
`,
	},
	{
		Key:   "data_retention_policy",
		Title: "Data Retention Policy",
		Params: []ParamSpec{
			{Name: "org_name", Type: TypeString, Required: true},
			{Name: "retention_period_days", Type: TypeInt, Default: 365, Min: intPtr(30), Max: intPtr(3650)},
			{Name: "backup_frequency", Type: TypeString, Default: "daily"},
		},
		Body: `# Data Retention Policy

## Purpose

This policy establishes how long {{org_name}} retains business records and
customer data, and how data is disposed of at end of life.

## Policy

### Retention

- Business records and customer data are retained for
  {{retention_period_days}} days unless a longer period is required by law or
  contract.
- Legal hold suspends disposal for affected records until the hold is lifted.

### Backups

- Production data is backed up on a {{backup_frequency}} schedule.
- Backup restoration is tested at least quarterly.

### Disposal

- Data past its retention period is securely deleted.
- Physical media is destroyed or cryptographically erased before disposal.
`,
	},
	{
		Key:   "incident_response_policy",
		Title: "Incident Response Policy",
		Params: []ParamSpec{
			{Name: "org_name", Type: TypeString, Required: true},
			{Name: "response_time_hours", Type: TypeInt, Default: 24, Min: intPtr(1), Max: intPtr(168)},
			{Name: "security_contact", Type: TypeString, Default: "security@example.com"},
		},
		Body: `# Incident Response Policy

## Purpose

This policy defines how {{org_name}} detects, triages, and responds to
security incidents.

## Policy

### Reporting

- Suspected incidents must be reported to {{security_contact}} immediately.
- All reports are triaged and assigned a severity within
  {{response_time_hours}} hours.

### Response

- Critical incidents require an incident commander and a dedicated response
  channel.
- Containment takes priority over forensics when active harm is ongoing.

### Post-Incident

- Every severity one or two incident receives a blameless post-incident
  review within ten business days.
- Remediation items are tracked to closure.
`,
	},
	{
		Key:   "acceptable_use_policy",
		Title: "Acceptable Use Policy",
		Params: []ParamSpec{
			{Name: "org_name", Type: TypeString, Required: true},
			{Name: "prohibited_categories", Type: TypeStringList, Default: []any{"Malware", "Piracy", "Harassment"}},
		},
		Body: `# Acceptable Use Policy

## Purpose

This policy sets expectations for acceptable use of {{org_name}} computing
resources.

## Policy

### General Use

- Company systems are provided for business purposes. Incidental personal use
  is permitted when it does not interfere with work or violate this policy.
- Users must lock workstations when unattended.

### Prohibited Use

Use of company resources for any of the following is prohibited:
{{prohibited_categories}}.

### Monitoring

{{org_name}} reserves the right to monitor use of its systems as permitted by
law.
`,
	},
}

// Builtins returns the builtin template definitions in catalog order.
func Builtins() []Definition {
	out := make([]Definition, len(builtins))
	copy(out, builtins)
	return out
}

// Builtin looks up a builtin definition by key.
func Builtin(key string) (Definition, bool) {
	for _, def := range builtins {
		if def.Key == key {
			return def, true
		}
	}
	return Definition{}, false
}
