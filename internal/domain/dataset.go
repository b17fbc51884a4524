package domain

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ColumnType is the canonical type set sources are mapped onto.
type ColumnType string

// Canonical column types.
const (
	TypeString    ColumnType = "string"
	TypeInteger   ColumnType = "integer"
	TypeFloat     ColumnType = "float"
	TypeTimestamp ColumnType = "timestamp"
)

// Column is one column of a dataset schema.
type Column struct {
	Name string     `yaml:"name"`
	Type ColumnType `yaml:"type"`
}

// TaskPolicy holds the retry budget and timeout for one task.
type TaskPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	Timeout     time.Duration `yaml:"timeout"`
}

// UnmarshalYAML decodes durations from strings like "30s" or "10m".
func (p *TaskPolicy) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxAttempts int    `yaml:"max_attempts"`
		Backoff     string `yaml:"backoff"`
		Timeout     string `yaml:"timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	p.MaxAttempts = raw.MaxAttempts
	if raw.Backoff != "" {
		d, err := time.ParseDuration(raw.Backoff)
		if err != nil {
			return ErrValidation("invalid backoff %q: %v", raw.Backoff, err)
		}
		p.Backoff = d
	}
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return ErrValidation("invalid timeout %q: %v", raw.Timeout, err)
		}
		p.Timeout = d
	}
	return nil
}

// Dataset describes one source-to-destinations pipeline: where the data
// comes from, what shape it has, and where each branch lands.
type Dataset struct {
	Name          string                `yaml:"name"`
	SourceURL     string                `yaml:"source_url"` // templated, see Interval.Resolve
	Schedule      string                `yaml:"schedule"`   // cron expression; empty = manual only
	Granularity   Granularity           `yaml:"granularity"`
	Schema        []Column              `yaml:"schema"`
	Table         string                `yaml:"table"`          // relational destination table
	ExternalTable string                `yaml:"external_table"` // warehouse view name
	PathPrefix    string                `yaml:"path_prefix"`    // object-store key prefix
	Policy        TaskPolicy            `yaml:"policy"`         // default for all tasks
	TaskPolicies  map[string]TaskPolicy `yaml:"task_policies"`  // per-task overrides
}

// Validate checks that the dataset definition is well-formed.
func (d *Dataset) Validate() error {
	if d.Name == "" {
		return ErrValidation("dataset name is required")
	}
	if d.SourceURL == "" {
		return ErrValidation("dataset %q: source_url is required", d.Name)
	}
	if d.Granularity != GranularityDaily && d.Granularity != GranularityMonthly {
		return ErrValidation("dataset %q: granularity must be daily or monthly", d.Name)
	}
	if len(d.Schema) == 0 {
		return ErrValidation("dataset %q: schema is required", d.Name)
	}
	for _, c := range d.Schema {
		switch c.Type {
		case TypeString, TypeInteger, TypeFloat, TypeTimestamp:
		default:
			return ErrValidation("dataset %q: column %q has unknown type %q", d.Name, c.Name, c.Type)
		}
	}
	if d.Table == "" {
		return ErrValidation("dataset %q: table is required", d.Name)
	}
	if d.ExternalTable == "" {
		return ErrValidation("dataset %q: external_table is required", d.Name)
	}
	return nil
}

// ObjectKey returns the deterministic object-store key for an interval's
// columnar artifact.
func (d *Dataset) ObjectKey(iv Interval) string {
	prefix := d.PathPrefix
	if prefix == "" {
		prefix = d.Name
	}
	return fmt.Sprintf("%s/%s.parquet", strings.TrimSuffix(prefix, "/"), iv.Key())
}

// PathGlob returns the glob the external table declaration points at.
func (d *Dataset) PathGlob() string {
	prefix := d.PathPrefix
	if prefix == "" {
		prefix = d.Name
	}
	return strings.TrimSuffix(prefix, "/") + "/*.parquet"
}

// PolicyFor returns the effective policy for a task, applying per-task
// overrides and engine defaults.
func (d *Dataset) PolicyFor(task string) TaskPolicy {
	p := d.Policy
	if override, ok := d.TaskPolicies[task]; ok {
		if override.MaxAttempts > 0 {
			p.MaxAttempts = override.MaxAttempts
		}
		if override.Backoff > 0 {
			p.Backoff = override.Backoff
		}
		if override.Timeout > 0 {
			p.Timeout = override.Timeout
		}
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Backoff <= 0 {
		p.Backoff = time.Second
	}
	if p.Timeout <= 0 {
		p.Timeout = 10 * time.Minute
	}
	return p
}
