// Package db provides the embedded database schema and seed data.
package db

import _ "embed"

// Schema contains the DDL statements for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// SeedRules is the default discount rule set in YAML.
//
//go:embed seed/discount_rules.yaml
var SeedRules []byte
