package interviewkb

import _ "embed"

// SchemaSQL is the vector index schema. The embedding column dimension is a
// {{dimension}} placeholder filled in from configuration.
//
//go:embed schema.sql
var SchemaSQL []byte

// DefaultPrompts is the prompt set used when PROMPTS_FILE is not configured.
//
//go:embed prompts.yaml
var DefaultPrompts []byte
