package ports

import "github.com/fragship/fragship/pkg/log"

// Logger is the structured logging port. It is the pkg/log interface,
// re-exported so internal packages need a single import.
type Logger = log.Logger

// Field is a structured log field.
type Field = log.Field

// Field constructors, re-exported from pkg/log.
var (
	String   = log.String
	Int      = log.Int
	Int64    = log.Int64
	Uint64   = log.Uint64
	Float64  = log.Float64
	Bool     = log.Bool
	Duration = log.Duration
	Err      = log.Err
	Any      = log.Any
)
