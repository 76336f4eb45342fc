// Package log defines the structured logging contract used across the
// fragship pipeline.
//
// Components depend on the [Logger] interface and attach context through
// [Field] constructors. Two implementations are provided:
//
//   - [ZerologAdapter]: production logging backed by zerolog
//   - [NoopLogger]: discards everything, for embedding and tests
//
// Keeping the interface here (rather than importing zerolog everywhere)
// lets library consumers plug in their own logging backend.
package log
