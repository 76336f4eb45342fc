// Package ports defines the interfaces (ports) that connect the pipeline
// core to infrastructure adapters.
//
// Ports are the boundaries between the core and the outside world: they
// state what the pipeline needs without saying how it is fulfilled.
//
// # Port Interfaces
//
//   - [SampleSource]: ordered encoded sample stream from the capture layer
//   - [BitmapSource]: timed overlay bitmaps from the overlay renderer
//   - [IngestClient]: fragment transfer to the live-ingest service
//   - [Logger]: structured logging abstraction
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// The pipeline packages (internal/intercept, internal/push, internal/session)
// depend only on these interfaces. Adapters (internal/adapters) implement
// them with concrete platform and network code. This keeps the core testable
// with fakes and keeps hardware and transport swappable.
package ports
