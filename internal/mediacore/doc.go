// Package mediacore implements an embeddable media-processing pipeline
// engine for real-time audio and data flows. Independent processing
// elements are composed into directed pipelines, scheduled cooperatively by
// worker tasks, and connected by data buses with blocking and non-blocking,
// zero-copy and copying transport variants.
//
// # Architecture Overview
//
//   Pool -> Pipeline -> Task -> Element jobs -> Ports -> Data Bus
//
//   - Pool: registry of named element factories; builds pipelines
//     declaratively from a list of template names
//   - Pipeline: ordered, connected element graph with lifecycle control
//     (run/stop/pause/resume/reset) and observer events
//   - Task: worker goroutine executing element jobs in three phases
//     (opening, running, cleanup)
//   - Element: pluggable processing unit with open/process/close jobs and
//     typed input/output ports
//   - Data Bus: buffer transport with an acquire-process-release protocol
//     (see the databus subpackage)
//
// # Concurrency
//
// One task is one worker goroutine running a cooperative loop over the jobs
// of its registered pipelines. Process jobs are expected to be non-blocking
// or bounded-blocking; the only sanctioned suspension points are data-bus
// acquires and explicit pause. Pipelines needing independent timing use
// separate tasks bridged by a blocking bus. A bus carries exactly one
// producer and one consumer; the pool may be shared across pipelines and
// serializes instantiation internally.
//
// # Buffer Lifecycle
//
// Payloads obtained from a bus follow acquire -> fill -> commit on the
// producer side and acquire -> consume -> release on the consumer side.
// Every acquire must be settled exactly once, on error paths included;
// zero-copy payloads that are never released leak their backing slot
// permanently.
package mediacore
