// Package agentloop implements a bounded tool-using agent loop: a session
// driver that alternates model inference with tool dispatch under a strict
// iteration budget, a tool registry whose dispatch never throws, a sandboxed
// self-repair escalator, and a forgiving extractor for structured output.
//
// Sessions are transient and single-use. The host constructs a Session with
// an inference.Client and a Registry, calls Run once, and reads the Outcome;
// observability flows out through a buffered event channel that never blocks
// the loop.
package agentloop
