// Package sim provides an in-memory simulated UI backend implementing
// engine.Backend. Pages and their elements are declared up front; elements
// can appear after a delay, carry attributes, and navigate on click, which
// is enough surface to exercise every engine behavior without a browser.
// cmd/simdriver serves this backend over the driver protocol so the full
// remote path can be driven end-to-end in development and CI.
package sim
