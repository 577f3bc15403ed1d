// Package secrets redacts credentials from agent output and gate
// diagnostics before they are written to the progress log or published.
//
// The default scrubber runs a small set of prefix-anchored regexp rules.
// Enabling Deep additionally runs the gitleaks default rule set, which is
// slower but catches far more provider formats.
package secrets
