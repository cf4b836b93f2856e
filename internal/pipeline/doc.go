// Package pipeline runs the review triage pipeline: ingest a batch of new
// records, classify which are critical, attribute each critical record with
// evidence from the product manual, and synthesize one remediation action per
// attribution. Stages run strictly in sequence over a single State; the
// Service owns the cross-run ledger of seen record IDs.
package pipeline
