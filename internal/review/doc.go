// Package review defines the domain model for product-review triage: ingested
// Records, the AttributionResult and ActionPlan derived from critical ones, the
// durable Entry projection, and the Store contract every backend implements.
package review
