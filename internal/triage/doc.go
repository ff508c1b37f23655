// Package triage provides the business boundary for the review queue's triage
// state machine. It defines the request model, the Store contract for the
// external system of record, the static transition table, and the Engine that
// turns a card action into a status update.
package triage
