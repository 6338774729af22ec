// Package download orchestrates group downloads.
//
// Groups run one after another. Within a group the event list is fetched
// once, index.csv is written from that snapshot and every event is then
// fetched and materialized as a bounded concurrent task. Results land in a
// per-event slot so tasks share no mutable state, and a failing event never
// cancels its siblings.
package download
