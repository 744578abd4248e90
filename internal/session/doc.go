// Package session defines workflow session records and their durable store.
//
// A WorkflowSession is one run of an ordered remediation pipeline against a
// single finding. Records are persisted in an embedded bbolt database, one
// JSON envelope per session keyed by session id, with an explicit schema
// version for forward compatibility.
package session
