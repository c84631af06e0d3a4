// Package mht implements multiple-hypothesis data association for
// multi-target tracking.
//
// Responsibilities: hypothesis trees over report-to-target assignments,
// Kalman-filtered track posteriors, independent cluster management with
// merge/split, and ranked global hypothesis enumeration.
// Key types: Tracker, Cluster, Target, Track, ClusterHypothesis.
//
// Hard assignment decisions are deferred: every scan extends each cluster's
// ranked hypothesis set via k-best assignment enumeration, and lineages are
// only pruned once no surviving hypothesis references them.
//
// Dependency rule: this package may depend on assignment and geom, never on
// storage. No SQL/database code is allowed here.
package mht
