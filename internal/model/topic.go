// Package model holds the shared data types passed between jobs over the
// bus: topic addressing, lifecycle states, calibrations, readings, and
// events. Nothing in here talks to MQTT or hardware directly.
package model

import "fmt"

// UniversalUnit and UniversalExperiment are broadcast wildcards: a job
// subscribes under its own unit/experiment AND under these, so a
// cluster-wide command reaches every node.
const (
	UniversalUnit       = "$broadcast"
	UniversalExperiment = "$experiment"
	DefaultNamespace    = "pioreactor"
)

// Topic builds a bus address of the form
// <namespace>/<unit>/<experiment>/<job>/<attribute>[/<sub>...].
type Topic struct {
	Namespace  string
	Unit       string
	Experiment string
	Job        string
}

func (t Topic) base() string {
	ns := t.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return fmt.Sprintf("%s/%s/%s/%s", ns, t.Unit, t.Experiment, t.Job)
}

// Attr addresses a single published attribute under this job.
func (t Topic) Attr(attribute string, sub ...string) string {
	s := t.base() + "/" + attribute
	for _, p := range sub {
		s += "/" + p
	}
	return s
}

// State is the canonical "$state" topic.
func (t Topic) State() string { return t.Attr("$state") }

// Properties is the canonical "$properties" topic.
func (t Topic) Properties() string { return t.Attr("$properties") }

// Settable announces whether an attribute accepts external "/set" writes.
func (t Topic) Settable(attribute string) string { return t.Attr(attribute, "$settable") }

// Set is the external command topic for an attribute.
func (t Topic) Set(attribute string) string { return t.Attr(attribute, "set") }

// Broadcast returns the same topic addressed at the universal unit, used
// for cluster-wide "set" commands.
func (t Topic) Broadcast() Topic {
	b := t
	b.Unit = UniversalUnit
	return b
}

// ExperimentWide returns the same topic addressed at the universal
// experiment, used for node-wide commands independent of which
// experiment is currently active.
func (t Topic) ExperimentWide() Topic {
	b := t
	b.Experiment = UniversalExperiment
	return b
}

// RunTopic is the job-launch command topic, addressed at the universal
// experiment since it predates any experiment being assigned.
func RunTopic(namespace, unit, job string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return fmt.Sprintf("%s/%s/%s/run/%s", namespace, unit, UniversalExperiment, job)
}

// LogTopic is the shared structured-log sink for a unit/experiment.
func LogTopic(namespace, unit, experiment string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return fmt.Sprintf("%s/%s/%s/logs/app", namespace, unit, experiment)
}

// DosingEventsTopic is the shared dosing-event broadcast topic for an
// experiment (consumed by growth-rate variance inflation and others).
func DosingEventsTopic(namespace, unit, experiment string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return fmt.Sprintf("%s/%s/%s/dosing_events", namespace, unit, experiment)
}
