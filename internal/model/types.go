// Package model holds the data types shared by every scheduler package:
// organisations, OOIs, plugins, the two task kinds, and the queue/task-store
// envelopes that wrap them.
package model

import (
	"time"

	"github.com/scanhive/mula/internal/hash"
)

// Clock returns the current time. Every place that needs "now" takes one of
// these instead of calling time.Now() directly, so tests can pin it and
// production always compares in UTC.
type Clock func() time.Time

// RealClock is the production Clock: always UTC.
func RealClock() time.Time { return time.Now().UTC() }

// Organisation is a tenant. Appearance/disappearance in the catalogue
// triggers creation/teardown of its scheduler pair.
type Organisation struct {
	ID   string
	Name string
}

// ScanProfile carries the clearance level granted to an OOI. A nil
// ScanProfile on an OOI means "no clearance" — level 0 is never probed.
type ScanProfile struct {
	Level int
}

// OOI is an inventory item that may be probed.
type OOI struct {
	PrimaryKey  string
	ObjectType  string
	ScanProfile *ScanProfile
	CheckedAt   time.Time
}

// PluginType distinguishes boefjes from normalizers.
type PluginType string

const (
	PluginBoefje     PluginType = "boefje"
	PluginNormalizer PluginType = "normalizer"
)

// Plugin is a capability descriptor for a boefje or normalizer.
type Plugin struct {
	ID        string
	Type      PluginType
	Enabled   bool
	ScanLevel int      // boefje: max intrusiveness required
	Consumes  []string // boefje: OOI types; normalizer: MIME types
	Produces  []string // MIME types
}

// BoefjeMeta identifies the boefje task that produced a piece of raw data.
type BoefjeMeta struct {
	ID       string
	BoefjeID string
	InputOOI string
	Org      string
	EndedAt  *time.Time
}

// MimeType is a single MIME type attached to a RawData blob.
type MimeType struct {
	Value string
}

// HasErrorPrefix reports whether this MIME type signals a boefje run that
// failed: its value begins with "error/".
func (m MimeType) HasErrorPrefix() bool {
	return len(m.Value) >= len("error/") && m.Value[:len("error/")] == "error/"
}

// RawData references a probe's output blob.
type RawData struct {
	ID         string
	BoefjeMeta BoefjeMeta
	MimeTypes  []MimeType
}

// BoefjeTask is a unit of work: run a boefje against an OOI for an org.
type BoefjeTask struct {
	Boefje   Plugin
	InputOOI OOI
	Org      string
}

// Hash returns the stable identity hash for this task: a digest of
// (boefje.id, input_ooi, organization).
func (t BoefjeTask) Hash() string {
	return hash.Of(t.Boefje.ID, t.InputOOI.PrimaryKey, t.Org)
}

// NormalizerTask is a unit of work: run a normalizer against raw data.
type NormalizerTask struct {
	Normalizer Plugin
	RawData    RawData
	Org        string
}

// Hash returns the stable identity hash for this task: a digest of
// (normalizer.id, raw_data.boefje_meta.id, organization).
func (t NormalizerTask) Hash() string {
	return hash.Of(t.Normalizer.ID, t.RawData.BoefjeMeta.ID, t.Org)
}

// PayloadKind tags which variant a TaskPayload carries.
type PayloadKind string

const (
	PayloadBoefje     PayloadKind = "boefje"
	PayloadNormalizer PayloadKind = "normalizer"
)

// TaskPayload is the tagged sum the queue is generic over: a declared
// variant per queue, validated on push.
type TaskPayload struct {
	Kind       PayloadKind
	Boefje     *BoefjeTask
	Normalizer *NormalizerTask
}

// Hash dispatches to the active variant's Hash.
func (p TaskPayload) Hash() string {
	switch p.Kind {
	case PayloadBoefje:
		if p.Boefje == nil {
			return ""
		}
		return p.Boefje.Hash()
	case PayloadNormalizer:
		if p.Normalizer == nil {
			return ""
		}
		return p.Normalizer.Hash()
	default:
		return ""
	}
}

// Valid reports whether the payload matches its declared Kind.
func (p TaskPayload) Valid() bool {
	switch p.Kind {
	case PayloadBoefje:
		return p.Boefje != nil && p.Normalizer == nil
	case PayloadNormalizer:
		return p.Normalizer != nil && p.Boefje == nil
	default:
		return false
	}
}

// PrioritizedItem is the queue envelope.
type PrioritizedItem struct {
	ID          string
	SchedulerID string
	Priority    int
	Data        TaskPayload
	Hash        string
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

// TaskStatus is the lifecycle state of a persisted Task.
type TaskStatus string

const (
	StatusQueued     TaskStatus = "queued"
	StatusDispatched TaskStatus = "dispatched"
	StatusRunning    TaskStatus = "running"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Terminal reports whether status ends the task's lifecycle.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is the persisted record of dispatched work.
type Task struct {
	ID          string
	SchedulerID string
	PItem       PrioritizedItem
	Status      TaskStatus
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

// SchedulerKind distinguishes the two concrete scheduler families.
type SchedulerKind string

const (
	SchedulerBoefje     SchedulerKind = "boefje"
	SchedulerNormalizer SchedulerKind = "normalizer"
)

// SchedulerInfo is the control-API-facing view of a scheduler entity.
type SchedulerInfo struct {
	ID              string
	Kind            SchedulerKind
	Organisation    string
	PopulateEnabled bool
}
