// Package events is the coordinator's event bus: block-application
// outcomes and download requests are published here for observers
// (RPC layers, other subsystems) to subscribe to.
package events

import (
	"time"

	"github.com/mezonai/sidechainnode/versionedkv"
)

// EventType is an enum-like string type for coordinator events.
type EventType string

const (
	EventSemanticallySuccessfulModifier EventType = "SemanticallySuccessfulModifier"
	EventSyntacticallyFailedModifier    EventType = "SyntacticallyFailedModifier"
	EventSemanticallyFailedModifier     EventType = "SemanticallyFailedModifier"
	EventRollbackFailed                 EventType = "RollbackFailed"
	EventNewMainchainBlocksRequested    EventType = "NewMainchainBlocksRequested"
)

// SidechainEvent is any event the coordinator publishes.
type SidechainEvent interface {
	Type() EventType
	Timestamp() time.Time
}

// SemanticallySuccessfulModifier fires once a block has cleared history,
// state and wallet application and history has flipped its best-block
// pointer to it.
type SemanticallySuccessfulModifier struct {
	BlockID   versionedkv.Version
	timestamp time.Time
}

func NewSemanticallySuccessfulModifier(id versionedkv.Version) *SemanticallySuccessfulModifier {
	return &SemanticallySuccessfulModifier{BlockID: id, timestamp: time.Now()}
}

func (e *SemanticallySuccessfulModifier) Type() EventType      { return EventSemanticallySuccessfulModifier }
func (e *SemanticallySuccessfulModifier) Timestamp() time.Time { return e.timestamp }

// SyntacticallyFailedModifier fires when history.append itself rejects a
// block, before any state/wallet application is attempted.
type SyntacticallyFailedModifier struct {
	BlockID   versionedkv.Version
	Reason    string
	timestamp time.Time
}

func NewSyntacticallyFailedModifier(id versionedkv.Version, reason string) *SyntacticallyFailedModifier {
	return &SyntacticallyFailedModifier{BlockID: id, Reason: reason, timestamp: time.Now()}
}

func (e *SyntacticallyFailedModifier) Type() EventType      { return EventSyntacticallyFailedModifier }
func (e *SyntacticallyFailedModifier) Timestamp() time.Time { return e.timestamp }

// SemanticallyFailedModifier fires when state.applyModifier rejects a
// block that passed history's syntactic checks.
type SemanticallyFailedModifier struct {
	BlockID   versionedkv.Version
	Reason    string
	timestamp time.Time
}

func NewSemanticallyFailedModifier(id versionedkv.Version, reason string) *SemanticallyFailedModifier {
	return &SemanticallyFailedModifier{BlockID: id, Reason: reason, timestamp: time.Now()}
}

func (e *SemanticallyFailedModifier) Type() EventType      { return EventSemanticallyFailedModifier }
func (e *SemanticallyFailedModifier) Timestamp() time.Time { return e.timestamp }

// RollbackFailed fires when the coordinator's wallet or state rollback
// to a branch point fails. The coordinator returns that failure from
// the PmodModify call in progress; it does not stop accepting later
// calls.
type RollbackFailed struct {
	TargetVersion versionedkv.Version
	Cause         error
	timestamp     time.Time
}

func NewRollbackFailed(target versionedkv.Version, cause error) *RollbackFailed {
	return &RollbackFailed{TargetVersion: target, Cause: cause, timestamp: time.Now()}
}

func (e *RollbackFailed) Type() EventType      { return EventRollbackFailed }
func (e *RollbackFailed) Timestamp() time.Time { return e.timestamp }

// NewMainchainBlocksRequested fires when history reports blocks that
// must be downloaded before progress can continue.
type NewMainchainBlocksRequested struct {
	Requested []versionedkv.Version
	timestamp time.Time
}

func NewNewMainchainBlocksRequested(ids []versionedkv.Version) *NewMainchainBlocksRequested {
	return &NewMainchainBlocksRequested{Requested: ids, timestamp: time.Now()}
}

func (e *NewMainchainBlocksRequested) Type() EventType      { return EventNewMainchainBlocksRequested }
func (e *NewMainchainBlocksRequested) Timestamp() time.Time { return e.timestamp }
