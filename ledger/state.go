package ledger

import (
	"database/sql/driver"
	"fmt"
)

type EscrowState uint8

const (
	EscrowStateNone EscrowState = iota
	EscrowStateInitiated
	EscrowStateClaimed
	EscrowStateRefunded
)

func (s EscrowState) String() string {
	switch s {
	case EscrowStateNone:
		return "None"
	case EscrowStateInitiated:
		return "Initiated"
	case EscrowStateClaimed:
		return "Claimed"
	case EscrowStateRefunded:
		return "Refunded"
	default:
		return fmt.Sprintf("EscrowState(%d)", uint8(s))
	}
}

// IsTerminal reports whether no further transition is possible.
func (s EscrowState) IsTerminal() bool {
	switch s {
	case EscrowStateClaimed, EscrowStateRefunded:
		return true
	case EscrowStateNone, EscrowStateInitiated:
		return false
	default:
		return false
	}
}

func (s EscrowState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *EscrowState) UnmarshalText(text []byte) error {
	for _, state := range []EscrowState{EscrowStateNone, EscrowStateInitiated, EscrowStateClaimed, EscrowStateRefunded} {
		if state.String() == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown escrow state %q", text)
}

type TransferState uint8

const (
	TransferStateNone TransferState = iota
	TransferStateInitiated
	TransferStateSourceLocked
	TransferStateDestLocked
	TransferStateCompleted
	TransferStateRefunded
)

var transferStateNames = map[TransferState]string{
	TransferStateNone:         "None",
	TransferStateInitiated:    "Initiated",
	TransferStateSourceLocked: "SourceLocked",
	TransferStateDestLocked:   "DestLocked",
	TransferStateCompleted:    "Completed",
	TransferStateRefunded:     "Refunded",
}

// transferTransitions lists every allowed edge of the transfer state machine.
// SourceLocked: only the source escrow exists. Initiated: both escrows exist and the transfer
// is registered. DestLocked: the destination claim landed, the source claim is outstanding.
var transferTransitions = map[TransferState][]TransferState{
	TransferStateNone:         {TransferStateSourceLocked, TransferStateInitiated},
	TransferStateSourceLocked: {TransferStateInitiated, TransferStateRefunded},
	TransferStateInitiated:    {TransferStateDestLocked, TransferStateCompleted, TransferStateRefunded},
	TransferStateDestLocked:   {TransferStateCompleted, TransferStateRefunded},
	TransferStateCompleted:    nil,
	TransferStateRefunded:     nil,
}

func (s TransferState) String() string {
	if name, ok := transferStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("TransferState(%d)", uint8(s))
}

func (s TransferState) IsTerminal() bool {
	return s == TransferStateCompleted || s == TransferStateRefunded
}

func (s TransferState) CanTransition(to TransferState) bool {
	for _, next := range transferTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func ParseTransferState(name string) (TransferState, error) {
	for state, n := range transferStateNames {
		if n == name {
			return state, nil
		}
	}
	return TransferStateNone, fmt.Errorf("unknown transfer state %q", name)
}

func (s TransferState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TransferState) UnmarshalText(text []byte) error {
	state, err := ParseTransferState(string(text))
	if err != nil {
		return err
	}
	*s = state
	return nil
}

func (s TransferState) Value() (driver.Value, error) {
	return s.String(), nil
}

func (s *TransferState) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	default:
		return fmt.Errorf("can't scan %T into TransferState", src)
	}
}
