// Package room holds the shared-tree layout for wheel rooms and the
// directory used to create and join them.
package room

import "strings"

// Tree layout under the shared store:
//
//	rooms/<CODE>/created        unix ms
//	rooms/<CODE>/createdBy      participant id
//	rooms/<CODE>/games/<push>   {name, addedBy, timestamp}
//	rooms/<CODE>/presence/<id>  bool
//	rooms/<CODE>/spinData       {targetRotation, winnerIndex, startedBy, timestamp}
//	rooms/<CODE>/result         {game, timestamp}

// Record is the root value written when a room is created.
type Record struct {
	Created   int64          `json:"created"`
	CreatedBy string         `json:"createdBy"`
	Games     map[string]any `json:"games,omitempty"`
}

// Choice is one entry on the wheel. Key is the store-assigned insertion key
// and the sole sort key; every client orders the list by it.
type Choice struct {
	Key       string `json:"-"`
	Name      string `json:"name"`
	AddedBy   string `json:"addedBy"`
	Timestamp int64  `json:"timestamp"`
}

// SpinData is the ephemeral broadcast slot that lets every client replay the
// same spin. Last write wins; entries older than the validity window are
// ignored.
type SpinData struct {
	TargetRotation float64 `json:"targetRotation"`
	WinnerIndex    int     `json:"winnerIndex"`
	StartedBy      string  `json:"startedBy"`
	Timestamp      int64   `json:"timestamp"`
}

// Result is the winning name written once a spin animation completes.
type Result struct {
	Game      string `json:"game"`
	Timestamp int64  `json:"timestamp"`
}

// Path builds a store path under a room code.
func Path(code string, parts ...string) string {
	b := strings.Builder{}
	b.WriteString("rooms/")
	b.WriteString(code)
	for _, p := range parts {
		b.WriteString("/")
		b.WriteString(p)
	}
	return b.String()
}
