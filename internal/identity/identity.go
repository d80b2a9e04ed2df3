// Package identity provides the stable opaque participant identifier for the
// current device.
package identity

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wheelroom/wheelroom/internal/localstate"
)

const stateKey = "identity"

// Load returns this device's participant id, generating and persisting one on
// first use.
func Load(state *localstate.Store) (string, error) {
	id, err := state.Get(stateKey)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = "user_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:9]
	if err := state.Set(stateKey, id); err != nil {
		return "", fmt.Errorf("persist identity: %w", err)
	}
	return id, nil
}
