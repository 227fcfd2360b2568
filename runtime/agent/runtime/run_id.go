package runtime

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// generateRunID returns a unique run identifier prefixed with the normalized
// agent name so runs are easy to spot in logs and traces.
func generateRunID(agentName string) string {
	prefix := strings.ToLower(strings.Join(strings.Fields(agentName), "-"))
	prefix = strings.ReplaceAll(prefix, ".", "-")
	if prefix == "" {
		return uuid.NewString()
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
