package agent

import (
	_ "embed"
	"strings"
	"time"

	"github.com/furisto/dispatch/backend/agent/types"
)

//go:embed prompts/manager.md
var managerPrompt string

//go:embed prompts/worker.md
var workerPrompt string

const datetimePlaceholder = "{{CURRENT_DATETIME}}"

// SystemPrompt returns the instructions for agentType as of now.
func SystemPrompt(agentType types.AgentType, now time.Time) string {
	prompt := managerPrompt
	if agentType.IsWorker() {
		prompt = workerPrompt
	}
	return strings.ReplaceAll(prompt, datetimePlaceholder, now.UTC().Format("2006-01-02 15:04:05 UTC"))
}
