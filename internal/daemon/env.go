package daemon

import "strings"

// WithStage returns env with StageEnv set to s, replacing any previous value.
// An empty stage removes the variable. HandoffEnv is always removed.
func WithStage(env []string, s Stage) []string {
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if strings.HasPrefix(kv, StageEnv+"=") || strings.HasPrefix(kv, HandoffEnv+"=") {
			continue
		}
		out = append(out, kv)
	}
	if s != StageCLI {
		out = append(out, StageEnv+"="+string(s))
	}
	return out
}
