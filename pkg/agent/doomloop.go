package agent

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/kadirpekel/origin/pkg/protocol"
)

// DoomLoopResultPrefix opens the synthetic tool result that halts a loop.
const DoomLoopResultPrefix = "[DOOM LOOP DETECTED]"

// Fingerprint returns the deterministic hash of a tool call's arguments.
func Fingerprint(args map[string]any) string {
	sum := md5.Sum([]byte(protocol.CanonicalArgsJSON(args)))
	return hex.EncodeToString(sum[:])
}

// isDoomLoop reports whether executing this call would be the
// threshold-th identical consecutive invocation.
func (s *Service) isDoomLoop(st *State, toolName, fingerprint string) bool {
	if st.LastToolName != toolName || st.LastToolFingerprint != fingerprint {
		return false
	}
	// LastToolRepeat counts earlier consecutive identical runs; this call
	// would make it one more.
	return st.LastToolRepeat+1 >= s.cfg.Agent.DoomLoopThreshold
}

// doomLoopResult is the synthetic observation fed back to the model.
func doomLoopResult(toolName string) string {
	return DoomLoopResultPrefix + " The tool '" + toolName + "' was invoked repeatedly with identical " +
		"arguments and has been stopped. Do not call it again with the same arguments; " +
		"explain the situation to the user or try a different approach."
}
