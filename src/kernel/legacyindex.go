package kernel

import "github.com/gvanjoic/neo4j/src/storage/commands"

// LegacyIndexState is the auxiliary command source: changes against the
// legacy (manual) indexes buffered outside the record state. It contributes
// its commands at commit time after the record state's and participates in
// the read-only fast path.
type LegacyIndexState struct {
	commands []commands.Command
}

func NewLegacyIndexState() *LegacyIndexState {
	return &LegacyIndexState{}
}

func (s *LegacyIndexState) Initialize() {
	s.commands = s.commands[:0]
}

func (s *LegacyIndexState) IsReadOnly() bool {
	return len(s.commands) == 0
}

func (s *LegacyIndexState) Add(cmd commands.Command) {
	s.commands = append(s.commands, cmd)
}

func (s *LegacyIndexState) ExtractCommands(dst *[]commands.Command) {
	*dst = append(*dst, s.commands...)
}
