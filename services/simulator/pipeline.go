package simulator

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Pipeline is a simulated pipeline run.
type Pipeline struct {
	ID                   int64
	ProjectID            int64
	Ref                  string
	SHA                  string
	Status               string
	Variables            map[string]string
	ScenarioID           *int64
	Scenario             *Scenario
	TerminalAfterSeconds *int64
	TerminalStatus       *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// FakeSHA returns a random 40 character hex token shaped like a commit hash.
func FakeSHA() string {
	buf := make([]byte, 20)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// EncodeVariables serialises variables for storage. An empty map encodes to nil.
func EncodeVariables(vars map[string]string) []byte {
	if len(vars) == 0 {
		return nil
	}
	data, err := json.Marshal(vars)
	if err != nil {
		return nil
	}
	return data
}

// DecodeVariables parses stored variables. Missing or unparseable input yields
// an empty map; non-string values are coerced to strings.
func DecodeVariables(raw []byte) map[string]string {
	out := map[string]string{}
	if len(raw) == 0 {
		return out
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return out
	}
	for k, v := range payload {
		out[k] = stringify(v)
	}
	return out
}
