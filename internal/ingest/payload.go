package ingest

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"evalplane/internal/services"
)

// Payload is the decoded engine results document. Values stay raw so that
// metric detection follows JSON typing: a quoted "0.5" is not a metric value.
type Payload struct {
	ConfigGeneral map[string]json.RawMessage
	Results       map[string]json.RawMessage
	SummaryTasks  map[string]json.RawMessage
	Raw           []byte
}

// ParsePayload decodes a results document. Missing sections decode as empty.
func ParsePayload(data []byte) (*Payload, error) {
	var doc struct {
		ConfigGeneral json.RawMessage `json:"config_general"`
		Results       json.RawMessage `json:"results"`
		SummaryTasks  json.RawMessage `json:"summary_tasks"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, services.Wrap(services.ErrValidation, "ingest", "parse results", "results file is not a JSON object", err)
	}
	return &Payload{
		ConfigGeneral: objectFields(doc.ConfigGeneral),
		Results:       objectFields(doc.Results),
		SummaryTasks:  objectFields(doc.SummaryTasks),
		Raw:           bytes.TrimSpace(data),
	}, nil
}

func objectFields(raw json.RawMessage) map[string]json.RawMessage {
	fields := map[string]json.RawMessage{}
	if len(raw) == 0 {
		return fields
	}
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return map[string]json.RawMessage{}
	}
	return fields
}

// numberValue reports raw as a float when it is a JSON number.
func numberValue(raw json.RawMessage) (float64, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0, false
	}
	if c := trimmed[0]; c != '-' && (c < '0' || c > '9') {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return 0, false
	}
	return v, true
}

// stringValue reports raw as a string when it is a JSON string.
func stringValue(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false
	}
	var v string
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return "", false
	}
	return v, true
}

// TaskMetrics returns the numeric metrics of one task. ok is false when the
// task is absent or its entry is not an object.
func (p *Payload) TaskMetrics(taskKey string) (map[string]float64, bool) {
	raw, present := p.Results[taskKey]
	if !present {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, false
	}
	metrics := make(map[string]float64, len(fields))
	for name, value := range fields {
		if v, ok := numberValue(value); ok {
			metrics[name] = v
		}
	}
	return metrics, true
}

// TaskKeys returns the results keys in sorted order.
func (p *Payload) TaskKeys() []string {
	return sortedKeys(p.Results)
}

// AllMetrics returns the results.all document compacted, or {} when absent.
func (p *Payload) AllMetrics() json.RawMessage {
	raw, ok := p.Results["all"]
	if !ok || string(bytes.TrimSpace(raw)) == "null" {
		return json.RawMessage("{}")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil || buf.Len() == 0 {
		return json.RawMessage("{}")
	}
	return json.RawMessage(buf.Bytes())
}

// ConfigString returns a string field of config_general.
func (p *Payload) ConfigString(key string) string {
	v, _ := stringValue(p.ConfigGeneral[key])
	return v
}

// ConfigNumber returns a numeric field of config_general. The engine writes
// some of these as quoted decimals, so a string that parses as a finite
// number is accepted too. Task metrics stay strict.
func (p *Payload) ConfigNumber(key string) *float64 {
	raw := p.ConfigGeneral[key]
	if v, ok := numberValue(raw); ok {
		return &v
	}
	text, ok := stringValue(raw)
	if !ok {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// TaskHashes is the hashes block of one summary_tasks entry.
type TaskHashes struct {
	Examples    *string
	FullPrompts *string
	InputTokens *string
	ContTokens  *string
}

// Hashes returns the hash block for every summary task that has one, keyed
// by task. Entries that are not objects are skipped.
func (p *Payload) Hashes() map[string]TaskHashes {
	out := make(map[string]TaskHashes, len(p.SummaryTasks))
	for _, key := range sortedKeys(p.SummaryTasks) {
		var summary struct {
			Hashes map[string]json.RawMessage `json:"hashes"`
		}
		if err := json.Unmarshal(p.SummaryTasks[key], &summary); err != nil || summary.Hashes == nil {
			continue
		}
		out[key] = TaskHashes{
			Examples:    optionalString(summary.Hashes["hash_examples"]),
			FullPrompts: optionalString(summary.Hashes["hash_full_prompts"]),
			InputTokens: optionalString(summary.Hashes["hash_input_tokens"]),
			ContTokens:  optionalString(summary.Hashes["hash_cont_tokens"]),
		}
	}
	return out
}

func optionalString(raw json.RawMessage) *string {
	v, ok := stringValue(raw)
	if !ok {
		return nil
	}
	return &v
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
