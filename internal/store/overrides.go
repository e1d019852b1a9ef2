package store

import (
	"encoding/json"
	"strings"
)

// Overrides is the decoded per-task overrides document of a pack task. Known
// keys are typed; everything else is kept verbatim in Extra.
type Overrides struct {
	JudgePluginName    string                     `json:"judge_plugin_name,omitempty"`
	JudgePluginVersion string                     `json:"judge_plugin_version,omitempty"`
	DatasetPath        string                     `json:"dataset_path,omitempty"`
	Extra              map[string]json.RawMessage `json:"-"`
}

var overrideKeys = []string{"judge_plugin_name", "judge_plugin_version", "dataset_path"}

// ParseOverrides decodes stored overrides text. Malformed JSON, or JSON that is
// not an object, yields the empty value rather than an error. Non-string values
// for the typed keys are treated as absent.
func ParseOverrides(raw string) Overrides {
	var out Overrides
	if strings.TrimSpace(raw) == "" {
		return out
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return Overrides{}
	}
	out.JudgePluginName = stringField(fields, "judge_plugin_name")
	out.JudgePluginVersion = stringField(fields, "judge_plugin_version")
	out.DatasetPath = stringField(fields, "dataset_path")
	for _, key := range overrideKeys {
		delete(fields, key)
	}
	if len(fields) > 0 {
		out.Extra = fields
	}
	return out
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return value
}

// JudgePlugin returns the referenced plugin when both name and version are set.
func (o Overrides) JudgePlugin() (name, version string, ok bool) {
	if o.JudgePluginName == "" || o.JudgePluginVersion == "" {
		return "", "", false
	}
	return o.JudgePluginName, o.JudgePluginVersion, true
}

// Encode serializes the overrides, merging Extra back in.
func (o Overrides) Encode() string {
	merged := make(map[string]any, len(o.Extra)+3)
	for key, value := range o.Extra {
		merged[key] = value
	}
	if o.JudgePluginName != "" {
		merged["judge_plugin_name"] = o.JudgePluginName
	}
	if o.JudgePluginVersion != "" {
		merged["judge_plugin_version"] = o.JudgePluginVersion
	}
	if o.DatasetPath != "" {
		merged["dataset_path"] = o.DatasetPath
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return "{}"
	}
	return string(data)
}
