package store_test

import (
	"encoding/json"
	"testing"

	"evalplane/internal/store"
)

func TestParseOverrides(t *testing.T) {
	cases := []struct {
		name        string
		raw         string
		wantPlugin  bool
		wantName    string
		wantVersion string
	}{
		{"empty", "", false, "", ""},
		{"malformed", "{not json", false, "", ""},
		{"array", "[1,2]", false, "", ""},
		{"name only", `{"judge_plugin_name":"j"}`, false, "", ""},
		{"both", `{"judge_plugin_name":"j","judge_plugin_version":"1"}`, true, "j", "1"},
		{"non-string version", `{"judge_plugin_name":"j","judge_plugin_version":1}`, false, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := store.ParseOverrides(tc.raw)
			name, version, ok := o.JudgePlugin()
			if ok != tc.wantPlugin || name != tc.wantName || version != tc.wantVersion {
				t.Fatalf("JudgePlugin() = %q %q %v", name, version, ok)
			}
		})
	}
}

func TestOverridesKeepUnknownKeys(t *testing.T) {
	raw := `{"dataset_path":"/data/x","judge_plugin_name":"j","temperature":0.2}`
	o := store.ParseOverrides(raw)
	if o.DatasetPath != "/data/x" {
		t.Fatalf("expected dataset path, got %q", o.DatasetPath)
	}
	encoded := o.Encode()
	var decoded map[string]any
	if err := json.Unmarshal([]byte(encoded), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["temperature"] != 0.2 || decoded["judge_plugin_name"] != "j" {
		t.Fatalf("unexpected round trip: %v", decoded)
	}
}
