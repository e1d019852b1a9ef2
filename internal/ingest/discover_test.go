package ingest_test

import (
	"testing"

	"evalplane/internal/ingest"
)

func TestDetailTaskKey(t *testing.T) {
	cases := []struct {
		filename string
		want     string
		ok       bool
	}{
		{"details_gsm8k|0_2024-01-01T00-00-00.parquet", "gsm8k|0", true},
		{"details_mmlu_anatomy|5_2024.parquet", "mmlu_anatomy|5", true},
		{"details_single.parquet", "single", true},
		{"results_x.parquet", "", false},
		{"details_x.json", "", false},
	}
	for _, tc := range cases {
		got, ok := ingest.DetailTaskKey(tc.filename)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("DetailTaskKey(%q) = %q %v, want %q %v", tc.filename, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParsePayloadNumericTyping(t *testing.T) {
	payload, err := ingest.ParsePayload([]byte(`{"results":{"t":{"a":1,"b":"2","c":null,"d":true,"e":-0.5}},"config_general":{"model_sha":7}}`))
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	metrics, ok := payload.TaskMetrics("t")
	if !ok {
		t.Fatal("expected task present")
	}
	if len(metrics) != 2 || metrics["a"] != 1 || metrics["e"] != -0.5 {
		t.Fatalf("unexpected metrics: %v", metrics)
	}
	if payload.ConfigString("model_sha") != "" {
		t.Fatal("non-string sha must be ignored")
	}
	if string(payload.AllMetrics()) != "{}" {
		t.Fatalf("expected empty all metrics, got %s", payload.AllMetrics())
	}
}

func TestParsePayloadConfigNumberAcceptsQuotedDecimal(t *testing.T) {
	payload, err := ingest.ParsePayload([]byte(`{"config_general":{"a":12.5,"b":"7.25","c":" 3 ","d":"soon","e":"NaN","f":true}}`))
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	want := map[string]float64{"a": 12.5, "b": 7.25, "c": 3}
	for key, expected := range want {
		got := payload.ConfigNumber(key)
		if got == nil || *got != expected {
			t.Fatalf("ConfigNumber(%q) = %v, want %v", key, got, expected)
		}
	}
	for _, key := range []string{"d", "e", "f", "missing"} {
		if got := payload.ConfigNumber(key); got != nil {
			t.Fatalf("ConfigNumber(%q) = %v, want nil", key, *got)
		}
	}
}
