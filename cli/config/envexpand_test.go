package config

import (
	"strings"
	"testing"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("EARSHOT_DEVICE", "esp-07")
	t.Setenv("EARSHOT_UPLOAD_HOST", "uploads.local")
	t.Setenv("EARSHOT_EMPTY", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set", "device_id: ${EARSHOT_DEVICE}", "device_id: esp-07"},
		{"unset is empty", "device_id: ${EARSHOT_UNSET_1}", "device_id: "},
		{"default when unset", "root: ${EARSHOT_UNSET_1:-/sdcard}", "root: /sdcard"},
		{"default when empty", "root: ${EARSHOT_EMPTY:-/sdcard}", "root: /sdcard"},
		{"default ignored when set", "device_id: ${EARSHOT_DEVICE:-esp-00}", "device_id: esp-07"},
		{"required and set", "device_id: ${EARSHOT_DEVICE:?device id}", "device_id: esp-07"},
		{"escaped dollar", "password: pa$$w0rd", "password: pa$w0rd"},
		{"escaped reference", "note: $${EARSHOT_DEVICE}", "note: ${EARSHOT_DEVICE}"},
		{"lone dollar kept", "price: $5", "price: $5"},
		{"two in one value", "endpoint: http://${EARSHOT_UPLOAD_HOST}:8080/${EARSHOT_DEVICE}", "endpoint: http://uploads.local:8080/esp-07"},
		{"comment untouched", "  # token: ${EARSHOT_TOKEN:?set me}", "  # token: ${EARSHOT_TOKEN:?set me}"},
		{"no references", "capture:\n  sample_rate: 16000\n", "capture:\n  sample_rate: 16000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandEnv(tt.input)
			if err != nil {
				t.Fatalf("ExpandEnv() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpandEnv_RequiredReportedByLine(t *testing.T) {
	t.Setenv("EARSHOT_EMPTY", "")
	input := `device_id: esp-01
adapter:
  type: webhook
  url: ${EARSHOT_HOOK_URL_UNSET:?webhook endpoint}
  headers:
    Authorization: Bearer ${EARSHOT_EMPTY:?}
`
	_, err := ExpandEnv(input)
	if err == nil {
		t.Fatal("expected error for unset required variables")
	}
	for _, want := range []string{
		"line 4: EARSHOT_HOOK_URL_UNSET: webhook endpoint",
		"line 6: EARSHOT_EMPTY: required",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestExpandEnv_YAMLLayoutPreserved(t *testing.T) {
	t.Setenv("EARSHOT_UPLOAD_HOST", "uploads.local")
	t.Setenv("EARSHOT_HOOK_TOKEN", "secret")

	input := `transport:
  endpoint: http://${EARSHOT_UPLOAD_HOST}:8080
# adapter.url: ${EARSHOT_HOOK_URL:?}
adapter:
  headers:
    Authorization: Bearer ${EARSHOT_HOOK_TOKEN}`

	want := `transport:
  endpoint: http://uploads.local:8080
# adapter.url: ${EARSHOT_HOOK_URL:?}
adapter:
  headers:
    Authorization: Bearer secret`

	got, err := ExpandEnv(input)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestLoad_RequiredEnvMissing(t *testing.T) {
	path := writeTemp(t, "device_id: ${EARSHOT_DEVICE_UNSET:?provision the device id}\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing required variable")
	}
	if !strings.Contains(err.Error(), "provision the device id") || !strings.Contains(err.Error(), path) {
		t.Errorf("unexpected error: %v", err)
	}
}
