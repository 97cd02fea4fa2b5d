package process

import (
	"strings"
	"testing"
)

func envMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return m
}

func TestCredentials_Missing(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
		want  string
	}{
		{"complete", Credentials{ServerURL: "wss://x", Token: "t", RoomName: "r"}, ""},
		{"empty", Credentials{}, "roomUrl,roomToken,roomName"},
		{"no token", Credentials{ServerURL: "wss://x", RoomName: "r"}, "roomToken"},
		{"whitespace url", Credentials{ServerURL: "  ", Token: "t", RoomName: "r"}, "roomUrl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(tt.creds.Missing(), ",")
			if got != tt.want {
				t.Errorf("Missing() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCredentials_VarsFallback(t *testing.T) {
	supervisorEnv := map[string]string{
		EnvAPIKey:      "key-from-env",
		EnvDeepgramKey: "dg-from-env",
		EnvToken:       "must-not-leak",
	}
	fallback := func(k string) string { return supervisorEnv[k] }

	vars := Credentials{
		ServerURL:   "wss://x",
		RoomName:    "room-1",
		DeepgramKey: "dg-from-request",
	}.Vars(fallback)

	tests := []struct {
		key  string
		want string
	}{
		{EnvAPIKey, "key-from-env"},
		{EnvDeepgramKey, "dg-from-request"},
		{EnvToken, ""},
		{EnvCartesiaKey, ""},
	}
	for _, tt := range tests {
		if got := vars[tt.key]; got != tt.want {
			t.Errorf("%s = %q, want %q", tt.key, got, tt.want)
		}
	}
	if len(vars) != 8 {
		t.Errorf("len(Vars) = %d, want 8", len(vars))
	}
}

func TestCredentials_VarsNilFallback(t *testing.T) {
	vars := Credentials{}.Vars(nil)
	for k, v := range vars {
		if v != "" {
			t.Errorf("%s = %q, want empty", k, v)
		}
	}
}

func TestEnviron(t *testing.T) {
	base := []string{"PATH=/usr/bin", "LIVEKIT_URL=wss://stale", "HOME=/root"}
	got := Environ(base, map[string]string{
		"LIVEKIT_URL":  "wss://fresh",
		"LIVEKIT_ROOM": "",
	})

	want := []string{"PATH=/usr/bin", "HOME=/root", "LIVEKIT_ROOM=", "LIVEKIT_URL=wss://fresh"}
	if len(got) != len(want) {
		t.Fatalf("Environ() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Environ()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
