package process

import (
	"sort"
	"strings"
)

// Environment variable names forwarded to every worker.
const (
	EnvServerURL   = "LIVEKIT_URL"
	EnvToken       = "LIVEKIT_TOKEN"
	EnvRoomName    = "LIVEKIT_ROOM"
	EnvAPIKey      = "LIVEKIT_API_KEY"
	EnvAPISecret   = "LIVEKIT_API_SECRET"
	EnvOpenAIKey   = "OPENAI_API_KEY"
	EnvDeepgramKey = "DEEPGRAM_API_KEY"
	EnvCartesiaKey = "CARTESIA_API_KEY"
)

// Credentials are the session-scoped secrets and URLs handed to a worker.
// Every field is optional at this layer; the supervisor enforces which ones a
// start request must carry.
type Credentials struct {
	ServerURL   string `json:"roomUrl"`
	Token       string `json:"roomToken"`
	RoomName    string `json:"roomName"`
	APIKey      string `json:"apiKey,omitempty"`
	APISecret   string `json:"apiSecret,omitempty"`
	OpenAIKey   string `json:"openaiApiKey,omitempty"`
	DeepgramKey string `json:"deepgramApiKey,omitempty"`
	CartesiaKey string `json:"cartesiaApiKey,omitempty"`
}

// Missing returns the names of the required fields that are empty.
func (c Credentials) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.ServerURL) == "" {
		missing = append(missing, "roomUrl")
	}
	if strings.TrimSpace(c.Token) == "" {
		missing = append(missing, "roomToken")
	}
	if strings.TrimSpace(c.RoomName) == "" {
		missing = append(missing, "roomName")
	}
	return missing
}

// Vars returns the fixed variable set for these credentials. Empty fields are
// filled from fallback (typically os.Getenv) and stay empty strings otherwise;
// no variable is ever omitted.
func (c Credentials) Vars(fallback func(string) string) map[string]string {
	if fallback == nil {
		fallback = func(string) string { return "" }
	}
	pick := func(v, name string) string {
		if v != "" {
			return v
		}
		return fallback(name)
	}
	return map[string]string{
		EnvServerURL:   pick(c.ServerURL, EnvServerURL),
		EnvToken:       c.Token,
		EnvRoomName:    c.RoomName,
		EnvAPIKey:      pick(c.APIKey, EnvAPIKey),
		EnvAPISecret:   pick(c.APISecret, EnvAPISecret),
		EnvOpenAIKey:   pick(c.OpenAIKey, EnvOpenAIKey),
		EnvDeepgramKey: pick(c.DeepgramKey, EnvDeepgramKey),
		EnvCartesiaKey: pick(c.CartesiaKey, EnvCartesiaKey),
	}
}

// Environ merges overrides into base (KEY=VALUE form). Entries in base whose
// key is overridden are dropped; overrides are appended in sorted key order
// so the result is deterministic.
func Environ(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		env = append(env, kv)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}
