package signal

import "testing"

func TestExtract(t *testing.T) {
	tests := []struct {
		name       string
		narration  string
		wantIntent string
		wantField  string
		wantValue  any
	}{
		{
			name:       "fenced json block with flat fields",
			narration:  "Got it, two bedrooms.\n```json\n{\"intent\": \"collected\", \"bedrooms\": 2}\n```",
			wantIntent: "collected",
			wantField:  "bedrooms",
			wantValue:  float64(2),
		},
		{
			name:       "fence without language tag",
			narration:  "Sure.\n```\n{\"intent\": \"success\"}\n```",
			wantIntent: "success",
		},
		{
			name:       "bare json line fallback",
			narration:  "Okay, noted.\n{\"intent\": \"confirmed\", \"area\": \"downtown\"}",
			wantIntent: "confirmed",
			wantField:  "area",
			wantValue:  "downtown",
		},
		{
			name:       "nested fields wrapper is flattened",
			narration:  "Sure.\n```json\n{\"intent\": \"collected\", \"fields\": {\"bedrooms\": 2}}\n```",
			wantIntent: "collected",
			wantField:  "bedrooms",
			wantValue:  float64(2),
		},
		{
			name:       "no signal at all",
			narration:  "Could you repeat that?",
			wantIntent: IntentUnknown,
		},
		{
			name:       "malformed json in fence",
			narration:  "Hmm.\n```json\n{\"intent\": \"broken\",}\n```",
			wantIntent: IntentUnknown,
		},
		{
			name:       "object without intent is not a signal",
			narration:  "Here.\n```json\n{\"fields\": {\"bedrooms\": 2}}\n```",
			wantIntent: IntentUnknown,
		},
		{
			name:       "last valid block wins",
			narration:  "```json\n{\"intent\": \"first\"}\n```\ntext\n```json\n{\"intent\": \"second\"}\n```",
			wantIntent: "second",
		},
		{
			name:       "fenced block preferred over bare line",
			narration:  "{\"intent\": \"bare\"}\n```json\n{\"intent\": \"fenced\"}\n```",
			wantIntent: "fenced",
		},
		{
			name:       "empty narration",
			narration:  "",
			wantIntent: IntentUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.narration)
			if got.Intent != tt.wantIntent {
				t.Errorf("Intent = %q, want %q", got.Intent, tt.wantIntent)
			}
			if got.Fields == nil {
				t.Fatal("Fields must never be nil")
			}
			if tt.wantField != "" {
				if v := got.Fields[tt.wantField]; v != tt.wantValue {
					t.Errorf("Fields[%q] = %v, want %v", tt.wantField, v, tt.wantValue)
				}
			}
		})
	}
}

func TestExtractCollectsAllTopLevelSlots(t *testing.T) {
	got := Extract("On it.\n```json\n{\"intent\": \"search\", \"bedrooms\": 2, " +
		"\"preferred_area\": \"east side\", \"max_budget\": 2500, " +
		"\"search_query\": \"two bedroom east side under 2500\"}\n```")

	if got.Intent != "search" {
		t.Fatalf("Intent = %q, want %q", got.Intent, "search")
	}
	want := map[string]any{
		"bedrooms":       float64(2),
		"preferred_area": "east side",
		"max_budget":     float64(2500),
		"search_query":   "two bedroom east side under 2500",
	}
	for key, value := range want {
		if got.Fields[key] != value {
			t.Errorf("Fields[%q] = %v, want %v", key, got.Fields[key], value)
		}
	}
	if _, ok := got.Fields["intent"]; ok {
		t.Error("intent must not appear in Fields")
	}
}

func TestStrip(t *testing.T) {
	tests := []struct {
		name      string
		narration string
		want      string
	}{
		{
			name:      "removes fenced block",
			narration: "Two bedrooms, got it.\n```json\n{\"intent\": \"collected\"}\n```",
			want:      "Two bedrooms, got it.",
		},
		{
			name:      "removes bare signal line",
			narration: "Noted.\n{\"intent\": \"confirmed\"}",
			want:      "Noted.",
		},
		{
			name:      "keeps json-looking prose that is not a signal",
			narration: "The config is {\"debug\": true} if you need it.",
			want:      "The config is {\"debug\": true} if you need it.",
		},
		{
			name:      "plain text untouched",
			narration: "Nothing structured here.",
			want:      "Nothing structured here.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Strip(tt.narration)
			if got != tt.want {
				t.Errorf("Strip = %q, want %q", got, tt.want)
			}
			if again := Strip(got); again != got {
				t.Errorf("Strip is not idempotent: %q then %q", got, again)
			}
		})
	}
}
