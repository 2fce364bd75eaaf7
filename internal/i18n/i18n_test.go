package i18n

import "testing"

func TestDisplayName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tag  string
		want string
	}{
		{"english", "en", "English"},
		{"japanese", "ja", "Japanese"},
		{"french", "fr", "French"},
		{"german", "de", "German"},
		{"trims spaces", " ja ", "Japanese"},
		{"empty", "", ""},
		{"unparseable falls through", "???", "???"},
		{"literal name falls through", "Pirate Speak!", "Pirate Speak!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := DisplayName(tt.tag); got != tt.want {
				t.Errorf("DisplayName(%q) = %q, want %q", tt.tag, got, tt.want)
			}
		})
	}
}

func TestIsEnglish(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tag  string
		want bool
	}{
		{"en", true},
		{"en-US", true},
		{"en-GB", true},
		{"English", true},
		{"ja", false},
		{"zh-TW", false},
		{"", false},
		{"???", false},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			t.Parallel()
			if got := IsEnglish(tt.tag); got != tt.want {
				t.Errorf("IsEnglish(%q) = %v, want %v", tt.tag, got, tt.want)
			}
		})
	}
}
