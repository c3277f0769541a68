package chat

import "testing"

func TestParseTime(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"rfc3339", "2025-01-02T09:00:00Z", true},
		{"bare iso", "2025-01-02T09:00:00", true},
		{"orm format", "2025-01-02 09:00:00", true},
		{"epoch placeholder", EpochTime, true},
		{"garbage", "yesterday", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ParseTime(tt.input)
			if ok != tt.ok {
				t.Errorf("ParseTime(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
		})
	}
}

func TestBefore(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"earlier", "2025-01-01T10:00:00Z", "2025-01-02T09:00:00Z", true},
		{"later", "2025-01-02T09:00:00Z", "2025-01-01T10:00:00Z", false},
		{"equal", "2025-01-01T10:00:00Z", "2025-01-01T10:00:00Z", false},
		{"mixed layouts", "2025-01-01 10:00:00", "2025-01-01T10:00:01Z", true},
		{"unparsable falls back to string order", "aaa", "bbb", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Before(tt.a, tt.b); got != tt.want {
				t.Errorf("Before(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
