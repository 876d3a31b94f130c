package logger

import "testing"

func TestNew(t *testing.T) {
	tests := []struct {
		level, encoding string
		wantErr         bool
	}{
		{"info", "json", false},
		{"DEBUG", "console", false},
		{"warn", "", false},
		{"loud", "json", true},
		{"info", "xml", true},
	}
	for _, tt := range tests {
		log, err := New(tt.level, tt.encoding)
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%q, %q) error = %v, wantErr %v", tt.level, tt.encoding, err, tt.wantErr)
			continue
		}
		if log != nil {
			_ = log.Sync()
		}
	}
}
