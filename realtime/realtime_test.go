package realtime

import "testing"

func TestFirstString(t *testing.T) {
	tests := []struct {
		name   string
		datas  []any
		want   string
		wantOK bool
	}{
		{name: "project id", datas: []any{"proj-1", map[string]any{"x": 1}}, want: "proj-1", wantOK: true},
		{name: "empty frame", datas: nil, wantOK: false},
		{name: "non-string payload", datas: []any{42}, wantOK: false},
		{name: "nil payload", datas: []any{nil}, wantOK: false},
		{name: "empty string", datas: []any{""}, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := firstString(tt.datas)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("firstString(%v) = (%q, %v), want (%q, %v)", tt.datas, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
