package logging

import (
	"strings"
	"testing"
)

func TestMaskURL(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		secret string
		keep   string
	}{
		{
			name:   "access token",
			in:     "https://pan.example/rest/2.0/xpan/file?method=precreate&access_token=tok123",
			secret: "tok123",
			keep:   "method=precreate",
		},
		{
			name:   "oauth refresh",
			in:     "https://openapi.example/oauth/2.0/token?grant_type=refresh_token&refresh_token=r1&client_secret=s1",
			secret: "s1",
			keep:   "grant_type=refresh_token",
		},
		{
			name:   "userinfo",
			in:     "https://user:pw@example.com/path",
			secret: "pw",
			keep:   "example.com/path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MaskURL(tt.in)
			if strings.Contains(got, tt.secret) {
				t.Fatalf("MaskURL(%q) leaked secret: %q", tt.in, got)
			}
			if !strings.Contains(got, tt.keep) {
				t.Fatalf("MaskURL(%q) dropped %q: %q", tt.in, tt.keep, got)
			}
		})
	}
}
