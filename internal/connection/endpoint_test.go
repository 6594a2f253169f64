package connection

import (
	"errors"
	"testing"
)

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		path    string
		token   string
		want    string
		wantErr bool
	}{
		{
			name:  "https origin",
			base:  "https://api.example.com",
			path:  "/ws/notifications",
			token: "T",
			want:  "wss://api.example.com/ws/notifications?token=T",
		},
		{
			name:  "http origin with port",
			base:  "http://localhost:8080",
			path:  "/ws/notifications",
			token: "T",
			want:  "ws://localhost:8080/ws/notifications?token=T",
		},
		{
			name:  "base path and query replaced",
			base:  "https://api.example.com/api/v1?x=1#frag",
			path:  "ws/notifications",
			token: "T",
			want:  "wss://api.example.com/ws/notifications?token=T",
		},
		{
			name:  "token escaped",
			base:  "https://api.example.com",
			path:  "/ws/notifications",
			token: "a+b/c=",
			want:  "wss://api.example.com/ws/notifications?token=a%2Bb%2Fc%3D",
		},
		{
			name:  "websocket scheme kept",
			base:  "wss://api.example.com",
			path:  "/ws/notifications",
			token: "T",
			want:  "wss://api.example.com/ws/notifications?token=T",
		},
		{
			name:    "unsupported scheme",
			base:    "ftp://api.example.com",
			path:    "/ws/notifications",
			wantErr: true,
		},
		{
			name:    "missing host",
			base:    "https://",
			path:    "/ws/notifications",
			wantErr: true,
		},
		{
			name:    "empty",
			base:    "",
			path:    "/ws/notifications",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildURL(tt.base, tt.path, tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidURL) {
					t.Errorf("expected ErrInvalidURL, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRedactURL(t *testing.T) {
	got := redactURL("wss://api.example.com/ws/notifications?token=secret")
	want := "wss://api.example.com/ws/notifications?token=REDACTED"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
