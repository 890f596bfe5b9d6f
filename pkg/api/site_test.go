package api

import "testing"

func TestNewSite(t *testing.T) {
	tests := []struct {
		name       string
		baseURL    string
		team       string
		wantErr    bool
		wantV3     string
		wantLegacy string
		wantTeam   string
	}{
		{
			name:       "hosted teams",
			baseURL:    "https://api.stackoverflowteams.com",
			team:       "acme",
			wantV3:     "https://api.stackoverflowteams.com/v3/teams/acme/users",
			wantLegacy: "https://api.stackoverflowteams.com/2.3/users/1;2",
			wantTeam:   "acme",
		},
		{
			name:    "hosted teams without slug",
			baseURL: "https://api.stackoverflowteams.com",
			wantErr: true,
		},
		{
			name:       "enterprise",
			baseURL:    "https://stack.example.com",
			wantV3:     "https://stack.example.com/api/v3/users",
			wantLegacy: "https://stack.example.com/api/2.3/users/1;2",
		},
		{
			name:    "missing scheme",
			baseURL: "stack.example.com",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site, err := NewSite(tt.baseURL, tt.team)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewSite() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := site.V3("/users"); got != tt.wantV3 {
				t.Errorf("V3() = %q, want %q", got, tt.wantV3)
			}
			if got := site.Legacy("/users/1;2"); got != tt.wantLegacy {
				t.Errorf("Legacy() = %q, want %q", got, tt.wantLegacy)
			}
			if got := site.Team(); got != tt.wantTeam {
				t.Errorf("Team() = %q, want %q", got, tt.wantTeam)
			}
		})
	}
}
