package access

import "testing"

func TestPolicyForms(t *testing.T) {
	tests := []struct {
		name        string
		policy      *Policy
		wantBoolean bool
		wantPublic  bool
	}{
		{"nil", nil, false, true},
		{"public", Public(), true, true},
		{"authenticated", Authenticated(), true, false},
		{"role", Role("admin"), false, false},
		{"object", &Policy{Permissions: []string{"X"}}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.IsBoolean(); got != tt.wantBoolean {
				t.Errorf("IsBoolean() = %v, want %v", got, tt.wantBoolean)
			}
			if got := tt.policy.IsPublic(); got != tt.wantPublic {
				t.Errorf("IsPublic() = %v, want %v", got, tt.wantPublic)
			}
		})
	}
}

func TestPolicyClone(t *testing.T) {
	p := &Policy{Permissions: []string{"A"}}
	cp := p.Clone()
	cp.Permissions = append(cp.Permissions, "B")
	if len(p.Permissions) != 1 {
		t.Errorf("Clone() shares permissions slice: %v", p.Permissions)
	}

	var nilPolicy *Policy
	if nilPolicy.Clone() != nil {
		t.Error("Clone() of nil should be nil")
	}
}
