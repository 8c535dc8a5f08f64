package uuid

import "testing"

func TestNewProducesValidV4(t *testing.T) {
	id := New()
	if id == "" {
		t.Fatal("Expected non-empty UUID string")
	}
	if !IsValid(id) {
		t.Errorf("Generated UUID does not match v4 format: %s", id)
	}
}

func TestNewUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("Duplicate UUID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestValidate(t *testing.T) {
	if err := Validate("11111111-1111-4111-8111-111111111111"); err != nil {
		t.Errorf("Valid v4 rejected: %v", err)
	}
	for _, invalid := range []string{
		"",
		"not-a-uuid",
		"11111111-1111-1111-8111-111111111111", // wrong version
		"11111111-1111-4111-0111-111111111111", // wrong variant
	} {
		if err := Validate(invalid); err == nil {
			t.Errorf("Expected %q to be rejected", invalid)
		}
	}
}
