package registry

import "testing"

func ptrSlice(names ...string) *[]string {
	return &names
}

func TestValidateRoster_Default(t *testing.T) {
	roster, err := ValidateRoster(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range MandatoryNames() {
		if !InRoster(roster, Worker(name)) {
			t.Fatalf("expected mandatory worker %q in default roster, got %v", name, roster)
		}
	}
}

func TestValidateRoster_UnknownWorker(t *testing.T) {
	if _, err := ValidateRoster(ptrSlice("researcher", "time-traveler")); err == nil {
		t.Fatalf("expected error for unknown worker")
	}
}

func TestValidateRoster_MissingMandatoryWorkerIsRejected(t *testing.T) {
	if _, err := ValidateRoster(ptrSlice("researcher")); err == nil {
		t.Fatalf("expected error for a roster omitting mandatory workers")
	}
}

func TestValidateRoster_ExplicitFullRosterAccepted(t *testing.T) {
	names := append(MandatoryNames(), "researcher")
	roster, err := ValidateRoster(ptrSlice(names...))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !InRoster(roster, Coordinator) || !InRoster(roster, Planner) ||
		!InRoster(roster, Supervisor) || !InRoster(roster, Reporter) {
		t.Fatalf("expected mandatory workers present in roster, got %v", roster)
	}
	if !InRoster(roster, Researcher) {
		t.Fatalf("expected requested researcher to remain in roster, got %v", roster)
	}
}

func TestValidateRoster_ExplicitEmptyRequestIsRejected(t *testing.T) {
	if _, err := ValidateRoster(ptrSlice()); err == nil {
		t.Fatalf("expected error for an explicitly empty team_members")
	}
}

func TestMandatory(t *testing.T) {
	if !Mandatory(Coordinator) {
		t.Fatalf("expected coordinator to be mandatory")
	}
	if Mandatory(Researcher) {
		t.Fatalf("expected researcher to be optional")
	}
}
