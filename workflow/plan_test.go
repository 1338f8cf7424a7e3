package workflow

import "testing"

func TestPlanSchemaHasSteps(t *testing.T) {
	schema := PlanSchema()
	if schema == nil {
		t.Fatalf("expected a non-nil plan schema")
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("expected schema properties, got %T", schema["properties"])
	}
	if _, ok := props["steps"]; !ok {
		t.Fatalf("expected a steps property in the plan schema, got %v", props)
	}
}

func TestSupervisorSchemaRequiresNext(t *testing.T) {
	schema := SupervisorSchema()
	if schema == nil {
		t.Fatalf("expected a non-nil supervisor schema")
	}
	required, ok := schema["required"].([]any)
	if !ok || len(required) == 0 {
		t.Fatalf("expected a required field list, got %v", schema["required"])
	}
	found := false
	for _, r := range required {
		if r == "next" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %q to be required, got %v", "next", required)
	}
}
