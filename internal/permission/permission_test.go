package permission

import "testing"

func TestValidateOwnTableAutoGrant(t *testing.T) {
	v := &Validator{
		ExtensionID: "ext-1",
		PublicKey:   "PK",
		Name:        "pm",
	}
	if err := v.Validate(`SELECT * FROM "PK__pm__entries"`); err != nil {
		t.Fatalf("expected own-table auto-grant to accept read, got %v", err)
	}
	if err := v.Validate(`INSERT INTO "PK__pm__entries"(id) VALUES(1)`); err != nil {
		t.Fatalf("expected own-table auto-grant to accept write, got %v", err)
	}
}

func TestValidateRejectsUngrantedTable(t *testing.T) {
	v := &Validator{ExtensionID: "ext-1", PublicKey: "PK", Name: "pm"}
	if err := v.Validate(`SELECT * FROM other_table`); err == nil {
		t.Fatalf("expected rejection of a table with no grant")
	}
}

func TestValidateAcceptsExplicitGrant(t *testing.T) {
	v := &Validator{
		ExtensionID: "ext-1",
		PublicKey:   "PK",
		Name:        "pm",
		Granted: []Permission{
			{ResourceType: ResourceDB, Action: "read", Target: "shared_table", Status: StatusGranted},
		},
	}
	if err := v.Validate(`SELECT * FROM shared_table`); err != nil {
		t.Fatalf("expected explicit grant to permit read, got %v", err)
	}
	if err := v.Validate(`UPDATE shared_table SET x=1`); err == nil {
		t.Fatalf("expected read-only grant to reject a write")
	}
}

func TestValidateReadWriteGrantCoversRead(t *testing.T) {
	v := &Validator{
		ExtensionID: "ext-1",
		PublicKey:   "PK",
		Name:        "pm",
		Granted: []Permission{
			{ResourceType: ResourceDB, Action: "read_write", Target: "shared_table", Status: StatusGranted},
		},
	}
	if err := v.Validate(`SELECT * FROM shared_table`); err != nil {
		t.Fatalf("expected read_write grant to cover read, got %v", err)
	}
	if err := v.Validate(`DELETE FROM shared_table`); err != nil {
		t.Fatalf("expected read_write grant to cover delete, got %v", err)
	}
}

func TestValidateRejectsUnsupportedStatementKind(t *testing.T) {
	v := &Validator{ExtensionID: "ext-1", PublicKey: "PK", Name: "pm"}
	if err := v.Validate(`CREATE INDEX idx ON t(c)`); err == nil {
		t.Fatalf("expected CREATE INDEX to be rejected as an unpermitted statement kind")
	}
}
