package compiler

import (
	"os/exec"
	"testing"
)

func TestFindSystemToolchainHonorsEnv(t *testing.T) {
	if _, err := exec.LookPath("as"); err != nil {
		t.Skipf("assembler unavailable: %v", err)
	}
	if _, err := exec.LookPath("ld"); err != nil {
		t.Skipf("linker unavailable: %v", err)
	}
	t.Setenv(EnvQBE, "/opt/qbe/bin/qbe")

	tc, err := FindSystemToolchain(nil)
	if err != nil {
		t.Fatalf("FindSystemToolchain: %v", err)
	}
	if tc.QBE != "/opt/qbe/bin/qbe" {
		t.Errorf("QBE = %q, want the env override", tc.QBE)
	}
}

func TestSystemToolchainReportsFailingStage(t *testing.T) {
	t.Parallel()

	tc := &SystemToolchain{QBE: "/does/not/exist"}
	_, err := tc.Build("not ir", t.TempDir())
	be, ok := err.(*BackendError)
	if !ok {
		t.Fatalf("Build error = %T (%v), want *BackendError", err, err)
	}
	if be.Stage != "qbe" {
		t.Errorf("failing stage = %q, want qbe", be.Stage)
	}
}
