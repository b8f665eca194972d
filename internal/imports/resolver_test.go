package imports

import (
	"os"
	"path/filepath"
	"testing"
)

func TestContainsVariable(t *testing.T) {
	cases := map[string]bool{
		"${VAR}":        true,
		"@{LIST}":       true,
		"&{DICT}":       true,
		"%{ENV_VAR}":    true,
		"plain name":    false,
		"${unterminated": false,
	}
	for in, want := range cases {
		if got := containsVariable(in); got != want {
			t.Errorf("containsVariable(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFindFileUpward(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	target := filepath.Join(root, "a", "shared.resource")
	if err := os.WriteFile(target, []byte("*** Keywords ***\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := findFileUpward("shared.resource", nested)
	if err != nil {
		t.Fatalf("expected to find file scanning upward: %v", err)
	}
	if got != target {
		t.Fatalf("got %q, want %q", got, target)
	}
}

func TestFindFileUpwardNotFound(t *testing.T) {
	root := t.TempDir()
	_, err := findFileUpward("nope.resource", root)
	if err == nil {
		t.Fatalf("expected ResolveFailed for a missing file")
	}
	if _, ok := err.(*ResolveFailed); !ok {
		t.Fatalf("expected *ResolveFailed, got %T", err)
	}
}

func TestResolverStdlibRewrite(t *testing.T) {
	ctx := &ManagerContext{
		WorkspaceRoot:       t.TempDir(),
		StdlibNames:         map[string]bool{"OperatingSystem": true},
		StdlibPackagePrefix: "robot.libraries",
	}
	r := NewResolver(ctx)

	got, err := r.FindLibrary("OperatingSystem", ctx.WorkspaceRoot, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "robot.libraries.OperatingSystem" {
		t.Fatalf("got %q", got)
	}
}

func TestResolverMemoizes(t *testing.T) {
	ctx := &ManagerContext{WorkspaceRoot: t.TempDir()}
	r := NewResolver(ctx)

	got1, err1 := r.FindLibrary("SomeModule", ctx.WorkspaceRoot, nil, nil)
	got2, err2 := r.FindLibrary("SomeModule", ctx.WorkspaceRoot, nil, nil)
	if err1 != err2 || got1 != got2 {
		t.Fatalf("expected memoized resolution to be stable")
	}
}

func TestResolverResourceExtensionRejected(t *testing.T) {
	root := t.TempDir()
	bad := filepath.Join(root, "thing.exe")
	if err := os.WriteFile(bad, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := &ManagerContext{WorkspaceRoot: root, DomainVersion: DomainVersion{Major: 6, Minor: 1}}
	r := NewResolver(ctx)

	_, err := r.FindResource("thing.exe", root, "resource", nil, nil)
	if err == nil {
		t.Fatalf("expected InvalidResourceExtension for a disallowed extension")
	}
	if _, ok := err.(*InvalidResourceExtension); !ok {
		t.Fatalf("expected *InvalidResourceExtension, got %T: %v", err, err)
	}
}

func TestResolverResourceExtensionAllowList(t *testing.T) {
	pre61 := DomainVersion{Major: 6, Minor: 0}.ResourceExtensions()
	post61 := DomainVersion{Major: 6, Minor: 1}.ResourceExtensions()
	if len(pre61) != 6 {
		t.Fatalf("expected 6 extensions before 6.1, got %d", len(pre61))
	}
	if len(post61) != 8 {
		t.Fatalf("expected 8 extensions from 6.1, got %d", len(post61))
	}
}
