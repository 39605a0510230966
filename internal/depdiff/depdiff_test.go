package depdiff

import "testing"

func changeFor(changes []Change, name string) (Change, bool) {
	for _, c := range changes {
		if c.Name == name {
			return c, true
		}
	}
	return Change{}, false
}

func TestScenarioGDependencyDiff(t *testing.T) {
	before := []byte(`{"dependencies":{"lodash":"^4.17.20","chalk":"^5.0.0"},"devDependencies":{"typescript":"^5.0.0","vitest":"^1.0.0"}}`)
	after := []byte(`{"dependencies":{"lodash":"^4.17.21","zod":"^3.24.2"},"devDependencies":{"typescript":"^5.0.0","vitest":"^3.0.5"}}`)

	changes, ok := Diff(before, after)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if len(changes) != 4 {
		t.Fatalf("expected 4 changes, got %d: %+v", len(changes), changes)
	}

	lodash, found := changeFor(changes, "lodash")
	if !found || lodash.Type != Updated || lodash.Before != "^4.17.20" || lodash.After != "^4.17.21" {
		t.Fatalf("lodash: %+v found=%v", lodash, found)
	}
	zod, found := changeFor(changes, "zod")
	if !found || zod.Type != Added || zod.After != "^3.24.2" {
		t.Fatalf("zod: %+v found=%v", zod, found)
	}
	chalk, found := changeFor(changes, "chalk")
	if !found || chalk.Type != Removed || chalk.Before != "^5.0.0" {
		t.Fatalf("chalk: %+v found=%v", chalk, found)
	}
	vitest, found := changeFor(changes, "vitest")
	if !found || vitest.Type != Updated || vitest.Before != "^1.0.0" || vitest.After != "^3.0.5" {
		t.Fatalf("vitest: %+v found=%v", vitest, found)
	}
	if vitest.Bump != BumpMajor {
		t.Fatalf("expected major bump for vitest 1.0.0->3.0.5, got %q", vitest.Bump)
	}
	if lodash.Bump != BumpPatch {
		t.Fatalf("expected patch bump for lodash 4.17.20->4.17.21, got %q", lodash.Bump)
	}

	typescript, found := changeFor(changes, "typescript")
	if found {
		t.Fatalf("typescript did not change and should not appear: %+v", typescript)
	}
}

func TestDiffNoPriorVersionAllAdded(t *testing.T) {
	after := []byte(`{"dependencies":{"lodash":"^4.17.21"}}`)
	changes, ok := Diff(nil, after)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if len(changes) != 1 || changes[0].Type != Added {
		t.Fatalf("got %+v", changes)
	}
}

func TestDiffMalformedJSONReturnsNoEvents(t *testing.T) {
	_, ok := Diff([]byte(`{"dependencies":{`), []byte(`{}`))
	if ok {
		t.Fatal("expected ok=false for malformed before JSON")
	}
	_, ok = Diff([]byte(`{}`), []byte(`not json`))
	if ok {
		t.Fatal("expected ok=false for malformed after JSON")
	}
}

func TestBumpUnknownForNonSemverRange(t *testing.T) {
	before := []byte(`{"dependencies":{"x":"latest"}}`)
	after := []byte(`{"dependencies":{"x":"next"}}`)
	changes, ok := Diff(before, after)
	if !ok || len(changes) != 1 {
		t.Fatalf("got %+v ok=%v", changes, ok)
	}
	if changes[0].Bump != BumpUnknown {
		t.Fatalf("expected unknown bump, got %q", changes[0].Bump)
	}
}
