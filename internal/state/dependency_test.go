package state

import (
	"errors"
	"testing"

	"github.com/outerlook/helmsman/pkg/models"
)

func TestCreateDependencyRejectsSelfLoop(t *testing.T) {
	f := newFixture(t)
	a := f.createTask(t, "a")

	_, err := f.db.CreateDependency(a.ID, a.ID)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("self-loop should return ErrConflict, got %v", err)
	}
}

func TestCreateDependencyRejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	a := f.createTask(t, "a")
	b := f.createTask(t, "b")

	if _, err := f.db.CreateDependency(b.ID, a.ID); err != nil {
		t.Fatalf("first edge: %v", err)
	}
	_, err := f.db.CreateDependency(b.ID, a.ID)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate edge should return ErrConflict, got %v", err)
	}
}

func TestCreateDependencyRejectsCycle(t *testing.T) {
	f := newFixture(t)
	a := f.createTask(t, "a")
	b := f.createTask(t, "b")
	c := f.createTask(t, "c")

	// a <- b <- c
	if _, err := f.db.CreateDependency(b.ID, a.ID); err != nil {
		t.Fatalf("edge b->a: %v", err)
	}
	if _, err := f.db.CreateDependency(c.ID, b.ID); err != nil {
		t.Fatalf("edge c->b: %v", err)
	}

	// Closing the loop: a depends on c.
	_, err := f.db.CreateDependency(a.ID, c.ID)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("cycle should return ErrConflict, got %v", err)
	}
}

func TestFindUnblockedDependents(t *testing.T) {
	f := newFixture(t)

	a := f.createTask(t, "a")
	b := f.createTask(t, "b")
	c := f.createTask(t, "c")

	// Chain a <- b <- c.
	if _, err := f.db.CreateDependency(b.ID, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.db.CreateDependency(c.ID, b.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := f.db.UpdateTaskStatus(a.ID, models.TaskStatusDone); err != nil {
		t.Fatal(err)
	}

	deps, err := f.db.FindUnblockedDependents(a.ID)
	if err != nil {
		t.Fatalf("find unblocked dependents: %v", err)
	}
	if len(deps) != 1 || deps[0].ID != b.ID {
		t.Errorf("completing a should unblock exactly b, got %d tasks", len(deps))
	}

	// c is a transitive dependent and must not appear.
	for _, d := range deps {
		if d.ID == c.ID {
			t.Error("c must not be returned; it is not a direct dependent of a")
		}
	}
}

func TestFindUnblockedDependentsSkipsNonTodo(t *testing.T) {
	f := newFixture(t)

	a := f.createTask(t, "a")
	b := f.createTask(t, "b")
	if _, err := f.db.CreateDependency(b.ID, a.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := f.db.UpdateTaskStatus(b.ID, models.TaskStatusCancelled); err != nil {
		t.Fatal(err)
	}
	if _, err := f.db.UpdateTaskStatus(a.ID, models.TaskStatusDone); err != nil {
		t.Fatal(err)
	}

	deps, err := f.db.FindUnblockedDependents(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 0 {
		t.Errorf("cancelled dependents must be skipped, got %d", len(deps))
	}
}

func TestFindBlocking(t *testing.T) {
	f := newFixture(t)

	a := f.createTask(t, "a")
	b := f.createTask(t, "b")
	c := f.createTask(t, "c")
	if _, err := f.db.CreateDependency(b.ID, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.db.CreateDependency(c.ID, a.ID); err != nil {
		t.Fatal(err)
	}

	blocking, err := f.db.FindBlocking(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocking) != 2 {
		t.Errorf("expected 2 direct successors, got %d", len(blocking))
	}
}

func TestDependencyContext(t *testing.T) {
	f := newFixture(t)

	a := f.createTask(t, "a")
	b := f.createTask(t, "b")
	c := f.createTask(t, "c")
	d := f.createTask(t, "d")

	// a <- b <- c <- d
	if _, err := f.db.CreateDependency(b.ID, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.db.CreateDependency(c.ID, b.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.db.CreateDependency(d.ID, c.ID); err != nil {
		t.Fatal(err)
	}

	ctx, err := f.db.FindDependencyContext(c.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ctx.Ancestors) != 2 {
		t.Errorf("c should have 2 ancestors (a, b), got %d", len(ctx.Ancestors))
	}
	if len(ctx.Descendants) != 1 {
		t.Errorf("c should have 1 descendant (d), got %d", len(ctx.Descendants))
	}

	// Depth limit of 1 only reaches direct neighbors.
	ctx, err = f.db.FindDependencyContext(d.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(ctx.Ancestors) != 1 {
		t.Errorf("depth 1 should reach only c, got %d ancestors", len(ctx.Ancestors))
	}
}
