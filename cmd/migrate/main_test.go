package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/vladislavdragonenkov/quickshop/internal/storage/postgres"
)

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions([]string{"-direction=DOWN", "-steps=2"}, lookupFrom(map[string]string{
		envPostgresDSN: " postgres://shop@localhost/shop ",
	}))
	if err != nil {
		t.Fatalf("parseOptions failed: %v", err)
	}
	if opts.direction != "down" || opts.steps != 2 {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if opts.dsn != "postgres://shop@localhost/shop" {
		t.Fatalf("unexpected dsn: %q", opts.dsn)
	}

	opts, err = parseOptions([]string{"-dsn=postgres://flag"}, lookupFrom(map[string]string{envPostgresDSN: "postgres://env"}))
	if err != nil {
		t.Fatalf("parseOptions failed: %v", err)
	}
	if opts.dsn != "postgres://flag" || opts.direction != "up" {
		t.Fatalf("flag must win over env: %+v", opts)
	}
}

func TestParseOptions_Errors(t *testing.T) {
	cases := map[string][]string{
		"missing dsn":   {"-direction=status"},
		"bad direction": {"-direction=sideways", "-dsn=postgres://x"},
		"unknown flag":  {"-force", "-dsn=postgres://x"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseOptions(args, lookupFrom(nil))
			if !errors.Is(err, errUsage) {
				t.Fatalf("expected usage error, got %v", err)
			}
		})
	}
}

type fakeMigrator struct {
	upSteps, downSteps []int
	state              postgres.MigrationState
	err                error
}

func (f *fakeMigrator) MigrateUp(_ context.Context, steps int) error {
	f.upSteps = append(f.upSteps, steps)
	return f.err
}

func (f *fakeMigrator) MigrateDown(_ context.Context, steps int) error {
	f.downSteps = append(f.downSteps, steps)
	return f.err
}

func (f *fakeMigrator) MigrationStatus(context.Context) (postgres.MigrationState, error) {
	return f.state, nil
}

func TestExecute(t *testing.T) {
	store := &fakeMigrator{state: postgres.MigrationState{Version: 3, Applied: 3, Pending: 1}}
	var out bytes.Buffer

	if err := execute(context.Background(), store, options{direction: "up"}, &out); err != nil {
		t.Fatalf("up failed: %v", err)
	}
	if err := execute(context.Background(), store, options{direction: "down"}, &out); err != nil {
		t.Fatalf("down failed: %v", err)
	}
	if err := execute(context.Background(), store, options{direction: "status"}, &out); err != nil {
		t.Fatalf("status failed: %v", err)
	}

	if len(store.upSteps) != 1 || store.upSteps[0] != 0 {
		t.Fatalf("unexpected up steps: %v", store.upSteps)
	}
	if len(store.downSteps) != 1 || store.downSteps[0] != 1 {
		t.Fatalf("down defaults to one step, got %v", store.downSteps)
	}
	if !strings.Contains(out.String(), "migration status: version=3 applied=3 pending=1") {
		t.Fatalf("unexpected output: %s", out.String())
	}

	failing := &fakeMigrator{err: errors.New("locked")}
	if err := execute(context.Background(), failing, options{direction: "up"}, &out); err == nil {
		t.Fatal("expected error from failing migrator")
	}
}

func TestRunAgainstPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("QUICKSHOP_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("QUICKSHOP_POSTGRES_TEST_DSN is not set")
	}

	var out bytes.Buffer
	for _, args := range [][]string{
		{"-direction=up"},
		{"-direction=status"},
		{"-direction=down", "-steps=1"},
		{"-direction=up"},
	} {
		if err := run(context.Background(), append(args, "-dsn="+dsn), lookupFrom(nil), &out); err != nil {
			t.Fatalf("run %v failed: %v", args, err)
		}
	}
	if !strings.Contains(out.String(), "migration status:") {
		t.Fatalf("unexpected output: %s", out.String())
	}
}
