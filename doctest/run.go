package doctest

import (
	"fmt"
	"strconv"

	"github.com/primvm/prim/compiler"
	"github.com/primvm/prim/vm"
)

// Result is the observed outcome of executing a scenario.
type Result struct {
	Output   []byte
	Status   vm.Status
	HaltCode int64
	Fault    *vm.Fault
}

// Run compiles and executes one scenario to a terminal state. A gas
// fence in the scenario overrides the configured budget.
func Run(sc Scenario, cfg vm.Config) (*Result, error) {
	if sc.Gas != "" {
		budget, err := strconv.ParseInt(sc.Gas, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: bad gas fence %q", sc.Name, sc.Gas)
		}
		cfg.GasBudget = budget
	}

	prog, err := compiler.Compile(sc.Source)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: compile: %w", sc.Name, err)
	}

	m := vm.New(cfg)
	if err := m.Load(prog); err != nil {
		return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
	}
	if sc.Input != "" {
		m.SendInput([]byte(sc.Input))
	}

	for m.Status() == vm.StatusRunning {
		m.Tick(4096)
	}

	return &Result{
		Output:   m.ReadOutput(),
		Status:   m.Status(),
		HaltCode: m.HaltCode(),
		Fault:    m.Fault(),
	}, nil
}

// Check compares a result against the scenario's expectations.
func Check(sc Scenario, res *Result) error {
	if sc.Fault != "" {
		if res.Status != vm.StatusFaulted {
			return fmt.Errorf("scenario %q: expected fault %q, got %s", sc.Name, sc.Fault, res.Status)
		}
		if got := res.Fault.Kind.String(); got != sc.Fault {
			return fmt.Errorf("scenario %q: expected fault %q, got %q", sc.Name, sc.Fault, got)
		}
	} else {
		if res.Status != vm.StatusHalted {
			return fmt.Errorf("scenario %q: expected a normal halt, got %s (%v)", sc.Name, res.Status, res.Fault)
		}
		wantExit := int64(0)
		if sc.Exit != "" {
			n, err := strconv.ParseInt(sc.Exit, 10, 64)
			if err != nil {
				return fmt.Errorf("scenario %q: bad exit fence %q", sc.Name, sc.Exit)
			}
			wantExit = n
		}
		if res.HaltCode != wantExit {
			return fmt.Errorf("scenario %q: expected exit %d, got %d", sc.Name, wantExit, res.HaltCode)
		}
	}

	if string(res.Output) != sc.Output {
		return fmt.Errorf("scenario %q: output mismatch:\n  want %q\n  got  %q", sc.Name, sc.Output, res.Output)
	}
	return nil
}
