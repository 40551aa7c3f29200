package main

import (
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/wippyai/js-runtime/errors"
	"github.com/wippyai/js-runtime/runtime"
)

func main() {
	var (
		file        = flag.String("file", "", "Script file to evaluate")
		expr        = flag.String("expr", "", "Expression to evaluate")
		module      = flag.String("module", "", "Module path to load")
		await       = flag.Bool("await", false, "Block until a promise result settles")
		timeout     = flag.Duration("timeout", 5*time.Second, "Await timeout")
		stack       = flag.Int("stack", 0, "Max script call stack depth (0 = engine default)")
		interactive = flag.Bool("i", false, "Interactive REPL")
	)
	flag.Parse()

	if *file == "" && *expr == "" && *module == "" && !*interactive {
		fmt.Fprintln(os.Stderr, "Usage: repl -file <script.js> [-await] [-timeout 5s]")
		fmt.Fprintln(os.Stderr, "       repl -expr '1 + 2'")
		fmt.Fprintln(os.Stderr, "       repl -module ./lib/app")
		fmt.Fprintln(os.Stderr, "       repl -i  (interactive mode)")
		os.Exit(1)
	}

	if *interactive {
		if err := runInteractive(*stack); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*file, *expr, *module, *await, *timeout, *stack); err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
		os.Exit(1)
	}
}

func run(file, expr, module string, await bool, timeout time.Duration, stack int) error {
	rt, err := runtime.New(&runtime.Config{MaxCallStackSize: stack})
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	rt.SetRejectionHandler(func(origin string, value any) {
		fmt.Fprintf(os.Stderr, "unhandled rejection in %s: %v\n", origin, value)
	})

	registerDemoOps(rt)

	ctx, err := rt.NewContext(runtime.WithName("main"))
	if err != nil {
		return err
	}
	defer ctx.Destroy()

	if module != "" {
		m, err := ctx.LoadModule(module)
		if err != nil {
			return err
		}
		out, err := m.Exports().JSON()
		if err != nil {
			return err
		}
		fmt.Printf("%s exports: %s\n", m.Path(), out)
		return nil
	}

	src := expr
	origin := "expr.js"
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}
		src = string(data)
		origin = file
	}

	h, err := ctx.Evaluate(src, origin)
	if err != nil {
		return err
	}

	if await && h.IsPromise() {
		h, err = rt.AwaitHandle(h, timeout)
		if err != nil {
			return err
		}
	}

	out, err := h.JSON()
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

// registerDemoOps exposes a few host functions so scripts have something
// to call through ops.invoke.
func registerDemoOps(rt *runtime.Runtime) {
	rt.RegisterOp("time.now", func(args ...any) (any, error) {
		return time.Now().UnixMilli(), nil
	})
	rt.RegisterOp("env.get", func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("env.get takes one name")
		}
		name, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("env.get name must be a string")
		}
		return os.Getenv(name), nil
	})
}

// formatError renders structured errors with their source position.
func formatError(err error) string {
	var e *errors.Error
	if !stderrors.As(err, &e) {
		return "Error: " + err.Error()
	}
	if e.Origin != "" && e.Line > 0 {
		return fmt.Sprintf("Error at %s:%d:%d: %s", e.Origin, e.Line, e.Column, e.Detail)
	}
	return "Error: " + e.Error()
}
