package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/melih/goal-listener/internal/adapters/builder"
	"github.com/melih/goal-listener/internal/adapters/recipe"
	"github.com/melih/goal-listener/internal/config"
	"github.com/melih/goal-listener/internal/core/domain"
	"github.com/melih/goal-listener/internal/core/ports"
)

var version = "0.1.0-dev"

// Exit codes.
const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

// newBuilder is replaced in tests.
var newBuilder = func(out io.Writer) (ports.BuilderService, error) {
	return builder.NewBuilderAdapter(out)
}

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}

func runCLI(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "render":
		return runRender(rest, stdout, stderr)
	case "lint":
		return runLint(rest, stdout, stderr)
	case "fingerprint":
		return runFingerprint(rest, stdout, stderr)
	case "build":
		return runBuild(rest, stdout, stderr)
	case "verify":
		return runVerify(rest, stdout, stderr)
	case "version", "--version":
		fmt.Fprintf(stdout, "imagectl %s\n", version)
		return exitOK
	case "help", "--help", "-h":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		printUsage(stderr)
		return exitUsage
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: imagectl <command> [flags]

Commands:
  render       Print the Dockerfile for a recipe
  lint         Check a Dockerfile against a recipe
  fingerprint  Print the dependency and source layer keys of a build context
  build        Build an image from a context directory or repository and verify it
  verify       Check an existing image against a recipe
  version      Print the version
  help         Show this help

Every command except version and help accepts -config <recipe.yaml>;
without it the default listener recipe is used.
`)
}

// newFlagSet returns a flag set that reports errors to stderr without exiting.
func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg := fs.String("config", "", "recipe file (YAML)")
	return fs, cfg
}

func runRender(args []string, stdout, stderr io.Writer) int {
	fs, cfgPath := newFlagSet("render", stderr)
	out := fs.String("o", "", "write the Dockerfile to this path instead of stdout")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	r, err := config.LoadRecipe(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}
	data, err := recipe.Render(r)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}

	if *out == "" {
		stdout.Write(data)
		return exitOK
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}
	fmt.Fprintf(stdout, "Wrote %s\n", *out)
	return exitOK
}

func runLint(args []string, stdout, stderr io.Writer) int {
	fs, cfgPath := newFlagSet("lint", stderr)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: imagectl lint [-config recipe.yaml] <Dockerfile>")
		return exitUsage
	}

	r, err := config.LoadRecipe(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}
	defer f.Close()

	report, err := recipe.Lint(f, recipe.ExpectFor(r))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}
	if report.OK() {
		fmt.Fprintf(stdout, "%s: OK\n", fs.Arg(0))
		return exitOK
	}
	for _, v := range report.Violations {
		fmt.Fprintf(stdout, "%s:%d: [%s] %s\n", fs.Arg(0), v.Line, v.Rule, v.Message)
	}
	return exitFail
}

func runFingerprint(args []string, stdout, stderr io.Writer) int {
	fs, cfgPath := newFlagSet("fingerprint", stderr)
	contextDir := fs.String("context", ".", "build context directory")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	r, err := config.LoadRecipe(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}
	layers, err := recipe.Fingerprint(r, *contextDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}
	fmt.Fprintf(stdout, "dependencies %s\nsource       %s\n", layers.Dependencies, layers.Source)
	return exitOK
}

func runBuild(args []string, stdout, stderr io.Writer) int {
	fs, cfgPath := newFlagSet("build", stderr)
	contextDir := fs.String("context", "", "build context directory")
	repo := fs.String("repo", "", "repository URL to clone and build")
	branch := fs.String("branch", "", "branch to clone (with -repo)")
	tag := fs.String("tag", "", "image tag")
	useExisting := fs.Bool("use-existing", false, "build the context's own Dockerfile instead of rendering one")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *tag == "" || (*contextDir == "") == (*repo == "") {
		fmt.Fprintln(stderr, "Usage: imagectl build (-context dir | -repo url [-branch b]) -tag t [-config recipe.yaml]")
		return exitUsage
	}

	r, err := config.LoadRecipe(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}
	b, err := newBuilder(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := b.BuildImage(ctx, ports.BuildRequest{
		ContextDir:  *contextDir,
		RepoURL:     *repo,
		Branch:      *branch,
		Tag:         *tag,
		Recipe:      r,
		UseExisting: *useExisting,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}
	fmt.Fprintf(stdout, "Built %s (%s) in %s\n", res.Tag, res.ImageID, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(stdout, "dependencies %s\nsource       %s\n", res.Layers.Dependencies, res.Layers.Source)

	return verify(ctx, b, *tag, r, stdout, stderr)
}

func runVerify(args []string, stdout, stderr io.Writer) int {
	fs, cfgPath := newFlagSet("verify", stderr)
	tag := fs.String("tag", "", "image tag")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *tag == "" {
		fmt.Fprintln(stderr, "Usage: imagectl verify -tag t [-config recipe.yaml]")
		return exitUsage
	}

	r, err := config.LoadRecipe(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}
	b, err := newBuilder(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}
	return verify(context.Background(), b, *tag, r, stdout, stderr)
}

func verify(ctx context.Context, b ports.BuilderService, tag string, r domain.Recipe, stdout, stderr io.Writer) int {
	report, err := b.VerifyImage(ctx, tag, r)
	if errors.Is(err, builder.ErrImageContract) {
		fmt.Fprintf(stdout, "%s: %v\n", tag, err)
		return exitFail
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}
	fmt.Fprintf(stdout, "%s: OK (ports %v, cmd %q)\n", tag, report.ExposedPorts, report.Cmd)
	return exitOK
}
