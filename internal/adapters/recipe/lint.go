package recipe

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/melih/goal-listener/internal/core/domain"
	"github.com/moby/buildkit/frontend/dockerfile/parser"
)

// Rule names reported in violations.
const (
	RulePinnedBase     = "pinned-base"
	RulePackageCache   = "package-cache-purged"
	RuleFatalInstall   = "fatal-install"
	RuleWorkdirFirst   = "workdir-before-copy"
	RuleManifestFirst  = "manifest-before-source"
	RuleNoCacheInstall = "no-cache-install"
	RuleSafeDirectory  = "tolerated-safe-directory"
	RuleSingleExpose   = "single-expose"
	RuleExecFormCmd    = "exec-form-cmd"
)

// ErrParse is returned when the Dockerfile cannot be parsed at all.
var ErrParse = errors.New("dockerfile parse error")

// Expect narrows the checks to a specific port and start command. Zero values accept any.
type Expect struct {
	Port    int
	Command []string
}

// ExpectFor returns the expectations implied by a recipe.
func ExpectFor(r domain.Recipe) Expect {
	return Expect{Port: r.Port, Command: r.Command()}
}

// Report lists the violations found by Lint.
type Report struct {
	Violations []domain.Violation `json:"violations"`
}

// OK reports whether the Dockerfile follows every rule.
func (r Report) OK() bool { return len(r.Violations) == 0 }

// Lint parses a Dockerfile and checks it against the image build contract.
// Violations are returned in the report; only unparsable input is an error.
func Lint(r io.Reader, want Expect) (Report, error) {
	res, err := parser.Parse(r)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrParse, err)
	}

	l := &linter{want: want, aliases: make(map[string]bool)}
	for _, n := range res.AST.Children {
		l.visit(n)
	}
	l.finish()

	return Report{Violations: l.violations}, nil
}

type linter struct {
	want       Expect
	violations []domain.Violation

	froms   int
	aliases map[string]bool
	stage   stage
}

// stage holds what the contract checks need from the current build stage.
// Only the final stage is checked for layer order, EXPOSE and CMD.
type stage struct {
	sawWorkdir     bool
	workdirFlagged bool
	pipNoCacheEnv  bool
	manifestCopy   int
	install        int
	sourceCopy     int
	safeDirs       int
	exposes        []*parser.Node
	cmd            *parser.Node
	entrypoint     *parser.Node
}

func (l *linter) add(rule string, line int, format string, args ...any) {
	l.violations = append(l.violations, domain.Violation{
		Rule:    rule,
		Line:    line,
		Message: fmt.Sprintf(format, args...),
	})
}

func (l *linter) visit(n *parser.Node) {
	line := n.StartLine
	args := nodeArgs(n)

	switch strings.ToLower(n.Value) {
	case "from":
		l.from(line, args)

	case "workdir":
		l.stage.sawWorkdir = true

	case "copy", "add":
		if !l.stage.sawWorkdir && !l.stage.workdirFlagged {
			l.stage.workdirFlagged = true
			l.add(RuleWorkdirFirst, line, "%s runs before any WORKDIR is set", strings.ToUpper(n.Value))
		}
		if hasFlag(n, "--from") || len(args) < 2 {
			return
		}
		if isSourceTree(args[:len(args)-1]) {
			if l.stage.sourceCopy == 0 {
				l.stage.sourceCopy = line
			}
		} else if l.stage.sourceCopy == 0 && l.stage.manifestCopy == 0 {
			l.stage.manifestCopy = line
		}

	case "env":
		if strings.Contains(strings.Join(args, " "), "PIP_NO_CACHE_DIR") {
			l.stage.pipNoCacheEnv = true
		}

	case "run":
		l.checkRun(line, strings.Join(args, " "))

	case "expose":
		l.stage.exposes = append(l.stage.exposes, n)

	case "cmd":
		l.stage.cmd = n

	case "entrypoint":
		l.stage.entrypoint = n
	}
}

// from starts a new stage. A stage built on an earlier stage's alias is not an image
// reference and needs no pin.
func (l *linter) from(line int, args []string) {
	l.froms++
	l.stage = stage{}
	if len(args) == 0 {
		l.add(RulePinnedBase, line, "FROM has no base image")
		return
	}

	image := args[0]
	if !l.aliases[strings.ToLower(image)] && image != "scratch" {
		if strings.Contains(image, "$") || !domain.IsPinnedImage(image) {
			l.add(RulePinnedBase, line, "base image %q is not pinned to a version", image)
		}
	}
	if len(args) >= 3 && strings.EqualFold(args[1], "as") {
		l.aliases[strings.ToLower(args[2])] = true
	}
}

func (l *linter) checkRun(line int, cmd string) {
	if strings.Contains(cmd, "safe.directory") {
		l.stage.safeDirs++
		if !endsTolerant(cmd) {
			l.add(RuleSafeDirectory, line, "safe.directory step must tolerate failure (append || true)")
		}
		return
	}

	installs := false
	if strings.Contains(cmd, "apt-get install") {
		installs = true
		if !strings.Contains(cmd, "/var/lib/apt/lists") {
			l.add(RulePackageCache, line, "apt package index is not removed in the install layer")
		}
	}
	if strings.Contains(cmd, "apk add") {
		installs = true
		if !strings.Contains(cmd, "--no-cache") && !strings.Contains(cmd, "/var/cache/apk") {
			l.add(RulePackageCache, line, "apk cache is not removed in the install layer")
		}
	}

	if isDependencyInstall(cmd) {
		installs = true
		if l.stage.install == 0 {
			l.stage.install = line
		}
		if strings.Contains(cmd, "pip install") && !strings.Contains(cmd, "--no-cache-dir") && !l.stage.pipNoCacheEnv {
			l.add(RuleNoCacheInstall, line, "pip install must run with --no-cache-dir")
		}
	}

	if installs && hasTolerance(cmd) {
		l.add(RuleFatalInstall, line, "install failures must abort the build")
	}
}

func (l *linter) finish() {
	if l.froms == 0 {
		l.add(RulePinnedBase, 0, "no FROM instruction")
	}

	switch {
	case l.stage.install == 0:
		l.add(RuleManifestFirst, 0, "no dependency install step found")
	case l.stage.sourceCopy != 0 && l.stage.sourceCopy < l.stage.install:
		l.add(RuleManifestFirst, l.stage.sourceCopy, "source tree is copied before dependencies are installed")
	case l.stage.manifestCopy == 0 || l.stage.manifestCopy > l.stage.install:
		l.add(RuleManifestFirst, l.stage.install, "dependency manifest is not copied before the install step")
	}
	if l.stage.sourceCopy == 0 {
		l.add(RuleManifestFirst, 0, "application source tree is never copied")
	}

	if l.stage.safeDirs == 0 {
		l.add(RuleSafeDirectory, 0, "no safe.directory step found")
	}

	l.checkExpose()
	l.checkCmd()
}

func (l *linter) checkExpose() {
	if len(l.stage.exposes) != 1 {
		l.add(RuleSingleExpose, 0, "expected exactly one EXPOSE, found %d", len(l.stage.exposes))
		return
	}
	n := l.stage.exposes[0]
	ports := nodeArgs(n)
	if len(ports) != 1 {
		l.add(RuleSingleExpose, n.StartLine, "expected exactly one port, found %d", len(ports))
		return
	}
	if l.want.Port == 0 {
		return
	}
	port, err := strconv.Atoi(strings.TrimSuffix(ports[0], "/tcp"))
	if err != nil || port != l.want.Port {
		l.add(RuleSingleExpose, n.StartLine, "exposed port %s, want %d", ports[0], l.want.Port)
	}
}

func (l *linter) checkCmd() {
	if l.stage.entrypoint != nil {
		l.add(RuleExecFormCmd, l.stage.entrypoint.StartLine, "ENTRYPOINT would add arguments to the start command")
	}
	if l.stage.cmd == nil {
		l.add(RuleExecFormCmd, 0, "no CMD instruction")
		return
	}
	line := l.stage.cmd.StartLine
	if !l.stage.cmd.Attributes["json"] {
		l.add(RuleExecFormCmd, line, "CMD must use the JSON exec form")
		return
	}
	args := nodeArgs(l.stage.cmd)
	switch {
	case l.want.Command != nil && !slices.Equal(args, l.want.Command):
		l.add(RuleExecFormCmd, line, "CMD is %q, want %q", args, l.want.Command)
	case l.want.Command == nil && len(args) != 2:
		l.add(RuleExecFormCmd, line, "CMD must be exactly interpreter and entry point, got %q", args)
	}
}

func nodeArgs(n *parser.Node) []string {
	var args []string
	for next := n.Next; next != nil; next = next.Next {
		args = append(args, next.Value)
	}
	return args
}

func hasFlag(n *parser.Node, name string) bool {
	for _, f := range n.Flags {
		if f == name || strings.HasPrefix(f, name+"=") {
			return true
		}
	}
	return false
}

func isSourceTree(srcs []string) bool {
	for _, s := range srcs {
		if s == "." || s == "./" {
			return true
		}
	}
	return false
}

var dependencyInstallers = []string{
	"pip install",
	"pip3 install",
	"poetry install",
	"npm ci",
	"npm install",
	"go mod download",
	"bundle install",
}

func isDependencyInstall(cmd string) bool {
	for _, s := range dependencyInstallers {
		if strings.Contains(cmd, s) {
			return true
		}
	}
	return false
}

var tolerances = []string{"|| true", "|| :", "|| exit 0"}

func hasTolerance(cmd string) bool {
	for _, t := range tolerances {
		if strings.Contains(cmd, t) {
			return true
		}
	}
	return false
}

func endsTolerant(cmd string) bool {
	cmd = strings.TrimSpace(cmd)
	for _, t := range tolerances {
		if strings.HasSuffix(cmd, t) {
			return true
		}
	}
	return false
}
