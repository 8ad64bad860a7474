package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	daemonServeUnitName    = "newswire-serve.service"
	daemonScheduleUnitName = "newswire-schedule.service"
	systemdUnitDir         = "/etc/systemd/system"
)

var daemonUnitNames = []string{
	daemonServeUnitName,
	daemonScheduleUnitName,
}

// unitOptions describes how the installed services run.
type unitOptions struct {
	User       string
	WorkDir    string
	Binary     string
	EnvFile    string
	ServePort  int
	ServeHost  string
	RunNowOnUp bool
}

func runDaemon(args []string) int {
	if len(args) == 0 {
		printDaemonUsage()
		return 2
	}

	action := strings.ToLower(strings.TrimSpace(args[0]))
	switch action {
	case "help", "-h", "--help":
		printDaemonUsage()
		return 0
	case "install":
		return runDaemonInstall(args[1:])
	case "uninstall":
		return runDaemonUninstall(args[1:])
	case "start", "stop", "restart":
		return runDaemonServiceAction(action, args[1:], true)
	case "status":
		return runDaemonServiceAction(action, args[1:], false)
	default:
		fmt.Fprintf(os.Stderr, "unknown daemon action: %s\n\n", args[0])
		printDaemonUsage()
		return 2
	}
}

func printDaemonUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  newswire daemon <install|uninstall|start|stop|restart|status> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintf(os.Stderr, "Manages %s and %s.\n", daemonServeUnitName, daemonScheduleUnitName)
}

func runDaemonInstall(args []string) int {
	fs := flag.NewFlagSet("daemon install", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	defaultUser := strings.TrimSpace(os.Getenv("USER"))
	if defaultUser == "" {
		defaultUser = "root"
	}

	userName := fs.String("user", defaultUser, "Run services as this Linux user")
	workDir := fs.String("workdir", "", "Working directory holding the .env file (defaults to cwd)")
	binary := fs.String("binary", "", "Path to the newswire binary (defaults to this executable)")
	envFile := fs.String("env-file", ".env", "Env file passed to both services, relative to --workdir")
	host := fs.String("host", "0.0.0.0", "Host interface for newswire serve")
	port := fs.Int("port", 8090, "Port for newswire serve")
	runNow := fs.Bool("run-now", false, "Run every scheduled job once when the scheduler starts")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "daemon install does not accept positional args")
		return 2
	}
	if err := validatePort(*port, "--port"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if strings.TrimSpace(*userName) == "" {
		fmt.Fprintln(os.Stderr, "--user must not be empty")
		return 2
	}

	opts, err := resolveUnitOptions(unitOptions{
		User:       strings.TrimSpace(*userName),
		WorkDir:    *workDir,
		Binary:     *binary,
		EnvFile:    *envFile,
		ServeHost:  *host,
		ServePort:  *port,
		RunNowOnUp: *runNow,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := requireRoot("install"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	units := map[string]string{
		daemonServeUnitName:    buildServeUnitFile(opts),
		daemonScheduleUnitName: buildScheduleUnitFile(opts),
	}
	for _, name := range daemonUnitNames {
		if err := writeUnitFile(name, units[name]); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", name, err)
			return 1
		}
	}
	if err := runSystemctl("daemon-reload"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reload systemd units: %v\n", err)
		return 1
	}

	enableArgs := append([]string{"enable"}, daemonUnitNames...)
	if err := runSystemctl(enableArgs...); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to enable services: %v\n", err)
		return 1
	}

	fmt.Printf("Installed %s and %s\n", daemonServeUnitName, daemonScheduleUnitName)
	fmt.Println("Services are enabled on boot. Run `newswire daemon start` to start them now.")
	return 0
}

func runDaemonUninstall(args []string) int {
	fs := flag.NewFlagSet("daemon uninstall", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "daemon uninstall does not accept positional args")
		return 2
	}
	if err := requireRoot("uninstall"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	stopArgs := append([]string{"stop"}, daemonUnitNames...)
	if err := runSystemctl(stopArgs...); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to stop one or more services: %v\n", err)
	}
	disableArgs := append([]string{"disable"}, daemonUnitNames...)
	if err := runSystemctl(disableArgs...); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to disable one or more services: %v\n", err)
	}

	for _, unitName := range daemonUnitNames {
		unitPath := filepath.Join(systemdUnitDir, unitName)
		if err := os.Remove(unitPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Failed to remove %s: %v\n", unitPath, err)
			return 1
		}
	}

	if err := runSystemctl("daemon-reload"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reload systemd units: %v\n", err)
		return 1
	}

	fmt.Printf("Removed %s and %s\n", daemonServeUnitName, daemonScheduleUnitName)
	return 0
}

func runDaemonServiceAction(action string, args []string, requireRootPrivileges bool) int {
	fs := flag.NewFlagSet("daemon "+action, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintf(os.Stderr, "daemon %s does not accept positional args\n", action)
		return 2
	}
	if requireRootPrivileges {
		if err := requireRoot(action); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}

	systemctlArgs := make([]string, 0, 2+len(daemonUnitNames))
	systemctlArgs = append(systemctlArgs, action)
	if action == "status" {
		systemctlArgs = append(systemctlArgs, "--no-pager")
	}
	systemctlArgs = append(systemctlArgs, daemonUnitNames...)

	if err := runSystemctl(systemctlArgs...); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to %s services: %v\n", action, err)
		return 1
	}
	return 0
}

func resolveUnitOptions(opts unitOptions) (unitOptions, error) {
	workDir := strings.TrimSpace(opts.WorkDir)
	if workDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return opts, fmt.Errorf("resolve working directory: %w", err)
		}
		workDir = cwd
	}
	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		return opts, fmt.Errorf("normalize path %q: %w", workDir, err)
	}
	if !isDir(absWorkDir) {
		return opts, fmt.Errorf("--workdir %q is not a directory", absWorkDir)
	}
	opts.WorkDir = absWorkDir

	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		exePath, err := os.Executable()
		if err != nil {
			return opts, fmt.Errorf("resolve executable: %w", err)
		}
		if resolved, err := filepath.EvalSymlinks(exePath); err == nil {
			exePath = resolved
		}
		binary = exePath
	}
	absBinary, err := filepath.Abs(binary)
	if err != nil {
		return opts, fmt.Errorf("normalize path %q: %w", binary, err)
	}
	opts.Binary = absBinary

	if strings.TrimSpace(opts.EnvFile) == "" {
		opts.EnvFile = ".env"
	}
	if strings.TrimSpace(opts.ServeHost) == "" {
		opts.ServeHost = "0.0.0.0"
	}
	return opts, nil
}

func validatePort(port int, flagName string) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535", flagName)
	}
	return nil
}

func requireRoot(action string) error {
	if os.Geteuid() == 0 {
		return nil
	}
	return fmt.Errorf("daemon %s requires root privileges; run with sudo: sudo newswire daemon %s", action, action)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func buildServeUnitFile(opts unitOptions) string {
	execStart := fmt.Sprintf("%s serve --env %s --host %s --port %s",
		opts.Binary, opts.EnvFile, opts.ServeHost, strconv.Itoa(opts.ServePort))
	return buildUnitFile("newswire HTTP API", "network.target postgresql.service", opts, execStart)
}

func buildScheduleUnitFile(opts unitOptions) string {
	execStart := fmt.Sprintf("%s schedule --env %s", opts.Binary, opts.EnvFile)
	if opts.RunNowOnUp {
		execStart += " --run-now"
	}
	return buildUnitFile("newswire ingestion scheduler", "network-online.target postgresql.service", opts, execStart)
}

func buildUnitFile(description, after string, opts unitOptions, execStart string) string {
	lines := []string{
		"[Unit]",
		"Description=" + description,
		"After=" + after,
		"",
		"[Service]",
		"Type=simple",
		"User=" + opts.User,
		"WorkingDirectory=" + opts.WorkDir,
		"ExecStart=" + execStart,
		"Restart=on-failure",
		"RestartSec=5",
		"KillSignal=SIGTERM",
		"TimeoutStopSec=120",
		"",
		"[Install]",
		"WantedBy=multi-user.target",
		"",
	}
	return strings.Join(lines, "\n")
}

func writeUnitFile(name, content string) error {
	unitPath := filepath.Join(systemdUnitDir, name)
	return os.WriteFile(unitPath, []byte(content), 0o644)
}

func runSystemctl(args ...string) error {
	cmd := exec.Command("systemctl", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemctl %s: %w", strings.Join(args, " "), err)
	}
	return nil
}
