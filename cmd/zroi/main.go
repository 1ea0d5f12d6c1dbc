// Command-line interface to zroi: serves ROI loads over HTTP, resolves ROI
// tables to voxel indices and runs the Fractal 2D to 3D migration tasks.

//go:generate go run ../gen-version -o version.go

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/fractal-analytics-platform/zroi/loader"
	"github.com/fractal-analytics-platform/zroi/ngff"
	"github.com/fractal-analytics-platform/zroi/roi"
	"github.com/fractal-analytics-platform/zroi/server"
	"github.com/fractal-analytics-platform/zroi/storage"
	"github.com/fractal-analytics-platform/zroi/tasks"
	"github.com/fractal-analytics-platform/zroi/zroi"
)

// gitVersion is set by a generated version.go.
var gitVersion = "unknown"

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// Address for http communication, overriding the TOML setting.
	httpAddress = flag.String("http", "", "")

	// TOML configuration giving store aliases for indices and task commands.
	configFile = flag.String("config", "", "")

	// Output format of the indices command.
	format = flag.String("format", "json", "")

	// Origin policy of the indices command.
	origin = flag.String("origin", "reset", "")

	// Target scale of the indices command.
	targetScale = flag.String("scale", "", "")
)

const helpMessage = `
zroi loads regions of interest from OME-Zarr images

Usage: zroi [options] <command>

      -http       =string   Address for HTTP communication (serve).
      -config     =string   TOML configuration with store aliases (indices, task).
      -format     =string   Output of indices: "json" (default) or "arrow".
      -origin     =string   Origin policy of indices: "reset" (default) or "absolute".
      -scale      =string   Target scale of indices, e.g. "1,0.65,0.65".
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands:

	about
	help
	serve   <config.toml>
	indices <image location> [<table name>] [<level>]
	task    <task name> <args.json or - for stdin>

Tasks:

%s`

var usage = func() {
	fmt.Printf(helpMessage, tasks.Help())
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}
	if *runVerbose {
		zroi.Verbose = true
		zroi.SetLogMode(zroi.DebugMode)
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}

	// Capture ctrl+c and other interrupts for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := zroi.Command(flag.Args())
	if err := DoCommand(ctx, command); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		zroi.Shutdown()
		os.Exit(1)
	}
	zroi.Shutdown()
}

// DoCommand serves as a switchboard for commands.
func DoCommand(ctx context.Context, cmd zroi.Command) error {
	switch cmd.Name() {
	case "about":
		fmt.Printf("zroi %s (%s, %s/%s)\n", gitVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Printf("OME-NGFF versions: %s, default ROI table: %s\n", ngff.SupportedVersionRange, loader.DefaultTable)
		return nil
	case "serve":
		return DoServe(ctx, cmd)
	case "indices":
		return DoIndices(ctx, cmd)
	case "task":
		return DoTask(ctx, cmd)
	}
	return fmt.Errorf("unknown command %q, see 'zroi help'", cmd.Name())
}

// DoServe loads the TOML configuration and serves the HTTP API until interrupted.
func DoServe(ctx context.Context, cmd zroi.Command) error {
	configPath := cmd.Argument(1)
	if configPath == "" {
		return fmt.Errorf("serve command must be followed by the path to the TOML configuration file")
	}
	config, err := server.LoadConfig(configPath)
	if err != nil {
		return err
	}
	config.SetHTTPAddress(*httpAddress)
	config.Logging.SetLogger()

	mgr, err := config.OpenServerStorage(ctx)
	if err != nil {
		return err
	}
	defer mgr.Close()
	lc, err := config.LoaderConfig()
	if err != nil {
		return err
	}
	zroi.Infof("zroi %s serving with %d cache entries, origin %s, default table %s\n",
		gitVersion, lc.CacheEntries, lc.Origin, lc.DefaultTable)
	return server.New(config, loader.New(loader.NewZarrReader(mgr), lc)).Serve(ctx)
}

// openStorage returns a storage manager with the stores of the -config file
// mounted, or an empty one.
func openStorage(ctx context.Context) (*storage.Manager, error) {
	if *configFile == "" {
		return storage.NewManager(0), nil
	}
	config, err := server.LoadConfig(*configFile)
	if err != nil {
		return nil, err
	}
	return config.OpenStorage(ctx)
}

// DoIndices prints the voxel index ranges of all ROIs of a table.
func DoIndices(ctx context.Context, cmd zroi.Command) error {
	location := cmd.Argument(1)
	if location == "" {
		return fmt.Errorf("indices command must be followed by an image location")
	}
	table, level := cmd.Argument(2), cmd.Argument(3)

	policy, err := roi.ParseOriginPolicy(*origin)
	if err != nil {
		return err
	}
	sel := loader.LevelSelector{Level: level}
	if sel.Target, err = zroi.ParseFloats(*targetScale, ","); err != nil {
		return err
	}
	mgr, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer mgr.Close()

	config := loader.DefaultConfig()
	config.Origin = policy
	l := loader.New(loader.NewZarrReader(mgr), config)
	ranges, err := l.ResolveTable(ctx, location, table, sel)
	if err != nil {
		return err
	}
	order, err := l.ROINames(ctx, location, table)
	if err != nil {
		return err
	}
	return writeIndices(os.Stdout, ranges, order, *format)
}

func writeIndices(w io.Writer, ranges map[string]roi.IndexRange, order []string, format string) error {
	switch format {
	case "arrow":
		return roi.WriteArrowIPC(w, ranges, order)
	case "json":
		type entry struct {
			Name  string         `json:"name"`
			Range roi.IndexRange `json:"range"`
		}
		entries := make([]entry, len(order))
		for i, name := range order {
			entries[i] = entry{Name: name, Range: ranges[name]}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	return fmt.Errorf("unknown output format %q, expected \"json\" or \"arrow\"", format)
}

// DoTask runs a Fractal task with JSON arguments read from a file or stdin and
// prints its JSON output.
func DoTask(ctx context.Context, cmd zroi.Command) error {
	name, argsPath := cmd.Argument(1), cmd.Argument(2)
	if name == "" || argsPath == "" {
		return fmt.Errorf("task command must be followed by a task name and a JSON arguments file")
	}
	var args []byte
	var err error
	if argsPath == "-" {
		args, err = io.ReadAll(os.Stdin)
	} else {
		args, err = os.ReadFile(argsPath)
	}
	if err != nil {
		return fmt.Errorf("reading task arguments: %v", err)
	}
	mgr, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer mgr.Close()

	out, err := tasks.Run(ctx, mgr, name, args)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
