package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/logrusorgru/aurora"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/box-builder/lhex"
	"github.com/box-builder/lhex/listing"
)

const version = "0.1.0"

// exitPipelineFailed is returned when any stage of the run fails.
const exitPipelineFailed = 2

var goos = runtime.GOOS

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(hoistFlags(app, os.Args)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "lhex"
	app.Usage = "extract libhoudini from the latest Windows Subsystem for Android package"
	app.UsageText = "lhex <output directory> [options]"
	app.Version = version
	app.Writer = stdout
	app.ErrWriter = stderr

	defaults := lhex.DefaultConfig()

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "endpoint",
			Usage:  "package listing endpoint",
			EnvVar: "LHEX_ENDPOINT",
			Value:  listing.DefaultEndpoint,
		},
		cli.StringFlag{
			Name:   "product",
			Usage:  "store product id to look up",
			EnvVar: "LHEX_PRODUCT",
			Value:  listing.New().Query,
		},
		cli.StringFlag{
			Name:   "ring",
			Usage:  "release ring (Fast, Slow, RP, Retail)",
			EnvVar: "LHEX_RING",
			Value:  listing.RingRetail,
		},
		cli.StringFlag{
			Name:   "channel",
			Usage:  "release channel of the msix inside the bundle",
			EnvVar: "LHEX_CHANNEL",
			Value:  defaults.Channel,
		},
		cli.StringFlag{
			Name:   "hash",
			Usage:  "checksum algorithm of the listing (sha1, sha256, sha384, sha512)",
			EnvVar: "LHEX_HASH",
			Value:  string(defaults.Algorithm),
		},
		cli.StringFlag{
			Name:   "workdir",
			Usage:  "directory the temporary workspace is created in",
			EnvVar: "LHEX_WORKDIR",
		},
		cli.StringFlag{
			Name:   "tar",
			Usage:  "archive extractor (must handle zip based msix files)",
			EnvVar: "LHEX_TAR",
			Value:  defaults.Tar,
		},
		cli.StringFlag{
			Name:   "sudo",
			Usage:  "command used to run mount, chmod and umount; empty to run them directly",
			EnvVar: "LHEX_SUDO",
			Value:  strings.Join(defaults.Escalate, " "),
		},
		cli.BoolFlag{
			Name:   "debug",
			Usage:  "log every command that is run",
			EnvVar: "LHEX_DEBUG",
		},
	}

	app.Action = run

	return app
}

// hoistFlags moves options given after the output directory in front of it;
// the flag parser stops at the first positional argument.
func hoistFlags(app *cli.App, args []string) []string {
	if len(args) == 0 {
		return args
	}

	boolean := map[string]bool{}
	for _, f := range append([]cli.Flag{cli.HelpFlag, cli.VersionFlag}, app.Flags...) {
		if _, ok := f.(cli.BoolFlag); !ok {
			continue
		}
		for _, name := range strings.Split(f.GetName(), ",") {
			boolean[strings.TrimSpace(name)] = true
		}
	}

	var flags, positional []string
	terminated := false
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		a := rest[i]
		switch {
		case a == "--":
			terminated = true
			positional = append(positional, rest[i+1:]...)
			i = len(rest)
		case len(a) > 1 && strings.HasPrefix(a, "-"):
			flags = append(flags, a)
			name := strings.TrimLeft(a, "-")
			if strings.Contains(name, "=") || boolean[name] {
				continue
			}
			if i+1 < len(rest) {
				i++
				flags = append(flags, rest[i])
			}
		default:
			positional = append(positional, a)
		}
	}

	out := append([]string{args[0]}, flags...)
	if terminated {
		out = append(out, "--")
	}
	return append(out, positional...)
}

func colors(w io.Writer) aurora.Aurora {
	f, ok := w.(*os.File)
	return aurora.NewAurora(ok && isatty.IsTerminal(f.Fd()))
}

func newLogger(ctx *cli.Context) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(ctx.App.ErrWriter)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if ctx.Bool("debug") {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func configFromFlags(ctx *cli.Context) (lhex.Config, error) {
	cfg := lhex.DefaultConfig()
	cfg.BaseDir = ctx.String("workdir")
	cfg.Channel = ctx.String("channel")
	cfg.Algorithm = lhex.Algorithm(strings.ToLower(ctx.String("hash")))
	cfg.Tar = ctx.String("tar")
	cfg.Escalate = strings.Fields(ctx.String("sudo"))

	return cfg, cfg.Validate()
}

func run(ctx *cli.Context) error {
	au := colors(ctx.App.Writer)

	if ctx.NArg() != 1 {
		cli.ShowAppHelp(ctx)
		return cli.NewExitError("", 1)
	}

	if goos != "linux" {
		return cli.NewExitError(fmt.Sprintf("%s: lhex only works on Linux", au.Red("Error")), 1)
	}

	cfg, err := configFromFlags(ctx)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("%s: %v", au.Red("Error"), err), 1)
	}

	log := newLogger(ctx)

	resolver := listing.New()
	resolver.Endpoint = ctx.String("endpoint")
	resolver.Query = ctx.String("product")
	resolver.Ring = ctx.String("ring")

	runner := &lhex.ExecRunner{Stdin: os.Stdin, Log: log}
	pipeline := lhex.NewPipeline(cfg, resolver, lhex.NewHTTPDownloader(log), runner, log)
	pipeline.Resolved = func(meta *lhex.PackageMetadata) {
		out := ctx.App.Writer
		fmt.Fprintf(out, "\n  %s: %s\n", au.Green("URL"), meta.URL)
		fmt.Fprintf(out, "  %s: %s\n", au.Green("Filename"), meta.Filename)
		fmt.Fprintf(out, "  %s: %s\n", au.Green("Checksum"), meta.Checksum)
		fmt.Fprintf(out, "  %s: %s\n\n", au.Green("Version"), meta.Version)
	}

	outputDir := ctx.Args().First()
	if err := pipeline.Run(context.Background(), outputDir); err != nil {
		return cli.NewExitError(diagnose(au, err), exitPipelineFailed)
	}

	fmt.Fprintf(ctx.App.Writer, "%s output directory: %s\n", au.Bold(au.Cyan("Success!")), au.Bold(outputDir))
	return nil
}

func diagnose(au aurora.Aurora, err error) string {
	var pe *lhex.PipelineError
	if !errors.As(err, &pe) {
		return fmt.Sprintf("%s: %v", au.Red("Error"), err)
	}

	msg := fmt.Sprintf("%s: %s stage failed: %v", au.Red("Error"), pe.Stage, pe.Err)
	switch {
	case pe.Stage == lhex.StageResolve || pe.Stage == lhex.StageConfig || pe.Stage == lhex.StageWorkspace:
		// nothing was created yet
	case pe.Cleanup != nil:
		msg += fmt.Sprintf("\n%s: cleanup failed: %v", au.Red("Error"), pe.Cleanup)
	case pe.Stage != lhex.StageCleanup:
		msg += "\nCleaned up workspace."
	}

	return msg
}
