package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"

	"pagepress/internal/config"
	"pagepress/internal/export"
	"pagepress/internal/render"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type renderer interface {
	Render(ctx context.Context, req render.Request) ([]byte, error)
}

type options struct {
	out       string
	wait      string
	token     string
	landscape bool
	chrome    string
	timeout   time.Duration
	remote    string
}

func main() {
	_, _ = maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {}))
	os.Exit(run(os.Args, os.Stderr, func(cfg config.RenderConfig) renderer {
		return render.New(cfg)
	}))
}

func parseFlags(args []string, stderr io.Writer) (*options, string, error) {
	var o options
	fs := flag.NewFlagSet("pagepress-print", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: pagepress-print [flags] <url>")
		fs.PrintDefaults()
	}

	fs.StringVarP(&o.out, "out", "o", export.DefaultFileName, "output file")
	fs.StringVarP(&o.wait, "wait", "w", "", "CSS class to wait for before printing")
	fs.StringVarP(&o.token, "token", "t", "", "Authorization header value sent with every request")
	fs.BoolVar(&o.landscape, "landscape", false, "landscape orientation")
	fs.StringVar(&o.chrome, "chrome", os.Getenv("CHROME_BIN"), "browser executable")
	fs.StringVar(&o.remote, "remote", "", "devtools websocket URL of a running browser")
	fs.DurationVar(&o.timeout, "wait-timeout", config.DefaultWaitTimeout, "how long to wait for --wait")

	if err := fs.Parse(args[1:]); err != nil {
		return nil, "", err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, "", errors.New("exactly one URL is required")
	}
	return &o, fs.Arg(0), nil
}

// run renders one URL to a local file and returns the process exit code.
func run(args []string, stderr io.Writer, newRenderer func(config.RenderConfig) renderer) int {
	o, url, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	cfg := config.DefaultRenderConfig()
	cfg.ChromePath = o.chrome
	cfg.RemoteURL = o.remote
	cfg.WaitTimeout = o.timeout

	req := render.Request{URL: url, Wait: o.wait, AuthToken: o.token}
	if o.landscape {
		req.Options = render.PrintOptions{"landscape": true}
	}

	pdf, err := newRenderer(cfg).Render(context.Background(), req)
	if err != nil {
		fmt.Fprintf(stderr, "render %s: %v\n", url, err)
		return exitError
	}
	if err := export.SaveLocal(pdf, o.out); err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	fmt.Fprintf(stderr, "wrote %s (%d bytes)\n", o.out, len(pdf))
	return exitOK
}
