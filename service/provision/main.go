package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"genai/airbyte"
	"genai/controller/provisioning"
	"genai/lib/data_integration"
	"genai/lib/tracer"

	"github.com/alexflint/go-arg"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ProvisionArgs struct {
	tracer.TracerArgs

	Config           string `arg:"--config,env:CONFIG_PATH,required" help:"path to the airbyte json config"`
	Parallel         bool   `arg:"--parallel,env:PARALLEL" help:"create the source and the destination concurrently"`
	ListSources      bool   `arg:"--list-sources" help:"list the source connector definitions and exit"`
	ListDestinations bool   `arg:"--list-destinations" help:"list the destination connector definitions and exit"`
	Dev              bool   `arg:"--dev,env:DEV" help:"human readable debug logs"`
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	return config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	)
}

func run(ctx context.Context, args ProvisionArgs, fs afero.Fs, out io.Writer, logger *zap.Logger) error {
	cfg, err := data_integration.LoadConfig(fs, args.Config)
	if err != nil {
		return err
	}
	o, err := provisioning.New(cfg, provisioning.Params{
		Logger:   logger,
		Parallel: args.Parallel,
	})
	if err != nil {
		return err
	}

	if args.ListSources || args.ListDestinations {
		if args.ListSources {
			defs, err := o.ListSourceDefinitions(ctx)
			if err != nil {
				return err
			}
			printDefinitions(out, "Source definitions", defs)
		}
		if args.ListDestinations {
			defs, err := o.ListDestinationDefinitions(ctx)
			if err != nil {
				return err
			}
			printDefinitions(out, "Destination definitions", defs)
		}
		return nil
	}

	res, err := o.Run(ctx)
	if err != nil {
		return err
	}
	if res.WorkspaceCreated {
		fmt.Fprintf(out, "Created Workspace - %s\n", res.WorkspaceID)
	}
	fmt.Fprintf(out, "Connection was created - %s\n", res.ConnectionID)
	return nil
}

func printDefinitions(out io.Writer, title string, defs []airbyte.Definition) {
	sort.SliceStable(defs, func(i, j int) bool {
		return defs[i].Name < defs[j].Name
	})
	rows := lo.Map(defs, func(d airbyte.Definition, _ int) string {
		return fmt.Sprintf("%s\t%s\t%s", d.Name, d.ID(), d.Image())
	})
	fmt.Fprintf(out, "%s (%d)\n", title, len(rows))
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintln(w, row)
	}
	_ = w.Flush()
}

func main() {
	var args ProvisionArgs
	arg.MustParse(&args)

	logger, err := newLogger(args.Dev)
	if err != nil {
		panic(fmt.Errorf("failed to construct logger: %v", err))
	}
	_ = zap.ReplaceGlobals(logger)

	if err := start(args, logger); err != nil {
		logger.Error("provisioning failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func start(args ProvisionArgs, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if args.OtlpEndpoint != "" {
		shutdown, err := tracer.InitProvider(ctx, args.OtlpEndpoint)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("failed to flush traces", zap.Error(err))
			}
		}()
	}
	return run(ctx, args, afero.NewOsFs(), os.Stdout, logger)
}
