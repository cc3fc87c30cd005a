package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ajramos/quickreply/internal/models"
	"github.com/ajramos/quickreply/internal/services"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shellHelp = `Commands:
  accounts               list open accounts
  switch <account>       switch to another account
  groups                 show the group tree
  list                   list templates
  search <keyword>       search templates
  send <id>              send a template
  insert <id>            insert a template into the input field
  mode original|translated
  help
  quit`

func newShellCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session with account switching",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				stop := a.serveMetrics()
				defer stop()
				return runShell(ctx, a, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
}

// serveMetrics starts the Prometheus endpoint when enabled and returns a
// function that shuts it down.
func (a *app) serveMetrics() func() {
	if !a.cfg.Metrics.Enabled {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	a.logger.Info("metrics server listening", zap.String("addr", a.cfg.Metrics.Addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func runShell(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	unsubscribe := a.reg.Events().Subscribe(func(ev services.Event) {
		switch e := ev.(type) {
		case services.SwitchedEvent:
			fmt.Fprintf(out, "%s %s -> %s\n", okStyle.Render("switched"), e.From, e.To)
		case services.FirstUseEvent:
			fmt.Fprintf(out, "%s %s\n", dimStyle.Render("new account"), e.AccountID)
		case services.SwitchErrorEvent:
			fmt.Fprintf(out, "%s %v\n", warnStyle.Render("switch failed"), e.Err)
		}
	})
	defer unsubscribe()

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "%s ", headerStyle.Render(fmt.Sprintf("quickreply(%s)>", a.ctrl.AccountID())))
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, arg := fields[0], strings.Join(fields[1:], " ")
		if cmd == "quit" || cmd == "exit" {
			return nil
		}
		if err := shellCommand(ctx, a, out, cmd, arg); err != nil {
			fmt.Fprintf(out, "%s %v\n", warnStyle.Render("error:"), err)
		}
	}
}

func shellCommand(ctx context.Context, a *app, out io.Writer, cmd, arg string) error {
	switch cmd {
	case "help":
		fmt.Fprintln(out, shellHelp)
	case "accounts":
		for _, id := range a.reg.Accounts() {
			fmt.Fprintln(out, id)
		}
	case "switch":
		if arg == "" {
			return errors.New("usage: switch <account>")
		}
		return a.reg.Switch(ctx, a.ctrl.AccountID(), arg, nil)
	case "groups":
		data, err := a.ctrl.CurrentData(ctx)
		if err != nil {
			return err
		}
		renderGroups(out, data.Groups, data.Templates)
	case "list":
		data, err := a.ctrl.CurrentData(ctx)
		if err != nil {
			return err
		}
		renderTemplates(out, data.Templates, groupNames(data.Groups))
	case "search":
		return runSearch(ctx, out, a, arg)
	case "send":
		return a.ctrl.SendTemplate(ctx, arg, services.SendOptions{})
	case "insert":
		return a.ctrl.InsertTemplate(ctx, arg)
	case "mode":
		ui := a.ctrl.UIState()
		ui.SendMode = models.SendMode(arg)
		return a.ctrl.SetUIState(ui)
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return nil
}
