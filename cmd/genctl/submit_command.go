package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"genstudio/internal/bootstrap"
	"genstudio/internal/domain"
	"genstudio/internal/generation"
)

type submitOptions struct {
	kind       string
	prompt     string
	negative   string
	refs       []string
	aspect     string
	action     string
	parent     string
	origin     string
	user       string
	persona    string
	locale     string
	wait       bool
	jsonOutput bool
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var opts submitOptions
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a generation task and follow it until it settles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := domain.ParseKind(opts.kind)
			if !ok {
				return fmt.Errorf("unsupported kind %q", opts.kind)
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.logger(cmd.ErrOrStderr())

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stack, err := bootstrap.Build(runCtx, cfg, logger)
			if err != nil {
				return err
			}
			defer stack.Close()
			orch, err := stack.NewOrchestrator()
			if err != nil {
				return err
			}
			defer orch.Wait()
			defer orch.TeardownAll()

			req := domain.GenerationRequest{
				Kind: kind,
				Payload: domain.Payload{
					Prompt:         opts.prompt,
					NegativePrompt: opts.negative,
					ReferenceURLs:  opts.refs,
					AspectRatio:    opts.aspect,
					Action:         opts.action,
					ParentTaskID:   opts.parent,
					OriginPrompt:   opts.origin,
				},
				Owner: domain.OwnerContext{
					UserID:    opts.user,
					PersonaID: opts.persona,
					Locale:    opts.locale,
				},
			}
			printer := eventPrinter{cmd: cmd, json: opts.jsonOutput}
			var listeners []generation.Listener
			if opts.wait {
				listeners = append(listeners, printer.print)
			}
			h, err := orch.Submit(runCtx, req, listeners...)
			if err != nil {
				return err
			}
			if !opts.wait {
				printer.print(generation.Event{Task: h.Snapshot()})
				return nil
			}

			select {
			case <-h.Done():
			case <-runCtx.Done():
				n := orch.TeardownAll()
				orch.Wait()
				<-h.Done()
				fmt.Fprintf(cmd.ErrOrStderr(), "interrupted, stopped tracking %d task(s); the provider may still finish them\n", n)
				return context.Canceled
			}
			final := h.Snapshot()
			if final.Status != domain.StatusCompleted {
				if final.Error != nil {
					return final.Error
				}
				return fmt.Errorf("task ended as %s", final.Status)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.kind, "kind", "k", string(domain.KindImage), "Generation kind: "+kindNames())
	flags.StringVarP(&opts.prompt, "prompt", "p", "", "Prompt text")
	flags.StringVar(&opts.negative, "negative", "", "Negative prompt")
	flags.StringSliceVar(&opts.refs, "ref", nil, "Reference image URL (repeatable)")
	flags.StringVar(&opts.aspect, "aspect", "", "Aspect ratio such as 1:1 or 16:9")
	flags.StringVar(&opts.action, "action", "", "Action name for --kind action (upscale, variation...)")
	flags.StringVar(&opts.parent, "parent", "", "Parent task id for --kind action")
	flags.StringVar(&opts.origin, "origin-prompt", "", "Prompt of the parent result for --kind action")
	flags.StringVar(&opts.user, "user", "genctl", "Owner user id")
	flags.StringVar(&opts.persona, "persona", "", "Owner persona id")
	flags.StringVar(&opts.locale, "locale", "", "Owner locale")
	flags.BoolVar(&opts.wait, "wait", true, "Follow the task until it settles")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Print events as JSON lines")
	return cmd
}

func kindNames() string {
	names := make([]string, 0, len(domain.Kinds))
	for _, k := range domain.Kinds {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

type eventPrinter struct {
	cmd  *cobra.Command
	json bool
}

func (p eventPrinter) print(ev generation.Event) {
	out := p.cmd.OutOrStdout()
	if p.json {
		data, err := json.Marshal(ev)
		if err == nil {
			fmt.Fprintln(out, string(data))
		}
		return
	}
	t := ev.Task
	line := fmt.Sprintf("%s %s", t.Key(), t.Status)
	if t.Error != nil {
		line += ": " + t.Error.Error()
	}
	fmt.Fprintln(out, line)
	for _, u := range t.ResultURLs {
		fmt.Fprintf(out, "  %s\n", u)
	}
	if ev.Notice != nil {
		fmt.Fprintf(out, "  warning: %s\n", ev.Notice.Error())
	}
}
