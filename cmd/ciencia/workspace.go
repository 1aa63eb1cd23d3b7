package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jonathan/ciencia/internal/client"
	"github.com/jonathan/ciencia/internal/gateway"
	"github.com/jonathan/ciencia/internal/observability"
	"github.com/jonathan/ciencia/internal/workspace"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	workspaceServer string
	workspaceToken  string
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Interactive pipeline workspace",
	Long: `Open an interactive session against a running API server: select and edit
pipelines, generate scripts from descriptions, chat, and launch runs.
Type "help" at the prompt for the command list.`,
	RunE: runWorkspace,
}

func init() {
	workspaceCmd.Flags().StringVar(&workspaceServer, "server", "", "API base URL (overrides client.base_url)")
	workspaceCmd.Flags().StringVar(&workspaceToken, "token", "", "Bearer token (overrides client.token)")
	rootCmd.AddCommand(workspaceCmd)
}

func runWorkspace(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	baseURL, token := cfg.Client.BaseURL, cfg.Client.Token
	if workspaceServer != "" {
		baseURL = workspaceServer
	}
	if workspaceToken != "" {
		token = workspaceToken
	}

	api := client.New(baseURL, client.WithToken(token), client.WithTimeout(cfg.Client.Timeout))
	if err := api.Health(cmd.Context()); err != nil {
		return fmt.Errorf("server at %s is not reachable: %w", baseURL, err)
	}

	sh := newShell(api, cmd.OutOrStdout())
	return sh.run(cmd.Context(), cmd.InOrStdin())
}

// shell is the line-oriented front end of a workspace.Controller
type shell struct {
	ctrl    *workspace.Controller
	api     *client.Client
	out     io.Writer
	printer *observability.Printer
}

func newShell(api *client.Client, out io.Writer) *shell {
	return &shell{
		ctrl:    workspace.New(workspace.Deps{Store: api, Generator: api, Replier: api, Executor: api}),
		api:     api,
		out:     out,
		printer: observability.NewPrinter(out),
	}
}

func (s *shell) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		fmt.Fprint(s.out, "ciencia> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		quit, err := s.exec(ctx, scanner.Text())
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

const shellHelp = `Commands:
  projects                         list projects
  new-project NAME                 create a project
  pipelines PROJECT_ID             list a project's pipelines
  new-pipeline PROJECT_ID NAME     create a pipeline from the template
  select PIPELINE_ID | deselect    change the selection
  show                             print the state and the displayed script
  edit | draft FILE | save | cancel
  generate DESCRIPTION             generate a script preview
  save-as PROJECT_ID NAME          store the preview as a new pipeline
  chat MESSAGE                     ask the assistant
  review                           ask the assistant to check the displayed script
  run [KEY=VALUE ...] [@FILE.yaml] execute the selected pipeline
  runs                             list runs of the selected pipeline
  history                          print the conversation
  quit`

// exec runs one command line. quit is true when the session should end.
func (s *shell) exec(ctx context.Context, line string) (quit bool, err error) {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch cmd {
	case "":
		return false, nil
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(s.out, shellHelp)

	case "projects":
		projects, err := s.api.ListProjects(ctx)
		if err != nil {
			return false, err
		}
		for _, p := range projects {
			fmt.Fprintf(s.out, "%s  %s\n", p.ID, p.Name)
		}
	case "new-project":
		if rest == "" {
			return false, errors.New("usage: new-project NAME")
		}
		p, err := s.api.CreateProject(ctx, rest, "")
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "created project %s\n", p.ID)
	case "pipelines":
		id, err := argID(args, 0)
		if err != nil {
			return false, err
		}
		pipelines, err := s.api.ListPipelines(ctx, id)
		if err != nil {
			return false, err
		}
		for _, p := range pipelines {
			fmt.Fprintf(s.out, "%s  %s  v%d  %s\n", p.ID, p.Name, p.Version, p.Status)
		}
	case "new-pipeline":
		id, err := argID(args, 0)
		if err != nil || len(args) < 2 {
			return false, errors.New("usage: new-pipeline PROJECT_ID NAME")
		}
		p, err := s.api.CreatePipeline(ctx, id, strings.Join(args[1:], " "), "")
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "created pipeline %s\n", p.ID)

	case "select":
		id, err := argID(args, 0)
		if err != nil {
			return false, err
		}
		if err := s.ctrl.Select(ctx, id); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "selected %s\n", id)
	case "deselect":
		s.ctrl.Deselect()
	case "show":
		s.show()

	case "edit":
		return false, s.ctrl.BeginEdit()
	case "draft":
		if rest == "" {
			return false, errors.New("usage: draft FILE")
		}
		data, err := os.ReadFile(rest)
		if err != nil {
			return false, fmt.Errorf("failed to read draft: %w", err)
		}
		return false, s.ctrl.UpdateDraft(string(data))
	case "save":
		p, err := s.ctrl.Save(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "saved %s at version %d\n", p.Name, p.Version)
	case "cancel":
		return false, s.ctrl.Cancel()

	case "generate":
		res, err := s.ctrl.Generate(ctx, rest)
		if err != nil {
			return false, err
		}
		s.report(res.Outcome, res.Err)
		if res.Outcome == workspace.Applied {
			fmt.Fprintln(s.out, res.Script.Script)
			if res.Script.Explanation != "" {
				fmt.Fprintln(s.out, "--", res.Script.Explanation)
			}
		}
	case "save-as":
		id, err := argID(args, 0)
		if err != nil || len(args) < 2 {
			return false, errors.New("usage: save-as PROJECT_ID NAME")
		}
		p, err := s.ctrl.SaveGeneratedAs(ctx, id, strings.Join(args[1:], " "))
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "saved preview as pipeline %s\n", p.ID)
	case "chat":
		res, err := s.ctrl.Chat(ctx, rest)
		if err != nil {
			return false, err
		}
		s.report(res.Outcome, res.Err)
		if res.Outcome == workspace.Applied || res.Outcome == workspace.Stale {
			fmt.Fprintln(s.out, res.Reply)
		}
	case "run":
		params, err := parseParams(args)
		if err != nil {
			return false, err
		}
		res, err := s.ctrl.Execute(ctx, params)
		if err != nil {
			return false, err
		}
		s.report(res.Outcome, res.Err)
		if res.Accepted != nil {
			fmt.Fprintf(s.out, "run %s: %s %s\n", res.Accepted.RunID, res.Accepted.Status, res.Accepted.StatusMessage)
		}
	case "runs":
		p := s.ctrl.State().Selected()
		if p == nil {
			return false, workspace.ErrNoSelection
		}
		runs, err := s.api.ListRuns(ctx, p.ID)
		if err != nil {
			return false, err
		}
		s.printer.PrintRuns(runs)
	case "review":
		script := workspace.Displayed(s.ctrl.State())
		if script == "" {
			return false, errors.New("nothing to review")
		}
		review, err := s.api.Review(ctx, script)
		if err != nil {
			fmt.Fprintln(s.out, gateway.UserMessage(err))
			return false, nil
		}
		s.printer.PrintReview(review)
	case "history":
		s.printer.PrintConversation(s.ctrl.Conversation().Turns())

	default:
		return false, fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return false, nil
}

func (s *shell) show() {
	st := s.ctrl.State()
	s.printer.PrintWorkspace(workspace.Name(st), st.Selected())
	s.printer.PrintScript(workspace.Displayed(st))
}

func (s *shell) report(outcome workspace.Outcome, err error) {
	switch outcome {
	case workspace.Ignored:
		fmt.Fprintln(s.out, "nothing to send")
	case workspace.Failed:
		fmt.Fprintln(s.out, gateway.UserMessage(err))
	case workspace.Stale:
		fmt.Fprintln(s.out, "selection changed while the request was running; result not applied")
	}
}

func argID(args []string, i int) (uuid.UUID, error) {
	if len(args) <= i {
		return uuid.Nil, errors.New("missing id")
	}
	id, err := uuid.Parse(args[i])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q", args[i])
	}
	return id, nil
}

// parseParams reads KEY=VALUE pairs and @FILE YAML documents into run
// parameters. Values are typed as YAML scalars; anything YAML rejects stays a string.
func parseParams(args []string) (map[string]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	params := make(map[string]any)
	for _, arg := range args {
		if path, ok := strings.CutPrefix(arg, "@"); ok {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read params file: %w", err)
			}
			var doc map[string]any
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return nil, fmt.Errorf("failed to parse params file %s: %w", path, err)
			}
			for k, v := range doc {
				params[k] = v
			}
			continue
		}

		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, want KEY=VALUE", arg)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		params[key] = value
	}
	return params, nil
}
