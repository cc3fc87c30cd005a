package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ajramos/quickreply/internal/models"
	"github.com/ajramos/quickreply/internal/services"
	"github.com/ajramos/quickreply/internal/version"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	account    string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "quickreply",
		Short:         "Manage and send quick reply templates per account",
		Version:       version.GetVersionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to config file (default ~/.config/quickreply/config.yaml)")
	root.PersistentFlags().StringVarP(&flags.account, "account", "a", "", "Account to operate on (default from config)")

	root.AddCommand(
		newGroupsCmd(flags),
		newTemplatesCmd(flags),
		newExportCmd(flags),
		newImportCmd(flags),
		newClearCmd(flags),
		newShellCmd(flags),
		newVersionCmd(),
	)
	return root
}

// withApp opens the configured account for the duration of fn.
func withApp(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, flags.configPath, flags.account, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	return errors.Join(runErr, a.Close(ctx))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetDetailedVersionString())
		},
	}
}

func newGroupsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "groups", Short: "Manage template groups"}

	var parent string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				groups, err := a.ctrl.Groups()
				if err != nil {
					return err
				}
				g, err := groups.CreateGroup(ctx, args[0], parent)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render("created"), g.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&parent, "parent", "", "Parent group ID")

	list := &cobra.Command{
		Use:   "list",
		Short: "Show the group tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				data, err := a.ctrl.CurrentData(ctx)
				if err != nil {
					return err
				}
				renderGroups(cmd.OutOrStdout(), data.Groups, data.Templates)
				return nil
			})
		},
	}

	rename := &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				groups, err := a.ctrl.Groups()
				if err != nil {
					return err
				}
				_, err = groups.RenameGroup(ctx, args[0], args[1])
				return err
			})
		},
	}

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a group, its subgroups and their templates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				groups, err := a.ctrl.Groups()
				if err != nil {
					return err
				}
				res, err := groups.DeleteGroup(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d group(s), %d template(s)\n",
					okStyle.Render("deleted"), len(res.GroupIDs), len(res.TemplateIDs))
				return nil
			})
		},
	}

	cmd.AddCommand(add, list, rename, rm)
	return cmd
}

type templateFlags struct {
	group        string
	kind         string
	label        string
	text         string
	media        string
	caption      string
	contactName  string
	contactPhone string
	contactEmail string
	contactNote  string
}

func (f *templateFlags) input(media *services.MediaStore) (services.TemplateInput, error) {
	in := services.TemplateInput{
		GroupID: f.group,
		Kind:    models.ContentKind(f.kind),
		Label:   f.label,
		Content: models.Content{Text: f.text, Caption: f.caption},
	}
	if f.contactName != "" || f.contactPhone != "" {
		in.Content.Contact = &models.Contact{
			Name:  f.contactName,
			Phone: f.contactPhone,
			Email: f.contactEmail,
			Note:  f.contactNote,
		}
	}
	if f.media != "" {
		ref, err := media.Import(expandPath(f.media))
		if err != nil {
			return in, fmt.Errorf("failed to import media: %w", err)
		}
		in.Content.MediaPath = ref
	}
	return in, nil
}

func newTemplatesCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "templates", Aliases: []string{"t"}, Short: "Manage and send templates"}

	tf := &templateFlags{}
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				media, err := a.ctrl.Media()
				if err != nil {
					return err
				}
				in, err := tf.input(media)
				if err != nil {
					return err
				}
				templates, err := a.ctrl.Templates()
				if err != nil {
					return err
				}
				t, err := templates.CreateTemplate(ctx, in)
				if err != nil {
					if in.Content.MediaPath != "" {
						_ = media.Delete(in.Content.MediaPath)
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render("created"), t.ID)
				return nil
			})
		},
	}
	add.Flags().StringVarP(&tf.group, "group", "g", "", "Group ID")
	add.Flags().StringVar(&tf.kind, "type", string(models.KindText), "Content type: text, image, audio, video, mixed, contact")
	add.Flags().StringVarP(&tf.label, "label", "l", "", "Template label")
	add.Flags().StringVar(&tf.text, "text", "", "Message text")
	add.Flags().StringVar(&tf.media, "media", "", "Media file to attach")
	add.Flags().StringVar(&tf.caption, "caption", "", "Media caption")
	add.Flags().StringVar(&tf.contactName, "contact-name", "", "Contact name")
	add.Flags().StringVar(&tf.contactPhone, "contact-phone", "", "Contact phone")
	add.Flags().StringVar(&tf.contactEmail, "contact-email", "", "Contact email")
	add.Flags().StringVar(&tf.contactNote, "contact-note", "", "Contact note")
	_ = add.MarkFlagRequired("group")
	_ = add.MarkFlagRequired("label")

	var groupFilter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				data, err := a.ctrl.CurrentData(ctx)
				if err != nil {
					return err
				}
				items := data.Templates
				if groupFilter != "" {
					templates, err := a.ctrl.Templates()
					if err != nil {
						return err
					}
					if items, err = templates.ListByGroup(ctx, groupFilter); err != nil {
						return err
					}
				}
				renderTemplates(cmd.OutOrStdout(), items, groupNames(data.Groups))
				return nil
			})
		},
	}
	list.Flags().StringVarP(&groupFilter, "group", "g", "", "Only list templates in this group")

	search := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Search templates by label and content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				return runSearch(ctx, cmd.OutOrStdout(), a, args[0])
			})
		},
	}

	rm := &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete templates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				templates, err := a.ctrl.Templates()
				if err != nil {
					return err
				}
				n, err := templates.BatchDeleteTemplates(ctx, args)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d template(s)\n", okStyle.Render("deleted"), n)
				return nil
			})
		},
	}

	var sendOpts struct {
		translate bool
		language  string
		style     string
	}
	send := &cobra.Command{
		Use:   "send <id>",
		Short: "Send a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				opts := services.SendOptions{TargetLanguage: sendOpts.language, Style: sendOpts.style}
				if sendOpts.translate {
					opts.Mode = models.SendModeTranslated
				}
				return a.ctrl.SendTemplate(ctx, args[0], opts)
			})
		},
	}
	send.Flags().BoolVar(&sendOpts.translate, "translate", false, "Translate text before sending")
	send.Flags().StringVar(&sendOpts.language, "lang", "", "Target language (default from account config)")
	send.Flags().StringVar(&sendOpts.style, "style", "", "Translation style (default from account config)")

	insert := &cobra.Command{
		Use:   "insert <id>",
		Short: "Insert a template's text into the input field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				return a.ctrl.InsertTemplate(ctx, args[0])
			})
		},
	}

	move := &cobra.Command{
		Use:   "mv <id> <group-id>",
		Short: "Move a template to another group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				templates, err := a.ctrl.Templates()
				if err != nil {
					return err
				}
				_, err = templates.MoveTemplate(ctx, args[0], args[1])
				return err
			})
		},
	}

	cmd.AddCommand(add, list, search, rm, send, insert, move)
	return cmd
}

func runSearch(ctx context.Context, w io.Writer, a *app, keyword string) error {
	found, err := a.ctrl.SearchTemplates(ctx, keyword)
	if err != nil {
		return err
	}
	data, err := a.ctrl.CurrentData(ctx)
	if err != nil {
		return err
	}
	renderTemplates(w, found, groupNames(data.Groups))
	return nil
}

func groupNames(groups []models.Group) map[string]string {
	names := make(map[string]string, len(groups))
	for _, g := range groups {
		names[g.ID] = g.Name
	}
	return names
}

func newExportCmd(flags *globalFlags) *cobra.Command {
	var (
		out        string
		format     string
		recipients []string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the account's groups, templates and media as a bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				w := cmd.OutOrStdout()
				if out != "" && out != "-" {
					f, err := os.OpenFile(expandPath(out), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
					if err != nil {
						return fmt.Errorf("failed to create %s: %w", out, err)
					}
					defer f.Close()
					w = f
				}
				b, err := a.ctrl.ExportBundle(ctx, w, services.BundleOptions{
					Format:     services.BundleFormat(format),
					Recipients: recipients,
				})
				if err != nil {
					return err
				}
				if w != cmd.OutOrStdout() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %d group(s), %d template(s), %d media file(s)\n",
						okStyle.Render("exported"), len(b.Groups), len(b.Templates), len(b.Media))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "Output file (default stdout)")
	cmd.Flags().StringVar(&format, "format", string(services.BundleJSON), "Bundle format: json or yaml")
	cmd.Flags().StringArrayVarP(&recipients, "recipient", "r", nil, "Encrypt to this age recipient (repeatable)")
	return cmd
}

func newImportCmd(flags *globalFlags) *cobra.Command {
	var identityFile string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a bundle into the account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts services.BundleOptions
			if identityFile != "" {
				ids, err := readIdentities(expandPath(identityFile))
				if err != nil {
					return err
				}
				opts.Identities = ids
			}

			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(expandPath(args[0]))
				if err != nil {
					return fmt.Errorf("failed to open bundle: %w", err)
				}
				defer f.Close()
				r = f
			}

			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				res, err := a.ctrl.ImportBundle(ctx, r, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d group(s), %d template(s), %d media file(s)\n",
					okStyle.Render("imported"), res.Groups, res.Templates, res.Media)
				if res.Skipped > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %d template(s) without a group\n", warnStyle.Render("skipped"), res.Skipped)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&identityFile, "identity", "i", "", "age identity file for encrypted bundles")
	return cmd
}

// readIdentities reads age secret keys, one per line; blank lines and
// # comments are ignored.
func readIdentities(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity file: %w", err)
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no identities in %s", path)
	}
	return ids, nil
}

func newClearCmd(flags *globalFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every group, template and media file of the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear account data without --yes")
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				if err := a.ctrl.ClearAccountData(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render("cleared"), a.ctrl.AccountID())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}
