package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/maneesh/studyfolders/internal/app"
	"github.com/maneesh/studyfolders/internal/config"
	"github.com/maneesh/studyfolders/internal/logging"
	"github.com/maneesh/studyfolders/internal/models"
	"github.com/spf13/cobra"
)

// opener builds the application graph; tests replace it.
type opener func(ctx context.Context) (*app.App, error)

func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: "console"}); err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand(openApp)
	err := rootCmd.ExecuteContext(ctx)
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "studyfolders: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "studyfolders",
		Short: "Operate storage locations, entity folders and entity codes",
		Long: `studyfolders manages the storage locations that hold program, study and assay folders,
provisions and repairs those folders, issues sequential entity codes and browses remote folder trees.
Connection settings are read from the same environment variables as the server.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newLocationsCmd(open),
		newFolderCmd("provision", "Create the entity's folder on the default location and record it", open),
		newFolderCmd("repair", "Reconcile the entity's folder record with the remote folder", open),
		newCodeCmd(open),
		newBrowseCmd(open),
	)
	return cmd
}

// withApp opens the application for the duration of fn.
func withApp(cmd *cobra.Command, open opener, fn func(a *app.App) error) error {
	a, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newLocationsCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locations",
		Short: "Manage storage locations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List active storage locations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, open, func(a *app.App) error {
					return printJSON(cmd.OutOrStdout(), a.Registry.All())
				})
			},
		},
		newLocationsAddCmd(open),
		&cobra.Command{
			Use:   "set-default ID",
			Short: "Make a location the default for new studies",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return withApp(cmd, open, func(a *app.App) error {
					if err := a.Locations.SetDefault(cmd.Context(), id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "location %d is now the default study location\n", id)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "deactivate ID",
			Short: "Hide a location from the registry; existing folder records keep pointing at it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return withApp(cmd, open, func(a *app.App) error {
					if err := a.Locations.Deactivate(cmd.Context(), id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "location %d deactivated\n", id)
					return nil
				})
			},
		},
	)
	return cmd
}

type locationFlags struct {
	name          string
	typ           string
	root          string
	credentialRef string
	isDefault     bool
	config        string
}

func (f locationFlags) location() (*models.FileStorageLocation, error) {
	typ, err := models.ParseLocationType(f.typ)
	if err != nil {
		return nil, err
	}
	loc := &models.FileStorageLocation{
		Name:              f.name,
		Type:              typ,
		RootAddress:       f.root,
		CredentialRef:     f.credentialRef,
		DefaultForStudies: f.isDefault,
	}
	if f.config != "" {
		if !json.Valid([]byte(f.config)) {
			return nil, fmt.Errorf("--config is not valid JSON")
		}
		loc.Config = json.RawMessage(f.config)
	}
	return loc, nil
}

func newLocationsAddCmd(open opener) *cobra.Command {
	var f locationFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a storage location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := f.location()
			if err != nil {
				return err
			}
			return withApp(cmd, open, func(a *app.App) error {
				if _, err := a.Adapters.ForLocation(loc); err != nil {
					return err
				}
				if err := a.Locations.Create(cmd.Context(), loc); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), loc)
			})
		},
	}
	cmd.Flags().StringVar(&f.name, "name", "", "Display name")
	cmd.Flags().StringVar(&f.typ, "type", "", "Backend type: LOCAL, OBJECT_STORE, AWS_S3 or ENTERPRISE_SYNC")
	cmd.Flags().StringVar(&f.root, "root", "", "Root address: directory, bucket[/prefix] or tenant URL")
	cmd.Flags().StringVar(&f.credentialRef, "credential-ref", "", "Credential reference resolved from <REF>_ACCESS_KEY, <REF>_SECRET_KEY and <REF>_TOKEN")
	cmd.Flags().BoolVar(&f.isDefault, "default", false, "Make this the default study location")
	cmd.Flags().StringVar(&f.config, "config", "", "Backend settings as JSON, e.g. {\"endpoint\":\"minio:9000\"}")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("root")
	return cmd
}

// entityFlags describe a program, study or assay well enough to derive its folder.
type entityFlags struct {
	id           int64
	code         string
	name         string
	programCode  string
	programName  string
	studyCode    string
	studyName    string
	collaborator string
}

func (f *entityFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.id, "id", 0, "Entity id")
	cmd.Flags().StringVar(&f.code, "code", "", "Entity code")
	cmd.Flags().StringVar(&f.name, "name", "", "Entity name")
	cmd.Flags().StringVar(&f.programCode, "program-code", "", "Program code")
	cmd.Flags().StringVar(&f.programName, "program-name", "", "Program name")
	cmd.Flags().StringVar(&f.studyCode, "study-code", "", "Study code")
	cmd.Flags().StringVar(&f.studyName, "study-name", "", "Study name")
	cmd.Flags().StringVar(&f.collaborator, "collaborator", "", "Collaborator code for external study codes")
}

func (f *entityFlags) program() *models.Program {
	return &models.Program{ID: f.id, Code: f.code, Name: f.name, Active: true}
}

func (f *entityFlags) study() *models.Study {
	s := &models.Study{ID: f.id, Code: f.code, Name: f.name, Active: true,
		Program: &models.Program{Code: f.programCode, Name: f.programName, Active: true}}
	if f.collaborator != "" {
		s.Collaborator = &models.Collaborator{Code: f.collaborator}
	}
	return s
}

func (f *entityFlags) assay() *models.Assay {
	return &models.Assay{ID: f.id, Code: f.code, Name: f.name, Active: true,
		Study: &models.Study{Code: f.studyCode, Name: f.studyName, Active: true,
			Program: &models.Program{Code: f.programCode, Name: f.programName, Active: true}}}
}

func (f *entityFlags) entity(kind models.OwnerKind) any {
	switch kind {
	case models.OwnerProgram:
		return f.program()
	case models.OwnerStudy:
		return f.study()
	default:
		return f.assay()
	}
}

// newFolderCmd builds "provision" or "repair" with one subcommand per entity kind.
func newFolderCmd(action, short string, open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   action,
		Short: short,
	}
	for _, kind := range []models.OwnerKind{models.OwnerProgram, models.OwnerStudy, models.OwnerAssay} {
		var f entityFlags
		sub := &cobra.Command{
			Use:   string(kind),
			Short: fmt.Sprintf("%s a %s folder", action, kind),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				entity := f.entity(kind)
				return withApp(cmd, open, func(a *app.App) error {
					run := a.Folders.Provision
					if action == "repair" {
						run = a.Folders.Repair
					}
					ref, err := run(cmd.Context(), entity)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), ref)
				})
			},
		}
		f.register(sub)
		for _, name := range requiredEntityFlags(kind) {
			sub.MarkFlagRequired(name)
		}
		cmd.AddCommand(sub)
	}
	return cmd
}

// requiredEntityFlags lists the flags needed to derive the folder of kind.
func requiredEntityFlags(kind models.OwnerKind) []string {
	switch kind {
	case models.OwnerProgram:
		return []string{"id", "name"}
	case models.OwnerStudy:
		return []string{"id", "code", "name", "program-name"}
	default:
		return []string{"id", "code", "name", "study-code", "study-name", "program-name"}
	}
}

func newCodeCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "code",
		Short: "Reserve the next sequential entity code",
	}
	var study, external, assay entityFlags

	studyCmd := &cobra.Command{
		Use:   "study",
		Short: "Reserve the next study code of a program",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				code, err := a.Naming.StudyCode(cmd.Context(), study.study())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), code)
				return nil
			})
		},
	}
	study.register(studyCmd)
	studyCmd.MarkFlagRequired("program-code")

	externalCmd := &cobra.Command{
		Use:   "external",
		Short: "Reserve the next external study code of a collaborator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				code, err := a.Naming.ExternalStudyCode(cmd.Context(), external.study())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), code)
				return nil
			})
		},
	}
	external.register(externalCmd)
	externalCmd.MarkFlagRequired("collaborator")

	assayCmd := &cobra.Command{
		Use:   "assay",
		Short: "Reserve the next assay code of a study",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				code, err := a.Naming.AssayCode(cmd.Context(), assay.assay())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), code)
				return nil
			})
		},
	}
	assay.register(assayCmd)
	assayCmd.MarkFlagRequired("study-code")

	cmd.AddCommand(studyCmd, externalCmd, assayCmd)
	return cmd
}

func newBrowseCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "browse LOCATION_ID [PATH]",
		Short: "List one level of a location's folder tree",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var path string
			if len(args) == 2 {
				path = args[1]
			}
			return withApp(cmd, open, func(a *app.App) error {
				folder, err := a.Folders.Browse(cmd.Context(), id, path)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), folder)
			})
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid location id %q", s)
	}
	return id, nil
}
