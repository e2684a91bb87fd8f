package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gateline/internal/app"
	"gateline/internal/config"
	"gateline/internal/db"
	"gateline/internal/domain"
	"gateline/internal/engine"
	"gateline/internal/migrate"
	"gateline/internal/repo"
	"gateline/internal/server"
	"gateline/internal/stage"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "Gateline CLI",
	Long: `Gateline runs the sign-off gate for fit-gap assessments.
Core concepts:
- Workspace: the .gateline directory holding only the database; configs live in the DB and as gateline.yml.
- Client: the organization that owns assessments; most installs have exactly one.
- Assessment: one fit-gap phase with its registers (scope, steps, gaps, integrations, migrations, OCM).
- Sign-off: a fixed ladder of validation stages; each stage completes when every required role approves.
- Snapshot: an immutable, fingerprinted capture of all registers; versions count up from 1.
- Change request: post-completion edits need one; the risk it records is frozen at creation.
- Phase link: connects two assessment phases and freezes their scope and classification deltas.
- Event log: diary of changes, view with 'gl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GATELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("client", "", "client id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("client", rootCmd.PersistentFlags().Lookup("client"))
}

func registerCommands() {
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(assessmentCmd())
	rootCmd.AddCommand(scopeCmd())
	rootCmd.AddCommand(stepCmd())
	rootCmd.AddCommand(gapCmd())
	rootCmd.AddCommand(integrationCmd())
	rootCmd.AddCommand(migrationCmd())
	rootCmd.AddCommand(ocmCmd())
	rootCmd.AddCommand(signoffCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(changeCmd())
	rootCmd.AddCommand(phaseCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func clientCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "client", Short: "Manage clients"}
	cmd.AddCommand(clientListCmd())
	cmd.AddCommand(clientCreateCmd())
	cmd.AddCommand(clientShowCmd())
	cmd.AddCommand(clientUseCmd())
	return cmd
}

func clientListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListClients(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func clientCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create client",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, config.Default(id))
			c, err := e.CreateClient(cmd.Context(), id, name, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "client id")
	cmd.Flags().StringVar(&name, "name", "", "client name")
	return cmd
}

func clientShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetClient(ctx, e.Config.Client.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func clientUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <client-id>",
		Short: "Set the default client for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := filepath.Join(workspace, ".env")
			if err := setEnvValue(path, "GATELINE_CLIENT", args[0]); err != nil {
				return err
			}
			fmt.Printf("default client set to %s (in %s)\n", args[0], path)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configValidateCmd())
	cmd.AddCommand(configImportCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
}

func configInitCmd() *cobra.Command {
	var clientID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default gateline.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if clientID == "" {
				clientID = viper.GetString("client")
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(clientID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "client id to seed")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate gateline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a config file into the client's DB config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				clientID, _, err := app.ResolveClientAndConfig(ctx, firstNonBlank(viper.GetString("client"), cfg.Client.ID), r)
				if err != nil {
					return err
				}
				cfg.Client.ID = clientID
				return r.UpsertClientConfig(ctx, clientID, cfg)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file path")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Assessments and their sign-off stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAssessments(ctx, e.Config.Client.ID)
				if err != nil {
					return err
				}
				type row struct {
					Assessment domain.Assessment     `json:"assessment"`
					Signoff    domain.SignoffProcess `json:"signoff"`
				}
				rows := make([]row, 0, len(items))
				for _, a := range items {
					p, err := e.Repo.GetSignoffProcess(ctx, a.ID)
					if err != nil {
						return err
					}
					rows = append(rows, row{Assessment: a, Signoff: p})
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Phase", "Stage"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.Assessment.ID, r.Assessment.Name, r.Assessment.Phase, r.Signoff.Stage})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func assessmentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "assessment", Short: "Manage assessments"}
	cmd.AddCommand(assessmentCreateCmd())
	cmd.AddCommand(assessmentListCmd())
	cmd.AddCommand(assessmentShowCmd())
	return cmd
}

func assessmentCreateCmd() *cobra.Command {
	var id, name, desc string
	var phase int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create assessment with its sign-off process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateAssessment(ctx, engine.AssessmentCreateOptions{
					ID:          id,
					ClientID:    e.Config.Client.ID,
					Name:        name,
					Phase:       phase,
					Description: desc,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "assessment id (generated if empty)")
	cmd.Flags().StringVar(&name, "name", "", "assessment name")
	cmd.Flags().IntVar(&phase, "phase", 0, "phase number")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	return cmd
}

func assessmentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List assessments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAssessments(ctx, e.Config.Client.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func assessmentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <assessment-id>",
		Short: "Show assessment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Repo.GetAssessment(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func scopeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "scope", Short: "Scope selection register"}
	cmd.AddCommand(scopeSetCmd())
	cmd.AddCommand(scopeListCmd())
	return cmd
}

func scopeSetCmd() *cobra.Command {
	var assessmentID, itemID, relevance string
	var selected bool
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Upsert a scope selection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.UpsertScopeSelection(ctx, domain.ScopeSelection{
					AssessmentID: assessmentID,
					ItemID:       itemID,
					Selected:     selected,
					Relevance:    relevance,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id")
	cmd.Flags().StringVar(&itemID, "item", "", "scope item id")
	cmd.Flags().BoolVar(&selected, "selected", true, "item is in scope")
	cmd.Flags().StringVar(&relevance, "relevance", "", "relevance note")
	return cmd
}

func scopeListCmd() *cobra.Command {
	var assessmentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scope selections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ScopeSelections(ctx, assessmentID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id")
	return cmd
}

func stepCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "step", Short: "Step response register"}
	cmd.AddCommand(stepSetCmd())
	cmd.AddCommand(stepListCmd())
	return cmd
}

func stepSetCmd() *cobra.Command {
	var assessmentID, stepID, fit, notes string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Upsert a step response",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.UpsertStepResponse(ctx, domain.StepResponse{
					AssessmentID: assessmentID,
					StepID:       stepID,
					FitStatus:    fit,
					Notes:        notes,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id")
	cmd.Flags().StringVar(&stepID, "step", "", "process step id")
	cmd.Flags().StringVar(&fit, "fit", "", "FIT, CONFIGURE, GAP, NOT_APPLICABLE or PENDING")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	return cmd
}

func stepListCmd() *cobra.Command {
	var assessmentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List step responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.StepResponses(ctx, assessmentID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id")
	return cmd
}

func gapCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "gap", Short: "Gap resolution register"}
	cmd.AddCommand(gapSetCmd())
	cmd.AddCommand(gapListCmd())
	return cmd
}

func gapSetCmd() *cobra.Command {
	var assessmentID, gapID, resolution string
	var approved bool
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Upsert a gap resolution",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.UpsertGapResolution(ctx, domain.GapResolution{
					AssessmentID: assessmentID,
					GapID:        gapID,
					Resolution:   resolution,
					Approved:     approved,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id")
	cmd.Flags().StringVar(&gapID, "gap", "", "gap id")
	cmd.Flags().StringVar(&resolution, "resolution", "", "resolution text")
	cmd.Flags().BoolVar(&approved, "approved", false, "resolution approved")
	return cmd
}

func gapListCmd() *cobra.Command {
	var assessmentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List gap resolutions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.GapResolutions(ctx, assessmentID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id")
	return cmd
}

func integrationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "integration", Short: "Integration point register"}
	cmd.AddCommand(integrationSetCmd())
	cmd.AddCommand(integrationListCmd())
	return cmd
}

func integrationSetCmd() *cobra.Command {
	var assessmentID, id, name, system string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Upsert an integration point",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpsertIntegrationPoint(ctx, domain.IntegrationPoint{
					ID:           id,
					AssessmentID: assessmentID,
					Name:         name,
					System:       system,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id")
	cmd.Flags().StringVar(&id, "id", "", "integration point id (generated if empty)")
	cmd.Flags().StringVar(&name, "name", "", "integration name")
	cmd.Flags().StringVar(&system, "system", "", "external system")
	return cmd
}

func integrationListCmd() *cobra.Command {
	var assessmentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List integration points",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.IntegrationPoints(ctx, assessmentID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id")
	return cmd
}

func migrationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "migration", Short: "Data migration object register"}
	cmd.AddCommand(migrationSetCmd())
	cmd.AddCommand(migrationListCmd())
	return cmd
}

func migrationSetCmd() *cobra.Command {
	var assessmentID, id, object, source string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Upsert a data migration object",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.UpsertMigrationObject(ctx, domain.MigrationObject{
					ID:           id,
					AssessmentID: assessmentID,
					ObjectName:   object,
					SourceSystem: source,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id")
	cmd.Flags().StringVar(&id, "id", "", "object id (generated if empty)")
	cmd.Flags().StringVar(&object, "object", "", "object name")
	cmd.Flags().StringVar(&source, "source", "", "source system")
	return cmd
}

func migrationListCmd() *cobra.Command {
	var assessmentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List data migration objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.MigrationObjects(ctx, assessmentID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id")
	return cmd
}

func ocmCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "ocm", Short: "OCM impact register"}
	cmd.AddCommand(ocmSetCmd())
	cmd.AddCommand(ocmListCmd())
	return cmd
}

func ocmSetCmd() *cobra.Command {
	var assessmentID, id, area, severity string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Upsert an OCM impact",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.UpsertOCMImpact(ctx, domain.OCMImpact{
					ID:           id,
					AssessmentID: assessmentID,
					Area:         area,
					Severity:     severity,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id")
	cmd.Flags().StringVar(&id, "id", "", "impact id (generated if empty)")
	cmd.Flags().StringVar(&area, "area", "", "impacted area")
	cmd.Flags().StringVar(&severity, "severity", "", "severity")
	return cmd
}

func ocmListCmd() *cobra.Command {
	var assessmentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List OCM impacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.OCMImpacts(ctx, assessmentID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id")
	return cmd
}

func signoffCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "signoff", Short: "Sign-off workflow"}
	cmd.AddCommand(signoffSubmitCmd())
	cmd.AddCommand(signoffShowCmd())
	cmd.AddCommand(signoffRestartCmd())
	return cmd
}

func signoffSubmitCmd() *cobra.Command {
	var assessmentID, role, decision, validator, comment string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a validation decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if validator == "" {
					validator = viper.GetString("actor-id")
				}
				res, err := e.SubmitValidation(ctx, assessmentID, stage.Role(role), validator, decision, comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id")
	cmd.Flags().StringVar(&role, "role", "", "validation role")
	cmd.Flags().StringVar(&decision, "decision", "approved", "approved or rejected")
	cmd.Flags().StringVar(&validator, "validator", "", "validator id (defaults to --actor-id)")
	cmd.Flags().StringVar(&comment, "comment", "", "comment (required reason on rejection)")
	return cmd
}

func signoffShowCmd() *cobra.Command {
	var assessmentID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show sign-off process and records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.GetSignoff(ctx, assessmentID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				fmt.Printf("stage: %s\n", view.Process.Stage)
				if view.Process.RejectionReason != "" {
					fmt.Printf("rejection reason: %s\n", view.Process.RejectionReason)
				}
				if len(view.Pending) > 0 {
					fmt.Printf("pending roles: %s\n", strings.Join(view.Pending, ", "))
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Role", "Validator", "Decision", "Submitted"})
				for _, rec := range view.Records {
					tw.AppendRow(table.Row{rec.Role, rec.ValidatorID, rec.Decision, rec.SubmittedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id")
	return cmd
}

func signoffRestartCmd() *cobra.Command {
	var assessmentID string
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart a rejected sign-off from the beginning",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.RestartSignoff(ctx, assessmentID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id")
	return cmd
}

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "snapshot", Short: "Fingerprinted snapshots"}
	cmd.AddCommand(snapshotCreateCmd())
	cmd.AddCommand(snapshotListCmd())
	cmd.AddCommand(snapshotShowCmd())
	cmd.AddCommand(snapshotVerifyCmd())
	return cmd
}

func snapshotCreateCmd() *cobra.Command {
	var assessmentID, reason string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Capture a snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateSnapshot(ctx, assessmentID, reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("snapshot v%d fingerprint %s\n", s.Version, s.Fingerprint)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id")
	cmd.Flags().StringVar(&reason, "reason", "", "why the snapshot is taken")
	return cmd
}

func snapshotListCmd() *cobra.Command {
	var assessmentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListSnapshots(ctx, assessmentID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id")
	return cmd
}

func snapshotShowCmd() *cobra.Command {
	var assessmentID string
	var version int
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one snapshot with payload (latest if no --version)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.GetSnapshot(ctx, assessmentID, version)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id")
	cmd.Flags().IntVar(&version, "version", 0, "snapshot version (0 = latest)")
	return cmd
}

func snapshotVerifyCmd() *cobra.Command {
	var assessmentID string
	var version int
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute and check a snapshot fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.VerifySnapshot(ctx, assessmentID, version)
				if err != nil {
					return err
				}
				fmt.Printf("snapshot v%d ok (%s)\n", s.Version, s.Fingerprint)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id")
	cmd.Flags().IntVar(&version, "version", 0, "snapshot version (0 = latest)")
	return cmd
}

func changeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "change", Short: "Change requests"}
	cmd.AddCommand(changeCreateCmd())
	cmd.AddCommand(changeListCmd())
	cmd.AddCommand(changeCloseCmd())
	return cmd
}

func changeCreateCmd() *cobra.Command {
	var assessmentID, title, reason string
	var baseline int
	var unlocks []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a change request against a baseline snapshot",
		Long:  "Each --unlock takes entity-type:entity-id[:reason], e.g. --unlock step_response:step-07:rework",
		RunE: func(cmd *cobra.Command, args []string) error {
			unlocked, err := parseUnlocks(unlocks)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cr, err := e.CreateChangeRequest(ctx, engine.ChangeRequestOptions{
					AssessmentID:    assessmentID,
					BaselineVersion: baseline,
					Title:           title,
					Reason:          reason,
					Unlocked:        unlocked,
					ActorID:         viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(cr)
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id")
	cmd.Flags().IntVar(&baseline, "baseline", 0, "baseline snapshot version")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	cmd.Flags().StringArrayVar(&unlocks, "unlock", nil, "entity to unlock, entity-type:entity-id[:reason]")
	return cmd
}

func parseUnlocks(pairs []string) ([]domain.UnlockedEntity, error) {
	out := make([]domain.UnlockedEntity, 0, len(pairs))
	for _, pair := range pairs {
		parts := strings.SplitN(pair, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid --unlock %q, want entity-type:entity-id[:reason]", pair)
		}
		u := domain.UnlockedEntity{EntityType: parts[0], EntityID: parts[1]}
		if len(parts) == 3 {
			u.Reason = parts[2]
		}
		out = append(out, u)
	}
	return out, nil
}

func changeListCmd() *cobra.Command {
	var assessmentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List change requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListChangeRequests(ctx, assessmentID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id")
	return cmd
}

func changeCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <change-request-id>",
		Short: "Close a change request and relock its entities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cr, err := e.CloseChangeRequest(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(cr)
			})
		},
	}
}

func phaseCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "phase", Short: "Cross-phase links and comparison"}
	cmd.AddCommand(phaseLinkCmd())
	cmd.AddCommand(phaseSummaryCmd())
	return cmd
}

func phaseLinkCmd() *cobra.Command {
	var phase1, phase2 string
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link two assessment phases and freeze their deltas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.LinkPhases(ctx, phase1, phase2, e.Config.Client.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&phase1, "phase1", "", "earlier assessment id")
	cmd.Flags().StringVar(&phase2, "phase2", "", "later assessment id")
	return cmd
}

func phaseSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <assessment-id>",
		Short: "Cross-phase summary with insights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.CrossPhaseSummary(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Assessment", "Name", "Phase", "Steps", "FIT rate"})
				for _, s := range view.Summaries {
					tw.AppendRow(table.Row{s.AssessmentID, s.Name, s.Phase, s.StepTotal, fmt.Sprintf("%.1f%%", s.FitRate)})
				}
				tw.Render()
				for _, insight := range view.Insights {
					fmt.Println("-", insight)
				}
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var assessmentID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, assessmentID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "API keys for the HTTP server"}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key (the secret is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			secret := uuid.NewString()
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				fmt.Printf("api key %s for %s\nsecret: %s\n", key.ID, actorID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveClientAndConfig(cmd.Context(), viper.GetString("client"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("GATELINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("GATELINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Gateline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveClientAndConfig(ctx, viper.GetString("client"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
